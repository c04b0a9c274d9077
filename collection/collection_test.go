package collection

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsvitec/lightning-objects-sub000/codec"
	"github.com/gsvitec/lightning-objects-sub000/internal/config"
	"github.com/gsvitec/lightning-objects-sub000/schema"
	"github.com/gsvitec/lightning-objects-sub000/txn"
)

type Animal struct {
	Name string
	Legs int32
}

type Cat struct {
	Name   string
	Legs   int32
	Indoor bool
}

type Dog struct {
	Name  string
	Legs  int32
	Breed string
}

func openTestStore(t *testing.T) *txn.Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(filepath.Join(dir, "store.db"), "test")
	cfg.DefaultChunkSize = 64
	specs := []schema.ClassSpec{
		{
			Name:       "Animal",
			Sample:     Animal{},
			Substitute: "Cat",
			Properties: []schema.PropertySpec{
				{Name: "Name", TypeId: schema.TypeString, Layout: schema.AllEmbedded, FieldIndex: 0},
				{Name: "Legs", TypeId: schema.TypeInt32, ByteSize: 4, Layout: schema.AllEmbedded, FieldIndex: 1},
			},
		},
		{
			Name:   "Cat",
			Sample: Cat{},
			Super:  "Animal",
			Properties: []schema.PropertySpec{
				{Name: "Name", TypeId: schema.TypeString, Layout: schema.AllEmbedded, FieldIndex: 0},
				{Name: "Legs", TypeId: schema.TypeInt32, ByteSize: 4, Layout: schema.AllEmbedded, FieldIndex: 1},
				{Name: "Indoor", TypeId: schema.TypeBool, ByteSize: 1, Layout: schema.AllEmbedded, FieldIndex: 2},
			},
		},
	}
	store, err := txn.Open(cfg, prometheus.NewRegistry(), specs)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// dogDescriptor builds a class descriptor for Dog the same way the registry
// would, but without registering it — simulating a class that was once
// persisted and then dropped from the application's runtime spec set, so
// its classId cannot be resolved by NewCursor's reader.
func dogDescriptor(t *testing.T) *schema.ClassDescriptor {
	t.Helper()
	cd := &schema.ClassDescriptor{Name: "Dog", ClassId: 500, GoType: reflect.TypeOf(Dog{}), Compatibility: schema.Full}
	specs := []schema.PropertySpec{
		{Name: "Name", TypeId: schema.TypeString, Layout: schema.AllEmbedded, FieldIndex: 0},
		{Name: "Legs", TypeId: schema.TypeInt32, ByteSize: 4, Layout: schema.AllEmbedded, FieldIndex: 1},
		{Name: "Breed", TypeId: schema.TypeString, Layout: schema.AllEmbedded, FieldIndex: 2},
	}
	for i, s := range specs {
		p := &schema.PropertyDescriptor{
			PropertyId: codec.PropertyId(i + 1), Name: s.Name, TypeId: s.TypeId, ByteSize: s.ByteSize,
			Layout: s.Layout, FieldIndex: s.FieldIndex, Enabled: true,
		}
		st, err := schema.BuildStorage(p)
		require.NoError(t, err)
		p.Storage = st
		cd.Properties = append(cd.Properties, p)
	}
	return cd
}

func TestCursorDecodesUnresolvedSubclassViaDeclaredType(t *testing.T) {
	store := openTestStore(t)
	animalCd, _ := store.Registry().ClassByName("Animal")
	catCd, _ := store.Registry().ClassByName("Cat")
	dogCd := dogDescriptor(t)

	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)

	elements := []Element{
		{Class: catCd, Value: reflect.ValueOf(Cat{Name: "Tom", Legs: 4, Indoor: true})},
		{Class: dogCd, Value: reflect.ValueOf(Dog{Name: "Rex", Legs: 4, Breed: "Lab"})},
		{Class: catCd, Value: reflect.ValueOf(Cat{Name: "Whiskers", Legs: 4, Indoor: false})},
	}
	spec := Spec{Kind: ObjectElements}
	collectionId, err := PutCollection(wtx, spec, elements)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	rtx, err := store.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()

	cur, err := NewCursor(rtx, collectionId, spec, animalCd)
	require.NoError(t, err)

	var names []string
	for {
		v, deleted, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		if deleted {
			continue
		}
		a := v.Elem().Interface().(Animal)
		names = append(names, a.Name)
	}
	// All three elements decode via Animal's own property list, including
	// the unresolved Dog record, since Animal has a Substitute configured.
	assert.Equal(t, []string{"Tom", "Rex", "Whiskers"}, names)
}

func TestCursorSkipsUnresolvedClassWithNoSubstitute(t *testing.T) {
	store := openTestStore(t)
	catCd, _ := store.Registry().ClassByName("Cat")
	dogCd := dogDescriptor(t)

	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	elements := []Element{
		{Class: dogCd, Value: reflect.ValueOf(Dog{Name: "Rex", Legs: 4, Breed: "Lab"})},
	}
	spec := Spec{Kind: ObjectElements}
	collectionId, err := PutCollection(wtx, spec, elements)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	rtx, err := store.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()

	// Cat has no Substitute configured, so a cursor declared against Cat
	// must skip the unresolved Dog element entirely.
	cur, err := NewCursor(rtx, collectionId, spec, catCd)
	require.NoError(t, err)
	_, _, ok, err := cur.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChunkContiguityAcrossAppend(t *testing.T) {
	store := openTestStore(t)
	catCd, _ := store.Registry().ClassByName("Cat")

	spec := Spec{Kind: ObjectElements}
	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	first := []Element{
		{Class: catCd, Value: reflect.ValueOf(Cat{Name: "A", Legs: 4})},
		{Class: catCd, Value: reflect.ValueOf(Cat{Name: "B", Legs: 4})},
	}
	collectionId, err := PutCollection(wtx, spec, first)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	wtx2, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	second := []Element{
		{Class: catCd, Value: reflect.ValueOf(Cat{Name: "C", Legs: 4})},
	}
	require.NoError(t, AppendCollection(wtx2, collectionId, spec, second))
	require.NoError(t, wtx2.Commit())

	rtx, err := store.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()
	info, ok, err := loadInfo(rtx.DataBucket(), collectionId)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i+1 < len(info.Chunks); i++ {
		assert.Equal(t, info.Chunks[i].StartIndex+info.Chunks[i].ElementCount, info.Chunks[i+1].StartIndex,
			"chunk %d must end exactly where chunk %d starts", i, i+1)
	}
	assert.EqualValues(t, 3, info.Len())
}

func TestGetDataCollectionZeroCopyWithinOneChunk(t *testing.T) {
	store := openTestStore(t)
	spec := Spec{Kind: RawElements, ElementWidth: 8}

	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	var elements []Element
	for i := 0; i < 4; i++ {
		raw := make([]byte, 8)
		codec.PutUint(raw, uint64(i), 8)
		elements = append(elements, Element{Raw: raw})
	}
	collectionId, err := PutCollection(wtx, spec, elements)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	rtx, err := store.BeginExclusiveRead()
	require.NoError(t, err)
	defer rtx.Rollback()

	data, owned, err := GetDataCollection(rtx, collectionId, spec, 1, 2)
	require.NoError(t, err)
	assert.False(t, owned)
	require.Len(t, data, 16)
	assert.EqualValues(t, 1, codec.Uint(data[0:8], 8))
	assert.EqualValues(t, 2, codec.Uint(data[8:16], 8))
}

func TestGetDataCollectionEmptyRangeReturnsEmptyNotOwned(t *testing.T) {
	store := openTestStore(t)
	spec := Spec{Kind: RawElements, ElementWidth: 8}

	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	var elements []Element
	for i := 0; i < 4; i++ {
		raw := make([]byte, 8)
		codec.PutUint(raw, uint64(i), 8)
		elements = append(elements, Element{Raw: raw})
	}
	collectionId, err := PutCollection(wtx, spec, elements)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	rtx, err := store.BeginExclusiveRead()
	require.NoError(t, err)
	defer rtx.Rollback()

	// start=0, length=0 would underflow end-1 if not special-cased, and a
	// request landing exactly on a chunk boundary must still report
	// owned=false for a zero-length result.
	data, owned, err := GetDataCollection(rtx, collectionId, spec, 0, 0)
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Empty(t, data)

	data, owned, err = GetDataCollection(rtx, collectionId, spec, 4, 0)
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Empty(t, data)
}

func TestGetDataCollectionSpansChunksWhenWide(t *testing.T) {
	store := openTestStore(t)
	// An 8-byte-wide raw element collection with a small chunk size forces
	// a chunk boundary partway through, exercising the assembled (owned)
	// path of getDataCollection.
	spec := Spec{Kind: RawElements, ElementWidth: 8, ChunkSize: 24}

	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	var elements []Element
	for i := 0; i < 10; i++ {
		raw := make([]byte, 8)
		codec.PutUint(raw, uint64(i), 8)
		elements = append(elements, Element{Raw: raw})
	}
	collectionId, err := PutCollection(wtx, spec, elements)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	rtx, err := store.BeginExclusiveRead()
	require.NoError(t, err)
	defer rtx.Rollback()

	info, ok, err := loadInfo(rtx.DataBucket(), collectionId)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, len(info.Chunks), 1, "test setup expects more than one chunk")

	data, owned, err := GetDataCollection(rtx, collectionId, spec, 0, 10)
	require.NoError(t, err)
	assert.True(t, owned)
	require.Len(t, data, 80)
	for i := 0; i < 10; i++ {
		assert.EqualValues(t, i, codec.Uint(data[i*8:i*8+8], 8))
	}
}

func TestAppenderFlushesPartialChunkOnClose(t *testing.T) {
	store := openTestStore(t)
	catCd, _ := store.Registry().ClassByName("Cat")
	spec := Spec{Kind: ObjectElements}

	wtx, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	collectionId, err := PutCollection(wtx, spec, nil)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	wtx2, err := store.BeginWrite(txn.WriteOptions{Block: true})
	require.NoError(t, err)
	app, err := NewAppender(wtx2, collectionId, spec)
	require.NoError(t, err)
	require.NoError(t, app.Append(Element{Class: catCd, Value: reflect.ValueOf(Cat{Name: "Only", Legs: 4})}))
	require.NoError(t, app.Close())
	require.NoError(t, wtx2.Commit())

	rtx, err := store.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()
	info, ok, err := loadInfo(rtx.DataBucket(), collectionId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, info.Len())

	require.Error(t, app.Append(Element{Class: catCd, Value: reflect.ValueOf(Cat{Name: "Late", Legs: 4})}))
}
