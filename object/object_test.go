package object

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	"github.com/gsvitec/lightning-objects-sub000/schema"
)

type vec3 struct {
	X, Y, Z float64
	Label   string
}

type noopContext struct{}

func (noopContext) SaveEmbeddedChild(string, reflect.Value) (codec.StorageKey, error) {
	return codec.StorageKey{}, nil
}
func (noopContext) PutPropertyRecord(codec.ObjectId, codec.PropertyId, []byte) error { return nil }
func (noopContext) LoadEmbeddedChild(string, codec.StorageKey) (reflect.Value, error) {
	return reflect.Value{}, nil
}
func (noopContext) GetPropertyRecord(codec.ObjectId, codec.PropertyId) ([]byte, bool, error) {
	return nil, false, nil
}

func vec3Descriptor(t *testing.T) *schema.ClassDescriptor {
	t.Helper()
	specs := []schema.PropertySpec{
		{Name: "X", TypeId: schema.TypeFloat64, ByteSize: 8, Layout: schema.AllEmbedded, FieldIndex: 0},
		{Name: "Y", TypeId: schema.TypeFloat64, ByteSize: 8, Layout: schema.AllEmbedded, FieldIndex: 1},
		{Name: "Z", TypeId: schema.TypeFloat64, ByteSize: 8, Layout: schema.AllEmbedded, FieldIndex: 2},
		{Name: "Label", TypeId: schema.TypeString, Layout: schema.AllEmbedded, FieldIndex: 3},
	}
	cd := &schema.ClassDescriptor{Name: "Vec3", ClassId: 10, GoType: reflect.TypeOf(vec3{}), Compatibility: schema.Full}
	for i, s := range specs {
		p := &schema.PropertyDescriptor{
			PropertyId: codec.PropertyId(i + 1), Name: s.Name, TypeId: s.TypeId, ByteSize: s.ByteSize,
			IsVector: s.IsVector, ClassName: s.ClassName, Layout: s.Layout, FieldIndex: s.FieldIndex, Enabled: true,
		}
		require.NoError(t, assignStorage(p))
		cd.Properties = append(cd.Properties, p)
	}
	return cd
}

func assignStorage(p *schema.PropertyDescriptor) error {
	var err error
	p.Storage, err = schema.BuildStorage(p)
	return err
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cd := vec3Descriptor(t)
	v := vec3{X: 1.5, Y: -2.25, Z: 3, Label: "origin"}

	wb := buffer.NewWriteBuffer(64)
	require.NoError(t, Save(wb, cd, noopContext{}, 1, reflect.ValueOf(&v).Elem()))

	rb := buffer.NewReadBuffer(wb.Bytes())
	out := New(cd)
	require.NoError(t, Load(rb, cd, noopContext{}, 1, out.Elem()))

	got := out.Elem().Interface().(vec3)
	assert.Equal(t, v, got)
}

func TestKeyAndRef(t *testing.T) {
	k := Key{ClassId: 10, ObjectId: 5}
	assert.False(t, k.IsNil())
	sk := k.StorageKey()
	assert.Equal(t, codec.PropertyId(0), sk.PropertyId)

	r := Ref{Key: k, Kind: Shared, RefCount: 2}
	assert.False(t, r.IsNil())
	assert.Equal(t, "shared", r.Kind.String())
}
