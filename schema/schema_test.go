package schema

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsvitec/lightning-objects-sub000/internal/config"
	"github.com/gsvitec/lightning-objects-sub000/internal/metrics"
	"github.com/gsvitec/lightning-objects-sub000/kvengine"
)

type point struct {
	X, Y int32
}

func pointSpec() ClassSpec {
	return ClassSpec{
		Name:   "Point",
		Sample: point{},
		Properties: []PropertySpec{
			{Name: "X", TypeId: TypeInt32, ByteSize: 4, Layout: AllEmbedded, FieldIndex: 0},
			{Name: "Y", TypeId: TypeInt32, ByteSize: 4, Layout: AllEmbedded, FieldIndex: 1},
		},
	}
}

func openTestEngineForSchema(t *testing.T) *kvengine.Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(filepath.Join(dir, "store.db"), "test")
	met := metrics.NewRegistry(prometheus.NewRegistry())
	e, err := kvengine.Open(cfg, met)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenSchemaAssignsNewClassId(t *testing.T) {
	e := openTestEngineForSchema(t)
	wtx, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)

	reg, err := OpenSchema(wtx, []ClassSpec{pointSpec()}, false)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	cd, ok := reg.ClassByName("Point")
	require.True(t, ok)
	assert.GreaterOrEqual(t, cd.ClassId, uint16(10))
	assert.Equal(t, Full, cd.Compatibility)
	assert.Len(t, cd.Properties, 2)
}

func TestOpenSchemaReconcilesPersistedClassOnReopen(t *testing.T) {
	e := openTestEngineForSchema(t)

	wtx, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	reg1, err := OpenSchema(wtx, []ClassSpec{pointSpec()}, false)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())
	firstId, _ := reg1.ClassByName("Point")

	wtx2, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	reg2, err := OpenSchema(wtx2, []ClassSpec{pointSpec()}, false)
	require.NoError(t, err)
	require.NoError(t, wtx2.Commit())

	second, ok := reg2.ClassByName("Point")
	require.True(t, ok)
	assert.Equal(t, firstId.ClassId, second.ClassId)
	assert.Equal(t, Full, second.Compatibility)
}

func TestOpenSchemaAppendedPropertyIsReadOnly(t *testing.T) {
	e := openTestEngineForSchema(t)

	wtx, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	_, err = OpenSchema(wtx, []ClassSpec{pointSpec()}, false)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	withZ := pointSpec()
	withZ.Properties = append(withZ.Properties, PropertySpec{
		Name: "Z", TypeId: TypeInt32, ByteSize: 4, Layout: AllEmbedded, FieldIndex: 2,
	})

	wtx2, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	reg, err := OpenSchema(wtx2, []ClassSpec{withZ}, false)
	require.NoError(t, err)
	require.NoError(t, wtx2.Commit())

	cd, ok := reg.ClassByName("Point")
	require.True(t, ok)
	assert.Equal(t, Read, cd.Compatibility)
	assert.Len(t, cd.Properties, 3)
	assert.False(t, cd.Properties[2].Enabled)
}

func TestOpenSchemaIntegerWidthChangeIsCompatible(t *testing.T) {
	e := openTestEngineForSchema(t)

	wtx, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	_, err = OpenSchema(wtx, []ClassSpec{pointSpec()}, false)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	widened := pointSpec()
	widened.Properties[0].TypeId = TypeInt64
	widened.Properties[0].ByteSize = 8

	wtx2, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	reg, err := OpenSchema(wtx2, []ClassSpec{widened}, false)
	require.NoError(t, err)
	require.NoError(t, wtx2.Commit())

	cd, ok := reg.ClassByName("Point")
	require.True(t, ok)
	assert.Equal(t, Full, cd.Compatibility)
}

func TestComparePropertyByteSizeMismatchIsIncompatible(t *testing.T) {
	rp := PropertySpec{Name: "Vec", TypeId: TypeFloat64, ByteSize: 16, Layout: AllEmbedded}
	pp := persistedProperty{Name: "Vec", TypeId: TypeFloat64, ByteSize: 8, Layout: AllEmbedded}
	_, ok := compareProperty(0, rp, pp)
	assert.False(t, ok, "a byteSize mismatch on a non-integer property must be a hard incompatibility")
}

func TestReconcilePropertiesRemovedPropertyHardIncompatibleWithSubclasses(t *testing.T) {
	runtime := []PropertySpec{{Name: "X", TypeId: TypeInt32, ByteSize: 4, Layout: AllEmbedded}}
	persisted := []persistedProperty{
		{PropertyId: 1, Name: "X", TypeId: TypeInt32, ByteSize: 4, Layout: AllEmbedded},
		{PropertyId: 2, Name: "Y", TypeId: TypeInt32, ByteSize: 4, Layout: AllEmbedded},
	}

	_, compat, _ := reconcileProperties(runtime, persisted, true)
	assert.Equal(t, None, compat, "removing a shallow property from a class with subclasses must be a hard incompatibility")

	_, compatNoSubs, _ := reconcileProperties(runtime, persisted, false)
	assert.Equal(t, Full, compatNoSubs, "removing a trailing property is tolerated for a class with no subclasses")
}

func TestOpenSchemaHardIncompatibleClassNameMismatchAborts(t *testing.T) {
	e := openTestEngineForSchema(t)

	wtx, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	_, err = OpenSchema(wtx, []ClassSpec{pointSpec()}, false)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	broken := pointSpec()
	broken.Properties[0].TypeId = TypeObject
	broken.Properties[0].ClassName = "SomeOtherClass"
	broken.Properties[0].Layout = EmbeddedKey

	wtx2, err := e.BeginWrite(kvengine.WriteOptions{Block: true})
	require.NoError(t, err)
	defer wtx2.Rollback()
	_, err = OpenSchema(wtx2, []ClassSpec{broken}, false)
	require.Error(t, err)
}
