package kvengine

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsvitec/lightning-objects-sub000/internal/config"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/internal/metrics"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(filepath.Join(dir, "store.db"), "test")
	met := metrics.NewRegistry(prometheus.NewRegistry())
	e, err := Open(cfg, met)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenCreatesBucketsAndLockToken(t *testing.T) {
	e := openTestEngine(t)
	assert.NotEqual(t, [16]byte{}, [16]byte(e.LockToken()))

	rtx, err := e.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()
	assert.NotNil(t, rtx.DataBucket())
	assert.NotNil(t, rtx.MetaBucket())
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := openTestEngine(t)

	wtx, err := e.BeginWrite(WriteOptions{Block: true})
	require.NoError(t, err)
	require.NoError(t, wtx.DataBucket().Put([]byte("k"), []byte("v")))
	require.NoError(t, wtx.Commit())

	rtx, err := e.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()
	assert.Equal(t, []byte("v"), rtx.DataBucket().Get([]byte("k")))
}

func TestBeginWriteNonBlockingFailsWhileWriterActive(t *testing.T) {
	e := openTestEngine(t)

	wtx, err := e.BeginWrite(WriteOptions{Block: true})
	require.NoError(t, err)
	defer wtx.Rollback()

	_, err = e.BeginWrite(WriteOptions{Block: false})
	require.Error(t, err)
	assert.True(t, storeerrors.IsKind(err, storeerrors.KindInvalidArgument))
}

func TestBeginWriteNonBlockingFailsDuringExclusiveRead(t *testing.T) {
	e := openTestEngine(t)

	ex, err := e.BeginExclusiveRead()
	require.NoError(t, err)
	defer ex.Rollback()

	_, err = e.BeginWrite(WriteOptions{Block: false})
	require.Error(t, err)
	assert.True(t, storeerrors.IsKind(err, storeerrors.KindInvalidArgument))
}

func TestRollbackDiscardsWrites(t *testing.T) {
	e := openTestEngine(t)

	wtx, err := e.BeginWrite(WriteOptions{Block: true})
	require.NoError(t, err)
	require.NoError(t, wtx.DataBucket().Put([]byte("k"), []byte("v")))
	require.NoError(t, wtx.Rollback())

	rtx, err := e.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()
	assert.Nil(t, rtx.DataBucket().Get([]byte("k")))
}

func TestNestedBucketOrdering(t *testing.T) {
	e := openTestEngine(t)

	wtx, err := e.BeginWrite(WriteOptions{Block: true})
	require.NoError(t, err)
	meta := wtx.MetaBucket()
	cls, err := meta.NestedBucket([]byte("Point"))
	require.NoError(t, err)
	require.NoError(t, cls.Put([]byte{0, 2}, []byte("two")))
	require.NoError(t, cls.Put([]byte{0, 1}, []byte("one")))
	require.NoError(t, wtx.Commit())

	rtx, err := e.BeginRead()
	require.NoError(t, err)
	defer rtx.Rollback()
	cls2, err := rtx.MetaBucket().NestedBucket([]byte("Point"))
	require.NoError(t, err)
	c := cls2.Cursor()
	k, v := c.First()
	assert.Equal(t, []byte{0, 1}, k)
	assert.Equal(t, []byte("one"), v)
	k, v = c.Next()
	assert.Equal(t, []byte{0, 2}, k)
	assert.Equal(t, []byte("two"), v)
}
