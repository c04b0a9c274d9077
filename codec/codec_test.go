package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutUintRoundTrip(t *testing.T) {
	cases := []struct {
		width int
		v     uint64
	}{
		{1, 0xAB},
		{2, 0x1234},
		{4, 0xDEADBEEF},
		{8, 0x0102030405060708},
	}
	for _, c := range cases {
		buf := make([]byte, c.width)
		PutUint(buf, c.v, c.width)
		got := Uint(buf, c.width)
		assert.Equal(t, c.v, got, "width=%d", c.width)
	}
}

func TestUintBigEndianOrder(t *testing.T) {
	buf := make([]byte, 4)
	PutUint(buf, 0x01020304, 4)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf)
}

func TestCStringRoundTrip(t *testing.T) {
	s := "hello"
	buf := make([]byte, CStringSize(s))
	n := PutCString(buf, s)
	require.Equal(t, len(buf), n)

	got, consumed := CString(buf)
	assert.Equal(t, s, got)
	assert.Equal(t, len(buf), consumed)
}

func TestCStringEmpty(t *testing.T) {
	buf := make([]byte, CStringSize(""))
	PutCString(buf, "")
	got, consumed := CString(buf)
	assert.Equal(t, "", got)
	assert.Equal(t, 1, consumed)
}

func TestFloatRoundTrip(t *testing.T) {
	buf32 := make([]byte, 4)
	PutFloat32(buf32, 2.5)
	assert.Equal(t, float32(2.5), Float32(buf32))

	buf64 := make([]byte, 8)
	PutFloat64(buf64, 1.44)
	assert.Equal(t, 1.44, Float64(buf64))
}

func TestStorageKeyRoundTrip(t *testing.T) {
	k := StorageKey{ClassId: 12, ObjectId: 99, PropertyId: 3}
	b := k.Bytes()
	require.Len(t, b, StorageKeySize)
	got := DecodeStorageKey(b)
	assert.Equal(t, k, got)
}

func TestStorageKeyOrderingMatchesByteOrder(t *testing.T) {
	a := StorageKey{ClassId: 10, ObjectId: 1, PropertyId: 0}
	b := StorageKey{ClassId: 10, ObjectId: 1, PropertyId: 1}
	c := StorageKey{ClassId: 10, ObjectId: 2, PropertyId: 0}
	d := StorageKey{ClassId: 11, ObjectId: 0, PropertyId: 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, c.Less(d))

	// Byte-wise comparison must agree with Less, since the KV engine
	// orders keys lexicographically.
	bytesLess := func(x, y StorageKey) bool {
		xb, yb := x.Bytes(), y.Bytes()
		for i := range xb {
			if xb[i] != yb[i] {
				return xb[i] < yb[i]
			}
		}
		return false
	}
	assert.Equal(t, bytesLess(a, b), a.Less(b))
	assert.Equal(t, bytesLess(b, c), b.Less(c))
	assert.Equal(t, bytesLess(c, d), c.Less(d))
}

func TestObjectHeaderRoundTrip(t *testing.T) {
	h := ObjectHeader{ClassId: 42, ObjectId: 7, Size: 128, Deleted: true}
	buf := make([]byte, ObjectHeaderSize)
	h.Encode(buf)
	got := DecodeObjectHeader(buf)
	assert.Equal(t, h, got)
}

func TestChunkHeaderRoundTrip(t *testing.T) {
	h := ChunkHeader{DataSize: 2048, StartIndex: 512, ElementCount: 64}
	buf := make([]byte, ChunkHeaderSize)
	h.Encode(buf)
	got := DecodeChunkHeader(buf)
	assert.Equal(t, h, got)
}
