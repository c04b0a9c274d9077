package buffer

import (
	"fmt"

	"github.com/gsvitec/lightning-objects-sub000/codec"
)

// ReadBuffer is a borrowed view into KV-owned memory: data, size and a
// cursor. All bytes it points into remain valid only for the lifetime of
// the enclosing transaction; ReadBuffer never copies unless explicitly asked
// to (ReadCStringCopy, ReadBytesCopy).
type ReadBuffer struct {
	data   []byte
	cursor int
}

// NewReadBuffer wraps data (which the caller must guarantee outlives the
// ReadBuffer's use, per the enclosing transaction's lifetime) in a fresh
// cursor starting at offset 0.
func NewReadBuffer(data []byte) *ReadBuffer {
	return &ReadBuffer{data: data}
}

// Len returns the total size of the underlying data.
func (r *ReadBuffer) Len() int { return len(r.data) }

// Cursor returns the current read offset.
func (r *ReadBuffer) Cursor() int { return r.cursor }

// Remaining returns the number of unread bytes.
func (r *ReadBuffer) Remaining() int { return len(r.data) - r.cursor }

// Seek repositions the cursor to an absolute offset.
func (r *ReadBuffer) Seek(offset int) {
	r.cursor = offset
}

// Skip advances the cursor by n bytes without reading them (used to skip
// properties a substitute class doesn't declare).
func (r *ReadBuffer) Skip(n int) {
	r.cursor += n
}

func (r *ReadBuffer) require(n int) {
	if r.cursor+n > len(r.data) {
		panic(fmt.Sprintf("buffer: short read: need %d bytes at cursor %d, have %d", n, r.cursor, len(r.data)))
	}
}

// ReadUint reads a width-byte big-endian unsigned integer and advances the
// cursor.
func (r *ReadBuffer) ReadUint(width int) uint64 {
	r.require(width)
	v := codec.Uint(r.data[r.cursor:r.cursor+width], width)
	r.cursor += width
	return v
}

// ReadFloat32 reads a big-endian IEEE-754 single and advances the cursor.
func (r *ReadBuffer) ReadFloat32() float32 {
	r.require(4)
	v := codec.Float32(r.data[r.cursor : r.cursor+4])
	r.cursor += 4
	return v
}

// ReadFloat64 reads a big-endian IEEE-754 double and advances the cursor.
func (r *ReadBuffer) ReadFloat64() float64 {
	r.require(8)
	v := codec.Float64(r.data[r.cursor : r.cursor+8])
	r.cursor += 8
	return v
}

// ReadBool reads a single-byte boolean and advances the cursor.
func (r *ReadBuffer) ReadBool() bool {
	r.require(1)
	v := codec.Bool(r.data[r.cursor : r.cursor+1])
	r.cursor++
	return v
}

// ReadCString returns a borrowed view of the next NUL-terminated string and
// advances the cursor past the terminator. The returned string aliases the
// underlying KV memory; callers that need it to outlive the transaction
// must copy it (see ReadCStringCopy).
func (r *ReadBuffer) ReadCString() string {
	s, n := codec.CString(r.data[r.cursor:])
	r.cursor += n
	return s
}

// ReadCStringCopy is like ReadCString but returns an independent copy.
func (r *ReadBuffer) ReadCStringCopy() string {
	s := r.ReadCString()
	return string([]byte(s))
}

// ReadBytes returns a borrowed slice of the next n bytes and advances the
// cursor. The slice aliases the underlying KV memory.
func (r *ReadBuffer) ReadBytes(n int) []byte {
	r.require(n)
	b := r.data[r.cursor : r.cursor+n]
	r.cursor += n
	return b
}

// ReadBytesCopy is like ReadBytes but returns an independent copy.
func (r *ReadBuffer) ReadBytesCopy(n int) []byte {
	b := r.ReadBytes(n)
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadStorageKey reads an 8-byte StorageKey and advances the cursor.
func (r *ReadBuffer) ReadStorageKey() codec.StorageKey {
	return codec.DecodeStorageKey(r.ReadBytes(codec.StorageKeySize))
}
