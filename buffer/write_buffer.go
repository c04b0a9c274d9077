// Package buffer implements the growable write buffer and borrowed read
// buffer that the object/collection engines serialize into and read out of.
package buffer

import (
	"github.com/gsvitec/lightning-objects-sub000/codec"
)

// DefaultMinAlloc is the default minimum allocation granularity for a fresh
// WriteBuffer frame.
const DefaultMinAlloc = 128

// frame is one node of a WriteBuffer's chain. Recursive serialization
// pushes a fresh frame so an outer object can keep writing into its own
// frame while an inner (embedded_key) child is serialized into a pushed
// one; popping a frame doesn't release its backing array so the chain can
// be reused by the next push.
type frame struct {
	data   []byte
	cursor int
	next   *frame
	prev   *frame
}

// WriteBuffer is a contiguous growable byte region with an append cursor,
// organized as a chain of frames so nested serialization can push/pop
// without disturbing an outer cursor. The zero value is not usable; use
// NewWriteBuffer.
type WriteBuffer struct {
	minAlloc int
	head     *frame // bottom of the chain, the first frame allocated
	cur      *frame // active frame
}

// NewWriteBuffer creates a write buffer with the given minimum per-frame
// allocation. A minAlloc <= 0 uses DefaultMinAlloc.
func NewWriteBuffer(minAlloc int) *WriteBuffer {
	if minAlloc <= 0 {
		minAlloc = DefaultMinAlloc
	}
	f := &frame{data: make([]byte, 0, minAlloc)}
	return &WriteBuffer{minAlloc: minAlloc, head: f, cur: f}
}

// Start resets the buffer to an empty state, reusing the existing backing
// arrays where possible, and ensures the bottom frame has room for at least
// size bytes.
func (w *WriteBuffer) Start(size int) {
	w.cur = w.head
	for f := w.head; f != nil; f = f.next {
		f.cursor = 0
		f.data = f.data[:0]
	}
	if cap(w.head.data) < size {
		w.head.data = make([]byte, 0, size)
	}
}

// Push starts a new nested frame on top of the chain and makes it active.
// The outer frame's cursor is left exactly where it was.
func (w *WriteBuffer) Push() {
	if w.cur.next == nil {
		w.cur.next = &frame{data: make([]byte, 0, w.minAlloc), prev: w.cur}
	}
	nf := w.cur.next
	nf.cursor = 0
	nf.data = nf.data[:0]
	w.cur = nf
}

// Pop deactivates the current frame and makes its parent active again. The
// popped frame's memory is retained (not released) so a later Push reuses
// it. Pop returns the bytes that were written into the popped frame; the
// caller must copy or consume them (e.g. embed them in the parent frame)
// before the next Push reuses the frame's backing array.
func (w *WriteBuffer) Pop() []byte {
	popped := w.cur.data
	if w.cur.prev != nil {
		w.cur = w.cur.prev
	}
	return popped
}

// Allocate reserves n bytes at the end of the active frame and returns a
// slice over them for the caller to fill in directly.
func (w *WriteBuffer) Allocate(n int) []byte {
	f := w.cur
	needed := len(f.data) + n
	if needed > cap(f.data) {
		grown := make([]byte, len(f.data), growCap(cap(f.data), needed))
		copy(grown, f.data)
		f.data = grown
	}
	f.data = f.data[:needed]
	return f.data[len(f.data)-n : len(f.data)]
}

// Append copies b onto the end of the active frame.
func (w *WriteBuffer) Append(b []byte) {
	copy(w.Allocate(len(b)), b)
}

// AppendUint appends v encoded as a width-byte big-endian integer.
func (w *WriteBuffer) AppendUint(v uint64, width int) {
	codec.PutUint(w.Allocate(width), v, width)
}

// AppendCString appends s as a NUL-terminated string.
func (w *WriteBuffer) AppendCString(s string) {
	codec.PutCString(w.Allocate(codec.CStringSize(s)), s)
}

// Bytes returns the active frame's contents written so far.
func (w *WriteBuffer) Bytes() []byte {
	return w.cur.data
}

// Len returns the number of bytes written into the active frame so far.
func (w *WriteBuffer) Len() int {
	return len(w.cur.data)
}

func growCap(have, need int) int {
	if have == 0 {
		have = DefaultMinAlloc
	}
	for have < need {
		have *= 2
	}
	return have
}
