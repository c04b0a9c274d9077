package collection

import (
	"reflect"
	"sort"

	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/schema"
	"github.com/gsvitec/lightning-objects-sub000/txn"
)

// ElementKind selects how a collection's chunks encode their elements.
type ElementKind int

const (
	// ObjectElements are class-typed values, each preceded by its own
	// 11-byte object header so the chunk remains a valid polymorphic
	// cursor target.
	ObjectElements ElementKind = iota
	// ValueElements are scalar primitive values of one uniform schema.TypeId,
	// packed consecutively via the primitive codec with no per-element
	// header.
	ValueElements
	// RawElements are plain native bytes of a uniform width, packed
	// consecutively with no interpretation at all.
	RawElements
)

func (k ElementKind) String() string {
	switch k {
	case ObjectElements:
		return "object"
	case ValueElements:
		return "value"
	case RawElements:
		return "raw"
	default:
		return "unknown"
	}
}

// Spec describes the uniform shape of one collection's elements, fixed for
// its lifetime.
type Spec struct {
	Kind ElementKind
	// ValueType is the scalar type of ValueElements; bool/int8..int64/
	// float32/float64 are supported (string and object types are not —
	// a variable-width element would break the fixed-width packing
	// getDataCollection's zero-copy contract relies on).
	ValueType schema.TypeId
	// ElementWidth is the fixed byte width of each RawElements entry. For
	// ValueElements it is derived from ValueType when left at 0.
	ElementWidth int
	// ChunkSize is the minimum size, in bytes, of a freshly started chunk.
	// 0 uses the store's configured default (2KiB).
	ChunkSize int
}

func (s Spec) widthFor() int {
	if s.Kind == ValueElements {
		if s.ElementWidth > 0 {
			return s.ElementWidth
		}
		return scalarWidth(s.ValueType)
	}
	return s.ElementWidth
}

func scalarWidth(t schema.TypeId) int {
	switch t {
	case schema.TypeBool, schema.TypeInt8:
		return 1
	case schema.TypeInt16:
		return 2
	case schema.TypeInt32, schema.TypeFloat32:
		return 4
	default:
		return 8
	}
}

// Element is one value to add to a collection via PutCollection or
// AppendCollection.
type Element struct {
	// Class is the concrete class to save this element as; required for
	// ObjectElements.
	Class *schema.ClassDescriptor
	// Value holds the element's data: a struct value for ObjectElements,
	// a scalar Go value (bool/intN/floatN) for ValueElements.
	Value reflect.Value
	// Raw holds the element's bytes for RawElements; must have length
	// exactly equal to the collection's element width.
	Raw []byte
}

func defaultChunkSize(wtx *txn.WriteTxn, spec Spec) int {
	if spec.ChunkSize > 0 {
		return spec.ChunkSize
	}
	return wtx.Store().Config().DefaultChunkSize
}

// PutCollection creates a new top-level collection holding elements in
// order, splitting them across one or more chunk records. It assigns
// collectionId = ++maxCollectionId.
func PutCollection(wtx *txn.WriteTxn, spec Spec, elements []Element) (codec.ObjectId, error) {
	collectionId := wtx.NewCollectionId()
	metas, err := writeChunks(wtx, spec, elements, collectionId, 0, 0)
	if err != nil {
		return 0, err
	}
	info := &Info{CollectionId: collectionId, Chunks: metas}
	if err := saveInfo(wtx.DataBucket(), info); err != nil {
		return 0, err
	}
	return collectionId, nil
}

// AppendCollection extends an existing collection with additional
// elements. New chunks always start exactly where the collection's current
// last chunk ends, preserving the contiguity invariant
// (chunk[i].startIndex+elementCount == chunk[i+1].startIndex) regardless
// of whether the previous last chunk was full.
func AppendCollection(wtx *txn.WriteTxn, collectionId codec.ObjectId, spec Spec, elements []Element) error {
	info, ok, err := loadInfo(wtx.DataBucket(), collectionId)
	if err != nil {
		return err
	}
	if !ok {
		return storeerrors.NewInvalidArgumentError("collection", "no collection with that id")
	}
	metas, err := writeChunks(wtx, spec, elements, collectionId, info.NextChunkId(), info.NextStartIndex())
	if err != nil {
		return err
	}
	info.Chunks = append(info.Chunks, metas...)
	return saveInfo(wtx.DataBucket(), info)
}

// writeChunks packs elements into one or more chunk records starting at
// startChunkId/startIndex, writing each as it fills past the configured
// chunk size (the final chunk may be smaller), and returns their metadata.
func writeChunks(wtx *txn.WriteTxn, spec Spec, elements []Element, collectionId codec.ObjectId, startChunkId uint16, startIndex uint64) ([]ChunkMeta, error) {
	chunkSize := defaultChunkSize(wtx, spec)
	width := spec.widthFor()

	var metas []ChunkMeta
	chunkId := startChunkId
	idx := startIndex
	count := 0

	wb := buffer.NewWriteBuffer(chunkSize)
	wb.Start(chunkSize)

	flush := func() error {
		if count == 0 {
			return nil
		}
		payload := wb.Bytes()
		header := codec.ChunkHeader{DataSize: uint32(len(payload)), StartIndex: uint32(idx), ElementCount: uint32(count)}
		buf := make([]byte, codec.ChunkHeaderSize+len(payload))
		header.Encode(buf)
		copy(buf[codec.ChunkHeaderSize:], payload)
		key := chunkKey(collectionId, chunkId)
		if err := wtx.DataBucket().Put(key.Bytes(), buf); err != nil {
			return storeerrors.NewPersistenceError("collection", "PUT_FAILED", "cannot write chunk record", err)
		}
		metas = append(metas, ChunkMeta{ChunkId: chunkId, StartIndex: idx, ElementCount: uint64(count), DataSize: uint64(len(payload))})
		wtx.Store().Metrics().CollectionChunksWritten.Inc()
		idx += uint64(count)
		chunkId++
		count = 0
		wb.Start(chunkSize)
		return nil
	}

	for _, el := range elements {
		switch spec.Kind {
		case ObjectElements:
			if el.Class == nil {
				return nil, storeerrors.NewInvalidArgumentError("collection", "object element requires a Class")
			}
			rec, err := wtx.EncodeCollectionObject(el.Class, el.Value)
			if err != nil {
				return nil, err
			}
			wb.Append(rec)
		case ValueElements:
			if err := encodeValue(wb, spec.ValueType, el.Value); err != nil {
				return nil, err
			}
		case RawElements:
			if len(el.Raw) != width {
				return nil, storeerrors.NewInvalidArgumentError("collection", "raw element width does not match the collection's declared element width")
			}
			wb.Append(el.Raw)
		}
		count++
		if wb.Len() >= chunkSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return metas, nil
}

func encodeValue(wb *buffer.WriteBuffer, t schema.TypeId, v reflect.Value) error {
	switch t {
	case schema.TypeBool:
		b := byte(0)
		if v.Bool() {
			b = 1
		}
		wb.Append([]byte{b})
	case schema.TypeInt8:
		wb.AppendUint(uint64(v.Int())&0xFF, 1)
	case schema.TypeInt16:
		wb.AppendUint(uint64(v.Int())&0xFFFF, 2)
	case schema.TypeInt32:
		wb.AppendUint(uint64(v.Int())&0xFFFFFFFF, 4)
	case schema.TypeInt64:
		wb.AppendUint(uint64(v.Int()), 8)
	case schema.TypeFloat32:
		codec.PutFloat32(wb.Allocate(4), float32(v.Float()))
	case schema.TypeFloat64:
		codec.PutFloat64(wb.Allocate(8), v.Float())
	default:
		return storeerrors.NewInvalidArgumentError("collection", "unsupported value element type")
	}
	return nil
}

func decodeValue(rb *buffer.ReadBuffer, t schema.TypeId) reflect.Value {
	switch t {
	case schema.TypeBool:
		return reflect.ValueOf(rb.ReadBool())
	case schema.TypeInt8:
		return reflect.ValueOf(int8(rb.ReadUint(1)))
	case schema.TypeInt16:
		return reflect.ValueOf(int16(rb.ReadUint(2)))
	case schema.TypeInt32:
		return reflect.ValueOf(int32(rb.ReadUint(4)))
	case schema.TypeFloat32:
		return reflect.ValueOf(rb.ReadFloat32())
	case schema.TypeFloat64:
		return reflect.ValueOf(rb.ReadFloat64())
	default:
		return reflect.ValueOf(int64(rb.ReadUint(8)))
	}
}

// Cursor iterates a collection's elements in chunk order, walking chunk
// records in chunkId order.
type Cursor struct {
	rtx      *txn.ReadTxn
	info     *Info
	spec     Spec
	declared *schema.ClassDescriptor // ObjectElements only: the type the cursor decodes into
	chunkIx  int
	payload  []byte
	within   int
}

// NewCursor opens a cursor over collectionId. declared is only consulted
// for ObjectElements: every element is decoded against declared's own
// property list regardless of its stored concrete class — entries whose
// stored classId is unregistered are decoded the same way, provided
// declared has a Substitute configured, and skipped entirely otherwise.
func NewCursor(rtx *txn.ReadTxn, collectionId codec.ObjectId, spec Spec, declared *schema.ClassDescriptor) (*Cursor, error) {
	info, ok, err := loadInfo(rtx.DataBucket(), collectionId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storeerrors.NewInvalidArgumentError("collection", "no collection with that id")
	}
	chunks := append([]ChunkMeta(nil), info.Chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkId < chunks[j].ChunkId })
	info.Chunks = chunks
	return &Cursor{rtx: rtx, info: info, spec: spec, declared: declared, chunkIx: -1}, nil
}

// Next advances the cursor and decodes the next element. ok is false once
// iteration is exhausted. For ObjectElements, deleted reports a tombstoned
// entry (callers should skip its value); elements whose class cannot be
// resolved and whose declared type has no Substitute are skipped
// internally and never surfaced.
func (c *Cursor) Next() (v reflect.Value, deleted bool, ok bool, err error) {
	for {
		if c.payload == nil || c.within >= len(c.payload) {
			if !c.advanceChunk() {
				return reflect.Value{}, false, false, nil
			}
			continue
		}
		switch c.spec.Kind {
		case ObjectElements:
			header := codec.DecodeObjectHeader(c.payload[c.within:])
			recLen := codec.ObjectHeaderSize + int(header.Size)
			rec := c.payload[c.within : c.within+recLen]
			c.within += recLen
			if _, resolved := c.rtx.Store().Registry().ClassById(header.ClassId); !resolved {
				if _, hasSub := c.declared.Substitute(); !hasSub {
					continue
				}
			}
			val, wasDeleted, derr := c.rtx.DecodeCollectionObject(c.declared, rec)
			if derr != nil {
				return reflect.Value{}, false, false, derr
			}
			return val, wasDeleted, true, nil
		case ValueElements:
			w := c.spec.widthFor()
			rb := buffer.NewReadBuffer(c.payload[c.within : c.within+w])
			c.within += w
			return decodeValue(rb, c.spec.ValueType), false, true, nil
		default: // RawElements
			w := c.spec.widthFor()
			raw := c.payload[c.within : c.within+w]
			c.within += w
			return reflect.ValueOf(append([]byte(nil), raw...)), false, true, nil
		}
	}
}

func (c *Cursor) advanceChunk() bool {
	c.chunkIx++
	if c.chunkIx >= len(c.info.Chunks) {
		return false
	}
	meta := c.info.Chunks[c.chunkIx]
	key := chunkKey(c.info.CollectionId, meta.ChunkId)
	raw := c.rtx.DataBucket().Get(key.Bytes())
	if raw == nil {
		return false
	}
	header := codec.DecodeChunkHeader(raw)
	c.payload = raw[codec.ChunkHeaderSize : codec.ChunkHeaderSize+int(header.DataSize)]
	c.within = 0
	c.rtx.Store().Metrics().CollectionChunksRead.Inc()
	return true
}

// GetDataCollection implements the zero-copy sub-range read for Value/Raw
// fixed-width collections. The caller must hold an exclusive read
// transaction for the result's owned=false case to remain valid — see
// txn.Store.BeginExclusiveRead.
func GetDataCollection(rtx *txn.ReadTxn, collectionId codec.ObjectId, spec Spec, start, length uint64) (data []byte, owned bool, err error) {
	if length == 0 {
		return []byte{}, false, nil
	}
	info, ok, loadErr := loadInfo(rtx.DataBucket(), collectionId)
	if loadErr != nil {
		return nil, false, loadErr
	}
	if !ok {
		return nil, false, storeerrors.NewInvalidArgumentError("collection", "no collection with that id")
	}
	chunks := append([]ChunkMeta(nil), info.Chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].StartIndex < chunks[j].StartIndex })

	width := spec.widthFor()
	end := start + length

	startIx := bisectChunk(chunks, start)
	endIx := bisectChunk(chunks, end-1)
	if startIx < 0 || endIx < 0 {
		return nil, false, storeerrors.NewPersistenceError("collection", "BAD_CHUNK_INDEX", "requested range is not covered by any chunk", nil)
	}

	if startIx == endIx {
		raw, err := readChunkPayload(rtx, info.CollectionId, chunks[startIx])
		if err != nil {
			return nil, false, err
		}
		off := (start - chunks[startIx].StartIndex) * uint64(width)
		n := length * uint64(width)
		return raw[off : off+n], false, nil
	}

	out := make([]byte, 0, length*uint64(width))
	for i := startIx; i <= endIx; i++ {
		raw, err := readChunkPayload(rtx, info.CollectionId, chunks[i])
		if err != nil {
			return nil, false, err
		}
		lo := uint64(0)
		if chunks[i].StartIndex < start {
			lo = start - chunks[i].StartIndex
		}
		hi := chunks[i].ElementCount
		if chunkEnd := chunks[i].StartIndex + chunks[i].ElementCount; chunkEnd > end {
			hi = end - chunks[i].StartIndex
		}
		out = append(out, raw[lo*uint64(width):hi*uint64(width)]...)
	}
	return out, true, nil
}

// bisectChunk returns the index of the chunk covering element idx, or -1.
func bisectChunk(chunks []ChunkMeta, idx uint64) int {
	lo, hi := 0, len(chunks)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := chunks[mid]
		if idx < c.StartIndex {
			hi = mid - 1
		} else if idx >= c.StartIndex+c.ElementCount {
			lo = mid + 1
		} else {
			return mid
		}
	}
	return -1
}

func readChunkPayload(rtx *txn.ReadTxn, collectionId codec.ObjectId, meta ChunkMeta) ([]byte, error) {
	key := chunkKey(collectionId, meta.ChunkId)
	raw := rtx.DataBucket().Get(key.Bytes())
	if raw == nil {
		return nil, storeerrors.NewPersistenceError("collection", "CHUNK_NOT_FOUND", "chunk record missing", nil)
	}
	header := codec.DecodeChunkHeader(raw)
	rtx.Store().Metrics().CollectionChunksRead.Inc()
	return raw[codec.ChunkHeaderSize : codec.ChunkHeaderSize+int(header.DataSize)], nil
}
