package collection

import (
	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/txn"
)

// Appender amortizes start-chunk cost across a streaming producer that adds
// elements to a collection one at a time, flushing a partial chunk on
// Close rather than starting a fresh chunk per call.
type Appender struct {
	wtx          *txn.WriteTxn
	collectionId codec.ObjectId
	spec         Spec
	chunkSize    int
	width        int

	chunkId uint16
	idx     uint64
	count   int
	wb      *buffer.WriteBuffer
	metas   []ChunkMeta
	closed  bool
}

// NewAppender opens a streaming appender over an existing collection,
// continuing numbering from its current end — appendCollection's semantics,
// applied incrementally one element at a time instead of in one batch.
func NewAppender(wtx *txn.WriteTxn, collectionId codec.ObjectId, spec Spec) (*Appender, error) {
	info, ok, err := loadInfo(wtx.DataBucket(), collectionId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storeerrors.NewInvalidArgumentError("collection", "no collection with that id")
	}
	chunkSize := defaultChunkSize(wtx, spec)
	return &Appender{
		wtx:          wtx,
		collectionId: collectionId,
		spec:         spec,
		chunkSize:    chunkSize,
		width:        spec.widthFor(),
		chunkId:      info.NextChunkId(),
		idx:          info.NextStartIndex(),
		wb:           buffer.NewWriteBuffer(chunkSize),
	}, nil
}

// Append adds one element to the in-progress chunk and flushes the chunk
// once it has reached the configured chunk size. Calling Append after Close
// is a programmer error.
func (a *Appender) Append(el Element) error {
	if a.closed {
		return storeerrors.NewInvalidArgumentError("collection", "Append called after Close")
	}
	switch a.spec.Kind {
	case ObjectElements:
		if el.Class == nil {
			return storeerrors.NewInvalidArgumentError("collection", "object element requires a Class")
		}
		rec, err := a.wtx.EncodeCollectionObject(el.Class, el.Value)
		if err != nil {
			return err
		}
		a.wb.Append(rec)
	case ValueElements:
		if err := encodeValue(a.wb, a.spec.ValueType, el.Value); err != nil {
			return err
		}
	case RawElements:
		if len(el.Raw) != a.width {
			return storeerrors.NewInvalidArgumentError("collection", "raw element width does not match the collection's declared element width")
		}
		a.wb.Append(el.Raw)
	}
	a.count++
	if a.wb.Len() >= a.chunkSize {
		return a.flush()
	}
	return nil
}

func (a *Appender) flush() error {
	if a.count == 0 {
		return nil
	}
	payload := a.wb.Bytes()
	header := codec.ChunkHeader{DataSize: uint32(len(payload)), StartIndex: uint32(a.idx), ElementCount: uint32(a.count)}
	buf := make([]byte, codec.ChunkHeaderSize+len(payload))
	header.Encode(buf)
	copy(buf[codec.ChunkHeaderSize:], payload)
	key := chunkKey(a.collectionId, a.chunkId)
	if err := a.wtx.DataBucket().Put(key.Bytes(), buf); err != nil {
		return storeerrors.NewPersistenceError("collection", "PUT_FAILED", "cannot write chunk record", err)
	}
	a.metas = append(a.metas, ChunkMeta{ChunkId: a.chunkId, StartIndex: a.idx, ElementCount: uint64(a.count), DataSize: uint64(len(payload))})
	a.wtx.Store().Metrics().CollectionChunksWritten.Inc()
	a.idx += uint64(a.count)
	a.chunkId++
	a.count = 0
	a.wb.Start(a.chunkSize)
	return nil
}

// Close flushes any partial chunk and updates the collection's Info record.
// It is safe to call Close without having appended anything.
func (a *Appender) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.flush(); err != nil {
		return err
	}
	if len(a.metas) == 0 {
		return nil
	}
	info, ok, err := loadInfo(a.wtx.DataBucket(), a.collectionId)
	if err != nil {
		return err
	}
	if !ok {
		return storeerrors.NewInvalidArgumentError("collection", "no collection with that id")
	}
	info.Chunks = append(info.Chunks, a.metas...)
	return saveInfo(a.wtx.DataBucket(), info)
}
