// Package collection implements the chunked-collection engine: ordered,
// append-friendly top-level sequences keyed by (COLLECTION_CLSID,
// collectionId, chunkId), their CollectionInfo metadata record, cursor
// iteration, and zero-copy sub-range reads over raw-data chunks.
package collection

import (
	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/kvengine"
)

// ChunkMeta describes one persisted chunk within a collection.
type ChunkMeta struct {
	ChunkId      uint16
	StartIndex   uint64
	ElementCount uint64
	DataSize     uint64
}

// Info is the per-collection metadata record persisted at
// (COLLINFO_CLSID, collectionId, 0).
type Info struct {
	CollectionId codec.ObjectId
	Chunks       []ChunkMeta
}

// NextChunkId returns max(chunkId)+1, or 0 for an empty collection.
func (ci *Info) NextChunkId() uint16 {
	var max uint16
	found := false
	for _, c := range ci.Chunks {
		if !found || c.ChunkId > max {
			max = c.ChunkId
			found = true
		}
	}
	if !found {
		return 0
	}
	return max + 1
}

// NextStartIndex returns max(startIndex+elementCount), or 0 if empty.
func (ci *Info) NextStartIndex() uint64 {
	var max uint64
	for _, c := range ci.Chunks {
		end := c.StartIndex + c.ElementCount
		if end > max {
			max = end
		}
	}
	return max
}

// Len returns the total element count across all chunks.
func (ci *Info) Len() uint64 {
	return ci.NextStartIndex()
}

// ChunkFor returns the chunk covering element index idx, if any.
func (ci *Info) ChunkFor(idx uint64) (ChunkMeta, bool) {
	for _, c := range ci.Chunks {
		if idx >= c.StartIndex && idx < c.StartIndex+c.ElementCount {
			return c, true
		}
	}
	return ChunkMeta{}, false
}

// encode serializes the Info record. Every multi-byte field is canonicalized
// to big-endian, same as the rest of the store (see DESIGN.md's Open
// Question decision on this), including here.
func (ci *Info) encode() []byte {
	wb := buffer.NewWriteBuffer(64 + len(ci.Chunks)*18)
	wb.AppendUint(uint64(ci.CollectionId), 4)
	wb.AppendUint(uint64(len(ci.Chunks)), 8)
	for _, c := range ci.Chunks {
		wb.AppendUint(uint64(c.ChunkId), 2)
		wb.AppendUint(c.StartIndex, 8)
		wb.AppendUint(c.ElementCount, 8)
		wb.AppendUint(c.DataSize, 8)
	}
	return wb.Bytes()
}

func decodeInfo(data []byte) *Info {
	rb := buffer.NewReadBuffer(data)
	ci := &Info{}
	ci.CollectionId = codec.ObjectId(rb.ReadUint(4))
	n := rb.ReadUint(8)
	ci.Chunks = make([]ChunkMeta, 0, n)
	for i := uint64(0); i < n; i++ {
		c := ChunkMeta{}
		c.ChunkId = uint16(rb.ReadUint(2))
		c.StartIndex = rb.ReadUint(8)
		c.ElementCount = rb.ReadUint(8)
		c.DataSize = rb.ReadUint(8)
		ci.Chunks = append(ci.Chunks, c)
	}
	return ci
}

func infoKey(collectionId codec.ObjectId) codec.StorageKey {
	return codec.StorageKey{ClassId: codec.CollectionInfoClsid, ObjectId: collectionId, PropertyId: 0}
}

func chunkKey(collectionId codec.ObjectId, chunkId uint16) codec.StorageKey {
	return codec.StorageKey{ClassId: codec.CollectionElementClsid, ObjectId: collectionId, PropertyId: codec.PropertyId(chunkId)}
}

// loadInfo reads collectionId's metadata record, returning ok=false if no
// collection has ever been created under that id.
func loadInfo(bucket kvengine.Bucket, collectionId codec.ObjectId) (*Info, bool, error) {
	raw := bucket.Get(infoKey(collectionId).Bytes())
	if raw == nil {
		return nil, false, nil
	}
	return decodeInfo(raw), true, nil
}

func saveInfo(bucket kvengine.Bucket, ci *Info) error {
	if err := bucket.Put(infoKey(ci.CollectionId).Bytes(), ci.encode()); err != nil {
		return storeerrors.NewPersistenceError("collection", "PUT_FAILED", "cannot write collection info record", err)
	}
	return nil
}
