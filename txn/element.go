package txn

import (
	"reflect"

	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	"github.com/gsvitec/lightning-objects-sub000/object"
	"github.com/gsvitec/lightning-objects-sub000/schema"
)

// EncodeCollectionObject assigns cd a fresh objectId and returns v's full
// element record — an 11-byte header carrying the class (so the chunk
// remains a valid polymorphic cursor target) followed by its shallow
// buffer — ready to embed directly inside a collection chunk, each element
// preceded by its own object header. embedded_key and property-layout
// members recurse exactly as they would for a top-level object, keeping
// them independently addressable.
func (w *WriteTxn) EncodeCollectionObject(cd *schema.ClassDescriptor, v reflect.Value) ([]byte, error) {
	objectId := cd.NextObjectId()
	wb := buffer.NewWriteBuffer(buffer.DefaultMinAlloc)
	ctx := &writeCtx{txn: w, classId: cd.ClassId}
	if err := object.Save(wb, cd, ctx, objectId, derefStruct(v)); err != nil {
		return nil, err
	}
	shallow := wb.Bytes()
	header := codec.ObjectHeader{ClassId: cd.ClassId, ObjectId: objectId, Size: uint32(len(shallow)), Deleted: false}
	buf := make([]byte, codec.ObjectHeaderSize+len(shallow))
	header.Encode(buf)
	copy(buf[codec.ObjectHeaderSize:], shallow)
	return buf, nil
}

// DecodeCollectionObject decodes one element record produced by
// EncodeCollectionObject (or, for a polymorphic cursor, a stored subclass's
// record read through the cursor's declared class) using cd's properties.
// deleted reports a tombstoned entry; its value should not be used.
func (r *ReadTxn) DecodeCollectionObject(cd *schema.ClassDescriptor, data []byte) (v reflect.Value, deleted bool, err error) {
	header := codec.DecodeObjectHeader(data)
	if header.Deleted {
		return reflect.Value{}, true, nil
	}
	shallow := data[codec.ObjectHeaderSize:]
	rb := buffer.NewReadBuffer(shallow)
	out := object.New(cd)
	ctx := &readCtx{store: r.store, bucket: r.ktx.DataBucket(), classId: cd.ClassId}
	if err := object.Load(rb, cd, ctx, header.ObjectId, out.Elem()); err != nil {
		return reflect.Value{}, false, err
	}
	return out, false, nil
}
