package txn

import (
	"reflect"

	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/kvengine"
	"github.com/gsvitec/lightning-objects-sub000/object"
	"github.com/gsvitec/lightning-objects-sub000/schema"
)

// ObjectCursor iterates every live instance of a class and its subclasses,
// in classId-then-objectId order. Unlike collection.Cursor, which walks one
// collection's chunk stream, this walks the classdata bucket's key ranges
// directly: one range per concrete class in declared's hierarchy.
type ObjectCursor struct {
	rtx      *ReadTxn
	declared *schema.ClassDescriptor
	classIds []codec.ClassId
	classIx  int
	cur      kvengine.Cursor
	seeked   bool
}

// OpenCursor opens a polymorphic cursor over every instance of declared and
// every class that descends from it through Super links. The set of
// concrete classes to scan is resolved once, up front, from the registry's
// full class list so a class that was never declared a direct Go subtype of
// declared (but was wired in as one via Super/Subs during reconciliation)
// is still picked up.
func (r *ReadTxn) OpenCursor(declared *schema.ClassDescriptor) *ObjectCursor {
	var ids []codec.ClassId
	for _, id := range r.store.registry.AllClassIds() {
		candidate, ok := r.store.registry.ClassById(id)
		if !ok {
			continue
		}
		if descendsFrom(candidate, declared) {
			ids = append(ids, id)
		}
	}
	return &ObjectCursor{rtx: r, declared: declared, classIds: ids, classIx: -1}
}

func descendsFrom(candidate, root *schema.ClassDescriptor) bool {
	for c := candidate; c != nil; {
		if c == root {
			return true
		}
		sup, ok := c.Super()
		if !ok {
			return false
		}
		c = sup
	}
	return false
}

// Next advances the cursor and decodes the next live object. Each element
// is decoded against its own concrete class descriptor, not against
// declared, so a wider subclass record keeps its extra properties; deleted
// records are skipped transparently. ok is false once every class range in
// the hierarchy has been exhausted.
func (c *ObjectCursor) Next() (v reflect.Value, ok bool, err error) {
	for {
		if c.cur == nil {
			if !c.advanceClass() {
				return reflect.Value{}, false, nil
			}
		}

		var k, val []byte
		if !c.seeked {
			lower := codec.StorageKey{ClassId: c.classIds[c.classIx], ObjectId: 0, PropertyId: 0}
			k, val = c.cur.Seek(lower.Bytes())
			c.seeked = true
		} else {
			k, val = c.cur.Next()
		}
		if k == nil {
			c.cur = nil
			continue
		}

		sk := codec.DecodeStorageKey(k)
		if sk.ClassId != c.classIds[c.classIx] {
			c.cur = nil
			continue
		}
		if sk.PropertyId != codec.ObjectPropertyId {
			continue
		}

		header := codec.DecodeObjectHeader(val)
		if header.Deleted {
			continue
		}
		resolved, ok := c.rtx.store.registry.ClassById(sk.ClassId)
		if !ok {
			continue
		}

		shallow := val[codec.ObjectHeaderSize:]
		rb := buffer.NewReadBuffer(shallow)
		out := object.New(resolved)
		ctx := &readCtx{store: c.rtx.store, bucket: c.rtx.ktx.DataBucket(), classId: sk.ClassId}
		if err := object.Load(rb, resolved, ctx, sk.ObjectId, out.Elem()); err != nil {
			return reflect.Value{}, false, err
		}
		return out, true, nil
	}
}

func (c *ObjectCursor) advanceClass() bool {
	c.classIx++
	if c.classIx >= len(c.classIds) {
		return false
	}
	c.cur = c.rtx.ktx.DataBucket().Cursor()
	c.seeked = false
	return true
}

// VectorCursor lazily iterates the elements of a vector-typed 'property'
// layout member without materializing the whole slice up front: it reads
// the element count once and decodes one scalar per Next call from the
// standalone property record's buffer.
type VectorCursor struct {
	rb     *buffer.ReadBuffer
	typeId schema.TypeId
	count  int
	idx    int
}

// OpenVectorCursor opens a lazy cursor over objectId's named vector member.
// The member must be a vector-typed field laid out as 'property'; any other
// layout stores its elements inline in the shallow buffer, where there is
// nothing lazy left to stream.
func (r *ReadTxn) OpenVectorCursor(cd *schema.ClassDescriptor, objectId codec.ObjectId, propertyName string) (*VectorCursor, error) {
	var target *schema.PropertyDescriptor
	for _, p := range cd.Properties {
		if p.Name == propertyName {
			target = p
			break
		}
	}
	if target == nil {
		return nil, storeerrors.NewInvalidArgumentError("txn", "no such property: "+propertyName)
	}
	if target.Layout != schema.Property || !target.IsVector {
		return nil, storeerrors.NewInvalidArgumentError("txn", "openVectorCursor only applies to vector-typed 'property' layout members")
	}

	ctx := &readCtx{store: r.store, bucket: r.ktx.DataBucket(), classId: cd.ClassId}
	data, ok, err := ctx.GetPropertyRecord(objectId, target.PropertyId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &VectorCursor{typeId: target.TypeId}, nil
	}

	rb := buffer.NewReadBuffer(data)
	count := int(rb.ReadUint(4))
	return &VectorCursor{rb: rb, typeId: target.TypeId, count: count}, nil
}

// Next decodes the next element. ok is false once every element has been
// read.
func (c *VectorCursor) Next() (v reflect.Value, ok bool) {
	if c.idx >= c.count {
		return reflect.Value{}, false
	}
	c.idx++
	return decodeScalarElement(c.rb, c.typeId), true
}

func decodeScalarElement(rb *buffer.ReadBuffer, t schema.TypeId) reflect.Value {
	switch t {
	case schema.TypeBool:
		return reflect.ValueOf(rb.ReadBool())
	case schema.TypeInt8:
		return reflect.ValueOf(int8(rb.ReadUint(1)))
	case schema.TypeInt16:
		return reflect.ValueOf(int16(rb.ReadUint(2)))
	case schema.TypeInt32:
		return reflect.ValueOf(int32(rb.ReadUint(4)))
	case schema.TypeInt64:
		return reflect.ValueOf(int64(rb.ReadUint(8)))
	case schema.TypeFloat32:
		return reflect.ValueOf(rb.ReadFloat32())
	case schema.TypeFloat64:
		return reflect.ValueOf(rb.ReadFloat64())
	case schema.TypeString:
		return reflect.ValueOf(rb.ReadCStringCopy())
	default:
		return reflect.ValueOf(rb.ReadUint(8))
	}
}
