package schema

import (
	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	"github.com/gsvitec/lightning-objects-sub000/kvengine"
)

// classmeta persists one ClassDescriptor under its own nested bucket in
// kvengine's MetaBucket. The class-level record lives at propertyId 0; each
// property gets its own record at its 1-based propertyId, ordered by
// bbolt's natural key ordering (verified by kvengine.TestNestedBucketOrdering).

const classRecordKey = uint16(0)

type persistedProperty struct {
	PropertyId codec.PropertyId
	Name       string
	TypeId     TypeId
	ByteSize   int
	IsVector   bool
	ClassName  string
	Layout     Layout
}

type persistedClass struct {
	ClassId        codec.ClassId
	Abstract       bool
	RefCounted     bool
	MaxObjectId    codec.ObjectId
	SubstituteName string
	SuperName      string
	Properties     []persistedProperty
}

func propertyKey(id codec.PropertyId) []byte {
	b := make([]byte, 2)
	codec.PutUint(b, uint64(id), 2)
	return b
}

func writeClassRecord(bucket kvengine.Bucket, c *ClassDescriptor) error {
	nb, err := bucket.NestedBucket([]byte(c.Name))
	if err != nil {
		return err
	}
	wb := buffer.NewWriteBuffer(64)
	wb.AppendUint(uint64(c.ClassId), 2)
	flags := byte(0)
	if c.Abstract {
		flags |= 1
	}
	if c.RefCounted {
		flags |= 2
	}
	wb.Append([]byte{flags})
	wb.AppendUint(uint64(c.maxObjectId), 4)
	wb.AppendCString(c.substituteName)
	wb.AppendCString(c.superName)
	if err := nb.Put(propertyKey(classRecordKey), wb.Bytes()); err != nil {
		return err
	}
	for _, p := range c.Properties {
		if err := writePropertyRecord(nb, p); err != nil {
			return err
		}
	}
	return nil
}

func writePropertyRecord(classBucket kvengine.Bucket, p *PropertyDescriptor) error {
	wb := buffer.NewWriteBuffer(64)
	wb.AppendUint(uint64(p.TypeId), 2)
	wb.AppendUint(uint64(int32(p.ByteSize)), 4)
	flags := byte(0)
	if p.IsVector {
		flags |= 1
	}
	wb.Append([]byte{flags})
	wb.Append([]byte{byte(p.Layout)})
	wb.AppendCString(p.Name)
	wb.AppendCString(p.ClassName)
	return classBucket.Put(propertyKey(p.PropertyId), wb.Bytes())
}

// readClassRecord reads a previously-persisted class, if one exists under
// this name. ok is false when the class has never been saved.
func readClassRecord(bucket kvengine.Bucket, name string) (*persistedClass, bool, error) {
	nb, err := bucket.NestedBucket([]byte(name))
	if err != nil {
		return nil, false, err
	}
	if nb == nil {
		return nil, false, nil
	}
	raw := nb.Get(propertyKey(classRecordKey))
	if raw == nil {
		return nil, false, nil
	}
	rb := buffer.NewReadBuffer(raw)
	pc := &persistedClass{}
	pc.ClassId = codec.ClassId(rb.ReadUint(2))
	flags := rb.ReadBytes(1)[0]
	pc.Abstract = flags&1 != 0
	pc.RefCounted = flags&2 != 0
	pc.MaxObjectId = codec.ObjectId(rb.ReadUint(4))
	pc.SubstituteName = rb.ReadCStringCopy()
	pc.SuperName = rb.ReadCStringCopy()

	cur := nb.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		id := codec.PropertyId(codec.Uint(k, 2))
		if id == classRecordKey {
			continue
		}
		prb := buffer.NewReadBuffer(v)
		pp := persistedProperty{PropertyId: id}
		pp.TypeId = TypeId(prb.ReadUint(2))
		pp.ByteSize = int(int32(prb.ReadUint(4)))
		pflags := prb.ReadBytes(1)[0]
		pp.IsVector = pflags&1 != 0
		pp.Layout = Layout(prb.ReadBytes(1)[0])
		pp.Name = prb.ReadCStringCopy()
		pp.ClassName = prb.ReadCStringCopy()
		pc.Properties = append(pc.Properties, pp)
	}
	return pc, true, nil
}

func updateMaxObjectId(bucket kvengine.Bucket, className string, maxObjectId codec.ObjectId) error {
	nb, err := bucket.NestedBucket([]byte(className))
	if err != nil {
		return err
	}
	raw := nb.Get(propertyKey(classRecordKey))
	if raw == nil {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	codec.PutUint(out[2+1:2+1+4], uint64(maxObjectId), 4)
	return nb.Put(propertyKey(classRecordKey), out)
}
