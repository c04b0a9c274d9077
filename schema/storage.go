package schema

import (
	"fmt"
	"reflect"

	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
)

// WriteContext is the set of transaction-level operations a Storage
// implementation needs to save a property whose data does not fit entirely
// inside the enclosing shallow buffer. It is implemented by the txn
// package; defining it here (rather than importing txn) keeps the
// dependency order codec <- buffer <- kvengine <- schema <- txn intact.
type WriteContext interface {
	// SaveEmbeddedChild recursively saves v (an embedded_key object) and
	// returns the StorageKey addressing it.
	SaveEmbeddedChild(className string, v reflect.Value) (codec.StorageKey, error)
	// PutPropertyRecord writes the standalone record for a 'property'
	// layout field.
	PutPropertyRecord(objectId codec.ObjectId, propertyId codec.PropertyId, data []byte) error
}

// ReadContext is the read-side counterpart of WriteContext.
type ReadContext interface {
	// LoadEmbeddedChild loads the embedded_key object at key into a freshly
	// allocated value of the named class.
	LoadEmbeddedChild(className string, key codec.StorageKey) (reflect.Value, error)
	// GetPropertyRecord reads the standalone record for a 'property' layout
	// field; ok is false when no record was ever written (absent optional).
	GetPropertyRecord(objectId codec.ObjectId, propertyId codec.PropertyId) (data []byte, ok bool, err error)
}

// Storage is the table-driven layout strategy for one property. Each of the
// four property storage layouts has its own implementation below; a
// PropertyDescriptor is built with the Storage matching its Layout once
// during OpenSchema, so per-object save/load never branches on layout at
// runtime.
type Storage interface {
	Layout() Layout
	// FixedSize returns the number of bytes this property contributes to
	// the enclosing shallow buffer, or -1 if the contribution is
	// variable-length (strings, vectors).
	FixedSize() int
	// Save writes this property's shallow-buffer contribution (and, for
	// embedded_key/property layouts, recurses into ctx to store the rest).
	Save(wb *buffer.WriteBuffer, ctx WriteContext, objectId codec.ObjectId, propertyId codec.PropertyId, v reflect.Value) error
	// Load reads this property's contribution back into v, a settable
	// reflect.Value of the field's declared Go type.
	Load(rb *buffer.ReadBuffer, ctx ReadContext, objectId codec.ObjectId, propertyId codec.PropertyId, v reflect.Value) error
}

// --- all_embedded ------------------------------------------------------

type allEmbeddedStorage struct {
	typeId   TypeId
	byteSize int
	isVector bool
}

func (s *allEmbeddedStorage) Layout() Layout { return AllEmbedded }

func (s *allEmbeddedStorage) FixedSize() int {
	if s.isVector || s.typeId == TypeString {
		return -1
	}
	return s.byteSize
}

func (s *allEmbeddedStorage) Save(wb *buffer.WriteBuffer, _ WriteContext, _ codec.ObjectId, _ codec.PropertyId, v reflect.Value) error {
	if s.isVector {
		return s.saveVector(wb, v)
	}
	return s.saveScalar(wb, v)
}

func (s *allEmbeddedStorage) saveScalar(wb *buffer.WriteBuffer, v reflect.Value) error {
	switch s.typeId {
	case TypeBool:
		b := byte(0)
		if v.Bool() {
			b = 1
		}
		wb.Append([]byte{b})
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		var u uint64
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			u = uint64(v.Int())
		default:
			u = v.Uint()
		}
		wb.AppendUint(u, s.byteSize)
	case TypeFloat32:
		buf := make([]byte, 4)
		codec.PutFloat32(buf, float32(v.Float()))
		wb.Append(buf)
	case TypeFloat64:
		buf := make([]byte, 8)
		codec.PutFloat64(buf, v.Float())
		wb.Append(buf)
	case TypeString:
		wb.AppendCString(v.String())
	default:
		return fmt.Errorf("schema: unsupported scalar typeId %d for all_embedded", s.typeId)
	}
	return nil
}

func (s *allEmbeddedStorage) saveVector(wb *buffer.WriteBuffer, v reflect.Value) error {
	n := v.Len()
	wb.AppendUint(uint64(n), 4)
	for i := 0; i < n; i++ {
		if err := s.saveScalar(wb, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *allEmbeddedStorage) Load(rb *buffer.ReadBuffer, _ ReadContext, _ codec.ObjectId, _ codec.PropertyId, v reflect.Value) error {
	if s.isVector {
		return s.loadVector(rb, v)
	}
	return s.loadScalar(rb, v)
}

func (s *allEmbeddedStorage) loadScalar(rb *buffer.ReadBuffer, v reflect.Value) error {
	switch s.typeId {
	case TypeBool:
		v.SetBool(rb.ReadBool())
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		u := rb.ReadUint(s.byteSize)
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v.SetInt(signExtend(u, s.byteSize))
		default:
			v.SetUint(u)
		}
	case TypeFloat32:
		v.SetFloat(float64(rb.ReadFloat32()))
	case TypeFloat64:
		v.SetFloat(rb.ReadFloat64())
	case TypeString:
		v.SetString(rb.ReadCStringCopy())
	default:
		return fmt.Errorf("schema: unsupported scalar typeId %d for all_embedded", s.typeId)
	}
	return nil
}

func (s *allEmbeddedStorage) loadVector(rb *buffer.ReadBuffer, v reflect.Value) error {
	n := int(rb.ReadUint(4))
	sl := reflect.MakeSlice(v.Type(), n, n)
	for i := 0; i < n; i++ {
		if err := s.loadScalar(rb, sl.Index(i)); err != nil {
			return err
		}
	}
	v.Set(sl)
	return nil
}

func signExtend(u uint64, width int) int64 {
	shift := uint(64 - width*8)
	return int64(u<<shift) >> shift
}

// --- embedded_key --------------------------------------------------------

type embeddedKeyStorage struct {
	className string
	isVector  bool
}

func (s *embeddedKeyStorage) Layout() Layout { return EmbeddedKey }

func (s *embeddedKeyStorage) FixedSize() int {
	if s.isVector {
		return -1
	}
	return codec.StorageKeySize
}

func (s *embeddedKeyStorage) Save(wb *buffer.WriteBuffer, ctx WriteContext, _ codec.ObjectId, _ codec.PropertyId, v reflect.Value) error {
	if s.isVector {
		n := v.Len()
		wb.AppendUint(uint64(n), 4)
		for i := 0; i < n; i++ {
			if err := s.saveOne(wb, ctx, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return s.saveOne(wb, ctx, v)
}

var storageKeyType = reflect.TypeOf(codec.StorageKey{})

func (s *embeddedKeyStorage) saveOne(wb *buffer.WriteBuffer, ctx WriteContext, v reflect.Value) error {
	// A field declared as codec.StorageKey is a by-reference embedded_key:
	// the application already saved (or will manage the lifetime of) the
	// target itself, typically via a Shared/Weak Ref, and this property
	// just carries the address. Nothing recurses.
	if v.Type() == storageKeyType {
		key := v.Interface().(codec.StorageKey)
		wb.Append(key.Bytes())
		return nil
	}
	if v.Kind() == reflect.Ptr && v.IsNil() {
		var zero codec.StorageKey
		kb := zero.Bytes()
		wb.Append(kb)
		return nil
	}
	key, err := ctx.SaveEmbeddedChild(s.className, v)
	if err != nil {
		return err
	}
	kb := key.Bytes()
	wb.Append(kb)
	return nil
}

func (s *embeddedKeyStorage) Load(rb *buffer.ReadBuffer, ctx ReadContext, _ codec.ObjectId, _ codec.PropertyId, v reflect.Value) error {
	if s.isVector {
		n := int(rb.ReadUint(4))
		sl := reflect.MakeSlice(v.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := s.loadOne(rb, ctx, sl.Index(i)); err != nil {
				return err
			}
		}
		v.Set(sl)
		return nil
	}
	return s.loadOne(rb, ctx, v)
}

func (s *embeddedKeyStorage) loadOne(rb *buffer.ReadBuffer, ctx ReadContext, v reflect.Value) error {
	key := rb.ReadStorageKey()
	if v.Type() == storageKeyType {
		v.Set(reflect.ValueOf(key))
		return nil
	}
	if key.ObjectId == 0 {
		if v.Kind() == reflect.Ptr {
			v.Set(reflect.Zero(v.Type()))
		}
		return nil
	}
	child, err := ctx.LoadEmbeddedChild(s.className, key)
	if err != nil {
		return err
	}
	if v.Kind() == reflect.Ptr {
		v.Set(child)
	} else {
		v.Set(child.Elem())
	}
	return nil
}

// --- property --------------------------------------------------------

// propertyStorage realizes the 'property' layout: nothing is written to the
// shallow buffer; the data lives at its own (classId, objectId,
// propertyId) key. It is used for large/optional fields so loading the
// owning object doesn't pull them in.
type propertyStorage struct {
	inner Storage // reuses an all_embedded-style codec for the record's own bytes
}

func (s *propertyStorage) Layout() Layout { return Property }

func (s *propertyStorage) FixedSize() int { return 0 }

func (s *propertyStorage) Save(_ *buffer.WriteBuffer, ctx WriteContext, objectId codec.ObjectId, propertyId codec.PropertyId, v reflect.Value) error {
	inner := buffer.NewWriteBuffer(buffer.DefaultMinAlloc)
	if err := s.inner.Save(inner, ctx, objectId, propertyId, v); err != nil {
		return err
	}
	return ctx.PutPropertyRecord(objectId, propertyId, inner.Bytes())
}

func (s *propertyStorage) Load(_ *buffer.ReadBuffer, ctx ReadContext, objectId codec.ObjectId, propertyId codec.PropertyId, v reflect.Value) error {
	data, ok, err := ctx.GetPropertyRecord(objectId, propertyId)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rb := buffer.NewReadBuffer(data)
	return s.inner.Load(rb, ctx, objectId, propertyId, v)
}

// --- objectid --------------------------------------------------------

// objectIDStorage fills the optional self-identifier field on load; nothing
// is ever written for it.
type objectIDStorage struct{}

func (s *objectIDStorage) Layout() Layout { return ObjectIDLayout }
func (s *objectIDStorage) FixedSize() int { return 0 }

func (s *objectIDStorage) Save(*buffer.WriteBuffer, WriteContext, codec.ObjectId, codec.PropertyId, reflect.Value) error {
	return nil
}

func (s *objectIDStorage) Load(_ *buffer.ReadBuffer, _ ReadContext, objectId codec.ObjectId, _ codec.PropertyId, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Uint32, reflect.Uint64, reflect.Uint:
		v.SetUint(uint64(objectId))
	case reflect.Int32, reflect.Int64, reflect.Int:
		v.SetInt(int64(objectId))
	}
	return nil
}
