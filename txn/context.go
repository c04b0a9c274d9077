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

// writeCtx implements schema.WriteContext for one top-level Save call,
// bound to the owning class so propertyStorage's standalone records land
// at the right StorageKey.
type writeCtx struct {
	txn     *WriteTxn
	classId codec.ClassId
}

func (c *writeCtx) SaveEmbeddedChild(className string, v reflect.Value) (codec.StorageKey, error) {
	cd, ok := c.txn.store.registry.ClassByName(className)
	if !ok {
		return codec.StorageKey{}, storeerrors.NewClassNotRegisteredError("txn", 0)
	}
	sv := v
	if sv.Kind() == reflect.Ptr {
		sv = sv.Elem()
	}
	objectId := cd.NextObjectId()
	if err := c.txn.saveShallowAndPut(cd, objectId, sv); err != nil {
		return codec.StorageKey{}, err
	}
	return codec.StorageKey{ClassId: cd.ClassId, ObjectId: objectId, PropertyId: codec.ObjectPropertyId}, nil
}

func (c *writeCtx) PutPropertyRecord(objectId codec.ObjectId, propertyId codec.PropertyId, data []byte) error {
	key := codec.StorageKey{ClassId: c.classId, ObjectId: objectId, PropertyId: propertyId}
	return c.txn.ktx.DataBucket().Put(key.Bytes(), data)
}

// readCtx implements schema.ReadContext for one top-level Load call. It
// works against any accessor exposing a DataBucket, so the same type
// serves both ReadTxn and WriteTxn (a write transaction observes its own
// writes).
type readCtx struct {
	store   *Store
	bucket  kvengine.Bucket
	classId codec.ClassId
}

func (c *readCtx) LoadEmbeddedChild(className string, key codec.StorageKey) (reflect.Value, error) {
	cd, ok := c.store.registry.ClassById(key.ClassId)
	if !ok {
		cd, ok = c.store.registry.ClassByName(className)
	}
	if !ok {
		return reflect.Value{}, storeerrors.NewClassNotRegisteredError("txn", key.ClassId)
	}
	v, err := loadShallow(c.bucket, c.store, cd, key.ObjectId)
	if err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

func (c *readCtx) GetPropertyRecord(objectId codec.ObjectId, propertyId codec.PropertyId) ([]byte, bool, error) {
	key := codec.StorageKey{ClassId: c.classId, ObjectId: objectId, PropertyId: propertyId}
	raw := c.bucket.Get(key.Bytes())
	if raw == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, true, nil
}

// loadShallow reads and decodes the object record at (cd.ClassId,
// objectId, 0) into a freshly-allocated value, recursing through cd's
// property storages. Shared by top-level loads and embedded_key child
// resolution.
func loadShallow(bucket kvengine.Bucket, store *Store, cd *schema.ClassDescriptor, objectId codec.ObjectId) (reflect.Value, error) {
	key := codec.StorageKey{ClassId: cd.ClassId, ObjectId: objectId, PropertyId: codec.ObjectPropertyId}
	cacheKey := object.Key{ClassId: cd.ClassId, ObjectId: objectId}

	var raw []byte
	if cached, found := store.cache.Get(cacheKey); found {
		store.met.CacheHits.Inc()
		raw = cached.([]byte)
	} else {
		store.met.CacheMisses.Inc()
		found := bucket.Get(key.Bytes())
		if found == nil {
			return reflect.Value{}, storeerrors.NewPersistenceError("txn", "OBJECT_NOT_FOUND", "no record at the given key", nil)
		}
		raw = make([]byte, len(found))
		copy(raw, found)
		store.cache.Set(cacheKey, raw, int64(len(raw)))
	}
	header := codec.DecodeObjectHeader(raw)
	shallow := raw[codec.ObjectHeaderSize:]
	if int(header.Size) != len(shallow) {
		return reflect.Value{}, storeerrors.NewPersistenceError("txn", "HEADER_SIZE_MISMATCH", "object header size does not match stored value length", nil)
	}
	if header.Deleted {
		return reflect.Value{}, storeerrors.NewPersistenceError("txn", "OBJECT_DELETED", "object is marked deleted", nil)
	}

	rb := buffer.NewReadBuffer(shallow)
	out := object.New(cd)
	ctx := &readCtx{store: store, bucket: bucket, classId: cd.ClassId}
	if err := object.Load(rb, cd, ctx, objectId, out.Elem()); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}
