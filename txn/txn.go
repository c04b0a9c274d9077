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

// ReadTxn is a read-only transaction over a Store.
type ReadTxn struct {
	store *Store
	ktx   *kvengine.ReadTx
}

// WriteTxn is the single writable transaction over a Store.
type WriteTxn struct {
	store  *Store
	ktx    *kvengine.WriteTx
	append bool
	lastKey map[codec.ClassId]codec.StorageKey
}

// BeginRead starts an ordinary concurrent read transaction.
func (s *Store) BeginRead() (*ReadTxn, error) {
	ktx, err := s.engine.BeginRead()
	if err != nil {
		return nil, err
	}
	return &ReadTxn{store: s, ktx: ktx}, nil
}

// BeginExclusiveRead starts a read transaction that blocks new writers,
// used ahead of zero-copy sub-range reads.
func (s *Store) BeginExclusiveRead() (*ReadTxn, error) {
	ktx, err := s.engine.BeginExclusiveRead()
	if err != nil {
		return nil, err
	}
	return &ReadTxn{store: s, ktx: ktx}, nil
}

// WriteOptions mirrors kvengine.WriteOptions at the txn API boundary.
type WriteOptions = kvengine.WriteOptions

// BeginWrite starts the single write transaction.
func (s *Store) BeginWrite(opts WriteOptions) (*WriteTxn, error) {
	ktx, err := s.engine.BeginWrite(opts)
	if err != nil {
		return nil, err
	}
	return &WriteTxn{store: s, ktx: ktx, append: opts.Append, lastKey: make(map[codec.ClassId]codec.StorageKey)}, nil
}

// Commit persists the registry's object id counters and commits the
// underlying KV transaction.
func (w *WriteTxn) Commit() error {
	if err := w.store.registry.FlushCounters(w.ktx); err != nil {
		w.ktx.Rollback()
		return err
	}
	return w.ktx.Commit()
}

// Rollback discards the transaction's writes. The object cache, which
// saveShallowAndPut fills as it writes, is cleared so later loads cannot
// return a discarded record.
func (w *WriteTxn) Rollback() error {
	w.store.cache.Clear()
	return w.ktx.Rollback()
}

// DataBucket exposes the underlying classdata bucket for packages layered
// above txn (collection) that manage their own key ranges within it.
func (w *WriteTxn) DataBucket() kvengine.Bucket { return w.ktx.DataBucket() }

// Store returns the transaction's owning Store.
func (w *WriteTxn) Store() *Store { return w.store }

// NewCollectionId assigns a fresh collectionId for a new top-level
// collection by incrementing the store's maxCollectionId counter.
func (w *WriteTxn) NewCollectionId() codec.ObjectId { return w.store.NextCollectionId() }

// Reset ends a read transaction without disturbing caller-owned state.
func (r *ReadTxn) Reset() error { return r.ktx.Reset() }

// Renew starts a fresh read transaction with the same exclusivity as r.
func (r *ReadTxn) Renew() error {
	n, err := r.ktx.Renew()
	if err != nil {
		return err
	}
	r.ktx = n
	return nil
}

// Rollback ends the read transaction.
func (r *ReadTxn) Rollback() error { return r.ktx.Rollback() }

// DataBucket exposes the underlying classdata bucket for packages layered
// above txn (collection) that manage their own key ranges within it.
func (r *ReadTxn) DataBucket() kvengine.Bucket { return r.ktx.DataBucket() }

// Store returns the transaction's owning Store.
func (r *ReadTxn) Store() *Store { return r.store }

func (w *WriteTxn) saveShallowAndPut(cd *schema.ClassDescriptor, objectId codec.ObjectId, v reflect.Value) error {
	wb := buffer.NewWriteBuffer(buffer.DefaultMinAlloc)
	ctx := &writeCtx{txn: w, classId: cd.ClassId}
	if err := object.Save(wb, cd, ctx, objectId, v); err != nil {
		return err
	}
	shallow := wb.Bytes()

	key := codec.StorageKey{ClassId: cd.ClassId, ObjectId: objectId, PropertyId: codec.ObjectPropertyId}
	if w.append {
		if err := w.checkAppendOrder(cd.ClassId, key); err != nil {
			return err
		}
	}

	header := codec.ObjectHeader{ClassId: cd.ClassId, ObjectId: objectId, Size: uint32(len(shallow)), Deleted: false}
	buf := make([]byte, codec.ObjectHeaderSize+len(shallow))
	header.Encode(buf)
	copy(buf[codec.ObjectHeaderSize:], shallow)

	if err := w.ktx.DataBucket().Put(key.Bytes(), buf); err != nil {
		return storeerrors.NewPersistenceError("txn", "PUT_FAILED", "cannot write object record", err)
	}
	w.store.cache.Set(object.Key{ClassId: cd.ClassId, ObjectId: objectId}, buf, int64(len(buf)))
	w.store.cache.Wait()
	w.store.met.ObjectsSaved.Inc()
	return nil
}

func (w *WriteTxn) checkAppendOrder(classId codec.ClassId, key codec.StorageKey) error {
	if prev, ok := w.lastKey[classId]; ok && !prev.Less(key) {
		return storeerrors.NewInvalidArgumentError("txn", "append-mode write requires strictly increasing keys")
	}
	w.lastKey[classId] = key
	return nil
}

// PutObject assigns a new objectId and saves v as a new instance of cd.
func (w *WriteTxn) PutObject(cd *schema.ClassDescriptor, v reflect.Value) (codec.ObjectId, error) {
	if cd.Compatibility == schema.Read {
		return 0, storeerrors.NewInvalidArgumentError("txn", "class "+cd.Name+" is read-only: runtime schema appended properties absent from the saved schema")
	}
	objectId := cd.NextObjectId()
	if err := w.saveShallowAndPut(cd, objectId, derefStruct(v)); err != nil {
		return 0, err
	}
	return objectId, nil
}

// SaveObject saves v under objectId, or — when newObject is true — assigns
// a fresh id exactly like PutObject.
func (w *WriteTxn) SaveObject(cd *schema.ClassDescriptor, objectId codec.ObjectId, v reflect.Value, newObject bool) (codec.ObjectId, error) {
	if newObject {
		return w.PutObject(cd, v)
	}
	if cd.Compatibility == schema.Read {
		return 0, storeerrors.NewInvalidArgumentError("txn", "class "+cd.Name+" is read-only: runtime schema appended properties absent from the saved schema")
	}
	if err := w.saveShallowAndPut(cd, objectId, derefStruct(v)); err != nil {
		return 0, err
	}
	return objectId, nil
}

// UpdateObject fully rewrites objectId's shallow buffer from v.
func (w *WriteTxn) UpdateObject(cd *schema.ClassDescriptor, objectId codec.ObjectId, v reflect.Value) error {
	_, err := w.SaveObject(cd, objectId, v, false)
	return err
}

// UpdateMember updates a single named property of objectId. v is the full,
// already-updated in-memory object value; behavior depends on the
// property's layout:
//   - property: only the standalone record is (re)written.
//   - embedded_key / all_embedded: the whole shallow buffer is rewritten.
func (w *WriteTxn) UpdateMember(cd *schema.ClassDescriptor, objectId codec.ObjectId, v reflect.Value, propertyName string) error {
	var target *schema.PropertyDescriptor
	for _, p := range cd.Properties {
		if p.Name == propertyName {
			target = p
			break
		}
	}
	if target == nil {
		return storeerrors.NewInvalidArgumentError("txn", "no such property: "+propertyName)
	}
	if target.Layout != schema.Property {
		return w.UpdateObject(cd, objectId, v)
	}
	sv := derefStruct(v)
	fv, ok := object.FieldValue(sv, target)
	if !ok {
		return storeerrors.NewInvalidArgumentError("txn", "property "+propertyName+" has no backing field")
	}
	ctx := &writeCtx{txn: w, classId: cd.ClassId}
	return target.Storage.Save(nil, ctx, objectId, target.PropertyId, fv)
}

// DeleteObject erases objectId's record and every standalone 'property'
// record it owns.
func (w *WriteTxn) DeleteObject(cd *schema.ClassDescriptor, objectId codec.ObjectId) error {
	key := codec.StorageKey{ClassId: cd.ClassId, ObjectId: objectId, PropertyId: codec.ObjectPropertyId}
	if w.ktx.DataBucket().Get(key.Bytes()) == nil {
		return nil
	}
	if err := w.ktx.DataBucket().Delete(key.Bytes()); err != nil {
		return storeerrors.NewPersistenceError("txn", "DELETE_FAILED", "cannot delete object record", err)
	}
	w.store.cache.Del(object.Key{ClassId: cd.ClassId, ObjectId: objectId})
	for _, p := range cd.Properties {
		if p.Layout == schema.Property {
			pk := codec.StorageKey{ClassId: cd.ClassId, ObjectId: objectId, PropertyId: p.PropertyId}
			if err := w.ktx.DataBucket().Delete(pk.Bytes()); err != nil {
				return storeerrors.NewPersistenceError("txn", "DELETE_FAILED", "cannot delete property record", err)
			}
		}
	}
	if cd.RefCounted {
		w.store.forgetRef(object.Key{ClassId: cd.ClassId, ObjectId: objectId})
	}
	w.store.met.ObjectsDeleted.Inc()
	return nil
}

// SaveShared saves v as a new Shared-kind reference: a refcounted object
// whose deletion is deferred until its count reaches zero.
func (w *WriteTxn) SaveShared(cd *schema.ClassDescriptor, v reflect.Value) (object.Ref, error) {
	if !cd.RefCounted {
		return object.Ref{}, storeerrors.NewInvalidArgumentError("txn", "class "+cd.Name+" is not registered for reference counting")
	}
	objectId, err := w.PutObject(cd, v)
	if err != nil {
		return object.Ref{}, err
	}
	key := object.Key{ClassId: cd.ClassId, ObjectId: objectId}
	count := w.store.IncRef(key)
	return object.Ref{Key: key, Kind: object.Shared, RefCount: count}, nil
}

// AddRef bumps ref's refcount, e.g. when a second owner starts holding it.
func (w *WriteTxn) AddRef(ref object.Ref) object.Ref {
	ref.RefCount = w.store.IncRef(ref.Key)
	return ref
}

// Release decrements ref's refcount and erases the referent once it
// reaches zero: a shared referent is deleted only when its refcount
// transitions to zero.
func (w *WriteTxn) Release(cd *schema.ClassDescriptor, ref object.Ref) error {
	if ref.Kind != object.Shared {
		return nil
	}
	count := w.store.DecRef(ref.Key)
	if count == 0 {
		return w.DeleteObject(cd, ref.Key.ObjectId)
	}
	return nil
}

// LoadObject reads objectId as an instance of cd.
func (r *ReadTxn) LoadObject(cd *schema.ClassDescriptor, objectId codec.ObjectId) (reflect.Value, error) {
	v, err := loadShallow(r.ktx.DataBucket(), r.store, cd, objectId)
	if err != nil {
		return reflect.Value{}, err
	}
	r.store.met.ObjectsLoaded.Inc()
	return v, nil
}

// GetObject is an alias for LoadObject kept for parity with a generic
// getObject<T>(id) entry point; both share one implementation here since
// this port has no separate lazily-opened handle type to distinguish them.
func (r *ReadTxn) GetObject(cd *schema.ClassDescriptor, objectId codec.ObjectId) (reflect.Value, error) {
	return r.LoadObject(cd, objectId)
}

// ReloadObject re-reads the object addressed by key into a fresh value,
// discarding whatever v previously held.
func (r *ReadTxn) ReloadObject(cd *schema.ClassDescriptor, key object.Key) (reflect.Value, error) {
	return r.LoadObject(cd, key.ObjectId)
}

// LoadMember realizes a single lazy ('property'-layout) member on demand.
func (r *ReadTxn) LoadMember(cd *schema.ClassDescriptor, objectId codec.ObjectId, propertyName string) (reflect.Value, bool, error) {
	var target *schema.PropertyDescriptor
	for _, p := range cd.Properties {
		if p.Name == propertyName {
			target = p
			break
		}
	}
	if target == nil {
		return reflect.Value{}, false, storeerrors.NewInvalidArgumentError("txn", "no such property: "+propertyName)
	}
	if target.Layout != schema.Property {
		return reflect.Value{}, false, storeerrors.NewInvalidArgumentError("txn", "loadMember only applies to 'property'-layout members")
	}
	ctx := &readCtx{store: r.store, bucket: r.ktx.DataBucket(), classId: cd.ClassId}
	scratch := reflect.New(goFieldTypeFor(target)).Elem()
	if err := target.Storage.Load(nil, ctx, objectId, target.PropertyId, scratch); err != nil {
		return reflect.Value{}, false, err
	}
	return scratch, true, nil
}

func goFieldTypeFor(p *schema.PropertyDescriptor) reflect.Type {
	if p.Layout == schema.EmbeddedKey || p.TypeId == schema.TypeObject {
		if p.IsVector {
			return reflect.SliceOf(reflect.TypeOf(codec.StorageKey{}))
		}
		return reflect.TypeOf(codec.StorageKey{})
	}
	var elem reflect.Type
	switch p.TypeId {
	case schema.TypeString:
		elem = reflect.TypeOf("")
	case schema.TypeFloat32:
		elem = reflect.TypeOf(float32(0))
	case schema.TypeFloat64:
		elem = reflect.TypeOf(float64(0))
	case schema.TypeBool:
		elem = reflect.TypeOf(false)
	default:
		elem = reflect.TypeOf(int64(0))
	}
	if p.IsVector {
		return reflect.SliceOf(elem)
	}
	return elem
}

// derefStruct normalizes a value or pointer-to-value into the addressable
// struct Value object.Save/object.Load expect.
func derefStruct(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	return v
}
