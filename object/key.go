// Package object implements the object buffer: the header + shallow-buffer
// encoding/decoding that sits between a schema-described Go struct and the
// raw bytes stored under a StorageKey, plus the explicit handle type that
// stands in for a shared-pointer-deleter idiom when reference counting.
package object

import "github.com/gsvitec/lightning-objects-sub000/codec"

// Key identifies one persisted object: its class and its object id within
// that class. It is the stable, comparable handle applications hold onto
// instead of a language-level pointer.
type Key struct {
	ClassId  codec.ClassId
	ObjectId codec.ObjectId
}

// StorageKey returns the top-level key for this object's own record
// (propertyId 0).
func (k Key) StorageKey() codec.StorageKey {
	return codec.StorageKey{ClassId: k.ClassId, ObjectId: k.ObjectId, PropertyId: codec.ObjectPropertyId}
}

// PropertyKey returns the key for one of this object's 'property'-layout
// fields.
func (k Key) PropertyKey(propertyId codec.PropertyId) codec.StorageKey {
	return codec.StorageKey{ClassId: k.ClassId, ObjectId: k.ObjectId, PropertyId: propertyId}
}

func (k Key) IsNil() bool { return k.ObjectId == 0 }

// RefKind is the discriminant of the Ref sum type.
type RefKind int

const (
	// Unique: this handle is the sole owner; no refcount record is kept.
	Unique RefKind = iota
	// Shared: this handle participates in the class's refcount; the object
	// is erased when the count reaches zero.
	Shared
	// Weak: this handle observes a Shared object without owning it; it
	// must re-check liveness (via the owning transaction) before use.
	Weak
)

func (k RefKind) String() string {
	switch k {
	case Unique:
		return "unique"
	case Shared:
		return "shared"
	case Weak:
		return "weak"
	default:
		return "unknown"
	}
}

// Ref is the explicit handle applications exchange for shared/weak
// references, in place of a shared_ptr/weak_ptr pair.
type Ref struct {
	Key      Key
	Kind     RefKind
	RefCount uint32 // meaningful only for Kind == Shared; a snapshot, not live
}

func (r Ref) IsNil() bool { return r.Key.IsNil() }
