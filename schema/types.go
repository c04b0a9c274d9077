// Package schema implements the class/property registry: persisted class
// metadata, compatibility reconciliation between a stored schema and a
// runtime schema, and the inheritance/substitute graph used for
// polymorphic dispatch.
package schema

import (
	"reflect"

	"github.com/gsvitec/lightning-objects-sub000/codec"
)

// Layout is one of the four property storage layouts.
type Layout int

const (
	// AllEmbedded properties live inside the enclosing shallow buffer.
	AllEmbedded Layout = iota
	// EmbeddedKey properties store an 8-byte child StorageKey in the
	// shallow buffer; the child's data lives at its own top-level key.
	EmbeddedKey
	// Property properties store nothing in the shallow buffer; their data
	// lives at (classId, objectId, propertyId).
	Property
	// ObjectIDLayout is the special layout for the optional self-identifier
	// field: nothing is stored on disk, it is populated on load from the key.
	ObjectIDLayout
)

func (l Layout) String() string {
	switch l {
	case AllEmbedded:
		return "all_embedded"
	case EmbeddedKey:
		return "embedded_key"
	case Property:
		return "property"
	case ObjectIDLayout:
		return "objectid"
	default:
		return "unknown"
	}
}

// TypeId is the numeric primitive type tag: 1..13 for primitives, 0 for
// object-typed properties.
type TypeId uint16

const (
	TypeObject  TypeId = 0 // property holds a reference/embedded object, not a primitive
	TypeBool    TypeId = 1
	TypeInt8    TypeId = 2
	TypeInt16   TypeId = 3
	TypeInt32   TypeId = 4
	TypeInt64   TypeId = 5
	TypeFloat32 TypeId = 6
	TypeFloat64 TypeId = 7
	TypeString  TypeId = 8
	TypeRawByte TypeId = 9 // element type of a raw-data collection/vector
)

// IsInteger reports whether t is one of the integer primitive kinds. Any two
// integer typeIds are considered compatible with each other: the store's
// integer encoder tolerates width differences up to 8 bytes.
func (t TypeId) IsInteger() bool {
	return t >= TypeInt8 && t <= TypeInt64
}

// Compatibility is the per-class reconciliation verdict.
type Compatibility int

const (
	// Full compatibility: the class can be both read and written.
	Full Compatibility = iota
	// Read compatibility: the class can be read but not saved, because the
	// runtime schema appended properties the persisted schema lacks.
	Read
	// None: the schemas are hard-incompatible; OpenSchema aborts unless the
	// caller opted into best-effort mode.
	None
)

func (c Compatibility) String() string {
	switch c {
	case Full:
		return "full"
	case Read:
		return "read"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// PropertySpec is how an application (or the out-of-scope mapping-DSL
// front-end) declares one property of a class to the runtime registry.
type PropertySpec struct {
	Name       string
	TypeId     TypeId
	ByteSize   int // 0 = variable-size
	IsVector   bool
	ClassName  string // set when TypeId == TypeObject, or for embedded vectors of objects
	Layout     Layout
	FieldIndex int // index into the Go struct's fields (reflect)
}

// ClassSpec is how an application declares a class to the runtime registry.
// This is the in-memory shape a mapping-DSL front-end would produce; this
// package only consumes it.
type ClassSpec struct {
	Name       string
	Sample     interface{} // a value (or pointer to one) of the class's Go type
	Properties []PropertySpec
	Abstract   bool
	Substitute string // name of a concrete descendant class used for polymorphic load
	Super      string // optional parent class name
	RefCounted bool   // opt-in refcounting for shared references to this class
}

// PropertyDescriptor is the runtime, post-reconciliation description of one
// property, including its table-driven Storage implementation.
type PropertyDescriptor struct {
	PropertyId codec.PropertyId
	Name       string
	TypeId     TypeId
	ByteSize   int
	IsVector   bool
	ClassName  string
	Layout     Layout
	FieldIndex int
	Enabled    bool // false when this property was appended at runtime but absent from the saved schema
	Storage    Storage
}

// ClassDescriptor is the runtime, closed description of one class: its
// assigned ClassId, its ordered property list, and its place in the
// inheritance/substitute graph.
type ClassDescriptor struct {
	Name          string
	ClassId       codec.ClassId
	GoType        reflect.Type
	Properties    []*PropertyDescriptor
	Abstract      bool
	RefCounted    bool
	Compatibility Compatibility
	Diffs         []SchemaDiff

	maxObjectId codec.ObjectId

	substituteName string
	substitute     *ClassDescriptor
	superName      string
	super          *ClassDescriptor
	subs           []*ClassDescriptor
}

// MaxObjectId returns the largest ObjectId assigned to an instance of this
// class so far.
func (c *ClassDescriptor) MaxObjectId() codec.ObjectId { return c.maxObjectId }

// NextObjectId increments and returns the next ObjectId to assign.
func (c *ClassDescriptor) NextObjectId() codec.ObjectId {
	c.maxObjectId++
	return c.maxObjectId
}

// Substitute returns the concrete descendant class used to load instances
// whose declared class is unknown, if one is registered.
func (c *ClassDescriptor) Substitute() (*ClassDescriptor, bool) {
	return c.substitute, c.substitute != nil
}

// Subs returns the direct subclasses of this class.
func (c *ClassDescriptor) Subs() []*ClassDescriptor { return c.subs }

// Super returns the direct superclass of this class, if any.
func (c *ClassDescriptor) Super() (*ClassDescriptor, bool) { return c.super, c.super != nil }

// SchemaDiff mirrors internal/errors.SchemaDiff to avoid schema depending on
// the errors package's constructors for plain data carrying.
type SchemaDiff struct {
	Position    int
	Field       string
	Description string
	Runtime     string
	Saved       string
}
