package object

import (
	"reflect"

	"github.com/gsvitec/lightning-objects-sub000/buffer"
	"github.com/gsvitec/lightning-objects-sub000/codec"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/schema"
)

// New allocates a zero-valued, addressable instance of cd's Go type and
// returns it as a pointer Value ready to be populated by Load.
func New(cd *schema.ClassDescriptor) reflect.Value {
	return reflect.New(cd.GoType)
}

// FieldValue resolves the struct field a property descriptor maps to. A
// FieldIndex of -1 (a property with no corresponding Go field — e.g. one
// dropped from the runtime struct but still carried for a subclass whose
// layout must not shift) has no addressable target; callers must check for
// that themselves via ShallowSize/skip logic before calling into it for I/O
// that isn't a pure skip.
func FieldValue(v reflect.Value, p *schema.PropertyDescriptor) (reflect.Value, bool) {
	if p.FieldIndex < 0 || p.FieldIndex >= v.NumField() {
		return reflect.Value{}, false
	}
	return v.Field(p.FieldIndex), true
}

// Save encodes v's shallow buffer (every AllEmbedded/EmbeddedKey/Property
// contribution, in property-id order) into wb. v must be an addressable
// struct value of cd.GoType.
func Save(wb *buffer.WriteBuffer, cd *schema.ClassDescriptor, ctx schema.WriteContext, objectId codec.ObjectId, v reflect.Value) error {
	for _, p := range cd.Properties {
		if !p.Enabled {
			continue
		}
		fv, ok := FieldValue(v, p)
		if !ok {
			continue
		}
		if err := p.Storage.Save(wb, ctx, objectId, p.PropertyId, fv); err != nil {
			return storeerrors.Wrap("object", "SAVE_PROPERTY_FAILED", "saving property "+p.Name+" of "+cd.Name, err)
		}
	}
	return nil
}

// Load decodes rb's shallow buffer into v, a freshly-allocated addressable
// struct value of cd.GoType.
func Load(rb *buffer.ReadBuffer, cd *schema.ClassDescriptor, ctx schema.ReadContext, objectId codec.ObjectId, v reflect.Value) error {
	for _, p := range cd.Properties {
		if !p.Enabled {
			continue
		}
		fv, ok := FieldValue(v, p)
		if !ok {
			if err := skipProperty(rb, p); err != nil {
				return err
			}
			continue
		}
		if err := p.Storage.Load(rb, ctx, objectId, p.PropertyId, fv); err != nil {
			return storeerrors.Wrap("object", "LOAD_PROPERTY_FAILED", "loading property "+p.Name+" of "+cd.Name, err)
		}
	}
	return nil
}

// skipProperty advances rb past a property's shallow-buffer contribution
// without decoding it. Load calls it for a property that has no Go field to
// land in.
func skipProperty(rb *buffer.ReadBuffer, p *schema.PropertyDescriptor) error {
	size := p.Storage.FixedSize()
	if size >= 0 {
		rb.Skip(size)
		return nil
	}
	// Variable-length: strings are NUL-terminated C-strings, vectors are
	// a uint32 count followed by that many fixed-size (or nested-variable)
	// elements. Since the descriptor's own Storage already knows how to
	// decode its shape, the cheapest correct skip is to decode into a
	// disposable value and discard it.
	scratch := reflect.New(goTypeFor(p)).Elem()
	return p.Storage.Load(rb, discardReadContext{}, 0, 0, scratch)
}

// goTypeFor returns a Go type wide enough to receive p's decoded value for
// skip purposes. Only the shape (scalar vs slice) matters; discardReadContext
// never touches referenced children.
func goTypeFor(p *schema.PropertyDescriptor) reflect.Type {
	var elem reflect.Type
	switch {
	case p.Layout == schema.EmbeddedKey:
		elem = reflect.TypeOf(codec.StorageKey{})
	case p.TypeId == schema.TypeString:
		elem = reflect.TypeOf("")
	case p.TypeId == schema.TypeFloat32:
		elem = reflect.TypeOf(float32(0))
	case p.TypeId == schema.TypeFloat64:
		elem = reflect.TypeOf(float64(0))
	case p.TypeId == schema.TypeBool:
		elem = reflect.TypeOf(false)
	default:
		elem = reflect.TypeOf(int64(0))
	}
	if p.IsVector {
		return reflect.SliceOf(elem)
	}
	return elem
}

// discardReadContext satisfies schema.ReadContext for skip-decoding only;
// any attempt to actually dereference a child during a skip is a bug in the
// caller, since embedded_key children are skipped as raw 8-byte keys, never
// resolved.
type discardReadContext struct{}

func (discardReadContext) LoadEmbeddedChild(string, codec.StorageKey) (reflect.Value, error) {
	return reflect.Value{}, storeerrors.NewInvalidArgumentError("object", "cannot resolve embedded child while skipping an unreadable property")
}

func (discardReadContext) GetPropertyRecord(codec.ObjectId, codec.PropertyId) ([]byte, bool, error) {
	return nil, false, nil
}
