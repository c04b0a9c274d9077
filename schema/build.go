package schema

import "fmt"

// BuildStorage constructs the concrete Storage for a property, given its
// post-reconciliation descriptor fields. Called once per property during
// OpenSchema so that per-object save/load is a straight virtual dispatch,
// never a layout switch.
func BuildStorage(p *PropertyDescriptor) (Storage, error) {
	switch p.Layout {
	case AllEmbedded:
		return &allEmbeddedStorage{typeId: p.TypeId, byteSize: p.ByteSize, isVector: p.IsVector}, nil
	case EmbeddedKey:
		return &embeddedKeyStorage{className: p.ClassName, isVector: p.IsVector}, nil
	case Property:
		inner, err := BuildStorage(&PropertyDescriptor{
			TypeId: p.TypeId, ByteSize: p.ByteSize, IsVector: p.IsVector, ClassName: p.ClassName, Layout: AllEmbedded,
		})
		if err != nil {
			return nil, err
		}
		if p.TypeId == TypeObject {
			inner = &embeddedKeyStorage{className: p.ClassName, isVector: p.IsVector}
		}
		return &propertyStorage{inner: inner}, nil
	case ObjectIDLayout:
		return &objectIDStorage{}, nil
	default:
		return nil, fmt.Errorf("schema: unknown layout %v for property %s", p.Layout, p.Name)
	}
}
