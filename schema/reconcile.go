package schema

import (
	"fmt"

	"github.com/gsvitec/lightning-objects-sub000/codec"
)

// reconcileProperties position-aligns the runtime property list against the
// persisted one and produces the merged descriptor list plus a
// Compatibility verdict:
//
//   - same position, same typeId (integers mutually compatible), same
//     byteSize, same className, same isVector, same layout: compatible,
//     keep.
//   - trailing property only in the persisted list (removed at runtime):
//     tolerated and dropped from the merged list for a class with no
//     subclasses — its bytes, if any, were always at the tail of the
//     persisted shallow buffer and nothing reads past them. Hard
//     incompatibility when the class has subclasses, since removing it
//     shifts every subclass's shallow-buffer offsets.
//   - trailing property only in the runtime list (appended): tolerated for
//     reads, but downgrades the class to Read compatibility, since an
//     older persisted record has no data for it and a save would produce
//     records two schema versions disagree on.
//   - a layout change at a shared position: hard incompatibility if the
//     class has subclasses (shifts every subclass's shallow-buffer
//     offsets), otherwise tolerated.
//   - any other mismatch at a shared position (typeId family, byteSize
//     outside integer widening, className, isVector): hard incompatibility.
func reconcileProperties(runtime []PropertySpec, persisted []persistedProperty, hasSubs bool) ([]*PropertyDescriptor, Compatibility, []SchemaDiff) {
	n := len(runtime)
	if len(persisted) > n {
		n = len(persisted)
	}

	var merged []*PropertyDescriptor
	var diffs []SchemaDiff
	compat := Full

	for i := 0; i < n; i++ {
		hasRuntime := i < len(runtime)
		hasPersisted := i < len(persisted)

		switch {
		case hasRuntime && hasPersisted:
			rp := runtime[i]
			pp := persisted[i]
			if d, ok := compareProperty(i, rp, pp); !ok {
				diffs = append(diffs, d)
				compat = worse(compat, None)
			} else if d.Description != "" {
				if d.Description == "layout changed" && hasSubs {
					compat = worse(compat, None)
				}
				diffs = append(diffs, d)
			}
			merged = append(merged, &PropertyDescriptor{
				PropertyId: pp.PropertyId,
				Name:       rp.Name,
				TypeId:     rp.TypeId,
				ByteSize:   rp.ByteSize,
				IsVector:   rp.IsVector,
				ClassName:  rp.ClassName,
				Layout:     rp.Layout,
				FieldIndex: rp.FieldIndex,
				Enabled:    true,
			})

		case hasRuntime && !hasPersisted:
			rp := runtime[i]
			diffs = append(diffs, SchemaDiff{
				Position:    i,
				Field:       rp.Name,
				Description: "property appended at runtime; absent from saved schema",
			})
			compat = worse(compat, Read)
			merged = append(merged, &PropertyDescriptor{
				PropertyId: propertyIdFor(i),
				Name:       rp.Name,
				TypeId:     rp.TypeId,
				ByteSize:   rp.ByteSize,
				IsVector:   rp.IsVector,
				ClassName:  rp.ClassName,
				Layout:     rp.Layout,
				FieldIndex: rp.FieldIndex,
				Enabled:    false,
			})

		case !hasRuntime && hasPersisted:
			pp := persisted[i]
			desc := "property removed at runtime; tolerated (trailing only)"
			if hasSubs {
				desc = "property removed at runtime; hard incompatibility for a class with subclasses"
				compat = worse(compat, None)
			}
			diffs = append(diffs, SchemaDiff{
				Position:    i,
				Field:       pp.Name,
				Description: desc,
			})
			// Otherwise dropped entirely: nothing in the runtime struct reads
			// it, and its bytes were trailing so nothing downstream needs to
			// skip past them either.
		}
	}

	return merged, compat, diffs
}

func propertyIdFor(position int) codec.PropertyId {
	return codec.PropertyId(position + 1)
}

// compareProperty reports whether rp and pp agree closely enough to keep
// Full compatibility at this position. When they don't, ok is false and the
// returned diff records why (hard incompatibility). A layout change returns
// ok true with a "layout changed" diff, which reconcileProperties escalates
// to None when the class has subclasses. An integer width change alone
// returns ok true with an empty diff.
func compareProperty(pos int, rp PropertySpec, pp persistedProperty) (SchemaDiff, bool) {
	bothInt := rp.TypeId.IsInteger() && pp.TypeId.IsInteger()
	if rp.TypeId != pp.TypeId {
		if !bothInt {
			return SchemaDiff{
				Position:    pos,
				Field:       rp.Name,
				Description: "typeId mismatch",
				Runtime:     fmt.Sprintf("%d", rp.TypeId),
				Saved:       fmt.Sprintf("%d", pp.TypeId),
			}, false
		}
	}
	// Integer widening/narrowing is the one case allowed to change byteSize;
	// every other type (floats, strings, embedded objects, raw-width
	// children) must keep the persisted record's byte width exactly, or its
	// shallow-buffer offsets no longer line up.
	if !bothInt && rp.ByteSize != pp.ByteSize {
		return SchemaDiff{
			Position:    pos,
			Field:       rp.Name,
			Description: "byteSize mismatch",
			Runtime:     fmt.Sprintf("%d", rp.ByteSize),
			Saved:       fmt.Sprintf("%d", pp.ByteSize),
		}, false
	}
	if rp.IsVector != pp.IsVector {
		return SchemaDiff{
			Position:    pos,
			Field:       rp.Name,
			Description: "isVector mismatch",
			Runtime:     fmt.Sprintf("%v", rp.IsVector),
			Saved:       fmt.Sprintf("%v", pp.IsVector),
		}, false
	}
	if rp.ClassName != pp.ClassName {
		return SchemaDiff{
			Position:    pos,
			Field:       rp.Name,
			Description: "className mismatch",
			Runtime:     rp.ClassName,
			Saved:       pp.ClassName,
		}, false
	}
	if rp.Layout != pp.Layout {
		// Resolved at the class level: hard only when the class has
		// subclasses. Record as a tolerated diff here; reconcileProperties
		// escalates it to None when the class has subclasses.
		return SchemaDiff{
			Position:    pos,
			Field:       rp.Name,
			Description: "layout changed",
			Runtime:     rp.Layout.String(),
			Saved:       pp.Layout.String(),
		}, true
	}
	return SchemaDiff{}, true
}

func worse(a, b Compatibility) Compatibility {
	if a > b {
		return a
	}
	return b
}
