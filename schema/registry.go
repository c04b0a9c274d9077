package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gsvitec/lightning-objects-sub000/codec"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/internal/logger"
	"github.com/gsvitec/lightning-objects-sub000/kvengine"
)

// Registry is the open, in-memory schema for a store: every class known to
// this process, indexed by name and by assigned ClassId.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*ClassDescriptor
	byId    map[codec.ClassId]*ClassDescriptor
	maxId   codec.ClassId
	log     *logger.Logger
	opening singleflight.Group
}

func newRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*ClassDescriptor),
		byId:   make(map[codec.ClassId]*ClassDescriptor),
		maxId:  codec.MinUserClassId - 1,
		log:    logger.New(logger.INFO, "schema"),
	}
}

// ClassByName looks up a class by name.
func (r *Registry) ClassByName(name string) (*ClassDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// ClassById looks up a class by its assigned ClassId.
func (r *Registry) ClassById(id codec.ClassId) (*ClassDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byId[id]
	return c, ok
}

// AllClassIds returns every assigned ClassId, ascending — used to seed a
// polymorphic object cursor's class set.
func (r *Registry) AllClassIds() []codec.ClassId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]codec.ClassId, 0, len(r.byId))
	for id := range r.byId {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OpenSchema reconciles the application's runtime ClassSpecs against the
// persisted classmeta bucket, assigning ClassIds to new classes and
// recording a Compatibility verdict for every class. It must run inside a
// write transaction because new/changed classes need to persist their
// record. Each call builds a fresh Registry with its own singleflight
// group, so every call runs its own reconciliation pass.
func OpenSchema(wtx *kvengine.WriteTx, specs []ClassSpec, bestEffort bool) (*Registry, error) {
	key := specKey(specs)
	r := newRegistry()
	v, err, _ := r.opening.Do(key, func() (interface{}, error) {
		if err := r.reconcile(wtx, specs, bestEffort); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Registry), nil
}

func specKey(specs []ClassSpec) string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (r *Registry) reconcile(wtx *kvengine.WriteTx, specs []ClassSpec, bestEffort bool) error {
	meta := wtx.MetaBucket()

	// Pass 0: count declared subclasses per superclass name, so pass 1 can
	// apply the "layout change is hard only for classes with subclasses"
	// relaxation without needing a second lookup pass.
	hasSubs := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Super != "" {
			hasSubs[spec.Super] = true
		}
	}

	// Recover the highest ClassId ever persisted, including classes absent
	// from this spec set, so a new class never reuses an assigned id.
	if err := meta.ForEachNested(func(_ []byte, b kvengine.Bucket) error {
		if raw := b.Get(propertyKey(classRecordKey)); len(raw) >= 2 {
			if id := codec.ClassId(codec.Uint(raw, 2)); id > r.maxId {
				r.maxId = id
			}
		}
		return nil
	}); err != nil {
		return storeerrors.NewPersistenceError("schema", "READ_CLASSMETA_FAILED", "cannot scan class metadata", err)
	}

	// Pass 1: assign/recover ClassIds and build descriptors.
	for _, spec := range specs {
		cd := &ClassDescriptor{
			Name:           spec.Name,
			GoType:         reflect.TypeOf(spec.Sample),
			Abstract:       spec.Abstract,
			RefCounted:     spec.RefCounted,
			substituteName: spec.Substitute,
			superName:      spec.Super,
		}
		if cd.GoType != nil && cd.GoType.Kind() == reflect.Ptr {
			cd.GoType = cd.GoType.Elem()
		}

		persisted, found, err := readClassRecord(meta, spec.Name)
		if err != nil {
			return storeerrors.NewPersistenceError("schema", "READ_CLASSMETA_FAILED", "cannot read class metadata for "+spec.Name, err)
		}

		var diffs []SchemaDiff
		if found {
			cd.ClassId = persisted.ClassId
			cd.maxObjectId = persisted.MaxObjectId
			props, compat, d := reconcileProperties(spec.Properties, persisted.Properties, hasSubs[spec.Name])
			diffs = d
			cd.Compatibility = compat
			cd.Properties = props
		} else {
			r.maxId++
			cd.ClassId = r.maxId
			cd.Compatibility = Full
			cd.Properties = make([]*PropertyDescriptor, len(spec.Properties))
			for i, ps := range spec.Properties {
				cd.Properties[i] = &PropertyDescriptor{
					PropertyId: codec.PropertyId(i + 1),
					Name:       ps.Name,
					TypeId:     ps.TypeId,
					ByteSize:   ps.ByteSize,
					IsVector:   ps.IsVector,
					ClassName:  ps.ClassName,
					Layout:     ps.Layout,
					FieldIndex: ps.FieldIndex,
					Enabled:    true,
				}
			}
		}
		cd.Diffs = diffs

		if cd.Compatibility == None && !bestEffort {
			return storeerrors.NewIncompatibleSchemaError("schema", spec.Name, toErrorDiffs(diffs))
		}

		for _, p := range cd.Properties {
			st, err := BuildStorage(p)
			if err != nil {
				return err
			}
			p.Storage = st
		}

		// FieldIndex must come from the runtime spec even when the
		// property's other attributes were read from disk (a class can be
		// renamed in Go without affecting its persisted layout).
		assignFieldIndexes(cd.Properties, spec.Properties)

		if r.maxId < cd.ClassId {
			r.maxId = cd.ClassId
		}
		r.byName[cd.Name] = cd
		r.byId[cd.ClassId] = cd

		if !found || needsRewrite(cd) {
			if err := writeClassRecord(meta, cd); err != nil {
				return storeerrors.NewPersistenceError("schema", "WRITE_CLASSMETA_FAILED", "cannot write class metadata for "+spec.Name, err)
			}
		}
	}

	// Pass 2: wire the substitute/super/subs graph now that every class in
	// this spec set has a descriptor.
	for _, cd := range r.byName {
		if cd.substituteName != "" {
			if sub, ok := r.byName[cd.substituteName]; ok {
				cd.substitute = sub
			}
		}
		if cd.superName != "" {
			if sup, ok := r.byName[cd.superName]; ok {
				cd.super = sup
				sup.subs = append(sup.subs, cd)
			}
		}
	}

	return nil
}

// needsRewrite reports whether cd's persisted record should be rewritten
// this run. OpenSchema always rewrites so the next process to open the
// store sees a consistent classmeta bucket immediately; kept as a named
// predicate so a future cheaper diff-based check has a single call site.
func needsRewrite(cd *ClassDescriptor) bool {
	return true
}

func assignFieldIndexes(props []*PropertyDescriptor, specs []PropertySpec) {
	byName := make(map[string]int, len(specs))
	for _, s := range specs {
		byName[s.Name] = s.FieldIndex
	}
	for _, p := range props {
		if idx, ok := byName[p.Name]; ok {
			p.FieldIndex = idx
		} else {
			p.FieldIndex = -1
		}
	}
}

func toErrorDiffs(diffs []SchemaDiff) []storeerrors.SchemaDiff {
	out := make([]storeerrors.SchemaDiff, len(diffs))
	for i, d := range diffs {
		out[i] = storeerrors.SchemaDiff{
			Position:    d.Position,
			Field:       d.Field,
			Description: d.Description,
			Runtime:     d.Runtime,
			Saved:       d.Saved,
		}
	}
	return out
}

// FlushCounters persists every class's current maxObjectId. Called at
// write-transaction commit so object id assignment survives a restart
// without needing to rewrite the whole class record on every PutObject.
func (r *Registry) FlushCounters(wtx *kvengine.WriteTx) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta := wtx.MetaBucket()
	for name, cd := range r.byName {
		if err := updateMaxObjectId(meta, name, cd.maxObjectId); err != nil {
			return fmt.Errorf("schema: flush counters for %s: %w", name, err)
		}
	}
	return nil
}
