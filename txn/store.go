// Package txn implements the transactional read/write API: Store,
// ReadTxn/WriteTxn, the four property storage layouts wired through to the
// schema/object packages, and the refcounting discipline for shared
// references.
package txn

import (
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gsvitec/lightning-objects-sub000/codec"
	"github.com/gsvitec/lightning-objects-sub000/internal/config"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/internal/logger"
	"github.com/gsvitec/lightning-objects-sub000/internal/metrics"
	"github.com/gsvitec/lightning-objects-sub000/kvengine"
	"github.com/gsvitec/lightning-objects-sub000/object"
	"github.com/gsvitec/lightning-objects-sub000/schema"
)

// Store is the process-wide, explicit value carrying the mutable state a
// store needs: the engine handle, the schema registry, and the
// maxCollectionId counter. All transactions borrow from it; there is no
// package-level singleton.
type Store struct {
	engine   *kvengine.Engine
	cfg      *config.Config
	log      *logger.Logger
	met      *metrics.Registry
	// cache is a read-through cache of raw shallow object records (header +
	// encoded properties), keyed by object.Key. loadShallow consults it
	// before touching the classdata bucket; saveShallowAndPut and
	// DeleteObject keep it in step with every write.
	cache    *ristretto.Cache
	registry *schema.Registry

	mu              sync.Mutex
	maxCollectionId codec.ObjectId

	refMu     sync.Mutex
	refCounts map[object.Key]uint32
}

// Open opens the store at cfg.Path, reconciling specs against the
// persisted class metadata, and recomputes maxCollectionId by scanning the
// reserved collection-element class range.
func Open(cfg *config.Config, reg prometheus.Registerer, specs []schema.ClassSpec) (*Store, error) {
	met := metrics.NewRegistry(reg)
	engine, err := kvengine.Open(cfg, met)
	if err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64MiB of cached shallow object records
		BufferItems: 64,
	})
	if err != nil {
		engine.Close()
		return nil, storeerrors.NewPersistenceError("txn", "CACHE_INIT_FAILED", "cannot initialize object cache", err)
	}

	s := &Store{
		engine:    engine,
		cfg:       cfg,
		log:       logger.New(logger.INFO, "txn"),
		met:       met,
		cache:     cache,
		refCounts: make(map[object.Key]uint32),
	}

	wtx, err := engine.BeginWrite(kvengine.WriteOptions{Block: true})
	if err != nil {
		engine.Close()
		return nil, err
	}
	reg2, err := schema.OpenSchema(wtx, specs, cfg.BestEffortSchema)
	if err != nil {
		wtx.Rollback()
		engine.Close()
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		engine.Close()
		return nil, err
	}
	s.registry = reg2

	rtx, err := engine.BeginRead()
	if err != nil {
		engine.Close()
		return nil, err
	}
	defer rtx.Rollback()
	maxColl, err := maxObjectIdForClass(rtx.DataBucket(), codec.CollectionElementClsid)
	if err != nil {
		engine.Close()
		return nil, err
	}
	s.maxCollectionId = maxColl

	return s, nil
}

// Close closes the underlying engine.
func (s *Store) Close() error {
	s.cache.Close()
	return s.engine.Close()
}

// Registry returns the store's schema registry.
func (s *Store) Registry() *schema.Registry { return s.registry }

// Metrics returns the store's metrics registry, for packages layered above
// txn (collection) that record their own counters.
func (s *Store) Metrics() *metrics.Registry { return s.met }

// Config returns the store's configuration, for packages layered above txn
// that need defaults such as DefaultChunkSize.
func (s *Store) Config() *config.Config { return s.cfg }

// NextCollectionId assigns and returns a fresh collectionId.
func (s *Store) NextCollectionId() codec.ObjectId {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxCollectionId++
	return s.maxCollectionId
}

// IncRef bumps the in-memory refcount for a refcounted object's key and
// returns the new count. Refcounts are explicitly not persisted; they live
// only as an in-memory counter for the process's lifetime.
func (s *Store) IncRef(k object.Key) uint32 {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.refCounts[k]++
	return s.refCounts[k]
}

// DecRef decrements the in-memory refcount and returns the new count. A
// key with no recorded refcount is treated as having count 1 (its creator
// holds the implicit first reference).
func (s *Store) DecRef(k object.Key) uint32 {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	c, ok := s.refCounts[k]
	if !ok || c == 0 {
		s.refCounts[k] = 0
		return 0
	}
	c--
	s.refCounts[k] = c
	return c
}

// RefCount returns the current in-memory refcount for k.
func (s *Store) RefCount(k object.Key) uint32 {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refCounts[k]
}

func (s *Store) forgetRef(k object.Key) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	delete(s.refCounts, k)
}

// maxObjectIdForClass returns the largest ObjectId present under classId in
// bucket, by seeking to the top of that class's key range and stepping
// back one: the largest objectId present in the data sub-database for that
// classId.
func maxObjectIdForClass(bucket kvengine.Bucket, classId codec.ClassId) (codec.ObjectId, error) {
	upper := codec.StorageKey{ClassId: classId, ObjectId: 0xFFFFFFFF, PropertyId: 0xFFFF}
	cur := bucket.Cursor()
	k, _ := cur.Seek(upper.Bytes())
	if k == nil {
		k, _ = cur.Last()
	} else if !bytesEqual(k, upper.Bytes()) {
		k, _ = cur.Prev()
	}
	if k == nil {
		return 0, nil
	}
	sk := codec.DecodeStorageKey(k)
	if sk.ClassId != classId {
		return 0, nil
	}
	return sk.ObjectId, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
