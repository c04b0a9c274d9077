// Package metrics exposes the store's Prometheus instrumentation via
// promauto registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the store publishes. Tests construct one
// against a private prometheus.Registry; production code typically passes
// prometheus.DefaultRegisterer.
type Registry struct {
	TxnsTotal              *prometheus.CounterVec
	TxnDuration            prometheus.Histogram
	ObjectsSaved           prometheus.Counter
	ObjectsLoaded          prometheus.Counter
	ObjectsDeleted         prometheus.Counter
	SchemaReconciliations  *prometheus.CounterVec
	CollectionChunksWritten prometheus.Counter
	CollectionChunksRead    prometheus.Counter
	CacheHits              prometheus.Counter
	CacheMisses            prometheus.Counter
}

// NewRegistry registers and returns the store's collectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		TxnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "objectstore_transactions_total",
			Help: "Write transactions finished, labeled by kind and outcome.",
		}, []string{"kind", "outcome"}),
		TxnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "objectstore_transaction_duration_seconds",
			Help:    "Transaction duration from begin to commit/abort.",
			Buckets: prometheus.DefBuckets,
		}),
		ObjectsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_objects_saved_total",
			Help: "Objects persisted via putObject/saveObject/updateObject/updateMember.",
		}),
		ObjectsLoaded: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_objects_loaded_total",
			Help: "Objects successfully loaded.",
		}),
		ObjectsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_objects_deleted_total",
			Help: "Objects deleted, including shared referents erased at refcount zero.",
		}),
		SchemaReconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "objectstore_schema_reconciliations_total",
			Help: "OpenSchema reconciliations, labeled by resulting compatibility.",
		}, []string{"compatibility"}),
		CollectionChunksWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_collection_chunks_written_total",
			Help: "Collection chunk records written.",
		}),
		CollectionChunksRead: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_collection_chunks_read_total",
			Help: "Collection chunk records read.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_object_cache_hits_total",
			Help: "Object cache hits.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_object_cache_misses_total",
			Help: "Object cache misses.",
		}),
	}
}
