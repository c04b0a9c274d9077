// Package kvengine binds the store's assumed ordered KV engine semantics
// (memory-mapped B+tree, MVCC, single writer) to go.etcd.io/bbolt. It is
// the only package in this module that imports bbolt; everything above it
// talks to Bucket/Cursor/Tx.
package kvengine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/gsvitec/lightning-objects-sub000/internal/config"
	storeerrors "github.com/gsvitec/lightning-objects-sub000/internal/errors"
	"github.com/gsvitec/lightning-objects-sub000/internal/logger"
	"github.com/gsvitec/lightning-objects-sub000/internal/metrics"
)

// Bucket names for the two sub-databases the store needs, plus one
// store-private bucket for housekeeping (the lock token).
const (
	DataBucketName  = "classdata"
	MetaBucketName  = "classmeta"
	storeBucketName = "storemeta"

	lockTokenKey = "lock_token"
)

// Engine is the bbolt-backed realization of the store's ordered KV engine
// requirement.
type Engine struct {
	db  *bolt.DB
	cfg *config.Config
	log *logger.Logger
	met *metrics.Registry

	writerMu sync.Mutex   // our own single-writer gate, enables a non-blocking TryLock
	exclGate sync.RWMutex // writers Lock(); exclusive reads RLock()

	lockToken uuid.UUID
}

// Open opens (creating if absent) the store file named by cfg.Path.
func Open(cfg *config.Config, met *metrics.Registry) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, storeerrors.NewPersistenceError("kvengine", "MKDIR_FAILED", "cannot create store directory", err)
	}

	timeout := 0 * time.Second
	if cfg.CreateLockFile {
		// bbolt flocks the database file itself rather than a sidecar
		// lock file; CreateLockFile maps onto whether we want a bounded
		// wait for that flock instead of blocking forever.
		timeout = 2 * time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:         timeout,
		InitialMmapSize: cfg.InitialMapSizeMB * 1024 * 1024,
		NoSync:          cfg.WriteMapped,
		FreelistType:    bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, storeerrors.NewPersistenceError("kvengine", "OPEN_FAILED", fmt.Sprintf("cannot open %s", cfg.Path), err)
	}

	e := &Engine{
		db:  db,
		cfg: cfg,
		log: logger.New(logger.INFO, "kvengine"),
		met: met,
	}

	if err := e.init(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init() error {
	return e.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{DataBucketName, MetaBucketName, storeBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		store := tx.Bucket([]byte(storeBucketName))
		if existing := store.Get([]byte(lockTokenKey)); existing != nil {
			tok, err := uuid.FromBytes(existing)
			if err == nil {
				e.lockToken = tok
				return nil
			}
		}
		e.lockToken = uuid.New()
		tb, _ := e.lockToken.MarshalBinary()
		return store.Put([]byte(lockTokenKey), tb)
	})
}

// LockToken identifies the store file: it is generated on the first open and
// persisted, and every later open reads the same value back. Nothing
// compares it between opens.
func (e *Engine) LockToken() uuid.UUID { return e.lockToken }

// Path returns the underlying file path.
func (e *Engine) Path() string { return e.cfg.Path }

// Close closes the underlying database file.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Size returns the current on-disk size of the mapped file.
func (e *Engine) Size() (int64, error) {
	info, err := os.Stat(e.cfg.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadTx is a read-only transaction, either concurrent (ordinary) or
// exclusive (blocks new writers for its duration).
type ReadTx struct {
	tx        *bolt.Tx
	engine    *Engine
	exclusive bool
	done      bool
}

// WriteTx is the single writable transaction.
type WriteTx struct {
	tx       *bolt.Tx
	engine   *Engine
	append   bool
	done     bool
	started  time.Time
}

// BeginRead starts an ordinary read transaction: concurrent with any number
// of other readers and with the writer, seeing a consistent snapshot as of
// this call.
func (e *Engine) BeginRead() (*ReadTx, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, storeerrors.NewPersistenceError("kvengine", "BEGIN_READ_FAILED", "cannot begin read transaction", err)
	}
	return &ReadTx{tx: tx, engine: e}, nil
}

// BeginExclusiveRead starts a read transaction that blocks any new writer
// from starting until it ends — used when handing out zero-copy pointers
// into mapped memory whose stability a concurrent writer's map growth would
// otherwise violate.
func (e *Engine) BeginExclusiveRead() (*ReadTx, error) {
	e.exclGate.RLock()
	tx, err := e.db.Begin(false)
	if err != nil {
		e.exclGate.RUnlock()
		return nil, storeerrors.NewPersistenceError("kvengine", "BEGIN_READ_FAILED", "cannot begin exclusive read transaction", err)
	}
	return &ReadTx{tx: tx, engine: e, exclusive: true}, nil
}

// WriteOptions controls BeginWrite.
type WriteOptions struct {
	// Block, if true, waits for any active writer or exclusive read to
	// finish. If false, BeginWrite fails immediately with invalid_argument
	// when either is active.
	Block bool
	// Append puts the transaction in append mode: the store refuses a put
	// whose key is not strictly greater than the previous key written in
	// the same class/object.
	Append bool
	// ReservedKB triggers a pre-transaction capacity check. The engine does
	// not grow the file itself before the transaction begins; bbolt grows
	// its map as pages are allocated, and the check only logs a large
	// reservation (see ensureCapacity).
	ReservedKB uint32
}

// BeginWrite starts the single write transaction.
func (e *Engine) BeginWrite(opts WriteOptions) (*WriteTx, error) {
	if opts.Block {
		e.writerMu.Lock()
		e.exclGate.Lock()
	} else {
		if !e.writerMu.TryLock() {
			return nil, storeerrors.NewInvalidArgumentError("kvengine", "another writer is already active")
		}
		if !e.exclGate.TryLock() {
			e.writerMu.Unlock()
			return nil, storeerrors.NewInvalidArgumentError("kvengine", "an exclusive read is active")
		}
	}

	if err := e.ensureCapacity(opts.ReservedKB); err != nil {
		e.exclGate.Unlock()
		e.writerMu.Unlock()
		return nil, err
	}

	tx, err := e.db.Begin(true)
	if err != nil {
		e.exclGate.Unlock()
		e.writerMu.Unlock()
		return nil, storeerrors.NewPersistenceError("kvengine", "BEGIN_WRITE_FAILED", "cannot begin write transaction", err)
	}
	return &WriteTx{tx: tx, engine: e, append: opts.Append, started: time.Now()}, nil
}

// ensureCapacity implements the pre-transaction capacity check: bbolt grows
// its own mmap automatically as pages are allocated, so there is no manual
// grow step to perform; this only logs when the requested reservation is
// large enough that growth during the transaction is likely, so an
// operator can correlate slow commits with undersized InitialMapSizeMB.
func (e *Engine) ensureCapacity(reservedKB uint32) error {
	if reservedKB == 0 {
		return nil
	}
	sz, err := e.Size()
	if err != nil {
		return nil // best-effort; absence of the file yet is not an error here
	}
	if int64(reservedKB)*1024 > sz/4 {
		e.log.Debug("large reservation requested: %dKB against a %dB store", reservedKB, sz)
	}
	return nil
}

func (e *Engine) releaseWriter() {
	e.exclGate.Unlock()
	e.writerMu.Unlock()
}

// Commit commits the transaction's writes.
func (t *WriteTx) Commit() error {
	if t.done {
		return storeerrors.NewInvalidArgumentError("kvengine", "transaction already finished")
	}
	t.done = true
	defer t.engine.releaseWriter()
	if t.engine.met != nil {
		defer func() {
			t.engine.met.TxnDuration.Observe(time.Since(t.started).Seconds())
		}()
	}
	if err := t.tx.Commit(); err != nil {
		if t.engine.met != nil {
			t.engine.met.TxnsTotal.WithLabelValues("write", "abort").Inc()
		}
		return storeerrors.NewPersistenceError("kvengine", "COMMIT_FAILED", "commit failed", err)
	}
	if t.engine.met != nil {
		t.engine.met.TxnsTotal.WithLabelValues("write", "commit").Inc()
	}
	return nil
}

// Rollback discards the transaction's writes atomically.
func (t *WriteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.engine.releaseWriter()
	err := t.tx.Rollback()
	if t.engine.met != nil {
		t.engine.met.TxnsTotal.WithLabelValues("write", "abort").Inc()
		t.engine.met.TxnDuration.Observe(time.Since(t.started).Seconds())
	}
	if err != nil {
		return storeerrors.NewPersistenceError("kvengine", "ROLLBACK_FAILED", "rollback failed", err)
	}
	return nil
}

// Append reports whether this write transaction is in append mode.
func (t *WriteTx) Append() bool { return t.append }

// DataBucket returns the classdata bucket.
func (t *WriteTx) DataBucket() Bucket { return wrapBucket(t.tx.Bucket([]byte(DataBucketName)), true) }

// MetaBucket returns the classmeta bucket.
func (t *WriteTx) MetaBucket() Bucket { return wrapBucket(t.tx.Bucket([]byte(MetaBucketName)), true) }

// DataBucket returns the classdata bucket.
func (t *ReadTx) DataBucket() Bucket {
	return wrapBucket(t.tx.Bucket([]byte(DataBucketName)), false)
}

// MetaBucket returns the classmeta bucket.
func (t *ReadTx) MetaBucket() Bucket {
	return wrapBucket(t.tx.Bucket([]byte(MetaBucketName)), false)
}

// Exclusive reports whether this is an exclusive read transaction.
func (t *ReadTx) Exclusive() bool { return t.exclusive }

// Rollback ends the read transaction. Read transactions never have writes
// to discard; Rollback is how bbolt ends a read-only transaction.
func (t *ReadTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if t.exclusive {
		t.engine.exclGate.RUnlock()
	}
	if err != nil {
		return storeerrors.NewPersistenceError("kvengine", "ROLLBACK_FAILED", "read rollback failed", err)
	}
	return nil
}

// Reset and Renew support keeping transaction-local caches alive across a
// snapshot refresh: Reset ends the underlying bbolt transaction without
// touching caller-owned caches, and Renew starts a fresh one with the same
// exclusivity.
func (t *ReadTx) Reset() error {
	return t.Rollback()
}

// Renew starts a new read transaction with the same exclusivity as t and
// returns it; t itself must not be reused afterward.
func (t *ReadTx) Renew() (*ReadTx, error) {
	if t.exclusive {
		return t.engine.BeginExclusiveRead()
	}
	return t.engine.BeginRead()
}
