package kvengine

import (
	bolt "go.etcd.io/bbolt"
)

// Cursor is the subset of ordered-cursor verbs the store's higher layers
// need from the underlying KV engine: SET_RANGE, NEXT, PREV, LAST (plus
// First, the natural counterpart LMDB-style engines also expose).
type Cursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
	// Seek implements SET_RANGE: positions at the first key >= seek.
	Seek(seek []byte) (key, value []byte)
}

// Bucket is the ordered byte-string keyed map the store's higher layers
// operate on. It is the only thing above kvengine that ever touches a
// key/value pair; no other package imports go.etcd.io/bbolt directly.
type Bucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() Cursor
	// NestedBucket returns the nested bucket for name, creating it if it
	// doesn't exist and the enclosing transaction is writable. Used for
	// classmeta's per-class property lists, which need duplicate keys
	// ordered by propertyId — realized here as a nested bucket keyed by
	// propertyId, since bbolt has no native duplicate-key support.
	NestedBucket(name []byte) (Bucket, error)
	// ForEachNested visits every nested bucket directly under this one.
	ForEachNested(fn func(name []byte, b Bucket) error) error
}

type boltBucket struct {
	b        *bolt.Bucket
	writable bool
}

func wrapBucket(b *bolt.Bucket, writable bool) Bucket {
	if b == nil {
		return nil
	}
	return &boltBucket{b: b, writable: writable}
}

func (bb *boltBucket) Get(key []byte) []byte { return bb.b.Get(key) }

func (bb *boltBucket) Put(key, value []byte) error { return bb.b.Put(key, value) }

func (bb *boltBucket) Delete(key []byte) error { return bb.b.Delete(key) }

func (bb *boltBucket) Cursor() Cursor { return &boltCursor{c: bb.b.Cursor()} }

func (bb *boltBucket) NestedBucket(name []byte) (Bucket, error) {
	if bb.writable {
		nb, err := bb.b.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, err
		}
		return wrapBucket(nb, true), nil
	}
	nb := bb.b.Bucket(name)
	if nb == nil {
		return nil, nil
	}
	return wrapBucket(nb, false), nil
}

func (bb *boltBucket) ForEachNested(fn func(name []byte, b Bucket) error) error {
	return bb.b.ForEach(func(k, v []byte) error {
		if v != nil {
			// Not a nested bucket, just a plain key/value pair.
			return nil
		}
		nb := bb.b.Bucket(k)
		if nb == nil {
			return nil
		}
		return fn(k, wrapBucket(nb, bb.writable))
	})
}

type boltCursor struct {
	c *bolt.Cursor
}

func (bc *boltCursor) First() (key, value []byte) { return bc.c.First() }
func (bc *boltCursor) Last() (key, value []byte)  { return bc.c.Last() }
func (bc *boltCursor) Next() (key, value []byte)  { return bc.c.Next() }
func (bc *boltCursor) Prev() (key, value []byte)  { return bc.c.Prev() }
func (bc *boltCursor) Seek(seek []byte) (key, value []byte) {
	return bc.c.Seek(seek)
}
