// Package boltkv implements pkg/kvs.Store on top of go.etcd.io/bbolt: a
// single bbolt file, buckets created up front, db.Update/db.View driving
// writable/read-only transactions. It uses a single flat "data" bucket
// keyed by the byte strings pkg/keys builds, since the core needs
// ordered range scans across arbitrary key families rather than
// per-entity CRUD.
package boltkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cuemby/nexus/pkg/kvs"
	bolt "go.etcd.io/bbolt"
)

var dataBucket = []byte("data")
var nsdbBucket = []byte("nsdb")

// Store is the bbolt-backed kvs.Store.
type Store struct {
	db *bolt.DB
}

// Open creates (or opens) a bbolt file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "nexus.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{dataBucket, nsdbBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Transaction(_ context.Context, mode kvs.Mode, _ kvs.Lock) (kvs.Transaction, error) {
	btx, err := s.db.Begin(mode == kvs.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{btx: btx, writable: mode == kvs.ReadWrite}, nil
}

// Tx wraps a single bbolt transaction. Versioned gets are not supported
// by bbolt (no MVCC); GetVersion falls back to the latest value, which
// is the documented boundary of this reference driver.
type Tx struct {
	btx      *bolt.Tx
	writable bool
	done     bool
}

func (t *Tx) bucket() *bolt.Bucket { return t.btx.Bucket(dataBucket) }

func (t *Tx) Get(_ context.Context, key []byte) ([]byte, error) {
	v := t.bucket().Get(key)
	if v == nil {
		return nil, kvs.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *Tx) GetVersion(ctx context.Context, key []byte, _ uint64) ([]byte, error) {
	return t.Get(ctx, key)
}

func (t *Tx) Set(_ context.Context, key, value []byte) error {
	return t.bucket().Put(key, value)
}

func (t *Tx) SetNX(_ context.Context, key, value []byte) error {
	b := t.bucket()
	if b.Get(key) != nil {
		return kvs.ErrKeyExists
	}
	return b.Put(key, value)
}

func (t *Tx) Del(_ context.Context, key []byte) error {
	return t.bucket().Delete(key)
}

func (t *Tx) Stream(ctx context.Context, begin, end []byte, limit int, dir kvs.Direction) (kvs.Iterator, error) {
	return newValueIterator(t.bucket(), begin, end, limit, dir), nil
}

func (t *Tx) StreamKeys(ctx context.Context, begin, end []byte, limit int, dir kvs.Direction) (kvs.KeyIterator, error) {
	return newKeyIterator(t.bucket(), begin, end, limit, dir), nil
}

func (t *Tx) Count(ctx context.Context, begin, end []byte) (int, error) {
	it := newKeyIterator(t.bucket(), begin, end, 0, kvs.Forward)
	n := 0
	for {
		_, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

func (t *Tx) EnsureNSDB(_ context.Context, ns, db string) error {
	b := t.btx.Bucket(nsdbBucket)
	key := []byte(ns + "\x00" + db)
	if b.Get(key) == nil {
		var stamp [8]byte
		binary.BigEndian.PutUint64(stamp[:], 1)
		return b.Put(key, stamp[:])
	}
	return nil
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.btx.Commit()
}

func (t *Tx) Cancel(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.btx.Rollback()
}

// CompleteChanges is a no-op here: this reference driver has no change feed
// of its own, deferring that concern to pkg/events.
func (t *Tx) CompleteChanges(_ context.Context, _ bool) error { return nil }

// --- iterators ---------------------------------------------------------

type keyIterator struct {
	cur   *bolt.Cursor
	begin []byte
	end   []byte
	dir   kvs.Direction
	limit int
	seen  int
	k, v  []byte
	first bool
}

func newKeyIterator(b *bolt.Bucket, begin, end []byte, limit int, dir kvs.Direction) *keyIterator {
	return &keyIterator{cur: b.Cursor(), begin: begin, end: end, dir: dir, limit: limit, first: true}
}

// seekStart positions the cursor at the first element the scan should
// yield: begin itself (forward, inclusive) or the last key strictly
// below begin (backward — begin is the scan's exclusive upper bound, or
// the very last key if begin is unbounded).
func (it *keyIterator) seekStart() {
	if it.dir == kvs.Forward {
		it.k, it.v = it.cur.Seek(it.begin)
		return
	}
	if it.begin == nil {
		it.k, it.v = it.cur.Last()
		return
	}
	k, _ := it.cur.Seek(it.begin)
	if k == nil {
		it.k, it.v = it.cur.Last()
		return
	}
	it.k, it.v = it.cur.Prev()
}

func (it *keyIterator) Next(_ context.Context) ([]byte, bool, error) {
	if it.limit > 0 && it.seen >= it.limit {
		return nil, false, nil
	}
	if it.first {
		it.first = false
		it.seekStart()
	} else if it.dir == kvs.Forward {
		it.k, it.v = it.cur.Next()
	} else {
		it.k, it.v = it.cur.Prev()
	}
	if it.k == nil {
		return nil, false, nil
	}
	if it.dir == kvs.Forward && it.end != nil && bytes.Compare(it.k, it.end) >= 0 {
		return nil, false, nil
	}
	if it.dir == kvs.Backward && it.end != nil && bytes.Compare(it.k, it.end) < 0 {
		return nil, false, nil
	}
	it.seen++
	out := make([]byte, len(it.k))
	copy(out, it.k)
	return out, true, nil
}

func (it *keyIterator) Close() error { return nil }

func newValueIterator(b *bolt.Bucket, begin, end []byte, limit int, dir kvs.Direction) kvs.Iterator {
	return &valueIteratorImpl{ki: newKeyIterator(b, begin, end, limit, dir), bucket: b}
}

type valueIteratorImpl struct {
	ki     *keyIterator
	bucket *bolt.Bucket
}

func (v *valueIteratorImpl) Next(ctx context.Context) (kvs.KeyValue, bool, error) {
	k, ok, err := v.ki.Next(ctx)
	if err != nil || !ok {
		return kvs.KeyValue{}, ok, err
	}
	val := v.bucket.Get(k)
	out := make([]byte, len(val))
	copy(out, val)
	return kvs.KeyValue{Key: k, Value: out}, true, nil
}

func (v *valueIteratorImpl) Close() error { return nil }
