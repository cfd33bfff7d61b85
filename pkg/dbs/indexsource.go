package dbs

import (
	"context"
	"sync"

	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/idx/hnsw"
	"github.com/cuemby/nexus/pkg/iterator"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
)

// hnswQuery is the pending k-NN search request a CRUD plan attaches to a
// Context before asking iterator.Engine to collect an IterIndex iterable
// over an HNSW-backed index. IndexSource.ThingIterator
// carries no room for a query vector in its signature, so the executor
// threads it through the *Context the same way it threads the attached
// transaction, rather than widening the pkg/iterator contract for one
// index flavor.
type hnswQuery struct {
	Query []float64
	K, Ef int
}

// indexCache memoizes *hnsw.Index instances per (ns,db,table,index) for
// the lifetime of the Executor, since an Index's in-memory layer cache
// is only useful if reused across statements.
type indexCache struct {
	mu  sync.Mutex
	idx map[string]*hnsw.Index
}

func newIndexCache() *indexCache { return &indexCache{idx: map[string]*hnsw.Index{}} }

func (c *indexCache) get(ns, db, table, name string, params catalog.HNSWParams) *hnsw.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ns + "/" + db + "/" + table + "/" + name
	if ix, ok := c.idx[key]; ok {
		return ix
	}
	ix := hnsw.New(ns, db, table, name, params)
	c.idx[key] = ix
	return ix
}

// indexSource implements iterator.IndexSource for the executor, backing
// IterIndex iterables with either an HNSW k-NN search or, for UNIQUE/
// FULLTEXT indexes, a full table scan. Non-HNSW indexes have no
// dedicated on-disk ordered structure in this implementation: no index
// entries are written for them, UNIQUE is not enforced at write time,
// and SELECT ... WITH INDEX against them scans the base table.
type indexSource struct {
	exec  *Executor
	hnsws *indexCache
}

func (s *indexSource) ThingIterator(ctx context.Context, table, iterRef string, rs iterator.RecordStrategy) (iterator.ThingIterator, error) {
	dc, ok := ctx.(*Context)
	if !ok {
		return nil, kerr.UnreachableErr("indexSource.ThingIterator called with a non-*dbs.Context")
	}
	tx, err := dc.Tx()
	if err != nil {
		return nil, err
	}
	tbl, ok := dc.Catalog.Table(dc.NS, dc.DB, table)
	if !ok {
		return nil, kerr.New(kerr.InvalidStatement, "unknown table %s", table)
	}
	var ix *catalog.IndexDef
	for _, def := range tbl.Indexes() {
		if def.Name == iterRef {
			ix = def
			break
		}
	}
	if ix == nil {
		return nil, kerr.New(kerr.InvalidStatement, "unknown index %s on table %s", iterRef, table)
	}

	if ix.Kind == catalog.IndexHNSW {
		return s.knnIterator(ctx, dc, tx, table, iterRef, *ix.HNSW)
	}
	return s.tableScanIterator(ctx, tx, dc.NS, dc.DB, table)
}

func (s *indexSource) knnIterator(ctx context.Context, dc *Context, tx kvs.Transaction, table, name string, params catalog.HNSWParams) (iterator.ThingIterator, error) {
	q := dc.pendingKNN
	if q == nil {
		return nil, kerr.New(kerr.InvalidStatement, "index %s requires a k-NN query vector", name)
	}
	h := s.hnsws.get(dc.NS, dc.DB, table, name, params)
	if err := h.Load(ctx, tx); err != nil {
		return nil, err
	}
	cands, err := h.KNN(ctx, tx, q.Query, q.K, q.Ef)
	if err != nil {
		return nil, err
	}
	items := make([]iterator.Collected, 0, len(cands))
	for _, c := range cands {
		docKey, err := tx.Get(ctx, keys.HNSWDocKey(dc.NS, dc.DB, table, name, c.ID))
		if err != nil {
			if err == kvs.ErrNotFound {
				continue
			}
			return nil, err
		}
		items = append(items, iterator.Collected{Kind: iterator.CollectedRecordID, Key: append([]byte(nil), docKey...)})
	}
	return newSliceIterator(items), nil
}

func (s *indexSource) tableScanIterator(ctx context.Context, tx kvs.Transaction, ns, db, table string) (iterator.ThingIterator, error) {
	begin := keys.RecordKeyPrefix(ns, db, table)
	end := keys.PrefixUpperBound(keys.TablePrefix(ns, db, table))
	it, err := tx.Stream(ctx, begin, end, 0, kvs.Forward)
	if err != nil {
		return nil, err
	}
	var items []iterator.Collected
	for {
		kv, ok, err := it.Next(ctx)
		if err != nil {
			it.Close()
			return nil, err
		}
		if !ok {
			break
		}
		doc, err := iterator.Decode(kv.Value)
		if err != nil {
			it.Close()
			return nil, err
		}
		items = append(items, iterator.Collected{Kind: iterator.CollectedRecordID, Key: kv.Key, Value: doc})
	}
	it.Close()
	return newSliceIterator(items), nil
}

// sliceIterator adapts an already-materialized []Collected slice to the
// batch-pull iterator.ThingIterator contract.
type sliceIterator struct {
	items []iterator.Collected
	pos   int
}

func newSliceIterator(items []iterator.Collected) *sliceIterator {
	return &sliceIterator{items: items}
}

func (s *sliceIterator) Next(ctx context.Context, batchSize int) ([]iterator.Collected, bool, error) {
	if s.pos >= len(s.items) {
		return nil, false, nil
	}
	end := s.pos + batchSize
	if end > len(s.items) {
		end = len(s.items)
	}
	batch := s.items[s.pos:end]
	s.pos = end
	return batch, s.pos < len(s.items), nil
}

func (s *sliceIterator) Close() error { return nil }
