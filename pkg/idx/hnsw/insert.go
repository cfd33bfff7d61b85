package hnsw

import (
	"context"
	"sort"

	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// vecCache memoizes vector loads within a single operation so repeated
// distance computations against the same candidate don't re-read the KV.
type vecCache struct {
	ix  *Index
	ctx context.Context
	tx  kvs.Transaction
	m   map[uint64][]float64
}

func (ix *Index) newVecCache(ctx context.Context, tx kvs.Transaction) *vecCache {
	return &vecCache{ix: ix, ctx: ctx, tx: tx, m: map[uint64][]float64{}}
}

func (c *vecCache) get(id uint64) ([]float64, error) {
	if v, ok := c.m[id]; ok {
		return v, nil
	}
	v, err := c.ix.loadVector(c.ctx, c.tx, id)
	if err != nil {
		return nil, err
	}
	c.m[id] = v
	return v, nil
}

func (c *vecCache) put(id uint64, v []float64) { c.m[id] = v }

// Insert adds q to the index, returning its new element id. docKey is an
// opaque caller-owned reference (typically the record's encoded key)
// associated with the element so checked search can resolve a candidate
// back to its record.
func (ix *Index) Insert(ctx context.Context, tx kvs.Transaction, q []float64, docKey []byte) (uint64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := ix.state.NextElementID
	ix.state.NextElementID++
	if err := ix.storeVector(ctx, tx, id, q); err != nil {
		return 0, err
	}
	if err := tx.Set(ctx, keys.HNSWDocKey(ix.NS, ix.DB, ix.Table, ix.Name, id), docKey); err != nil {
		return 0, err
	}
	c := ix.newVecCache(ctx, tx)
	c.put(id, q)

	level := ix.randomLevel()
	top := ix.topLayer()

	for l := 0; l <= level; l++ {
		ix.layerAt(l).ensure(id)
		ix.layerAt(l).markDirty(id)
	}

	if !ix.state.HasEnterPoint {
		ix.state.HasEnterPoint = true
		ix.state.EnterPoint = id
		return id, ix.saveLocked(ctx, tx)
	}

	entryID := ix.state.EnterPoint
	entryVec, err := c.get(entryID)
	if err != nil {
		return 0, err
	}
	entryDist := ix.dist(q, entryVec)

	stopAbove := level
	if top < level {
		stopAbove = top
	}
	entryID, entryDist, err = ix.greedyDescend(c, q, top, stopAbove, entryID, entryDist)
	if err != nil {
		return 0, err
	}

	startLayer := level
	if top < startLayer {
		startLayer = top
	}
	for l := startLayer; l >= 0; l-- {
		ef := ix.Params.EfConstruction
		if ef <= 0 {
			ef = 64
		}
		cands, err := ix.searchLayer(c, q, entryID, entryDist, ef, l, 0, false)
		if err != nil {
			return 0, err
		}
		m := ix.mForLayer(l)
		chosen := selectNeighbors(cands, m)
		if len(chosen) > 0 {
			entryID, entryDist = chosen[0].ID, chosen[0].Dist
		}
		ls := ix.layerAt(l)
		for _, cand := range chosen {
			ls.ensure(id).Insert(cand.ID)
			ls.markDirty(id)
			if err := ix.addNeighbor(c, l, cand.ID, q, id); err != nil {
				return 0, err
			}
		}
	}

	if level > top {
		ix.state.EnterPoint = id
	}
	return id, ix.saveLocked(ctx, tx)
}

// selectNeighbors picks up to m candidates closest to the query, ascending
// by distance.
func selectNeighbors(cands *DoublePriorityQueue, m int) []Candidate {
	all := cands.ToSortedSlice()
	if len(all) > m {
		all = all[:m]
	}
	return all
}

// addNeighbor inserts the bidirectional edge (id <-> newID) and, if id's
// neighbor set now exceeds the layer's M, shrinks it back down using the
// same closest-m heuristic.
func (ix *Index) addNeighbor(c *vecCache, layer int, id uint64, _ []float64, newID uint64) error {
	ls := ix.layerAt(layer)
	ls.ensure(id).Insert(newID)
	ls.markDirty(id)

	idVec, err := c.get(id)
	if err != nil {
		return err
	}
	m := ix.mForLayer(layer)
	set := ls.ensure(id)
	if set.Len() <= m {
		return nil
	}
	ids := set.ToSlice()
	type scored struct {
		id   uint64
		dist float64
	}
	scoredIDs := make([]scored, 0, len(ids))
	for _, nid := range ids {
		nv, err := c.get(nid)
		if err != nil {
			return err
		}
		scoredIDs = append(scoredIDs, scored{nid, ix.dist(idVec, nv)})
	}
	sort.Slice(scoredIDs, func(i, j int) bool {
		if cmp := value.TotalCmpFloat(scoredIDs[i].dist, scoredIDs[j].dist); cmp != 0 {
			return cmp < 0
		}
		return scoredIDs[i].id < scoredIDs[j].id
	})
	kept := NewIds64()
	for i, e := range scoredIDs {
		if i < m {
			kept.Insert(e.id)
			continue
		}
		rset := ls.ensure(e.id)
		rset.Remove(id)
		ls.markDirty(e.id)
	}
	ls.nodes[id] = kept
	ls.markDirty(id)
	return nil
}
