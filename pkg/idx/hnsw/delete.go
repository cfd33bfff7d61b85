package hnsw

import (
	"context"

	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
)

// Delete removes element eID from every layer it participates in,
// repairing neighbor lists and replacing the enter point if needed.
func (ix *Index) Delete(ctx context.Context, tx kvs.Transaction, eID uint64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	vec, err := ix.loadVector(ctx, tx, eID)
	if err != nil {
		if err == kvs.ErrNotFound {
			return nil // already gone
		}
		return err
	}
	c := ix.newVecCache(ctx, tx)
	c.put(eID, vec)

	top := ix.topLayer()
	replaceEP := ix.state.HasEnterPoint && ix.state.EnterPoint == eID
	for l := top; l >= 0; l-- {
		ls := ix.layerAt(l)
		set, ok := ls.nodes[eID]
		if !ok {
			continue
		}
		if replaceEP {
			if repl, _, ok, err := ix.replacementEntryPoint(c, vec, eID, l); err != nil {
				return err
			} else if ok {
				ix.state.EnterPoint = repl
				ix.state.HasEnterPoint = true
				replaceEP = false
			} else {
				ix.state.HasEnterPoint = false
			}
		}
		neighbors := set.ToSlice()
		delete(ls.nodes, eID)
		ls.markDirty(eID)
		for _, nID := range neighbors {
			nset := ls.ensure(nID)
			nset.Remove(eID)
			ls.markDirty(nID)
			if err := ix.repairNeighbor(c, l, nID, neighbors, eID); err != nil {
				return err
			}
		}
	}

	if err := ix.deleteVector(ctx, tx, eID); err != nil {
		return err
	}
	if err := tx.Del(ctx, keys.HNSWDocKey(ix.NS, ix.DB, ix.Table, ix.Name, eID)); err != nil {
		return err
	}
	return ix.saveLocked(ctx, tx)
}

// replacementEntryPoint finds the closest surviving node in the given
// layer (a linear scan over every node of that layer) to stand in as the
// new enter point.
func (ix *Index) replacementEntryPoint(c *vecCache, vec []float64, ignore uint64, layer int) (uint64, float64, bool, error) {
	ls := ix.layerAt(layer)
	var bestID uint64
	bestDist := 0.0
	found := false
	for id := range ls.nodes {
		if id == ignore {
			continue
		}
		v, err := c.get(id)
		if err != nil {
			return 0, 0, false, err
		}
		d := ix.dist(vec, v)
		if !found || d < bestDist {
			bestID, bestDist, found = id, d, true
		}
	}
	return bestID, bestDist, found, nil
}

// repairNeighbor re-runs the neighbor heuristic over an ex-neighbor's own
// remaining neighbors, trimming the set to mForLayer(layer) when it is
// larger. The siblings (the deleted element's other former neighbors) are
// not added as candidates, so no new edges replace the ones that went
// through the deleted element, and a set already within the bound is
// left as it is.
func (ix *Index) repairNeighbor(c *vecCache, layer int, id uint64, siblings []uint64, deleted uint64) error {
	ls := ix.layerAt(layer)
	set := ls.ensure(id)
	m := ix.mForLayer(layer)
	if set.Len() <= m {
		return nil
	}
	idVec, err := c.get(id)
	if err != nil {
		return err
	}
	candidates := NewDoublePriorityQueue()
	seen := map[uint64]bool{}
	for _, nid := range set.ToSlice() {
		if nid == deleted || seen[nid] {
			continue
		}
		seen[nid] = true
		v, err := c.get(nid)
		if err != nil {
			return err
		}
		candidates.Push(ix.dist(idVec, v), nid)
	}
	chosen := selectNeighbors(candidates, m)
	kept := NewIds64()
	for _, cand := range chosen {
		kept.Insert(cand.ID)
	}
	ls.nodes[id] = kept
	ls.markDirty(id)
	return nil
}
