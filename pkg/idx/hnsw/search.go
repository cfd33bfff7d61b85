package hnsw

import (
	"context"

	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/metrics"
)

// greedyDescend walks from (entryID, entryDist) down from fromLayer to
// toLayer+1, taking the single closest neighbor at each layer.
func (ix *Index) greedyDescend(c *vecCache, q []float64, fromLayer, toLayer int, entryID uint64, entryDist float64) (uint64, float64, error) {
	curID, curDist := entryID, entryDist
	for l := fromLayer; l > toLayer; l-- {
		for {
			changed := false
			ls := ix.layerAt(l)
			neighbors := ls.ensure(curID).ToSlice()
			for _, nID := range neighbors {
				nVec, err := c.get(nID)
				if err != nil {
					return 0, 0, err
				}
				nDist := ix.dist(q, nVec)
				if nDist < curDist {
					curID, curDist = nID, nDist
					changed = true
				}
			}
			if !changed {
				break
			}
		}
	}
	return curID, curDist, nil
}

// searchLayer runs the standard HNSW beam search on one layer, returning
// up to ef candidates ordered by distance.
// If hasIgnore, ignore is excluded from both traversal and results.
func (ix *Index) searchLayer(c *vecCache, q []float64, entryID uint64, entryDist float64, ef, layer int, ignore uint64, hasIgnore bool) (*DoublePriorityQueue, error) {
	visited := map[uint64]bool{entryID: true}
	candidates := NewDoublePriorityQueue()
	results := NewDoublePriorityQueue()

	if !(hasIgnore && entryID == ignore) {
		candidates.Push(entryDist, entryID)
		results.Push(entryDist, entryID)
	}

	ls := ix.layerAt(layer)
	for candidates.Len() > 0 {
		cDist, cID, _ := candidates.PopFirst()
		if worst, ok := results.PeekLastDist(); ok && results.Len() >= ef && cDist > worst {
			break
		}
		for _, nID := range ls.ensure(cID).ToSlice() {
			if visited[nID] {
				continue
			}
			visited[nID] = true
			if hasIgnore && nID == ignore {
				continue
			}
			nVec, err := c.get(nID)
			if err != nil {
				return nil, err
			}
			nDist := ix.dist(q, nVec)
			worst, ok := results.PeekLastDist()
			if !ok || results.Len() < ef || nDist < worst {
				candidates.Push(nDist, nID)
				results.Push(nDist, nID)
				if results.Len() > ef {
					results.PopLast()
				}
			}
		}
	}
	return results, nil
}

// entryPoint finds a layer-0 entry point by greedy-descending from the
// persisted enter point.
func (ix *Index) entryPoint(c *vecCache, q []float64) (uint64, float64, error) {
	entryVec, err := c.get(ix.state.EnterPoint)
	if err != nil {
		return 0, 0, err
	}
	entryDist := ix.dist(q, entryVec)
	return ix.greedyDescend(c, q, ix.topLayer(), 0, ix.state.EnterPoint, entryDist)
}

// KNN runs unconditioned k-NN search:
// greedy-descend to an entry point, beam-search layer 0 with ef, and
// return the k smallest (distance, element-id) pairs.
func (ix *Index) KNN(ctx context.Context, tx kvs.Transaction, q []float64, k, ef int) ([]Candidate, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HNSWSearchDuration)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.state.HasEnterPoint {
		return nil, nil
	}
	if ef < k {
		ef = k
	}
	c := ix.newVecCache(ctx, tx)
	entryID, entryDist, err := ix.entryPoint(c, q)
	if err != nil {
		return nil, err
	}
	results, err := ix.searchLayer(c, q, entryID, entryDist, ef, 0, 0, false)
	if err != nil {
		return nil, err
	}
	out := results.ToSortedSlice()
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// ConditionChecker evaluates whether a candidate's owning record
// satisfies the query's filter;
// docKey is the opaque reference passed to Insert. This is how the
// executor's WHERE/condition evaluation reaches into HNSW search without
// this package depending on the document or expression layers.
type ConditionChecker func(ctx context.Context, docKey []byte) (bool, error)

// CheckedResult pairs a surviving candidate with its owning doc key.
type CheckedResult struct {
	Candidate
	DocKey []byte
}

// KNNChecked is identical to KNN but resolves each layer-0 candidate's
// doc key and evaluates it against check before counting it toward k.
// When filtering starves the result set below k, the beam is doubled and
// the search re-run until k results survive, the layer is exhausted, or
// the beam reaches checkedEfCeiling.
func (ix *Index) KNNChecked(ctx context.Context, tx kvs.Transaction, q []float64, k, ef int, check ConditionChecker) ([]CheckedResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HNSWSearchDuration)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.state.HasEnterPoint {
		return nil, nil
	}
	if ef < k {
		ef = k
	}
	c := ix.newVecCache(ctx, tx)
	entryID, entryDist, err := ix.entryPoint(c, q)
	if err != nil {
		return nil, err
	}

	for {
		results, err := ix.searchLayer(c, q, entryID, entryDist, ef, 0, 0, false)
		if err != nil {
			return nil, err
		}
		out := make([]CheckedResult, 0, k)
		for _, cand := range results.ToSortedSlice() {
			if len(out) >= k {
				break
			}
			docKey, err := tx.Get(ctx, keys.HNSWDocKey(ix.NS, ix.DB, ix.Table, ix.Name, cand.ID))
			if err != nil {
				continue
			}
			ok, err := check(ctx, docKey)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, CheckedResult{Candidate: cand, DocKey: docKey})
			}
		}
		// A beam that came back smaller than ef has already seen the whole
		// reachable layer; widening further cannot surface anything new.
		if len(out) >= k || results.Len() < ef || ef >= checkedEfCeiling {
			return out, nil
		}
		ef *= 2
		if ef > checkedEfCeiling {
			ef = checkedEfCeiling
		}
	}
}

// checkedEfCeiling caps how far KNNChecked widens its beam chasing
// filtered-out candidates.
const checkedEfCeiling = 4096
