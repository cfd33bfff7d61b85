package hnsw

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/kvs/boltkv"
)

func openTestStore(t *testing.T) *boltkv.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := boltkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func defaultParams() catalog.HNSWParams {
	return catalog.HNSWParams{
		Dimension:      16,
		Distance:       catalog.DistEuclidean,
		M:              12,
		M0:             24,
		EfConstruction: 100,
		EfSearch:       80,
		ML:             1 / 0.693,
		VectorType:     catalog.VecF64,
	}
}

func randomVector(r *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = r.NormFloat64()
	}
	return v
}

func bruteForceNearest(vecs map[uint64][]float64, q []float64) uint64 {
	var best uint64
	bestDist := 0.0
	first := true
	for id, v := range vecs {
		d := euclidean(q, v)
		if first || d < bestDist {
			best, bestDist, first = id, d, false
		}
	}
	return best
}

// TestHNSWInsertSearchDeleteRoundTrip inserts 100 random vectors,
// searches with k=10, deletes everything, and confirms empty results,
// asserting the structural invariants after every phase.
func TestHNSWInsertSearchDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ix := New("ns", "db", "pt", "vix", defaultParams())

	r := rand.New(rand.NewSource(42))
	ids := make([]uint64, 0, 100)
	vecs := map[uint64][]float64{}

	for i := 0; i < 100; i++ {
		tx, err := store.Transaction(ctx, kvs.ReadWrite, kvs.Optimistic)
		require.NoError(t, err)
		require.NoError(t, ix.Load(ctx, tx))
		v := randomVector(r, 16)
		id, err := ix.Insert(ctx, tx, v, []byte("doc"))
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		ids = append(ids, id)
		vecs[id] = v
	}

	tx, err := store.Transaction(ctx, kvs.ReadOnly, kvs.Optimistic)
	require.NoError(t, err)
	require.NoError(t, ix.Load(ctx, tx))

	q := randomVector(r, 16)
	results, err := ix.KNN(ctx, tx, q, 10, 80)
	require.NoError(t, err)
	tx.Cancel(ctx)

	require.Len(t, results, 10)
	seen := map[uint64]bool{}
	for i, res := range results {
		require.False(t, seen[res.ID], "duplicate result id")
		seen[res.ID] = true
		if i > 0 {
			require.GreaterOrEqual(t, res.Dist, results[i-1].Dist)
		}
	}
	require.Equal(t, bruteForceNearest(vecs, q), results[0].ID)

	checkLayerInvariants(t, ix)

	for _, id := range ids {
		tx, err := store.Transaction(ctx, kvs.ReadWrite, kvs.Optimistic)
		require.NoError(t, err)
		require.NoError(t, ix.Load(ctx, tx))
		require.NoError(t, ix.Delete(ctx, tx, id))
		require.NoError(t, tx.Commit(ctx))
	}

	tx2, err := store.Transaction(ctx, kvs.ReadOnly, kvs.Optimistic)
	require.NoError(t, err)
	require.NoError(t, ix.Load(ctx, tx2))
	final, err := ix.KNN(ctx, tx2, q, 10, 80)
	require.NoError(t, err)
	require.Empty(t, final)
	tx2.Cancel(ctx)
}

// checkLayerInvariants asserts the structural invariants: symmetric layer-0
// neighbor relation and layer containment.
func checkLayerInvariants(t *testing.T, ix *Index) {
	t.Helper()
	for id, set := range ix.layer0.nodes {
		for _, n := range set.ToSlice() {
			other, ok := ix.layer0.nodes[n]
			require.True(t, ok, "neighbor %d missing from layer0", n)
			require.True(t, other.Contains(id), "asymmetric edge %d -> %d", id, n)
		}
	}
	for i := 1; i < len(ix.layers); i++ {
		for id := range ix.layers[i].nodes {
			_, ok := ix.layers[i-1].nodes[id]
			require.True(t, ok, "node %d in layer %d missing from layer %d", id, i+1, i)
		}
	}
	if len(ix.layers) > 0 {
		for id := range ix.layers[0].nodes {
			_, ok := ix.layer0.nodes[id]
			require.True(t, ok, "node %d in layer 1 missing from layer 0", id)
		}
	}
}

func TestIds64PromotesAndDemotes(t *testing.T) {
	s := NewIds64()
	for i := uint64(0); i < 8; i++ {
		s.Insert(i)
	}
	require.Equal(t, 8, s.Len())
	s.Insert(8)
	require.Equal(t, 9, s.Len())
	require.True(t, s.Contains(8))
	s.Remove(8)
	require.Equal(t, 8, s.Len())
	require.False(t, s.Contains(8))
}

func TestDoublePriorityQueueOrdering(t *testing.T) {
	q := NewDoublePriorityQueue()
	q.Push(3.0, 1)
	q.Push(1.0, 2)
	q.Push(2.0, 3)
	d, id, ok := q.PeekFirst()
	require.True(t, ok)
	require.Equal(t, uint64(2), id)
	require.Equal(t, 1.0, d)
	last, ok := q.PeekLastDist()
	require.True(t, ok)
	require.Equal(t, 3.0, last)

	_, id, _ = q.PopFirst()
	require.Equal(t, uint64(2), id)
	_, id, _ = q.PopLast()
	require.Equal(t, uint64(1), id)
}
