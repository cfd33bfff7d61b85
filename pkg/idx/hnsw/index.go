package hnsw

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/metrics"
)

// layerState caches one layer's node set and the version it was loaded
// at.
type layerState struct {
	version uint64
	nodes   map[uint64]*Ids64
	dirty   map[uint64]bool
}

func newLayerState() *layerState {
	return &layerState{nodes: map[uint64]*Ids64{}, dirty: map[uint64]bool{}}
}

// Index is one online HNSW vector index, transactionally persisted
// under pkg/keys' HNSW key family.
type Index struct {
	NS, DB, Table, Name string
	Params              catalog.HNSWParams

	mu     sync.Mutex
	state  State
	layer0 *layerState
	layers []*layerState // layers[i] backs "layer i+1"
	loaded bool
	rng    *rand.Rand
}

func New(ns, db, table, name string, params catalog.HNSWParams) *Index {
	return &Index{
		NS: ns, DB: db, Table: table, Name: name,
		Params: params,
		layer0: newLayerState(),
		rng:    rand.New(rand.NewSource(1)),
	}
}

func (ix *Index) topLayer() int { return len(ix.layers) } // 0 means only layer0 exists

// Load refreshes in-memory state from the KV, reloading only layers whose
// persisted version differs from the cached one. Safe to call at the start
// of every transaction that touches this index.
func (ix *Index) Load(ctx context.Context, tx kvs.Transaction) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	raw, err := tx.Get(ctx, keys.HNSWStateKey(ix.NS, ix.DB, ix.Table, ix.Name))
	if err != nil {
		if err == kvs.ErrNotFound {
			ix.loaded = true
			return nil
		}
		return err
	}
	persisted := DecodeState(raw)

	if !ix.loaded || ix.layer0.version != persisted.Layer0Version {
		l0, err := ix.loadLayer(ctx, tx, 0)
		if err != nil {
			return err
		}
		l0.version = persisted.Layer0Version
		ix.layer0 = l0
	}

	// Add missing up-layers, drop deleted up-layers.
	for len(ix.layers) < len(persisted.LayerVersions) {
		ix.layers = append(ix.layers, newLayerState())
	}
	ix.layers = ix.layers[:len(persisted.LayerVersions)]
	for i, want := range persisted.LayerVersions {
		if ix.layers[i] == nil || ix.layers[i].version != want {
			ls, err := ix.loadLayer(ctx, tx, i+1)
			if err != nil {
				return err
			}
			ls.version = want
			ix.layers[i] = ls
		}
	}

	ix.state = *persisted
	ix.loaded = true
	return nil
}

func (ix *Index) loadLayer(ctx context.Context, tx kvs.Transaction, layer int) (*layerState, error) {
	ls := newLayerState()
	begin := keys.HNSWLayerPrefix(ix.NS, ix.DB, ix.Table, ix.Name, layer)
	end := keys.PrefixUpperBound(begin)
	it, err := tx.Stream(ctx, begin, end, 0, kvs.Forward)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for {
		kv, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		id := lastUint64(kv.Key)
		ls.nodes[id] = Ids64Of(DecodeNeighbors(kv.Value)...)
	}
	return ls, nil
}

func lastUint64(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	tail := key[len(key)-8:]
	var v uint64
	for _, b := range tail {
		v = v<<8 | uint64(b)
	}
	return v
}

// layerAt returns layer0 for l==0, else layers[l-1], creating it if the
// persisted topology doesn't reach that high yet.
func (ix *Index) layerAt(l int) *layerState {
	if l == 0 {
		return ix.layer0
	}
	for len(ix.layers) < l {
		ix.layers = append(ix.layers, newLayerState())
	}
	return ix.layers[l-1]
}

func (ls *layerState) ensure(id uint64) *Ids64 {
	s, ok := ls.nodes[id]
	if !ok {
		s = NewIds64()
		ls.nodes[id] = s
	}
	return s
}

func (ls *layerState) markDirty(id uint64) { ls.dirty[id] = true }

// Save flushes dirty nodes and the top-level state record, bumping each
// touched layer's version.
func (ix *Index) Save(ctx context.Context, tx kvs.Transaction) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.saveLocked(ctx, tx)
}

func (ix *Index) saveLocked(ctx context.Context, tx kvs.Transaction) error {
	if len(ix.layer0.dirty) > 0 {
		for id := range ix.layer0.dirty {
			if err := ix.writeNode(ctx, tx, 0, id); err != nil {
				return err
			}
		}
		ix.layer0.version++
		ix.layer0.dirty = map[uint64]bool{}
	}
	metrics.HNSWLayerSize.WithLabelValues(ix.metricLabel(), "0").Set(float64(len(ix.layer0.nodes)))

	ix.state.LayerVersions = ix.state.LayerVersions[:0]
	for i, ls := range ix.layers {
		if ls == nil {
			ls = newLayerState()
			ix.layers[i] = ls
		}
		if len(ls.dirty) > 0 {
			for id := range ls.dirty {
				if err := ix.writeNode(ctx, tx, i+1, id); err != nil {
					return err
				}
			}
			ls.version++
			ls.dirty = map[uint64]bool{}
		}
		ix.state.LayerVersions = append(ix.state.LayerVersions, ls.version)
		metrics.HNSWLayerSize.WithLabelValues(ix.metricLabel(), strconv.Itoa(i+1)).Set(float64(len(ls.nodes)))
	}
	ix.state.Layer0Version = ix.layer0.version
	return tx.Set(ctx, keys.HNSWStateKey(ix.NS, ix.DB, ix.Table, ix.Name), ix.state.Encode())
}

// LayerSizes reports the number of resident nodes per layer, layer 0
// first. Callers refresh via Load beforehand for a current snapshot.
func (ix *Index) LayerSizes() []int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]int, 0, len(ix.layers)+1)
	out = append(out, len(ix.layer0.nodes))
	for _, ls := range ix.layers {
		if ls == nil {
			out = append(out, 0)
			continue
		}
		out = append(out, len(ls.nodes))
	}
	return out
}

// metricLabel identifies this index in the HNSWLayerSize/HNSWSearchDuration
// label set by its ns/db/table/name path, the same granularity pkg/keys
// encodes its storage keys at.
func (ix *Index) metricLabel() string {
	return ix.NS + "/" + ix.DB + "/" + ix.Table + "/" + ix.Name
}

func (ix *Index) writeNode(ctx context.Context, tx kvs.Transaction, layer int, id uint64) error {
	key := keys.HNSWLayerElementKey(ix.NS, ix.DB, ix.Table, ix.Name, layer, id)
	ls := ix.layerAt(layer)
	set, ok := ls.nodes[id]
	if !ok || set.Len() == 0 {
		return tx.Del(ctx, key)
	}
	return tx.Set(ctx, key, EncodeNeighbors(set.ToSlice()))
}

// --- vector storage -----------------------------------------------------

func (ix *Index) vectorKey(id uint64) []byte {
	return keys.HNSWVectorKey(ix.NS, ix.DB, ix.Table, ix.Name, id)
}

func (ix *Index) storeVector(ctx context.Context, tx kvs.Transaction, id uint64, v []float64) error {
	return tx.Set(ctx, ix.vectorKey(id), EncodeVector(ix.Params.VectorType, v))
}

func (ix *Index) loadVector(ctx context.Context, tx kvs.Transaction, id uint64) ([]float64, error) {
	raw, err := tx.Get(ctx, ix.vectorKey(id))
	if err != nil {
		return nil, err
	}
	return DecodeVector(ix.Params.VectorType, ix.Params.Dimension, raw), nil
}

func (ix *Index) deleteVector(ctx context.Context, tx kvs.Transaction, id uint64) error {
	return tx.Del(ctx, ix.vectorKey(id))
}

// randomLevel draws L = floor(-ln(U(0,1)) * ml).
func (ix *Index) randomLevel() int {
	ml := ix.Params.ML
	if ml <= 0 {
		ml = 1 / math.Log(2)
	}
	u := ix.rng.Float64()
	for u == 0 {
		u = ix.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * ml))
}

func (ix *Index) dist(a, b []float64) float64 {
	return Distance(ix.Params.Distance, a, b)
}

func (ix *Index) mForLayer(layer int) int {
	if layer == 0 {
		if ix.Params.M0 > 0 {
			return ix.Params.M0
		}
		return 2 * ix.Params.M
	}
	return ix.Params.M
}
