package hnsw

import (
	"github.com/google/btree"

	"github.com/cuemby/nexus/pkg/value"
)

// entry is one (distance, element-id) candidate held in the queue.
type entry struct {
	dist float64
	id   uint64
}

// less orders entries by total_cmp distance, then by id to keep the btree's
// ordering total (two candidates at the same distance are distinct entries,
// not duplicates) — "floats must use a total ordering wherever they
// participate in maps, sorts, or priority queues."
func less(a, b entry) bool {
	if c := value.TotalCmpFloat(a.dist, b.dist); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// DoublePriorityQueue holds HNSW search candidates, supporting
// simultaneous access to both ends: pop_first (closest) drives greedy
// expansion, pop_last (farthest) drives "evict the worst of the top-ef"
// pruning.
type DoublePriorityQueue struct {
	tree *btree.BTreeG[entry]
	n    int
}

func NewDoublePriorityQueue() *DoublePriorityQueue {
	return &DoublePriorityQueue{tree: btree.NewG(32, less)}
}

func (q *DoublePriorityQueue) Len() int { return q.n }

func (q *DoublePriorityQueue) Push(dist float64, id uint64) {
	q.tree.ReplaceOrInsert(entry{dist: dist, id: id})
	q.n++
}

func (q *DoublePriorityQueue) PopFirst() (float64, uint64, bool) {
	e, ok := q.tree.DeleteMin()
	if !ok {
		return 0, 0, false
	}
	q.n--
	return e.dist, e.id, true
}

func (q *DoublePriorityQueue) PopLast() (float64, uint64, bool) {
	e, ok := q.tree.DeleteMax()
	if !ok {
		return 0, 0, false
	}
	q.n--
	return e.dist, e.id, true
}

func (q *DoublePriorityQueue) PeekFirst() (float64, uint64, bool) {
	e, ok := q.tree.Min()
	if !ok {
		return 0, 0, false
	}
	return e.dist, e.id, true
}

func (q *DoublePriorityQueue) PeekLastDist() (float64, bool) {
	e, ok := q.tree.Max()
	if !ok {
		return 0, false
	}
	return e.dist, true
}

// ToSortedSlice drains the queue ascending by distance, used when the
// caller wants the final top-k in order.
func (q *DoublePriorityQueue) ToSortedSlice() []Candidate {
	out := make([]Candidate, 0, q.n)
	q.tree.Ascend(func(e entry) bool {
		out = append(out, Candidate{Dist: e.dist, ID: e.id})
		return true
	})
	return out
}

// Candidate is one (distance, element-id) result pair.
type Candidate struct {
	Dist float64
	ID   uint64
}
