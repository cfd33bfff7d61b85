package iterator

import (
	"sync"

	"github.com/cuemby/nexus/pkg/value"
)

// Collector receives every item the scan produces before it reaches the
// Record Processor: Concurrent passes everything through,
// ConcurrentDistinct suppresses record-ids already observed in this
// iteration (used by SELECT DISTINCT and multi-source UNION-style
// iteration).
type Collector interface {
	// Accept reports whether c is new (true) or a duplicate that should
	// be dropped (false).
	Accept(c Collected) bool
}

// ConcurrentCollector passes every item through unfiltered.
type ConcurrentCollector struct{}

func (ConcurrentCollector) Accept(Collected) bool { return true }

// SyncDistinct is the record-id set ConcurrentDistinct wraps, safe for
// concurrent use under a single mutex.
type SyncDistinct struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSyncDistinct() *SyncDistinct {
	return &SyncDistinct{seen: map[string]struct{}{}}
}

// Observe reports whether key is new, recording it either way.
func (d *SyncDistinct) Observe(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// ConcurrentDistinctCollector deduplicates by record-id; non-record items
// (bare values) always pass through, since dedup is only defined over
// record identity.
type ConcurrentDistinctCollector struct {
	Distinct *SyncDistinct
}

func NewConcurrentDistinctCollector() *ConcurrentDistinctCollector {
	return &ConcurrentDistinctCollector{Distinct: NewSyncDistinct()}
}

func (c *ConcurrentDistinctCollector) Accept(item Collected) bool {
	if item.RecordID == nil {
		return true
	}
	return c.Distinct.Observe(recordIDKey(*item.RecordID))
}

func recordIDKey(rid value.RecordID) string {
	return rid.String()
}
