// Package iterator implements the Iterable Collector and Record
// Processor: it turns a logical source description into a
// stream of Processed records, honoring a RecordStrategy and a START
// skip optimization, built over the underlying store's
// Cursor.Seek/Next/Prev scan primitive.
package iterator

import (
	"github.com/cuemby/nexus/pkg/value"
)

// RecordStrategy controls whether a scan materializes values, only
// keys, or just a count.
type RecordStrategy int

const (
	StrategyKeysAndValues RecordStrategy = iota
	StrategyKeysOnly
	StrategyCount
)

// ScanDirection controls scan order. Backward is only
// honored where the KV driver supports it.
type ScanDirection int

const (
	Forward ScanDirection = iota
	Backward
)

// IterableKind enumerates the logical record sources planning produces.
type IterableKind int

const (
	IterValue IterableKind = iota
	IterYield
	IterThing
	IterDefer
	IterRange
	IterTable
	IterIndex
	IterLookup
	IterMergeable
	IterRelatable
)

// LookupKind distinguishes graph-edge and reference traversal, and
// which direction(s) of graph edge to follow.
type LookupKind int

const (
	LookupGraphIn LookupKind = iota
	LookupGraphOut
	LookupGraphBoth
	LookupReference
)

// LookupSpec parametrizes an IterLookup iterable.
type LookupSpec struct {
	From value.RecordID
	Kind LookupKind
	What []string // edge/target table filter; empty = all
}

// Iterable is one logical record source.
type Iterable struct {
	Kind IterableKind

	Value value.Value // IterValue

	Table string // IterYield / IterRange / IterTable / IterIndex

	Thing *value.RecordID // IterThing / IterDefer

	Range *value.Range // IterRange

	IterRef string // IterIndex: the chosen index's name

	Lookup *LookupSpec // IterLookup

	MergeThing *value.RecordID // IterMergeable
	MergeValue value.Value

	RelateFrom *value.RecordID // IterRelatable
	RelateVia  string
	RelateTo   *value.RecordID
	RelateData value.Value
}

// CollectedKind distinguishes what a collected item carries.
type CollectedKind int

const (
	CollectedValue CollectedKind = iota
	CollectedRecordID
	CollectedLookup
)

// Collected is one item emitted by the low-level scan, before the Record
// Processor decodes it into a Processed record.
type Collected struct {
	Kind CollectedKind

	Value value.Value // CollectedValue

	RecordID *value.RecordID // CollectedRecordID / CollectedLookup
	Key      []byte          // the record's encoded KV key, if known

	LookupKind LookupKind // CollectedLookup
	EdgeTable  string     // CollectedLookup: the edge/ref table traversed
}

// Processed is one record in flight through the pipeline,
// carrying its record-id, optional value, and the strategy that
// produced it.
type Processed struct {
	RecordID *value.RecordID
	Val      value.Value
	Strategy RecordStrategy
	// RidOnly marks the rid-only fast path: the iterator is in skip mode
	// and didn't fetch a value at all, so Val is Null and must not be
	// mistaken for an actually-null field.
	RidOnly bool
}
