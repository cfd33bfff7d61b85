package iterator

import (
	"context"

	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// IndexSource is the planner-side collaborator an IterIndex iterable asks
// for a prepared scan. pkg/dbs's executor implements this by choosing a
// concrete index plan.
type IndexSource interface {
	ThingIterator(ctx context.Context, table, iterRef string, rs RecordStrategy) (ThingIterator, error)
}

// ThingIterator is a stateful, batch-pullable index scan cursor: batches
// are pulled until exhausted; the caller must not interleave unrelated work
// on the same iterator.
type ThingIterator interface {
	Next(ctx context.Context, batchSize int) ([]Collected, bool, error)
	Close() error
}

// DefaultMaxFetchSize is the batch size used for index pulls when no
// START/LIMIT-derived size applies.
const DefaultMaxFetchSize = 1000

// cancelEvery is how often (in scanned rows) the collector polls the
// context's done signal.
const cancelEvery = 100

// Engine drives iterable collection against one transaction.
type Engine struct {
	NS, DB string
	Tx     kvs.Transaction
	Index  IndexSource // nil if the iterable never needs IterIndex
}

// Yield is called once per Processed record produced. Returning an
// error aborts collection; the caller (pkg/dbs) maps kerr.QueryCancelled
// / kerr.QueryTimedout appropriately when the error is a context error.
type Yield func(Processed) error

// Collect dispatches by Iterable.Kind and streams Processed records to
// yield, honoring strategy, dir, the START skip count, and a Collector
// for dedup.
func (e *Engine) Collect(ctx context.Context, it Iterable, strategy RecordStrategy, dir ScanDirection, skip int, collector Collector, yield Yield) error {
	switch it.Kind {
	case IterValue:
		if it.Value.IsNullish() {
			return nil
		}
		return e.emit(ctx, collector, yield, Collected{Kind: CollectedValue, Value: it.Value}, strategy)

	case IterThing, IterDefer:
		return e.collectThing(ctx, it.Thing, strategy, collector, yield)

	case IterYield, IterTable:
		begin, end := tableBounds(e.NS, e.DB, it.Table)
		return e.collectRange(ctx, it.Table, begin, end, strategy, dir, skip, collector, yield)

	case IterRange:
		begin, end := rangeBounds(e.NS, e.DB, it.Table, it.Range)
		return e.collectRange(ctx, it.Table, begin, end, strategy, dir, skip, collector, yield)

	case IterIndex:
		return e.collectIndex(ctx, it, strategy, collector, yield)

	case IterLookup:
		return e.collectLookup(ctx, it.Lookup, strategy, collector, yield)

	case IterMergeable:
		return e.emit(ctx, collector, yield, Collected{Kind: CollectedRecordID, RecordID: it.MergeThing}, strategy)

	case IterRelatable:
		return e.emit(ctx, collector, yield, Collected{Kind: CollectedRecordID, RecordID: it.RelateFrom}, strategy)
	}
	return kerr.New(kerr.Unreachable, "unknown iterable kind %d", it.Kind)
}

func (e *Engine) collectThing(ctx context.Context, rid *value.RecordID, strategy RecordStrategy, collector Collector, yield Yield) error {
	return e.emit(ctx, collector, yield, Collected{Kind: CollectedRecordID, RecordID: rid}, strategy)
}

// collectRange streams a prefix/range scan, applying the START skip
// optimization and periodic cancellation checks.
func (e *Engine) collectRange(ctx context.Context, table string, begin, end []byte, strategy RecordStrategy, dir ScanDirection, skip int, collector Collector, yield Yield) error {
	if strategy == StrategyCount && skip == 0 {
		driverBegin, driverEnd := driverBounds(begin, end, dir)
		n, err := e.Tx.Count(ctx, driverBegin, driverEnd)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := yield(Processed{RecordID: &value.RecordID{Table: table}, Strategy: strategy}); err != nil {
				return err
			}
		}
		return nil
	}

	if skip > 0 {
		var skipped int
		var err error
		begin, end, skipped, err = applySkip(ctx, e.Tx, begin, end, skip, dir)
		if err != nil {
			return err
		}
		if skipped < skip {
			return nil // source exhausted before reaching START
		}
	}

	driverBegin, driverEnd := driverBounds(begin, end, dir)
	prefixLen := len(tablePrefixSlash(e.NS, e.DB, table))

	if strategy == StrategyKeysOnly || strategy == StrategyCount {
		it, err := e.Tx.StreamKeys(ctx, driverBegin, driverEnd, 0, toKVDirection(dir))
		if err != nil {
			return err
		}
		defer it.Close()
		rows := 0
		for {
			rows++
			if rows%cancelEvery == 0 {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
			}
			k, ok, err := it.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			rid := value.RecordID{Table: table, Key: value.Str(keyPartString(k, prefixLen))}
			if err := e.emit(ctx, collector, yield, Collected{Kind: CollectedRecordID, RecordID: &rid, Key: k}, strategy); err != nil {
				return err
			}
		}
	}

	it, err := e.Tx.Stream(ctx, driverBegin, driverEnd, 0, toKVDirection(dir))
	if err != nil {
		return err
	}
	defer it.Close()
	rows := 0
	for {
		rows++
		if rows%cancelEvery == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
		kv, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		doc, derr := Decode(kv.Value)
		if derr != nil {
			return derr
		}
		rid := recordIDFromDoc(table, kv.Key, prefixLen, doc)
		if err := e.emit(ctx, collector, yield, Collected{Kind: CollectedRecordID, RecordID: &rid, Key: kv.Key, Value: doc}, strategy); err != nil {
			return err
		}
	}
}

func tablePrefixSlash(ns, db, table string) []byte {
	b, _ := tableBounds(ns, db, table)
	return b
}

// recordIDFromDoc prefers the decoded document's own `id` field (always
// correct, even for array/object/range-keyed records); it falls back to
// the raw key suffix only when the document has no usable id.
func recordIDFromDoc(table string, key []byte, prefixLen int, doc value.Value) value.RecordID {
	if doc.Tag == value.TagObject {
		if idVal, ok := doc.Object["id"]; ok && idVal.Tag == value.TagRecordID {
			return *idVal.RecordID
		}
	}
	return value.RecordID{Table: table, Key: value.Str(keyPartString(key, prefixLen))}
}

func (e *Engine) collectIndex(ctx context.Context, it Iterable, strategy RecordStrategy, collector Collector, yield Yield) error {
	if e.Index == nil {
		return kerr.New(kerr.Unreachable, "no index source attached for IterIndex")
	}
	ti, err := e.Index.ThingIterator(ctx, it.Table, it.IterRef, strategy)
	if err != nil {
		return err
	}
	defer ti.Close()
	for {
		batch, more, err := ti.Next(ctx, DefaultMaxFetchSize)
		if err != nil {
			return err
		}
		for _, item := range batch {
			if err := e.emit(ctx, collector, yield, item, strategy); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

// emit applies the collector's dedup filter, decodes/fetches the value
// per strategy via the Record Processor, and invokes yield.
func (e *Engine) emit(ctx context.Context, collector Collector, yield Yield, item Collected, strategy RecordStrategy) error {
	if collector != nil && !collector.Accept(item) {
		return nil
	}
	p, err := e.Process(ctx, item, strategy)
	if err != nil {
		return err
	}
	return yield(p)
}
