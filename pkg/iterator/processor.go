package iterator

import (
	"context"

	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// Decode wraps value.Decode so collect.go/processor.go can refer to the
// record codec without importing pkg/value under a qualifier at every
// call site; the storage-facing wire format is entirely value's concern.
func Decode(b []byte) (value.Value, error) { return value.Decode(b) }

// Process is the Record Processor stage: it turns one
// Collected item into a Processed record, honoring strategy. For
// StrategyKeysOnly it takes the rid-only fast path and never
// touches storage. For StrategyKeysAndValues it fetches and decodes the
// record's current value if the scan didn't already supply it (lookup
// and index sources hand back a bare record-id; collectRange's value
// scan already decoded it and sets item.Value).
func (e *Engine) Process(ctx context.Context, item Collected, strategy RecordStrategy) (Processed, error) {
	switch item.Kind {
	case CollectedValue:
		return Processed{Val: item.Value, Strategy: strategy}, nil

	case CollectedRecordID, CollectedLookup:
		if strategy == StrategyKeysOnly || strategy == StrategyCount {
			return Processed{RecordID: item.RecordID, Strategy: strategy, RidOnly: true}, nil
		}
		if item.Value.Tag != value.TagNone || item.Value.Object != nil {
			return Processed{RecordID: item.RecordID, Val: item.Value, Strategy: strategy}, nil
		}
		doc, err := e.fetch(ctx, item)
		if err != nil {
			return Processed{}, err
		}
		return Processed{RecordID: item.RecordID, Val: doc, Strategy: strategy}, nil
	}
	return Processed{RecordID: item.RecordID, Strategy: strategy}, nil
}

// fetch loads a record's current value by key, reusing the scan's own
// key bytes when present and otherwise reconstructing the key from the
// record-id (the case for lookup-derived and index-derived items).
func (e *Engine) fetch(ctx context.Context, item Collected) (value.Value, error) {
	key := item.Key
	if key == nil {
		key = keys.RecordKey(e.NS, e.DB, item.RecordID.Table, encodeKeyPart(item.RecordID.Key))
	}
	raw, err := e.Tx.Get(ctx, key)
	if err != nil {
		if err == kvs.ErrNotFound {
			return value.Null(), nil
		}
		return value.Value{}, err
	}
	return Decode(raw)
}
