package iterator

import (
	"context"
	"fmt"

	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// collectLookup computes begin/end key pairs over the graph or reference
// keyspace keyed by the originating record.
// Graph(Both) scans two ranges, one per direction. Each key scanned
// emits a CollectedLookup item carrying the traversed edge/ref table and
// the record-id on the far side.
func (e *Engine) collectLookup(ctx context.Context, spec *LookupSpec, strategy RecordStrategy, collector Collector, yield Yield) error {
	fromKey := encodeKeyPart(spec.From.Key)

	switch spec.Kind {
	case LookupGraphIn:
		return e.scanGraphDir(ctx, spec, keys.DirIn, strategy, collector, yield)
	case LookupGraphOut:
		return e.scanGraphDir(ctx, spec, keys.DirOut, strategy, collector, yield)
	case LookupGraphBoth:
		if err := e.scanGraphDir(ctx, spec, keys.DirIn, strategy, collector, yield); err != nil {
			return err
		}
		return e.scanGraphDir(ctx, spec, keys.DirOut, strategy, collector, yield)
	case LookupReference:
		return e.scanReference(ctx, spec, fromKey, strategy, collector, yield)
	}
	return kerr.UnreachableErr("unknown lookup kind %d", spec.Kind)
}

func (e *Engine) scanGraphDir(ctx context.Context, spec *LookupSpec, dir keys.Direction, strategy RecordStrategy, collector Collector, yield Yield) error {
	fromKey := encodeKeyPart(spec.From.Key)
	prefix := keys.GraphPrefix(e.NS, e.DB, spec.From.Table, fromKey, dir)
	end := keys.PrefixUpperBound(prefix)

	it, err := e.Tx.StreamKeys(ctx, prefix, end, 0, kvs.Forward)
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
		edgeTb, edgeID, err := parseGraphTail(k, len(prefix))
		if err != nil {
			return err
		}
		if !tableAllowed(spec.What, edgeTb) {
			continue
		}
		rid := value.RecordID{Table: edgeTb, Key: value.Str(edgeID)}
		lk := LookupGraphOut
		if dir == keys.DirIn {
			lk = LookupGraphIn
		}
		item := Collected{Kind: CollectedLookup, RecordID: &rid, LookupKind: lk, EdgeTable: edgeTb}
		if err := e.emit(ctx, collector, yield, item, strategy); err != nil {
			return err
		}
	}
}

func (e *Engine) scanReference(ctx context.Context, spec *LookupSpec, targetKey []byte, strategy RecordStrategy, collector Collector, yield Yield) error {
	prefix := keys.ReferencePrefix(e.NS, e.DB, spec.From.Table, targetKey)
	end := keys.PrefixUpperBound(prefix)

	it, err := e.Tx.StreamKeys(ctx, prefix, end, 0, kvs.Forward)
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
		sourceTb, sourceKey, _, err := parseReferenceTail(k, len(prefix))
		if err != nil {
			return err
		}
		if !tableAllowed(spec.What, sourceTb) {
			continue
		}
		rid := value.RecordID{Table: sourceTb, Key: value.Str(sourceKey)}
		item := Collected{Kind: CollectedLookup, RecordID: &rid, LookupKind: LookupReference, EdgeTable: sourceTb}
		if err := e.emit(ctx, collector, yield, item, strategy); err != nil {
			return err
		}
	}
}

func tableAllowed(allow []string, table string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, t := range allow {
		if t == table {
			return true
		}
	}
	return false
}

// parseGraphTail decodes the `<edge-tb>/<edge-id>` suffix of a scanned
// graph key, where edge-tb is length-prefixed and edge-id is the
// remaining raw bytes (keys.GraphKey).
func parseGraphTail(key []byte, prefixLen int) (edgeTb, edgeID string, err error) {
	if prefixLen > len(key) {
		return "", "", fmt.Errorf("iterator: graph key shorter than its own prefix")
	}
	rest := key[prefixLen:]
	tb, rest, err := readSegment(rest)
	if err != nil {
		return "", "", err
	}
	if len(rest) < 1 {
		return "", "", fmt.Errorf("iterator: truncated graph key")
	}
	rest = rest[1:] // the literal "/" separator before edge-id
	return tb, string(rest), nil
}

// parseReferenceTail decodes the `<source-tb>/<source-key>/<field-path>`
// suffix of a scanned reference key (keys.ReferenceKey); all three
// components are length-prefixed so none can be mistaken for another.
func parseReferenceTail(key []byte, prefixLen int) (sourceTb, sourceKey, fieldPath string, err error) {
	if prefixLen > len(key) {
		return "", "", "", fmt.Errorf("iterator: reference key shorter than its own prefix")
	}
	rest := key[prefixLen:]
	sourceTb, rest, err = readSegment(rest)
	if err != nil {
		return "", "", "", err
	}
	if len(rest) < 1 {
		return "", "", "", fmt.Errorf("iterator: truncated reference key")
	}
	rest = rest[1:] // the literal "/" separator before source-key
	sourceKey, rest, err = readSegment(rest)
	if err != nil {
		return "", "", "", err
	}
	fieldPath, _, err = readSegment(rest)
	if err != nil {
		return "", "", "", err
	}
	return sourceTb, sourceKey, fieldPath, nil
}

// readSegment reads one keys.segment()-encoded component: a 2-byte
// big-endian length followed by that many bytes.
func readSegment(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("iterator: truncated segment length")
	}
	n := int(b[0])<<8 | int(b[1])
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("iterator: truncated segment body")
	}
	return string(b[:n]), b[n:], nil
}

