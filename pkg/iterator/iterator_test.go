package iterator

import (
	"context"
	"testing"

	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/kvs/boltkv"
	"github.com/cuemby/nexus/pkg/value"
	"github.com/stretchr/testify/require"
)

func openTestTx(t *testing.T) (*boltkv.Store, kvs.Transaction) {
	t.Helper()
	s, err := boltkv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	tx, err := s.Transaction(context.Background(), kvs.ReadWrite, kvs.Optimistic)
	require.NoError(t, err)
	// Registered after s.Close, so it runs first: bbolt's Close waits for
	// an open write transaction to finish.
	t.Cleanup(func() { tx.Cancel(context.Background()) })
	return s, tx
}

func putRecord(t *testing.T, tx kvs.Transaction, ns, db, table, id string, doc value.Value) {
	t.Helper()
	key := keys.RecordKey(ns, db, table, keys.EncodeStringKey(id))
	require.NoError(t, tx.Set(context.Background(), key, value.Encode(doc)))
}

func TestCollectTableScan(t *testing.T) {
	ctx := context.Background()
	_, tx := openTestTx(t)

	for _, name := range []string{"ann", "bob", "cleo"} {
		doc := value.Obj(map[string]value.Value{
			"id":   value.Thing("person", value.Str(name)),
			"name": value.Str(name),
		})
		putRecord(t, tx, "test", "test", "person", name, doc)
	}

	e := &Engine{NS: "test", DB: "test", Tx: tx}
	it := Iterable{Kind: IterTable, Table: "person"}

	var got []string
	err := e.Collect(ctx, it, StrategyKeysAndValues, Forward, 0, ConcurrentCollector{}, func(p Processed) error {
		got = append(got, p.Val.Object["name"].Str)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ann", "bob", "cleo"}, got)
}

func TestCollectRangeWithSkip(t *testing.T) {
	ctx := context.Background()
	_, tx := openTestTx(t)

	for _, n := range []string{"a", "b", "c", "d", "e"} {
		doc := value.Obj(map[string]value.Value{"id": value.Thing("letters", value.Str(n))})
		putRecord(t, tx, "ns", "db", "letters", n, doc)
	}

	e := &Engine{NS: "ns", DB: "db", Tx: tx}
	it := Iterable{Kind: IterTable, Table: "letters"}

	var got []string
	err := e.Collect(ctx, it, StrategyKeysOnly, Forward, 2, ConcurrentCollector{}, func(p Processed) error {
		got = append(got, p.RecordID.Key.Str)
		require.True(t, p.RidOnly)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "e"}, got)
}

func TestCollectCountFastPath(t *testing.T) {
	ctx := context.Background()
	_, tx := openTestTx(t)
	for _, n := range []string{"x", "y", "z"} {
		putRecord(t, tx, "ns", "db", "letters", n, value.Obj(nil))
	}
	e := &Engine{NS: "ns", DB: "db", Tx: tx}
	it := Iterable{Kind: IterTable, Table: "letters"}

	count := 0
	err := e.Collect(ctx, it, StrategyCount, Forward, 0, ConcurrentCollector{}, func(p Processed) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestCollectDistinctDedup(t *testing.T) {
	ctx := context.Background()
	_, tx := openTestTx(t)
	putRecord(t, tx, "ns", "db", "thing", "one", value.Obj(nil))

	e := &Engine{NS: "ns", DB: "db", Tx: tx}
	rid := value.RecordID{Table: "thing", Key: value.Str("one")}
	it := Iterable{Kind: IterThing, Thing: &rid}

	dedup := NewConcurrentDistinctCollector()
	var calls int
	yield := func(p Processed) error { calls++; return nil }

	require.NoError(t, e.Collect(ctx, it, StrategyKeysAndValues, Forward, 0, dedup, yield))
	require.NoError(t, e.Collect(ctx, it, StrategyKeysAndValues, Forward, 0, dedup, yield))
	require.Equal(t, 1, calls)
}

func TestCollectLookupGraph(t *testing.T) {
	ctx := context.Background()
	_, tx := openTestTx(t)

	from := value.RecordID{Table: "person", Key: value.Str("ann")}
	fromKey := keys.EncodeStringKey("ann")

	edgeKey := keys.GraphKey("ns", "db", "person", fromKey, keys.DirOut, "likes", keys.EncodeStringKey("pizza"))
	require.NoError(t, tx.Set(ctx, edgeKey, []byte{}))

	e := &Engine{NS: "ns", DB: "db", Tx: tx}
	spec := &LookupSpec{From: from, Kind: LookupGraphOut}
	it := Iterable{Kind: IterLookup, Lookup: spec}

	var targets []string
	err := e.Collect(ctx, it, StrategyKeysOnly, Forward, 0, ConcurrentCollector{}, func(p Processed) error {
		targets = append(targets, p.RecordID.Table+":"+p.RecordID.Key.Str)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"likes:pizza"}, targets)
}

func TestCollectLookupReference(t *testing.T) {
	ctx := context.Background()
	_, tx := openTestTx(t)

	targetKey := keys.EncodeStringKey("acme")
	refKey := keys.ReferenceKey("ns", "db", "company", targetKey, "person", keys.EncodeStringKey("ann"), "worksAt")
	require.NoError(t, tx.Set(ctx, refKey, []byte{}))

	e := &Engine{NS: "ns", DB: "db", Tx: tx}
	from := value.RecordID{Table: "company", Key: value.Str("acme")}
	spec := &LookupSpec{From: from, Kind: LookupReference}
	it := Iterable{Kind: IterLookup, Lookup: spec}

	var sources []string
	err := e.Collect(ctx, it, StrategyKeysOnly, Forward, 0, ConcurrentCollector{}, func(p Processed) error {
		sources = append(sources, p.RecordID.Table+":"+p.RecordID.Key.Str)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"person:ann"}, sources)
}
