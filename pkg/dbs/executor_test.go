package dbs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/events"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/kvs/boltkv"
	"github.com/cuemby/nexus/pkg/value"
)

// openTestExecutor wires an Executor the same way pkg/session's Bridge
// does, minus the session/transaction bookkeeping this package's own
// tests don't need: a boltkv-backed Store, a fresh Catalog, and an event
// Broker, matching pkg/iterator/iterator_test.go's openTestTx and
// pkg/session/session_test.go's openTestBridge conventions.
func openTestExecutor(t *testing.T) (*Executor, *Context) {
	t.Helper()
	store, err := boltkv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ex := NewExecutor(store, catalog.New(), events.NewBroker())
	ctx := NewContext(context.Background(), ex, "test", "test")
	return ex, ctx
}

func thingWhat(table, key string) ast.What {
	rid := value.RecordID{Table: table, Key: value.Str(key)}
	return ast.What{Kind: ast.WhatThing, Thing: &rid}
}

func tableWhat(table string) ast.What {
	return ast.What{Kind: ast.WhatTable, Table: table}
}

func createStmt(table, key string) ast.Stmt {
	return ast.ExprStmt{Expr: ast.Create{What: []ast.What{thingWhat(table, key)}}}
}

// selectAllStmt builds SELECT * FROM table: execSelect treats an empty
// Fields list as the whole-document projection (crud.go's execSelect),
// the same convention "*" expands to.
func selectAllStmt(table string) ast.Stmt {
	return ast.ExprStmt{Expr: ast.Select{
		What: []ast.What{tableWhat(table)},
	}}
}

// TestBasicCreateSelect: CREATE thing:one; SELECT * FROM
// thing; yields two results, each describing the one stored record.
func TestBasicCreateSelect(t *testing.T) {
	_, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		createStmt("thing", "one"),
		selectAllStmt("thing"),
	})
	require.NoError(t, err)
	require.Len(t, rs, 2)

	for _, r := range rs {
		require.NoError(t, r.Err)
	}

	created := rs[0].Result
	require.Equal(t, value.Thing("thing", value.Str("one")), created.Array[0].Object["id"])

	selected := rs[1].Result
	require.Equal(t, value.TagArray, selected.Tag)
	require.Len(t, selected.Array, 1)
	require.Equal(t, value.Thing("thing", value.Str("one")), selected.Array[0].Object["id"])
}

// TestNestedBeginFailsWholeBlock: a BEGIN opened while
// another is already open fails every statement in the block with
// QueryNotExecutedDetail and nothing persists.
func TestNestedBeginFailsWholeBlock(t *testing.T) {
	ex, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Begin{},
		createStmt("a", "1"),
		ast.Begin{},
		createStmt("a", "2"),
		ast.Commit{},
	})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	for _, r := range rs {
		require.Error(t, r.Err)
		kerrErr, ok := r.Err.(*kerr.Error)
		require.True(t, ok)
		require.Equal(t, kerr.QueryNotExecutedDetail, kerrErr.Kind)
	}

	// Neither a:1 nor a:2 persisted.
	requireNoRecord(t, ex, ctx, "a", "1")
	requireNoRecord(t, ex, ctx, "a", "2")
}

// TestReturnClearsPrecedingBlockResults: BEGIN; CREATE a:1;
// RETURN 42; CREATE a:2; COMMIT; yields [42], with a:1 persisted and a:2
// never created.
func TestReturnClearsPrecedingBlockResults(t *testing.T) {
	ex, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Begin{},
		createStmt("a", "1"),
		ast.ExprStmt{Expr: ast.Return{Value: ast.Lit{Value: value.Int(42)}}},
		createStmt("a", "2"),
		ast.Commit{},
	})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.NoError(t, rs[0].Err)
	require.Equal(t, value.Int(42), rs[0].Result)

	requireRecord(t, ex, ctx, "a", "1")
	requireNoRecord(t, ex, ctx, "a", "2")
}

// TestReadonlyFieldEnforced: a REPLACE that changes a
// READONLY field fails with FieldReadonly and leaves the stored value
// untouched.
func TestReadonlyFieldEnforced(t *testing.T) {
	ex, ctx := openTestExecutor(t)

	tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, "x")
	require.NoError(t, tbl.AddField(&catalog.FieldDef{
		Table:    "x",
		Path:     value.ParseIdiom("created"),
		Kind:     value.Kind{Tag: value.KInt},
		Readonly: true,
		Default:  &catalog.DefaultClause{Always: true, Expr: ast.Lit{Value: value.Int(2024)}},
	}))

	rs, next, err := ctx.Exec.Execute(ctx, []ast.Stmt{createStmt("x", "1")})
	require.NoError(t, err)
	require.NoError(t, rs[0].Err)

	replace := ast.ExprStmt{Expr: ast.Update{
		What: []ast.What{thingWhat("x", "1")},
		Data: &ast.Data{Kind: ast.DataReplace, Expr: ast.ObjectExpr{
			Fields: map[string]ast.Expr{"created": ast.Lit{Value: value.Int(2025)}, "other": ast.Lit{Value: value.Int(1)}},
		}},
	}}
	rs2, _, err := next.Exec.Execute(next, []ast.Stmt{replace})
	require.NoError(t, err)
	require.Len(t, rs2, 1)
	require.Error(t, rs2[0].Err)
	kerrErr, ok := rs2[0].Err.(*kerr.Error)
	require.True(t, ok)
	require.Equal(t, kerr.FieldReadonly, kerrErr.Kind)

	requireFieldValue(t, ex, next, "x", "1", "created", value.Int(2024))
}

// TestResultCountExcludesBrackets: a batch of N top-level
// expressions returns exactly N - (begins+commits+cancels+ options) result
// rows when nothing is skipped after a RETURN.
func TestResultCountExcludesBrackets(t *testing.T) {
	_, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Begin{},
		createStmt("n", "1"),
		createStmt("n", "2"),
		ast.Commit{},
		createStmt("n", "3"),
	})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	for _, r := range rs {
		require.NoError(t, r.Err)
	}
}

// TestReadYourWritesInBlock: a SELECT inside a BEGIN block observes a
// CREATE from earlier in the same block before anything commits.
func TestReadYourWritesInBlock(t *testing.T) {
	_, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Begin{},
		createStmt("ryw", "1"),
		selectAllStmt("ryw"),
		ast.Commit{},
	})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	require.NoError(t, rs[1].Err)
	require.Equal(t, value.TagArray, rs[1].Result.Tag)
	require.Len(t, rs[1].Result.Array, 1)
}

// TestOptionToggleRestoresState: OPTION IMPORT = true then false leaves
// the executor options where they started, and neither contributes a
// result row.
func TestOptionToggleRestoresState(t *testing.T) {
	_, ctx := openTestExecutor(t)

	rs, next, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Begin{},
		ast.Option{Name: "IMPORT", Value: true},
		createStmt("opt", "1"),
		ast.Option{Name: "IMPORT", Value: false},
		ast.Commit{},
	})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.NoError(t, rs[0].Err)
	require.False(t, next.Options.Import)
}

// TestCancelledContextFailsBlock: cancelling the context before a block
// runs leaves every statement rewritten as cancelled and nothing
// persisted.
func TestCancelledContextFailsBlock(t *testing.T) {
	ex, root := openTestExecutor(t)

	cctx, cancel := context.WithCancel(context.Background())
	ctx := NewContext(cctx, ex, "test", "test")
	cancel()

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Begin{},
		createStmt("c", "1"),
		createStmt("c", "2"),
		ast.Commit{},
	})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	for _, r := range rs {
		require.Error(t, r.Err)
		kerrErr, ok := r.Err.(*kerr.Error)
		require.True(t, ok)
		require.Equal(t, kerr.QueryCancelled, kerrErr.Kind)
	}
	requireNoRecord(t, ex, root, "c", "1")
	requireNoRecord(t, ex, root, "c", "2")
}

// getRecord reads a record back directly through the KV layer (bypassing
// the document pipeline), the same way pkg/iterator/iterator_test.go's
// putRecord writes one, to assert on what was actually persisted.
func getRecord(t *testing.T, ex *Executor, ctx *Context, table, key string) (value.Value, bool) {
	t.Helper()
	tx, err := ex.Store.Transaction(ctx, kvs.ReadOnly, kvs.Optimistic)
	require.NoError(t, err)
	defer tx.Cancel(ctx)

	raw, err := tx.Get(ctx, keys.RecordKey(ctx.NS, ctx.DB, table, keys.EncodeStringKey(key)))
	if err != nil {
		return value.Value{}, false
	}
	v, err := value.Decode(raw)
	require.NoError(t, err)
	return v, true
}

func requireRecord(t *testing.T, ex *Executor, ctx *Context, table, key string) {
	t.Helper()
	_, ok := getRecord(t, ex, ctx, table, key)
	require.True(t, ok, "expected %s:%s to exist", table, key)
}

func requireNoRecord(t *testing.T, ex *Executor, ctx *Context, table, key string) {
	t.Helper()
	_, ok := getRecord(t, ex, ctx, table, key)
	require.False(t, ok, "expected %s:%s not to exist", table, key)
}

func requireFieldValue(t *testing.T, ex *Executor, ctx *Context, table, key, field string, want value.Value) {
	t.Helper()
	v, ok := getRecord(t, ex, ctx, table, key)
	require.True(t, ok)
	require.Equal(t, want, v.Object[field])
}
