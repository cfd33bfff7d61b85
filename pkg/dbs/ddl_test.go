package dbs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/value"
)

// TestDefineFieldRejectsComputedWithValue: a COMPUTED field carrying a
// VALUE clause is rejected when the definition executes, not deferred to
// write time.
func TestDefineFieldRejectsComputedWithValue(t *testing.T) {
	ex, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.DefineField{
			Table:    "person",
			Path:     value.ParseIdiom("slug"),
			Kind:     value.Kind{Tag: value.KString},
			Computed: true,
			Value:    ast.Lit{Value: value.Str("never-runs")},
		},
	})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Error(t, rs[0].Err)
	kerrErr, ok := rs[0].Err.(*kerr.Error)
	require.True(t, ok)
	require.Equal(t, kerr.InvalidStatement, kerrErr.Kind)

	// Nothing was registered.
	if tbl, ok := ex.Catalog.Table(ctx.NS, ctx.DB, "person"); ok {
		require.Empty(t, tbl.Fields())
	}
}

// TestDefineRemoveInfoRoundTrip drives the catalog entirely through
// executed DDL statements: define a schemafull table with a field and a
// unique index, read it back with INFO, then remove each piece.
func TestDefineRemoveInfoRoundTrip(t *testing.T) {
	ex, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.DefineTable{Name: "person", Schemafull: true},
		ast.DefineField{Table: "person", Path: value.ParseIdiom("name"), Kind: value.Kind{Tag: value.KString}},
		ast.DefineIndex{Table: "person", Name: "name_unique", Unique: true, Fields: []value.Idiom{value.ParseIdiom("name")}},
		ast.Info{Level: ast.InfoTable, Table: "person"},
	})
	require.NoError(t, err)
	require.Len(t, rs, 4)
	for _, r := range rs {
		require.NoError(t, r.Err)
	}

	info := rs[3].Result
	require.True(t, info.Object["schemafull"].Bool)
	require.Equal(t, value.Arr(value.Str("name")), info.Object["fields"])
	require.Equal(t, value.Arr(value.Str("name_unique")), info.Object["indexes"])

	tbl, ok := ex.Catalog.Table(ctx.NS, ctx.DB, "person")
	require.True(t, ok)
	require.True(t, tbl.Schemafull)

	rs, _, err = ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Remove{Kind: ast.RemoveIndex, Table: "person", Name: "name_unique"},
		ast.Remove{Kind: ast.RemoveField, Table: "person", Name: "name"},
		ast.Info{Level: ast.InfoTable, Table: "person"},
		ast.Remove{Kind: ast.RemoveTable, Table: "person"},
		ast.Info{Level: ast.InfoDB},
	})
	require.NoError(t, err)
	require.Len(t, rs, 5)
	for _, r := range rs {
		require.NoError(t, r.Err)
	}
	require.Empty(t, rs[2].Result.Object["fields"].Array)
	require.Empty(t, rs[4].Result.Object["tables"].Array)
}

// TestRemoveUnknownTargetFails: REMOVE on something never defined is a
// typed error, not a silent no-op.
func TestRemoveUnknownTargetFails(t *testing.T) {
	_, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.Remove{Kind: ast.RemoveTable, Table: "ghost"},
	})
	require.NoError(t, err)
	require.Error(t, rs[0].Err)
	kerrErr, ok := rs[0].Err.(*kerr.Error)
	require.True(t, ok)
	require.Equal(t, kerr.InvalidStatement, kerrErr.Kind)
}

// TestAccessGrantShowRevoke drives the grant lifecycle under a defined
// access method through executed ACCESS statements.
func TestAccessGrantShowRevoke(t *testing.T) {
	ex, ctx := openTestExecutor(t)
	ex.Catalog.DefineAccess(ctx.NS, ctx.DB, catalog.AccessDef{Name: "token_auth", Kind: catalog.AccessJWT})

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.AccessStmt{Name: "token_auth", Op: "GRANT", Subject: "alice"},
		ast.AccessStmt{Name: "token_auth", Op: "SHOW"},
		ast.AccessStmt{Name: "token_auth", Op: "REVOKE", Subject: "alice"},
		ast.AccessStmt{Name: "token_auth", Op: "SHOW"},
	})
	require.NoError(t, err)
	require.Len(t, rs, 4)
	for _, r := range rs {
		require.NoError(t, r.Err)
	}

	granted := rs[0].Result
	require.Equal(t, value.Str("alice"), granted.Object["subject"])
	require.False(t, granted.Object["revoked"].Bool)

	require.Len(t, rs[1].Result.Array, 1)
	require.True(t, rs[3].Result.Array[0].Object["revoked"].Bool)

	// A grant under an undefined access method is rejected outright.
	rs, _, err = ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.AccessStmt{Name: "missing", Op: "GRANT", Subject: "alice"},
	})
	require.NoError(t, err)
	require.Error(t, rs[0].Err)
}

// TestAnalyzeIndex: ANALYZE reports entry counts for a defined index and
// rejects an unknown one.
func TestAnalyzeIndex(t *testing.T) {
	_, ctx := openTestExecutor(t)

	rs, _, err := ctx.Exec.Execute(ctx, []ast.Stmt{
		ast.DefineTable{Name: "person"},
		ast.DefineIndex{Table: "person", Name: "name_unique", Unique: true, Fields: []value.Idiom{value.ParseIdiom("name")}},
		ast.Analyze{Target: "name_unique", Table: "person"},
		ast.Analyze{Target: "ghost", Table: "person"},
	})
	require.NoError(t, err)
	require.Len(t, rs, 4)
	require.NoError(t, rs[2].Err)
	require.Equal(t, value.Str("unique"), rs[2].Result.Object["kind"])
	require.Equal(t, value.Int(0), rs[2].Result.Object["entries"])
	require.Error(t, rs[3].Err)
}
