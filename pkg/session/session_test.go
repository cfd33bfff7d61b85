package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/kvs/boltkv"
	"github.com/cuemby/nexus/pkg/value"
)

// fakeParser maps a fixed set of query strings this test suite uses to
// pre-built statement lists, standing in for the external lexer/parser
// collaborator the same way pkg/dbs's own tests construct
// ast.Stmt values by hand instead of lexing SQL text.
type fakeParser struct {
	stmts map[string][]ast.Stmt
}

func (p *fakeParser) Parse(sql string) ([]ast.Stmt, error) {
	stmts, ok := p.stmts[sql]
	if !ok {
		return nil, fmt.Errorf("fakeParser: no registered statements for %q", sql)
	}
	return stmts, nil
}

func newFakeParser() *fakeParser {
	return &fakeParser{stmts: map[string][]ast.Stmt{}}
}

func (p *fakeParser) register(sql string, stmts ...ast.Stmt) {
	p.stmts[sql] = stmts
}

func openTestBridge(t *testing.T) (*Bridge, *fakeParser) {
	t.Helper()
	store, err := boltkv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	parser := newFakeParser()
	b := NewBridge(Config{DefaultNS: "test", DefaultDB: "test"}, store, parser)
	return b, parser
}

func TestNewSessionAndClose(t *testing.T) {
	b, _ := openTestBridge(t)

	id, err := b.NewSession("", "")
	require.NoError(t, err)
	require.NotEmpty(t, id.String())

	b.CloseSession(id)
	_, _, err = b.SessionNSDB(id)
	require.Error(t, err)
}

func TestUsePersistsAcrossCalls(t *testing.T) {
	b, _ := openTestBridge(t)
	id, err := b.NewSession("", "")
	require.NoError(t, err)

	ns, db := "myns", "mydb"
	require.NoError(t, b.Use(id, &ns, &db))

	gotNS, gotDB, err := b.SessionNSDB(id)
	require.NoError(t, err)
	require.Equal(t, "myns", gotNS)
	require.Equal(t, "mydb", gotDB)

	// DB without NS clears DB, matching pkg/dbs's own USE semantics.
	newDB := "otherdb"
	require.NoError(t, b.Use(id, nil, &newDB))
	gotNS, gotDB, err = b.SessionNSDB(id)
	require.NoError(t, err)
	require.Equal(t, "myns", gotNS)
	require.Equal(t, "", gotDB)
}

func TestSetAndDropVariable(t *testing.T) {
	b, parser := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)

	require.NoError(t, b.SetVariable(id, "greeting", value.Str("hi")))

	parser.register("RETURN $greeting;",
		ast.ExprStmt{Expr: ast.Return{Value: ast.Param{Name: "greeting"}}})
	chunks, err := b.Query(id, nil, "RETURN $greeting;", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NoError(t, chunks[0].Err)
	require.Equal(t, "hi", chunks[0].Result.Str)

	require.NoError(t, b.DropVariable(id, "greeting"))
	chunks, err = b.Query(id, nil, "RETURN $greeting;", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.True(t, chunks[0].Result.IsNone())
}

func TestSetVariableRejectsProtectedName(t *testing.T) {
	b, _ := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)
	require.Error(t, b.SetVariable(id, "auth", value.Str("nope")))
}

func TestBareLetPersistsToNextStatement(t *testing.T) {
	b, parser := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)

	const sql = "LET $x = 7; RETURN $x;"
	parser.register(sql,
		ast.LetStmt{Let: ast.Let{Name: "x", Expr: ast.Lit{Value: value.Int(7)}}},
		ast.ExprStmt{Expr: ast.Return{Value: ast.Param{Name: "x"}}},
	)

	chunks, err := b.Query(id, nil, sql, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.NoError(t, chunks[0].Err)
	require.NoError(t, chunks[1].Err)
	require.Equal(t, int64(7), chunks[1].Result.Int)
}

func TestExplicitTransactionLetPersistsAndCancelDiscards(t *testing.T) {
	b, parser := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)

	letSQL := "LET $x = 9;"
	parser.register(letSQL,
		ast.LetStmt{Let: ast.Let{Name: "x", Expr: ast.Lit{Value: value.Int(9)}}})
	returnSQL := "RETURN $x;"
	parser.register(returnSQL,
		ast.ExprStmt{Expr: ast.Return{Value: ast.Param{Name: "x"}}})

	txnID, err := b.BeginTransaction(id)
	require.NoError(t, err)

	chunks, err := b.Query(id, &txnID, letSQL, nil)
	require.NoError(t, err)
	require.NoError(t, chunks[0].Err)

	chunks, err = b.Query(id, &txnID, returnSQL, nil)
	require.NoError(t, err)
	require.NoError(t, chunks[0].Err)
	require.Equal(t, int64(9), chunks[0].Result.Int)

	require.NoError(t, b.CancelTransaction(txnID))
	_, err = b.txn(txnID)
	require.Error(t, err)

	// The session's own persisted context never saw $x: a bare RETURN
	// outside the cancelled transaction resolves it to none.
	chunks, err = b.Query(id, nil, returnSQL, nil)
	require.NoError(t, err)
	require.True(t, chunks[0].Result.IsNone())
}

func TestExplicitTransactionCommitPersistsToSession(t *testing.T) {
	b, parser := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)

	letSQL := "LET $committed = 1;"
	parser.register(letSQL,
		ast.LetStmt{Let: ast.Let{Name: "committed", Expr: ast.Lit{Value: value.Int(1)}}})

	txnID, err := b.BeginTransaction(id)
	require.NoError(t, err)

	_, err = b.Query(id, &txnID, letSQL, nil)
	require.NoError(t, err)

	require.NoError(t, b.CommitTransaction(txnID))

	returnSQL := "RETURN $committed;"
	parser.register(returnSQL,
		ast.ExprStmt{Expr: ast.Return{Value: ast.Param{Name: "committed"}}})
	chunks, err := b.Query(id, nil, returnSQL, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), chunks[0].Result.Int)
}

func TestSignupSigninAuthenticateRefreshRevoke(t *testing.T) {
	b, _ := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)

	creds := Credentials{NS: "test", DB: "test", User: "alice", Password: "hunter2"}
	tokens, err := b.Signup(creds)
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	require.NoError(t, b.Authenticate(id, tokens.AccessToken))

	_, err = b.Signin(Credentials{NS: "test", DB: "test", User: "alice", Password: "wrong"})
	require.Error(t, err)

	again, err := b.Signin(creds)
	require.NoError(t, err)
	require.NotEmpty(t, again.AccessToken)

	refreshed, err := b.Refresh(again.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)

	// The exchanged refresh token is single-use.
	_, err = b.Refresh(again.RefreshToken)
	require.Error(t, err)

	require.NoError(t, b.Revoke(refreshed.RefreshToken))
	_, err = b.Refresh(refreshed.RefreshToken)
	require.Error(t, err)

	require.NoError(t, b.Invalidate(id))
}

func TestAccessMethodSigninAndAuthenticate(t *testing.T) {
	b, _ := openTestBridge(t)
	id, err := b.NewSession("test", "test")
	require.NoError(t, err)

	creds := Credentials{NS: "test", DB: "test", User: "bob", Password: "s3cret"}
	_, err = b.Signup(creds)
	require.NoError(t, err)

	require.NoError(t, b.DefineAccess("test", "test", "token_auth", []byte("per-access-signing-secret")))

	// The catalog holds the signing secret sealed, never in the clear.
	def, ok := b.Catalog.Access("test", "test", "token_auth")
	require.True(t, ok)
	require.NotContains(t, string(def.SigningSecret), "per-access-signing-secret")

	tokens, err := b.SigninWithAccess("token_auth", creds)
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)

	require.NoError(t, b.Authenticate(id, tokens.AccessToken))

	_, err = b.SigninWithAccess("missing_access", creds)
	require.Error(t, err)
}
