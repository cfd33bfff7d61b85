package dbs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/events"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/value"
)

// QueryType tags a Response the way the envelope distinguishes an ordinary
// statement result from a LIVE registration or a KILL ack.
type QueryType int

const (
	QueryOther QueryType = iota
	QueryLive
	QueryKill
)

// Response is one row of the `Vec<Response>` envelope. Result and Err are
// mutually exclusive; a block rewrite (QueryNotExecuted,
// QueryCancelled, ...) clears Result and sets Err, keeping Time.
type Response struct {
	Time      time.Duration
	Result    value.Value
	Err       error
	QueryType QueryType
}

func okResponse(v value.Value, elapsed time.Duration) Response {
	return Response{Time: elapsed, Result: v}
}

func errResponse(err error, elapsed time.Duration) Response {
	return Response{Time: elapsed, Err: err}
}

// rewrite replaces rs[i]'s outcome with kind, preserving its elapsed
// time.
func rewrite(rs []Response, kind kerr.Kind, msg string) {
	for i := range rs {
		rs[i].Result = value.Value{}
		rs[i].Err = kerr.New(kind, "%s", msg)
	}
}

// liveQuery is one registered LIVE SELECT: the table it watches (this
// implementation matches at table granularity, not by re-evaluating the
// live SELECT's own WHERE per notification) plus the
// subscriber channel exposes via Bridge.Notifications.
type liveQuery struct {
	ID      uuid.UUID
	Table   string
	Session string
}

// Executor is the Executor & Transaction Manager: it
// turns a stream of top-level ast.Stmt into a []Response, owning
// transaction-bracket lifecycle, control-flow handling, and the
// concrete collaborators (doc.Evaluator, iterator.IndexSource,
// view.Store) every lower package consumes as an external seam.
//
// It is the single coordinating object every caller (session bridge,
// background view maintenance, live-query delivery) is built against.
type Executor struct {
	Store   kvs.Store
	Catalog *catalog.Catalog
	Broker  *events.Broker

	// SlowLogThreshold, when non-zero, makes Execute emit a warning log
	// line (never an error) for any bare statement (one run outside a
	// BEGIN block, other than LET) whose run exceeds it. Statements
	// inside a BEGIN block and bare LET statements are not timed against
	// it.
	SlowLogThreshold time.Duration

	docEval  docEvaluator
	indexSrc *indexSource

	mu    sync.Mutex
	lives map[uuid.UUID]*liveQuery
}

// NewExecutor wires the concrete collaborators pkg/doc, pkg/iterator,
// and pkg/view consume as external seams.
func NewExecutor(store kvs.Store, cat *catalog.Catalog, broker *events.Broker) *Executor {
	ex := &Executor{
		Store:   store,
		Catalog: cat,
		Broker:  broker,
		lives:   map[uuid.UUID]*liveQuery{},
	}
	ex.docEval = docEvaluator{exec: ex}
	ex.indexSrc = &indexSource{exec: ex, hnsws: newIndexCache()}
	return ex
}

// aggStoreFor builds the view.Store collaborator bound to ex; aggStore
// itself is stateless beyond the *Executor back-reference, so a fresh
// value per Maintainer call is cheap and avoids any shared mutable state
// across concurrently-running statements.
func (ex *Executor) aggStoreFor() *aggStore { return &aggStore{exec: ex} }

// beginStatementTxn opens the transaction a bare top-level statement
// runs under: Read iff the statement is
// read-only, Write otherwise, always Optimistic locking.
func (ex *Executor) beginStatementTxn(ctx context.Context, stmt ast.Stmt) (kvs.Transaction, kvs.Mode, error) {
	mode := kvs.ReadWrite
	if stmtReadOnly(stmt) {
		mode = kvs.ReadOnly
	}
	tx, err := ex.Store.Transaction(ctx, mode, kvs.Optimistic)
	return tx, mode, err
}

// stmtReadOnly approximates the `plan.read_only()`: true for every
// statement shape that cannot reach a document-pipeline write. This is a
// conservative, shallow classifier (it does not attempt full data-flow
// analysis of nested subqueries); anything it cannot prove read-only runs
// under a Write transaction, which is always safe, just not maximally
// concurrent — a deliberate simplification in place of a full query
// planner.
func stmtReadOnly(stmt ast.Stmt) bool {
	es, ok := stmt.(ast.ExprStmt)
	if !ok {
		// Use/LetStmt/Kill/Live/Show/Analyze/AccessStmt and the DDL
		// statements never write a base-table record; DDL and grants
		// mutate the in-memory catalog, not the KV keyspace.
		return true
	}
	return exprReadOnly(es.Expr)
}

func exprReadOnly(e ast.Expr) bool {
	switch v := e.(type) {
	case ast.Select:
		return true
	case ast.If:
		for _, b := range v.Branches {
			if !exprReadOnly(b.Then) {
				return false
			}
		}
		if v.Else != nil {
			return exprReadOnly(v.Else)
		}
		return true
	case ast.Block:
		for _, se := range v.Exprs {
			if !exprReadOnly(se) {
				return false
			}
		}
		return true
	case ast.For:
		return exprReadOnly(v.Body)
	case ast.Return:
		return exprReadOnly(v.Value)
	case ast.Lit, ast.Param, ast.Ident, ast.IdiomExpr, ast.Binary, ast.Unary,
		ast.FuncCall, ast.ArrayExpr, ast.ObjectExpr, ast.ClosureExpr:
		return true
	}
	return false
}

// runComputation runs one ast.Stmt's computed expression against ctx
// (already carrying an attached transaction), returning the single
// value.Value it produces and unwrapping a top-level RETURN Mode 1 step 4.
// BREAK/CONTINUE escaping to this level is InvalidControlFlow; any other
// error propagates as-is.
func (ex *Executor) runComputation(ctx *Context, stmt ast.Stmt) (value.Value, error) {
	v, err := ex.evalStmt(ctx, stmt)
	if err == nil {
		return v, nil
	}
	if cf, ok := asControlFlow(err); ok {
		switch cf.signal {
		case signalReturn:
			return cf.value, nil
		default:
			return value.Value{}, kerr.New(kerr.InvalidControlFlow, "BREAK/CONTINUE outside a loop")
		}
	}
	return value.Value{}, err
}

// evalStmt dispatches a single top-level ast.Stmt against an already-
// transaction-attached ctx. Begin/Commit/Cancel/Option are handled by the
// caller (Execute); they never reach here.
func (ex *Executor) evalStmt(ctx *Context, stmt ast.Stmt) (value.Value, error) {
	switch s := stmt.(type) {
	case ast.Use:
		ex.applyUse(ctx, s)
		return value.None(), nil

	case ast.LetStmt:
		return ex.runLet(ctx, s.Let)

	case ast.Kill:
		return ex.execKill(ctx, s)

	case ast.Live:
		return ex.execLive(ctx, s)

	case ast.Show:
		return ex.execShow(ctx, s)

	case ast.Analyze:
		return ex.execAnalyze(ctx, s)

	case ast.AccessStmt:
		return ex.execAccess(ctx, s)

	case ast.DefineTable:
		return ex.execDefineTable(ctx, s)

	case ast.DefineField:
		return ex.execDefineField(ctx, s)

	case ast.DefineIndex:
		return ex.execDefineIndex(ctx, s)

	case ast.Remove:
		return ex.execRemove(ctx, s)

	case ast.Info:
		return ex.execInfo(ctx, s)

	case ast.ExprStmt:
		return compute(ctx, s.Expr)
	}
	return value.Value{}, kerr.UnreachableErr("unhandled top-level statement %T", stmt)
}

// runLet evaluates a LET declaration, returning its computed (and
// possibly coerced) value without binding it anywhere; callers that
// need the binding to persist for later statements use BindLet instead.
func (ex *Executor) runLet(ctx *Context, lt ast.Let) (value.Value, error) {
	if isProtectedParam(lt.Name) {
		return value.Value{}, kerr.New(kerr.InvalidParam, "$%s is a protected parameter name", lt.Name)
	}
	v, err := compute(ctx, lt.Expr)
	if err != nil {
		return value.Value{}, err
	}
	if lt.Kind != nil {
		cv, err := value.Coerce(v, *lt.Kind)
		if err != nil {
			return value.Value{}, kerr.New(kerr.SetCoerce, "LET $%s: %v", lt.Name, err)
		}
		v = cv
	}
	return v, nil
}

// BindLet evaluates lt and returns the derived Context carrying the new
// binding alongside the value it computed, letting Execute/runBlock/
// pkg/session thread a top-level LET's $var forward to every statement
// that runs after it, the same
// way evalBlock already threads an inline `{ LET $x = ...; ... }`
// binding from one block statement to the next.
func (ex *Executor) BindLet(ctx *Context, lt ast.Let) (*Context, value.Value, error) {
	v, err := ex.runLet(ctx, lt)
	if err != nil {
		return ctx, value.Value{}, err
	}
	return ctx.WithVar(lt.Name, v), v, nil
}

var protectedParams = map[string]bool{
	"auth": true, "session": true, "token": true, "this": true,
	"before": true, "after": true, "input": true, "value": true, "parent": true,
}

func isProtectedParam(name string) bool { return protectedParams[name] }

// applyUse implements the USE semantics: mutate ns/db and materialize the
// pair in the catalog. It returns nothing: ctx.NS and ctx.DB are updated
// in place, and the caller carries that Context forward (runBareStatement
// hands a clone of it back to Execute as the next persisted Context).
func (ex *Executor) applyUse(ctx *Context, u ast.Use) {
	if u.NS == nil {
		// Setting db without ns clears db rather than adopting it: there
		// is no namespace to materialize it under.
		if u.DB != nil {
			ctx.DB = ""
		}
		return
	}
	ctx.NS = *u.NS
	if u.DB != nil {
		ctx.DB = *u.DB
		ex.Catalog.EnsureDatabase(ctx.NS, ctx.DB)
	} else {
		ctx.DB = ""
	}
}

func (ex *Executor) logSlowQuery(stmt ast.Stmt, elapsed time.Duration) {
	if ex.SlowLogThreshold <= 0 || elapsed < ex.SlowLogThreshold {
		return
	}
	metrics.SlowQueriesTotal.Inc()
	logger := log.WithComponent("dbs")
	logger.Warn().
		Dur("elapsed", elapsed).
		Str("statement", stmtKindName(stmt)).
		Msg("slow query")
}

func stmtKindName(stmt ast.Stmt) string {
	switch s := stmt.(type) {
	case ast.ExprStmt:
		return exprKindName(s.Expr)
	default:
		return "statement"
	}
}

func exprKindName(e ast.Expr) string {
	switch e.(type) {
	case ast.Select:
		return "SELECT"
	case ast.Create:
		return "CREATE"
	case ast.Update:
		return "UPDATE"
	case ast.Delete:
		return "DELETE"
	case ast.Relate:
		return "RELATE"
	case ast.Insert:
		return "INSERT"
	default:
		return "expr"
	}
}
