package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/dbs"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// ChunkKind distinguishes a one-shot result from a multi-statement
// batch's intermediate and final chunks.
type ChunkKind int

const (
	Single ChunkKind = iota
	Batched
	BatchedFinal
)

// QueryChunk is one element of the stream Bridge.Query returns.
type QueryChunk struct {
	QueryIndex int
	Batch      int
	Kind       ChunkKind
	Stats      time.Duration
	Result     value.Value
	Type       dbs.QueryType
	Err        error
}

// BeginTransaction opens an explicitly caller-managed transaction,
// distinct from a SQL-text BEGIN/COMMIT bracket sent through Query: the
// caller issues several separate Query calls against the same txn_id
// before committing or cancelling it.
func (b *Bridge) BeginTransaction(sessionID uuid.UUID) (uuid.UUID, error) {
	sess, err := b.session(sessionID)
	if err != nil {
		return uuid.UUID{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	tx, err := b.Store.Transaction(sess.ctx, kvs.ReadWrite, kvs.Optimistic)
	if err != nil {
		return uuid.UUID{}, err
	}
	txnID, err := uuid.NewV7()
	if err != nil {
		tx.Cancel(sess.ctx)
		return uuid.UUID{}, err
	}
	txCtx := sess.ctx.Clone()
	if err := txCtx.Attach(tx); err != nil {
		tx.Cancel(sess.ctx)
		return uuid.UUID{}, err
	}

	b.mu.Lock()
	b.transactions[txnID] = &openTxn{ID: txnID, Session: sessionID, ctx: txCtx}
	b.mu.Unlock()
	return txnID, nil
}

func (b *Bridge) txn(txnID uuid.UUID) (*openTxn, error) {
	b.mu.RLock()
	tx, ok := b.transactions[txnID]
	b.mu.RUnlock()
	if !ok {
		return nil, kerr.New(kerr.InvalidArguments, "unknown transaction %s", txnID)
	}
	return tx, nil
}

func (b *Bridge) dropTxn(txnID uuid.UUID) {
	b.mu.Lock()
	delete(b.transactions, txnID)
	b.mu.Unlock()
}

// CommitTransaction implements commit_transaction.
func (b *Bridge) CommitTransaction(txnID uuid.UUID) error {
	tx, err := b.txn(txnID)
	if err != nil {
		return err
	}
	defer b.dropTxn(txnID)

	kvtx, err := tx.ctx.Tx()
	if err != nil {
		return err
	}
	if err := kvtx.CompleteChanges(tx.ctx, false); err != nil {
		kvtx.Cancel(tx.ctx)
		return err
	}
	if err := kvtx.Commit(tx.ctx); err != nil {
		return err
	}

	if sess, err := b.session(tx.Session); err == nil {
		sess.mu.Lock()
		tx.ctx.Detach()
		sess.ctx = tx.ctx
		sess.mu.Unlock()
	}
	return nil
}

// CancelTransaction implements cancel_transaction; the session's persisted
// Context is left exactly where it was before BeginTransaction (no USE/LET
// mutation from the cancelled transaction survives, preserving atomicity
// guarantee).
func (b *Bridge) CancelTransaction(txnID uuid.UUID) error {
	tx, err := b.txn(txnID)
	if err != nil {
		return err
	}
	defer b.dropTxn(txnID)

	kvtx, err := tx.ctx.Tx()
	if err != nil {
		return err
	}
	kvtx.Cancel(tx.ctx)
	tx.ctx.Detach()
	return nil
}

// Query implements the query(session_id, txn_id?, sql, vars). Parsing is
// delegated to b.Parser; variables are bound ahead of execution the same
// way Bridge.SetVariable binds a persistent one, but scoped to just this
// call. Without an explicit txn_id, the whole statement stream runs through
// Executor.Execute, which owns Mode 1/Mode 2 transaction bracketing itself;
// with one, each statement runs individually against the caller's already-
// open transaction via Executor.EvalStatement, and USE/LET/OPTION are bound
// back into the transaction's Context here since EvalStatement's single
// return value can't carry a derived Context the way Execute's internal
// loop does.
func (b *Bridge) Query(sessionID uuid.UUID, txnID *uuid.UUID, sql string, variables map[string]value.Value) ([]QueryChunk, error) {
	stmts, err := b.Parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	return b.queryStmts(sessionID, txnID, stmts, variables)
}

// QueryParsed runs an already-parsed statement stream the same way
// Query does, skipping the Parser call. Bridge.Import uses this to
// replay a dump it parsed once up front.
func (b *Bridge) QueryParsed(sessionID uuid.UUID, stmts []ast.Stmt, variables map[string]value.Value) ([]QueryChunk, error) {
	return b.queryStmts(sessionID, nil, stmts, variables)
}

func (b *Bridge) queryStmts(sessionID uuid.UUID, txnID *uuid.UUID, stmts []ast.Stmt, variables map[string]value.Value) ([]QueryChunk, error) {
	var (
		chunks []QueryChunk
		err    error
	)
	if txnID != nil {
		chunks, err = b.queryInTxn(*txnID, stmts, variables)
	} else {
		chunks, err = b.queryBare(sessionID, stmts, variables)
	}
	if err != nil {
		return nil, err
	}
	b.recordLiveOwnership(sessionID, stmts, chunks)
	return chunks, nil
}

func (b *Bridge) queryBare(sessionID uuid.UUID, stmts []ast.Stmt, variables map[string]value.Value) ([]QueryChunk, error) {
	sess, err := b.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	callCtx := sess.ctx
	for name, v := range variables {
		callCtx = callCtx.WithVar(name, v)
	}

	responses, next, err := b.Exec.Execute(callCtx, stmts)
	if err != nil {
		return nil, err
	}
	sess.ctx = next
	return chunksFromResponses(responses), nil
}

func (b *Bridge) queryInTxn(txnID uuid.UUID, stmts []ast.Stmt, variables map[string]value.Value) ([]QueryChunk, error) {
	tx, err := b.txn(txnID)
	if err != nil {
		return nil, err
	}

	ctx := tx.ctx
	for name, v := range variables {
		ctx = ctx.WithVar(name, v)
	}

	chunks := make([]QueryChunk, 0, len(stmts))
	for i, stmt := range stmts {
		start := time.Now()

		if lt, ok := stmt.(ast.LetStmt); ok {
			next, v, err := b.Exec.BindLet(ctx, lt.Let)
			chunks = append(chunks, chunkFor(i, len(stmts), v, err, time.Since(start)))
			if err != nil {
				break
			}
			ctx = next
			continue
		}

		v, evalErr := b.Exec.EvalStatement(ctx, stmt)
		chunks = append(chunks, chunkFor(i, len(stmts), v, evalErr, time.Since(start)))
		if evalErr != nil {
			break
		}
	}

	tx.ctx = ctx
	return chunks, nil
}

func chunkFor(i, total int, v value.Value, err error, elapsed time.Duration) QueryChunk {
	kind := Batched
	if total == 1 {
		kind = Single
	} else if i == total-1 {
		kind = BatchedFinal
	}
	return QueryChunk{QueryIndex: i, Batch: total, Kind: kind, Stats: elapsed, Result: v, Err: err}
}

func chunksFromResponses(rs []dbs.Response) []QueryChunk {
	out := make([]QueryChunk, len(rs))
	for i, r := range rs {
		kind := Batched
		switch {
		case len(rs) == 1:
			kind = Single
		case i == len(rs)-1:
			kind = BatchedFinal
		}
		out[i] = QueryChunk{
			QueryIndex: i,
			Batch:      len(rs),
			Kind:       kind,
			Stats:      r.Time,
			Result:     r.Result,
			Type:       r.QueryType,
			Err:        r.Err,
		}
	}
	return out
}
