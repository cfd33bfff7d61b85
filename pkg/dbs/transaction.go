package dbs

import (
	"context"
	"time"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/value"
)

// txModeLabel names a kvs.Mode for the TransactionsOpen/TransactionsTotal
// label set.
func txModeLabel(mode kvs.Mode) string {
	if mode == kvs.ReadOnly {
		return "read"
	}
	return "write"
}

// trackTxnOpen increments TransactionsOpen for mode and returns the
// start time tracked by trackTxnClose for TransactionDuration.
func trackTxnOpen(mode kvs.Mode) time.Time {
	metrics.TransactionsOpen.WithLabelValues(txModeLabel(mode)).Inc()
	return time.Now()
}

// trackTxnClose records one transaction's terminal outcome (commit or
// cancel), the counterpart to trackTxnOpen.
func trackTxnClose(mode kvs.Mode, start time.Time, outcome string) {
	metrics.TransactionsOpen.WithLabelValues(txModeLabel(mode)).Dec()
	metrics.TransactionsTotal.WithLabelValues(outcome).Inc()
	metrics.TransactionDuration.Observe(time.Since(start).Seconds())
}

// isSilent reports the statements that contribute no row to the
// response vector: Begin/Commit/Cancel/
// Option never produce a result on their own.
func isSilent(stmt ast.Stmt) bool {
	switch stmt.(type) {
	case ast.Begin, ast.Commit, ast.Cancel, ast.Option:
		return true
	}
	return false
}

// Execute runs a parsed statement stream against root (a session's
// persisted *Context), implementing the two execution modes. It returns one
// Response per non-silent statement plus the *Context the session should
// persist going forward (USE/LET mutations from a bare statement, and
// USE/LET/OPTION mutations from a committed block, carry over to the next
// call; a bare OPTION outside a block is a no-op).
func (ex *Executor) Execute(root *Context, stmts []ast.Stmt) ([]Response, *Context, error) {
	cur := root
	var out []Response

	for i := 0; i < len(stmts); i++ {
		stmt := stmts[i]

		if _, ok := stmt.(ast.Begin); ok {
			blockEnd, rs, next, err := ex.runBlock(cur, stmts, i)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, rs...)
			cur = next
			i = blockEnd
			continue
		}

		if isSilent(stmt) {
			// A bare Commit/Cancel/Option outside BEGIN has no open transaction to
			// act on; treat as a silent no-op matching 's "every Begin is matched,
			// every Commit/Cancel closes the most recent Begin" invariant (P-less
			// here since there is nothing to close).
			continue
		}

		if lt, ok := stmt.(ast.LetStmt); ok {
			resp, next := ex.runBareLet(cur, lt.Let)
			out = append(out, resp)
			cur = next
			continue
		}

		resp, next := ex.runBareStatement(cur, stmt)
		out = append(out, resp)
		cur = next
	}
	return out, cur, nil
}

// runBareStatement implements Mode 1: open a fresh
// transaction scoped to exactly this statement, attach it, run the
// statement's computation, and finalize it by outcome: a successful
// write flushes changes and commits; a successful read cancels (nothing
// to persist, and the underlying driver rejects committing a read-only
// handle); an error always cancels.
func (ex *Executor) runBareStatement(cur *Context, stmt ast.Stmt) (Response, *Context) {
	start := time.Now()

	tx, mode, err := ex.beginStatementTxn(cur, stmt)
	if err != nil {
		return errResponse(err, time.Since(start)), cur
	}
	txnStart := trackTxnOpen(mode)

	txCtx := cur.clone()
	if err := txCtx.Attach(tx); err != nil {
		tx.Cancel(cur)
		trackTxnClose(mode, txnStart, "cancel")
		return errResponse(err, time.Since(start)), cur
	}

	v, runErr := ex.runComputation(txCtx, stmt)

	if runErr != nil {
		tx.Cancel(cur)
		trackTxnClose(mode, txnStart, "cancel")
		txCtx.Detach()
		elapsed := time.Since(start)
		ex.logSlowQuery(stmt, elapsed)
		metrics.QueriesTotal.WithLabelValues(stmtKindName(stmt), "error").Inc()
		return errResponse(runErr, elapsed), cur
	}

	if mode == kvs.ReadOnly {
		tx.Cancel(cur)
		trackTxnClose(mode, txnStart, "commit")
		txCtx.Detach()
	} else {
		if cerr := tx.CompleteChanges(cur, false); cerr != nil {
			tx.Cancel(cur)
			trackTxnClose(mode, txnStart, "cancel")
			txCtx.Detach()
			return errResponse(cerr, time.Since(start)), cur
		}
		if cerr := tx.Commit(cur); cerr != nil {
			trackTxnClose(mode, txnStart, "cancel")
			txCtx.Detach()
			return errResponse(cerr, time.Since(start)), cur
		}
		trackTxnClose(mode, txnStart, "commit")
		txCtx.Detach()
	}

	elapsed := time.Since(start)
	ex.logSlowQuery(stmt, elapsed)
	metrics.QueryDuration.WithLabelValues(stmtKindName(stmt)).Observe(elapsed.Seconds())
	metrics.QueriesTotal.WithLabelValues(stmtKindName(stmt), "ok").Inc()

	// USE mutates txCtx directly (applyUse), so a bare USE carries a
	// clone of txCtx forward. A bare LET never reaches here: Execute
	// routes it to runBareLet, which carries its binding forward.
	next := cur
	if _, ok := stmt.(ast.Use); ok {
		next = txCtx.clone()
		next.owner = nil
	}
	return okResponse(v, elapsed), next
}

// runBareLet implements a top-level LET outside any BEGIN block: its
// expression may read through a subquery, so it still runs under a fresh
// per-statement transaction exactly like runBareStatement, but the binding
// it produces is folded into the Context returned for the next statement
// via BindLet instead of being discarded.
func (ex *Executor) runBareLet(cur *Context, lt ast.Let) (Response, *Context) {
	start := time.Now()

	tx, err := ex.Store.Transaction(cur, kvs.ReadOnly, kvs.Optimistic)
	if err != nil {
		return errResponse(err, time.Since(start)), cur
	}
	txnStart := trackTxnOpen(kvs.ReadOnly)

	txCtx := cur.clone()
	if err := txCtx.Attach(tx); err != nil {
		tx.Cancel(cur)
		trackTxnClose(kvs.ReadOnly, txnStart, "cancel")
		return errResponse(err, time.Since(start)), cur
	}

	next, v, err := ex.BindLet(txCtx, lt)
	tx.Cancel(cur)
	trackTxnClose(kvs.ReadOnly, txnStart, "cancel")
	txCtx.Detach()
	if err != nil {
		return errResponse(err, time.Since(start)), cur
	}

	next.owner = nil
	return okResponse(v, time.Since(start)), next
}

// runBlock implements Mode 2: a BEGIN...COMMIT/CANCEL
// bracket runs every statement between them against one shared
// transaction and one shared Context (so LET bindings and USE persist
// statement-to-statement within the block). begin is the index of the
// Begin statement in stmts; it returns the index of the statement that
// closed the block (Commit/Cancel, or len(stmts)-1 if the stream ran out
// first) along with the Responses produced and the Context to carry
// forward.
func (ex *Executor) runBlock(cur *Context, stmts []ast.Stmt, begin int) (int, []Response, *Context, error) {
	start := time.Now()
	var responses []Response

	tx, err := ex.Store.Transaction(cur, kvs.ReadWrite, kvs.Optimistic)
	if err != nil {
		return begin, []Response{errResponse(err, time.Since(start))}, cur, nil
	}
	txnStart := trackTxnOpen(kvs.ReadWrite)

	blockCtx := cur.clone()
	if err := blockCtx.Attach(tx); err != nil {
		tx.Cancel(cur)
		trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
		return begin, []Response{errResponse(err, time.Since(start))}, cur, nil
	}

	var (
		failed    bool
		cancelled bool
		returned  bool
		endIdx    = len(stmts) - 1
	)

	i := begin + 1
stmtLoop:
	for ; i < len(stmts); i++ {
		stmt := stmts[i]

		if _, ok := stmt.(ast.Begin); ok {
			// Nested BEGIN inside an open block: cancels the open transaction and
			// fast-forwards to the next Commit/Cancel without executing anything in
			// between; every non-silent statement in the block (this one included)
			// gets the same QueryNotExecutedDetail row.
			responses = append(responses, errResponse(
				kerr.New(kerr.QueryNotExecutedDetail, "Tried to start a transaction while another transaction was open"),
				0))
			endIdx = fastForwardToBracketEnd(stmts, i, &responses)
			tx.Cancel(cur)
			trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
			blockCtx.Detach()
			rewrite(responses, kerr.QueryNotExecutedDetail, "Tried to start a transaction while another transaction was open")
			return endIdx, responses, cur, nil
		}

		if _, ok := stmt.(ast.Commit); ok {
			endIdx = i
			break
		}
		if _, ok := stmt.(ast.Cancel); ok {
			endIdx = i
			cancelled = true
			break
		}
		if opt, ok := stmt.(ast.Option); ok {
			blockCtx.Options = applyOption(blockCtx.Options, opt)
			continue
		}

		if returned {
			// Mode 2: once a RETURN has fired, every subsequent non-boundary
			// statement is skipped outright (not executed, no response row) until
			// the block's Commit/Cancel.
			continue
		}

		if lt, ok := stmt.(ast.LetStmt); ok {
			stmtStart := time.Now()
			next, v, err := ex.BindLet(blockCtx, lt.Let)
			elapsed := time.Since(stmtStart)
			if err != nil {
				responses = append(responses, errResponse(err, elapsed))
				failed = true
				break
			}
			blockCtx = next
			responses = append(responses, okResponse(v, elapsed))
			if ctxErr := blockCtx.Err(); ctxErr != nil {
				failed = true
				break
			}
			continue
		}

		stmtStart := time.Now()
		v, err := ex.evalStmt(blockCtx, stmt)
		elapsed := time.Since(stmtStart)
		if err != nil {
			if cf, ok := asControlFlow(err); ok {
				if cf.signal == signalReturn {
					// RETURN clears every result this block has produced
					// so far and becomes its sole remaining result.
					responses = responses[:0]
					responses = append(responses, okResponse(cf.value, elapsed))
					returned = true
					continue
				}
				responses = append(responses, errResponse(
					kerr.New(kerr.InvalidControlFlow, "BREAK/CONTINUE outside a loop"), elapsed))
				failed = true
				break stmtLoop
			}
			responses = append(responses, errResponse(err, elapsed))
			failed = true
			break
		}
		responses = append(responses, okResponse(v, elapsed))

		if ctxErr := blockCtx.Err(); ctxErr != nil {
			failed = true
			break
		}
	}

	if i >= len(stmts) && !failed {
		// Ran off the end of the statement stream without a matching
		// Commit/Cancel.
		endIdx = len(stmts) - 1
		tx.Cancel(cur)
		trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
		blockCtx.Detach()
		rewrite(responses, kerr.QueryNotExecutedDetail, "Missing COMMIT statement")
		return endIdx, responses, cur, nil
	}

	if failed {
		tx.Cancel(cur)
		trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
		blockCtx.Detach()

		// Propagation policy: a failure inside a block consumes every
		// remaining statement up to the next Commit/Cancel as well, not
		// just the ones already executed — fast-forward past them without
		// running them, recording a placeholder row for each non-silent
		// one so the result count still accounts for them.
		failedAt := len(responses) - 1
		endIdx = fastForwardToBracketEnd(stmts, i, &responses)

		if ctxErr := blockCtx.Err(); ctxErr != nil {
			// A context cancellation/timeout aborts the whole block: no
			// statement's apparent success survives it, so every response
			// (not just the ones after the failure point) is rewritten.
			kind := kerr.QueryCancelled
			if ctxErr == context.DeadlineExceeded {
				kind = kerr.QueryTimedout
			}
			rewrite(responses, kind, "the enclosing transaction was "+string(kind))
			return endIdx, responses, cur, nil
		}
		// The failing statement's own error is already in responses (it
		// was appended right before the loop broke, so it sits at index
		// failedAt); every other statement's apparent result — including
		// the fast-forwarded placeholders just appended — is invalidated
		// since the whole block cancels.
		rewriteExcept(responses, failedAt, kerr.QueryNotExecuted, "a prior statement in this transaction failed")
		return endIdx, responses, cur, nil
	}

	if cancelled {
		tx.Cancel(cur)
		trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
		blockCtx.Detach()
		rewrite(responses, kerr.QueryCancelled, "transaction was cancelled")
		return endIdx, responses, cur, nil
	}

	// Commit path.
	if cerr := tx.CompleteChanges(cur, false); cerr != nil {
		tx.Cancel(cur)
		trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
		blockCtx.Detach()
		rewrite(responses, kerr.QueryNotExecutedDetail, cerr.Error())
		return endIdx, responses, cur, nil
	}
	if cerr := tx.Commit(cur); cerr != nil {
		trackTxnClose(kvs.ReadWrite, txnStart, "cancel")
		blockCtx.Detach()
		rewrite(responses, kerr.QueryNotExecutedDetail, cerr.Error())
		return endIdx, responses, cur, nil
	}
	trackTxnClose(kvs.ReadWrite, txnStart, "commit")
	blockCtx.Detach()

	next := blockCtx.clone()
	next.owner = nil
	return endIdx, responses, next, nil
}

// fastForwardToBracketEnd scans stmts[from+1:] for the Commit/Cancel that
// closes the current bracket without executing anything in between. It
// appends a placeholder response for every non-silent statement it skips
// (callers rewrite them to the appropriate error kind alongside the rest of
// responses) and returns the index that closes the block, or len(stmts)-1
// if the stream runs out first.
func fastForwardToBracketEnd(stmts []ast.Stmt, from int, responses *[]Response) int {
	for j := from + 1; j < len(stmts); j++ {
		switch s := stmts[j].(type) {
		case ast.Commit:
			return j
		case ast.Cancel:
			return j
		default:
			if !isSilent(s) {
				*responses = append(*responses, errResponse(
					kerr.New(kerr.QueryNotExecuted, "transaction block already failed"), 0))
			}
		}
	}
	return len(stmts) - 1
}

// rewriteExcept rewrites every response except the one at index keep (the
// statement that actually failed keeps its own error); it is used when a
// later statement's failure invalidates everything that already looked like
// it succeeded earlier in the same block.
func rewriteExcept(rs []Response, keep int, kind kerr.Kind, msg string) {
	for i := range rs {
		if i == keep {
			continue
		}
		rs[i].Result = value.Value{}
		rs[i].Err = kerr.New(kind, "%s", msg)
	}
}

func applyOption(o Options, opt ast.Option) Options {
	switch opt.Name {
	case "FORCE":
		o.Force = opt.Value
	case "IMPORT":
		o.Import = opt.Value
	}
	return o
}
