package dbs

import (
	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/value"
)

// EvalStatement runs one already-parsed top-level statement against ctx
// exactly the way a bare statement's body runs inside runBareStatement/
// runBlock, but without opening or closing any transaction itself. It is
// the seam pkg/session's explicit begin_transaction/query/commit_transaction
// API uses to interleave several Query calls against one
// caller-managed transaction, something the BEGIN/COMMIT text-level
// brackets in Execute don't support since those open and close their own
// transaction around the whole statement stream.
func (ex *Executor) EvalStatement(ctx *Context, stmt ast.Stmt) (value.Value, error) {
	switch s := stmt.(type) {
	case ast.Begin, ast.Commit, ast.Cancel:
		return value.Value{}, kerr.New(kerr.InvalidStatement,
			"BEGIN/COMMIT/CANCEL text is not valid inside an explicitly managed transaction")
	case ast.Option:
		ctx.Options = applyOption(ctx.Options, s)
		return value.None(), nil
	}
	return ex.runComputation(ctx, stmt)
}
