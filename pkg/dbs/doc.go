// Package dbs implements the Executor and Transaction Manager: statement
// dispatch, transaction-bracket lifecycle (explicit BEGIN/COMMIT/CANCEL and
// the implicit per-statement transaction), control-flow handling
// (RETURN/BREAK/CONTINUE), and the concrete collaborator implementations
// pkg/doc, pkg/iterator, and pkg/view consume as external seams (Evaluator,
// IndexSource, view.Store). Statement dispatch works over a closed set of
// tagged operations, folding each into one piece of shared state and
// returning accumulated results to the caller rather than embedding a
// parser or a wire protocol of its own.
package dbs
