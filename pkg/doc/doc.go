// Package doc implements the Document Mutation Pipeline:
// per-record application of a table's DEFINE FIELD schema, in the order
// the fields were declared, followed by a schemafull cleanup pass and
// REFERENCE maintenance, walking a fixed, ordered list of declared field
// handlers and applying each to one record in sequence.
package doc

import (
	"context"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/value"
)

// Evaluator is the expression-evaluation collaborator the pipeline asks
// to resolve DEFAULT/VALUE/ASSERT/permission expressions against a
// scope. The executor (pkg/dbs) supplies the concrete implementation;
// this package never walks an ast.Expr itself, the same external-
// collaborator shape pkg/iterator's IndexSource uses for index plans.
type Evaluator interface {
	Eval(ctx context.Context, expr ast.Expr, scope Scope) (value.Value, error)
}

// Scope carries the four bindings step 5 scopes field computation under.
type Scope struct {
	Before value.Value // $before: old document
	Input  value.Value // $input: user-supplied value for this field
	After  value.Value // $after: current in-progress document
	Value  value.Value // $value: alias for After at the field's own path

	PermissionsOff bool // true while evaluating view/trigger-internal flows
}

// ReferenceChange is one REFERENCE-field maintenance write the pipeline
// asks the caller to apply: the caller owns the actual
// KV write since it alone knows the surrounding transaction.
type ReferenceChange struct {
	Delete     bool
	TargetTb   string
	TargetKey  value.Value
	SourceTb   string
	SourceKey  value.Value
	FieldPath  string
}

// Pipeline runs the document mutation pipeline against one table.
type Pipeline struct {
	Eval Evaluator
}

// Result is everything the pipeline produced for one record.
type Result struct {
	Value      value.Value
	References []ReferenceChange
}

// Apply runs the full pipeline for one (current, initial) pair: input
// computation, field enumeration, schemafull cleanup, and REFERENCE
// diffing. data/input is the statement's already-resolved input value
// (see ComputeInput); initial is the pre-image (Null() for CREATE).
func (p *Pipeline) Apply(ctx context.Context, tbl *catalog.TableDef, initial, input value.Value, isNew, checkPermissions bool) (Result, error) {
	current := seedCurrent(initial, input, isNew)

	for _, f := range tbl.Fields() {
		var err error
		current, err = p.applyField(ctx, tbl, f, initial, input, current, isNew, checkPermissions)
		if err != nil {
			return Result{}, err
		}
	}

	current = cleanup(tbl, current)

	refs := diffReferences(tbl, initial, current)

	return Result{Value: current, References: refs}, nil
}

// seedCurrent starts the in-progress document from the input (CONTENT,
// REPLACE, MERGE-patched current, ...); field processing then overlays
// DEFAULT/VALUE/TYPE/ASSERT per declared field on top of it. Existing
// fields from initial not touched by input already survive, since
// ComputeInput folds them in for MERGE/PATCH/SET before the pipeline
// ever sees the value.
func seedCurrent(initial, input value.Value, isNew bool) value.Value {
	return value.Clone(input)
}
