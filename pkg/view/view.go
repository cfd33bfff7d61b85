// Package view implements Materialized & Aggregated View Maintenance:
// for each write to a base table, recompute or incrementally update the
// records of any foreign table that watches it, reacting to one
// committed change by walking a fixed set of registered dependent views
// and producing writes for the caller to commit rather than writing
// storage itself.
package view

import (
	"context"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/value"
)

// Action is the kind of base-table write that triggered view maintenance.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
)

// Evaluator resolves a view's CONDITION/field/group expressions. Reuses
// doc.Evaluator's shape (and doc.Scope for the binding) so the executor
// supplies one implementation for both packages.
type Evaluator = doc.Evaluator

// Store is the external read/write collaborator for aggregated views: the
// maintainer never touches the KV layer directly, matching the
// pkg/doc.Pipeline / pkg/iterator.IndexSource external-collaborator shape.
type Store interface {
	// GetAggregate loads the current metadata object for the aggregated
	// view record keyed by group, or found=false if none exists yet.
	GetAggregate(ctx context.Context, viewTable string, group value.Value) (meta value.Value, found bool, err error)

	// Recalculate re-derives raw stat inputs for group by scanning the
	// base table.
	// raws[i] corresponds to exprs[i]; applyGroup passes only the
	// arguments of the stats that asked for recalculation.
	Recalculate(ctx context.Context, baseTable string, group []value.Value, exprs []ast.Expr) (raws []value.Value, err error)
}

// ViewWrite is one record-level effect the maintainer asks its caller to
// apply: a full replace at (Table, Key), or a delete.
type ViewWrite struct {
	Table  string
	Key    value.Value
	Delete bool
	Value  value.Value
}

// Maintainer runs view maintenance for one table write.
type Maintainer struct {
	Eval  Evaluator
	Store Store
}

// HandleWrite dispatches on the view's kind. viewTable is the foreign
// table carrying the ViewDefinition; initial/current are the base
// record's pre/post image (initial only, for ActionDelete).
func (m *Maintainer) HandleWrite(ctx context.Context, viewTable *catalog.TableDef, initial, current value.Value, action Action) ([]ViewWrite, error) {
	if viewTable.View == nil {
		return nil, nil
	}
	switch viewTable.View.Kind {
	case catalog.ViewSelect:
		return nil, nil
	case catalog.ViewMaterialized:
		return m.handleMaterialized(ctx, viewTable, initial, current, action)
	case catalog.ViewAggregated:
		return m.handleAggregated(ctx, viewTable, initial, current, action)
	}
	return nil, nil
}

func scope(v value.Value) doc.Scope { return doc.Scope{Value: v, After: v} }

func ownKey(d value.Value) value.Value {
	id := value.Get(d, value.ParseIdiom("id"))
	if id.Tag != value.TagRecordID {
		return value.None()
	}
	return id.RecordID.Key
}

func evalFields(ctx context.Context, eval Evaluator, fields []catalog.AggregateField, sc doc.Scope) (value.Value, error) {
	out := map[string]value.Value{}
	for _, f := range fields {
		v, err := eval.Eval(ctx, f.Expr.(ast.Expr), sc)
		if err != nil {
			return value.Value{}, err
		}
		out[f.Name] = v
	}
	return value.Obj(out), nil
}
