package view

import (
	"context"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/value"
)

// handleMaterialized maintains a materialized, non-aggregated view:
// evaluate CONDITION on the relevant document, recompute Fields if truthy
// (writing the view record at the base record's own key), delete the view
// record otherwise.
func (m *Maintainer) handleMaterialized(ctx context.Context, viewTable *catalog.TableDef, initial, current value.Value, action Action) ([]ViewWrite, error) {
	d := current
	if action == ActionDelete {
		d = initial
	}

	key := ownKey(d)
	if key.IsNone() {
		return nil, nil
	}

	truthy := true
	if viewTable.View.Condition != nil {
		v, err := m.Eval.Eval(ctx, viewTable.View.Condition.(ast.Expr), scope(d))
		if err != nil {
			return nil, err
		}
		truthy = v.Truthy()
	}

	if action == ActionDelete || !truthy {
		return []ViewWrite{{Table: viewTable.Name, Key: key, Delete: true}}, nil
	}

	fields, err := evalFields(ctx, m.Eval, viewTable.View.Fields, scope(d))
	if err != nil {
		return nil, err
	}
	fields = value.Set(fields, value.ParseIdiom("id"), value.Thing(viewTable.Name, key))

	return []ViewWrite{{Table: viewTable.Name, Key: key, Value: fields}}, nil
}
