package view

import (
	"context"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/value"
)

var statsPath = value.ParseIdiom("stats")
var groupPath = value.ParseIdiom("group")
var rowsPath = value.ParseIdiom("rows")

// handleAggregated routes an aggregated view's Create/Update/Delete
// maintenance, applying in-place stat updates where the running state
// allows and recalculating where it doesn't.
func (m *Maintainer) handleAggregated(ctx context.Context, viewTable *catalog.TableDef, initial, current value.Value, action Action) ([]ViewWrite, error) {
	an := viewTable.View.Analysis
	if an == nil {
		return nil, nil
	}

	switch action {
	case ActionCreate:
		group, err := evalGroup(ctx, m.Eval, an, current)
		if err != nil {
			return nil, err
		}
		return m.applyGroup(ctx, viewTable, an, group, value.None(), current, ActionCreate)

	case ActionDelete:
		group, err := evalGroup(ctx, m.Eval, an, initial)
		if err != nil {
			return nil, err
		}
		return m.applyGroup(ctx, viewTable, an, group, initial, value.None(), ActionDelete)

	case ActionUpdate:
		oldGroup, err := evalGroup(ctx, m.Eval, an, initial)
		if err != nil {
			return nil, err
		}
		newGroup, err := evalGroup(ctx, m.Eval, an, current)
		if err != nil {
			return nil, err
		}
		if equalGroups(oldGroup, newGroup) {
			return m.applyGroup(ctx, viewTable, an, newGroup, initial, current, ActionUpdate)
		}
		var writes []ViewWrite
		del, err := m.applyGroup(ctx, viewTable, an, oldGroup, initial, value.None(), ActionDelete)
		if err != nil {
			return nil, err
		}
		writes = append(writes, del...)
		add, err := m.applyGroup(ctx, viewTable, an, newGroup, value.None(), current, ActionCreate)
		if err != nil {
			return nil, err
		}
		writes = append(writes, add...)
		return writes, nil
	}
	return nil, nil
}

func evalGroup(ctx context.Context, eval Evaluator, an *catalog.AggregationAnalysis, d value.Value) ([]value.Value, error) {
	out := make([]value.Value, len(an.GroupExpressions))
	for i, e := range an.GroupExpressions {
		v, err := eval.Eval(ctx, e.(ast.Expr), scope(d))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func equalGroups(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !value.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// applyGroup loads (or zero-initializes) the aggregated view record for
// group, folds one document's contribution into each stat, recalculates
// any stat that reports it can no longer trust its running state, then
// either writes the recomputed Fields or deletes the view record if the
// group is now empty. Emptiness is judged by a per-group row count
// maintained alongside the stats — never by any stat's own running
// count, since count(field) only counts truthy occurrences and a group
// can hold rows whose every counted field is falsy.
func (m *Maintainer) applyGroup(ctx context.Context, viewTable *catalog.TableDef, an *catalog.AggregationAnalysis, group []value.Value, before, after value.Value, action Action) ([]ViewWrite, error) {
	groupKey := value.Arr(group...)

	stats := make([]Stat, len(an.Aggregations))
	meta, found, err := m.Store.GetAggregate(ctx, viewTable.Name, groupKey)
	if err != nil {
		return nil, err
	}
	encoded := value.Get(meta, statsPath)
	for i, kind := range an.Aggregations {
		stats[i] = NewStat(kind)
		if found && encoded.Tag == value.TagArray && i < len(encoded.Array) {
			stats[i].Decode(encoded.Array[i])
		}
	}

	rows := int64(0)
	if found {
		rows = value.Get(meta, rowsPath).Int
	}
	switch action {
	case ActionCreate:
		rows++
	case ActionDelete:
		rows--
	}

	var needsRecalc []int
	for i := range an.Aggregations {
		argExpr := an.AggregateArguments[i].(ast.Expr)
		var oldArg, newArg value.Value
		var err error
		if action != ActionCreate {
			oldArg, err = m.Eval.Eval(ctx, argExpr, scope(before))
			if err != nil {
				return nil, err
			}
		}
		if action != ActionDelete {
			newArg, err = m.Eval.Eval(ctx, argExpr, scope(after))
			if err != nil {
				return nil, err
			}
		}
		if stats[i].Apply(oldArg, newArg, action) {
			needsRecalc = append(needsRecalc, i)
		}
	}

	if len(needsRecalc) > 0 {
		exprs := make([]ast.Expr, len(needsRecalc))
		for j, i := range needsRecalc {
			exprs[j] = an.AggregateArguments[i].(ast.Expr)
		}
		raws, err := m.Store.Recalculate(ctx, viewTable.View.BaseTable, group, exprs)
		if err != nil {
			return nil, err
		}
		for j, i := range needsRecalc {
			if j < len(raws) {
				stats[i].Recalculate(raws[j])
			}
		}
	}

	if rows <= 0 {
		return []ViewWrite{{Table: viewTable.Name, Key: groupKey, Delete: true}}, nil
	}

	synth := buildSynthetic(group, stats)
	fields, err := evalFields(ctx, m.Eval, viewTable.View.Fields, doc.Scope{Value: synth, After: synth})
	if err != nil {
		return nil, err
	}
	fields = value.Set(fields, value.ParseIdiom("id"), value.Thing(viewTable.Name, groupKey))
	fields = value.Set(fields, groupPath, value.Arr(group...))
	fields = value.Set(fields, rowsPath, value.Int(rows))

	encodedStats := make([]value.Value, len(stats))
	for i, s := range stats {
		encodedStats[i] = s.Encode()
	}
	fields = value.Set(fields, statsPath, value.Arr(encodedStats...))

	return []ViewWrite{{Table: viewTable.Name, Key: groupKey, Value: fields}}, nil
}

// buildSynthetic is the document field/Expr evaluation scope's $value:
// the group components under "group" and each stat's current output
// under "stats", positionally matching AggregationAnalysis.Aggregations
// so Fields expressions can reference e.g. stats[0].
func buildSynthetic(group []value.Value, stats []Stat) value.Value {
	outputs := make([]value.Value, len(stats))
	for i, s := range stats {
		outputs[i] = s.Output()
	}
	return value.Obj(map[string]value.Value{
		"group": value.Arr(group...),
		"stats": value.Arr(outputs...),
	})
}
