package doc

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/value"
)

// ComputeInput resolves a statement's data source into one input value.
// current is the document as it stands before this statement (Null() for
// CREATE).
func (p *Pipeline) ComputeInput(ctx context.Context, data *ast.Data, current value.Value, scope Scope) (value.Value, error) {
	if data == nil || data.Kind == ast.DataNone {
		return current, nil
	}
	switch data.Kind {
	case ast.DataContent, ast.DataReplace:
		return p.Eval.Eval(ctx, data.Expr, scope)

	case ast.DataMerge:
		patch, err := p.Eval.Eval(ctx, data.Expr, scope)
		if err != nil {
			return value.Value{}, err
		}
		return mergeInto(value.Clone(current), patch), nil

	case ast.DataPatch:
		return p.applyJSONPatch(ctx, data.Patches, current, scope)

	case ast.DataSet:
		out := value.Clone(current)
		for _, a := range data.Assignments {
			v, err := p.Eval.Eval(ctx, a.Expr, scope)
			if err != nil {
				return value.Value{}, err
			}
			out = value.Set(out, a.Path, v)
		}
		return out, nil

	case ast.DataValues:
		return p.applyValuesRow(ctx, data, scope)

	default:
		return value.Value{}, kerr.UnreachableErr("unknown data source kind %d", data.Kind)
	}
}

// mergeInto shallow-merges patch's top-level keys into base (SurrealQL
// MERGE semantics: present keys overwrite, NONE-valued keys delete).
func mergeInto(base, patch value.Value) value.Value {
	if patch.Tag != value.TagObject {
		return patch
	}
	if base.Tag != value.TagObject {
		base = value.Obj(nil)
	}
	for k, v := range patch.Object {
		if v.IsNone() {
			delete(base.Object, k)
			continue
		}
		base.Object[k] = v
	}
	return base
}

func (p *Pipeline) applyJSONPatch(ctx context.Context, ops []ast.PatchOp, current value.Value, scope Scope) (value.Value, error) {
	type rawOp struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		From  string `json:"from,omitempty"`
		Value any    `json:"value,omitempty"`
	}
	raw := make([]rawOp, len(ops))
	for i, op := range ops {
		r := rawOp{Op: op.Op, Path: op.Path}
		if op.Value != nil {
			v, err := p.Eval.Eval(ctx, op.Value, scope)
			if err != nil {
				return value.Value{}, err
			}
			r.Value = value.ToNative(v)
		}
		raw[i] = r
	}
	patchJSON, err := json.Marshal(raw)
	if err != nil {
		return value.Value{}, err
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "invalid PATCH: %v", err)
	}
	docJSON, err := json.Marshal(value.ToNative(current))
	if err != nil {
		return value.Value{}, err
	}
	patched, err := patch.Apply(docJSON)
	if err != nil {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "PATCH failed: %v", err)
	}
	var native any
	if err := json.Unmarshal(patched, &native); err != nil {
		return value.Value{}, err
	}
	return value.FromNative(native), nil
}

func (p *Pipeline) applyValuesRow(ctx context.Context, data *ast.Data, scope Scope) (value.Value, error) {
	out := value.Obj(nil)
	for _, row := range data.Rows {
		for i, expr := range row {
			if i >= len(data.Columns) {
				break
			}
			v, err := p.Eval.Eval(ctx, expr, scope)
			if err != nil {
				return value.Value{}, err
			}
			out = value.Set(out, value.ParseIdiom(data.Columns[i]), v)
		}
		break // Apply is called once per row by the caller (pkg/dbs), one row at a time
	}
	return out, nil
}
