package doc

import (
	"context"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/value"
)

// applyField runs the per-field half of the pipeline for one declared
// field (readonly guard, DEFAULT/VALUE/TYPE/ASSERT, permissions,
// write-back), expanding wildcards against every matching position in
// current.
func (p *Pipeline) applyField(ctx context.Context, tbl *catalog.TableDef, f *catalog.FieldDef, initial, input, current value.Value, isNew, checkPermissions bool) (value.Value, error) {
	matches := value.GetAll(current, f.Path)
	if len(matches) == 0 && !containsWildcard(f.Path) {
		// The field's own path is absent outright (not even NONE):
		// process it once anyway so DEFAULT/VALUE can populate it.
		matches = []struct {
			Path  value.Idiom
			Value value.Value
		}{{Path: f.Path, Value: value.None()}}
	}

	for _, m := range matches {
		old := value.Get(initial, m.Path)
		before := old

		if f.Readonly && !isNew {
			if !value.Equal(m.Value, old) {
				if isOmittedByContent(input, m.Path) {
					current = value.Set(current, m.Path, old)
					continue
				}
				return value.Value{}, kerr.New(kerr.FieldReadonly, "field %s is readonly", m.Path).With("field", m.Path.String()).With("record", tbl.Name)
			}
			continue
		}

		if parentSkippable(current, m.Path) {
			continue
		}

		scope := Scope{Before: before, Input: value.Get(input, m.Path), After: current, Value: m.Value}
		computed, err := p.computeFieldValue(ctx, f, scope, isNew)
		if err != nil {
			return value.Value{}, err
		}

		if checkPermissions {
			perm := f.Permissions.Create
			if !isNew {
				perm = f.Permissions.Update
			}
			accepted, err := p.checkPermission(ctx, perm, scope, computed)
			if err != nil {
				return value.Value{}, err
			}
			if !accepted {
				computed = old
			}
		}

		if computed.IsNone() && fieldKindPermitsNone(f) {
			current = value.Delete(current, m.Path)
		} else {
			current = value.Set(current, m.Path, computed)
		}
	}
	return current, nil
}

// computeFieldValue applies the DEFAULT/VALUE/TYPE/ASSERT clauses in
// their required order: VALUE runs before TYPE when the input was
// missing, after it when the input was explicitly provided.
func (p *Pipeline) computeFieldValue(ctx context.Context, f *catalog.FieldDef, scope Scope, isNew bool) (value.Value, error) {
	if f.Computed {
		return value.None(), nil
	}

	v := scope.Value
	if v.IsNone() && f.Default != nil {
		if f.Default.Always || isNew {
			dv, err := p.Eval.Eval(ctx, f.Default.Expr.(ast.Expr), scope)
			if err != nil {
				return value.Value{}, err
			}
			v = dv
			scope.Value = v
		}
	}

	if f.Value != nil {
		valueFirst := scope.Input.IsNone()
		if valueFirst {
			vv, err := p.Eval.Eval(ctx, f.Value.(ast.Expr), scope)
			if err != nil {
				return value.Value{}, err
			}
			v = vv
			scope.Value = v
			v, err = coerceField(f, v)
			if err != nil {
				return value.Value{}, err
			}
		} else {
			cv, err := coerceField(f, v)
			if err != nil {
				return value.Value{}, err
			}
			v = cv
			scope.Value = v
			vv, err := p.Eval.Eval(ctx, f.Value.(ast.Expr), scope)
			if err != nil {
				return value.Value{}, err
			}
			v = vv
		}
	} else {
		cv, err := coerceField(f, v)
		if err != nil {
			return value.Value{}, err
		}
		v = cv
	}
	scope.Value = v

	if f.Assert != nil {
		ok, err := p.Eval.Eval(ctx, f.Assert.(ast.Expr), scope)
		if err != nil {
			return value.Value{}, err
		}
		if !ok.Truthy() && !(v.IsNone() && fieldKindPermitsNone(f)) {
			return value.Value{}, kerr.New(kerr.FieldValue, "ASSERT failed for field %s", f.Path.String()).With("field", f.Path.String())
		}
	}

	return v, nil
}

func coerceField(f *catalog.FieldDef, v value.Value) (value.Value, error) {
	cv, err := value.Coerce(v, f.Kind)
	if err != nil {
		return value.Value{}, kerr.New(kerr.FieldCoerce, "field %s: %v", f.Path.String(), err).With("field", f.Path.String())
	}
	return cv, nil
}

func (p *Pipeline) checkPermission(ctx context.Context, perm catalog.Permission, scope Scope, computed value.Value) (bool, error) {
	if perm.Kind != catalog.PermSpecific {
		return perm.Accept(false), nil
	}
	offScope := scope
	offScope.PermissionsOff = true
	offScope.Value = computed
	result, err := p.Eval.Eval(ctx, perm.Expr.(ast.Expr), offScope)
	if err != nil {
		return false, err
	}
	return perm.Accept(result.Truthy()), nil
}

func fieldKindPermitsNone(f *catalog.FieldDef) bool {
	if f == nil {
		return true
	}
	return f.Kind.PermitsNone()
}

func containsWildcard(idiom value.Idiom) bool {
	for _, p := range idiom {
		if p.Kind == value.PartWildcard {
			return true
		}
	}
	return false
}

// parentSkippable implements step 4: if an ancestor idiom was coerced to
// NONE and its kind permits none, this descendant is skipped.
func parentSkippable(current value.Value, path value.Idiom) bool {
	for i := 1; i < len(path); i++ {
		if value.Get(current, path[:i]).IsNone() {
			return true
		}
	}
	return false
}

// isOmittedByContent reports whether the user's CONTENT input simply
// didn't mention path (as opposed to explicitly setting it to NULL).
func isOmittedByContent(input value.Value, path value.Idiom) bool {
	return value.Get(input, path).IsNone()
}
