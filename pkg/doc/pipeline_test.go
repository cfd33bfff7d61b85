package doc

import (
	"context"
	"testing"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/value"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator evaluates just enough of ast.Expr to drive the pipeline
// tests: literals, $value/$before/$input/$after idiom lookups, and
// Binary comparisons for ASSERT clauses.
type fakeEvaluator struct{}

func (fakeEvaluator) Eval(ctx context.Context, expr ast.Expr, scope Scope) (value.Value, error) {
	switch e := expr.(type) {
	case ast.Lit:
		return e.Value, nil
	case ast.IdiomExpr:
		base := scope.Value
		if e.Base != nil {
			b, err := fakeEvaluator{}.Eval(ctx, e.Base, scope)
			if err != nil {
				return value.Value{}, err
			}
			base = b
		}
		return value.Get(base, e.Path), nil
	case ast.Binary:
		l, err := fakeEvaluator{}.Eval(ctx, e.Left, scope)
		if err != nil {
			return value.Value{}, err
		}
		r, err := fakeEvaluator{}.Eval(ctx, e.Right, scope)
		if err != nil {
			return value.Value{}, err
		}
		cmp := value.Compare(l, r)
		switch e.Op {
		case ast.OpGt:
			return value.Bool(cmp > 0), nil
		case ast.OpGte:
			return value.Bool(cmp >= 0), nil
		case ast.OpEq:
			return value.Bool(cmp == 0), nil
		}
	}
	return value.None(), nil
}

func strField(table, name string) *catalog.FieldDef {
	return &catalog.FieldDef{Table: table, Path: value.ParseIdiom(name), Kind: value.Kind{Tag: value.KString}}
}

func TestPipelineDefaultAndType(t *testing.T) {
	tbl := &catalog.TableDef{Name: "person", Schemafull: true}
	nameField := strField("person", "name")
	statusField := &catalog.FieldDef{
		Table: "person", Path: value.ParseIdiom("status"),
		Kind:    value.Kind{Tag: value.KString},
		Default: &catalog.DefaultClause{Always: true, Expr: ast.Lit{Value: value.Str("active")}},
	}
	require.NoError(t, tbl.AddField(nameField))
	require.NoError(t, tbl.AddField(statusField))

	p := &Pipeline{Eval: fakeEvaluator{}}
	input := value.Obj(map[string]value.Value{"name": value.Str("ann")})

	res, err := p.Apply(context.Background(), tbl, value.Null(), input, true, false)
	require.NoError(t, err)
	require.Equal(t, "ann", res.Value.Object["name"].Str)
	require.Equal(t, "active", res.Value.Object["status"].Str)
}

func TestPipelineAssertFailure(t *testing.T) {
	tbl := &catalog.TableDef{Name: "account", Schemafull: true}
	require.NoError(t, tbl.AddField(&catalog.FieldDef{
		Table: "account", Path: value.ParseIdiom("balance"),
		Kind:   value.Kind{Tag: value.KInt},
		Assert: ast.Binary{Op: ast.OpGte, Left: ast.IdiomExpr{}, Right: ast.Lit{Value: value.Int(0)}},
	}))

	p := &Pipeline{Eval: fakeEvaluator{}}
	input := value.Obj(map[string]value.Value{"balance": value.Int(-5)})

	_, err := p.Apply(context.Background(), tbl, value.Null(), input, true, false)
	require.Error(t, err)
}

func TestPipelineReadonlyRejectsChange(t *testing.T) {
	tbl := &catalog.TableDef{Name: "doc", Schemafull: true}
	require.NoError(t, tbl.AddField(&catalog.FieldDef{
		Table: "doc", Path: value.ParseIdiom("owner"),
		Kind: value.Kind{Tag: value.KString}, Readonly: true,
	}))

	initial := value.Obj(map[string]value.Value{"owner": value.Str("ann")})
	input := value.Obj(map[string]value.Value{"owner": value.Str("bob")})

	p := &Pipeline{Eval: fakeEvaluator{}}
	_, err := p.Apply(context.Background(), tbl, initial, input, false, false)
	require.Error(t, err)
}

func TestSchemafullCleanupStripsUndefinedField(t *testing.T) {
	tbl := &catalog.TableDef{Name: "doc", Schemafull: true}
	require.NoError(t, tbl.AddField(strField("doc", "title")))

	p := &Pipeline{Eval: fakeEvaluator{}}
	input := value.Obj(map[string]value.Value{
		"title":   value.Str("hello"),
		"scratch": value.Str("should be removed"),
	})

	res, err := p.Apply(context.Background(), tbl, value.Null(), input, true, false)
	require.NoError(t, err)
	_, present := res.Value.Object["scratch"]
	require.False(t, present)
	require.Equal(t, "hello", res.Value.Object["title"].Str)
}

func TestReferenceDiffEmitsSetAndDelete(t *testing.T) {
	tbl := &catalog.TableDef{Name: "post", Schemafull: true}
	require.NoError(t, tbl.AddField(&catalog.FieldDef{
		Table: "post", Path: value.ParseIdiom("author"),
		Kind: value.Kind{Tag: value.KRecord, Tables: []string{"person"}}, Reference: true,
	}))

	initial := value.Obj(map[string]value.Value{
		"id":     value.Thing("post", value.Str("1")),
		"author": value.Thing("person", value.Str("ann")),
	})
	input := value.Obj(map[string]value.Value{
		"id":     value.Thing("post", value.Str("1")),
		"author": value.Thing("person", value.Str("bob")),
	})

	p := &Pipeline{Eval: fakeEvaluator{}}
	res, err := p.Apply(context.Background(), tbl, initial, input, false, false)
	require.NoError(t, err)
	require.Len(t, res.References, 2)

	var sawDelete, sawSet bool
	for _, rc := range res.References {
		if rc.Delete && rc.TargetKey.Str == "ann" {
			sawDelete = true
		}
		if !rc.Delete && rc.TargetKey.Str == "bob" {
			sawSet = true
		}
	}
	require.True(t, sawDelete)
	require.True(t, sawSet)
}
