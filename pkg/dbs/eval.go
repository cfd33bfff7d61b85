package dbs

import (
	"context"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/value"
)

func kerrNestingTooDeep(max int) error {
	return kerr.New(kerr.InvalidStatement, "expression nesting exceeds the limit of %d", max)
}

// docEvaluator adapts compute() to the doc.Evaluator / view.Evaluator
// seam: both packages ask an external collaborator to resolve an
// ast.Expr against a doc.Scope binding without ever walking the tree
// themselves.
type docEvaluator struct{ exec *Executor }

func (d docEvaluator) Eval(ctx context.Context, expr ast.Expr, scope doc.Scope) (value.Value, error) {
	dc, ok := ctx.(*Context)
	if !ok {
		return value.Value{}, kerr.UnreachableErr("docEvaluator.Eval called with a non-*dbs.Context")
	}
	return compute(dc.WithScope(scope), expr)
}

// compute evaluates one ast.Expr against ctx, implementing the "arbitrary
// computation" surface. It returns *controlFlow (not a kerr.Error) when
// expr is, or contains at its own level, a bare Return/Break/Continue —
// callers that must catch one of these (Block/For/the statement loop) type-
// assert via asControlFlow; everything else propagates it like any other
// error.
func compute(ctx *Context, expr ast.Expr) (value.Value, error) {
	switch e := expr.(type) {
	case ast.Lit:
		return e.Value, nil

	case ast.Param:
		return evalParam(ctx, e.Name), nil

	case ast.Ident:
		return evalIdiom(ctx, nil, value.ParseIdiom(e.Name))

	case ast.IdiomExpr:
		return evalIdiom(ctx, e.Base, e.Path)

	case ast.Binary:
		return evalBinary(ctx, e)

	case ast.Unary:
		v, err := compute(ctx, e.Expr)
		if err != nil {
			return value.Value{}, err
		}
		if e.Not {
			return value.Bool(!v.Truthy()), nil
		}
		return v, nil

	case ast.FuncCall:
		return callFunc(ctx, e)

	case ast.ArrayExpr:
		out := make([]value.Value, len(e.Items))
		for i, item := range e.Items {
			v, err := compute(ctx, item)
			if err != nil {
				return value.Value{}, err
			}
			out[i] = v
		}
		return value.Arr(out...), nil

	case ast.ObjectExpr:
		out := map[string]value.Value{}
		for k, fe := range e.Fields {
			v, err := compute(ctx, fe)
			if err != nil {
				return value.Value{}, err
			}
			out[k] = v
		}
		return value.Obj(out), nil

	case ast.ClosureExpr:
		env := make(map[string]value.Value, len(ctx.vars))
		for k, v := range ctx.vars {
			env[k] = v
		}
		return value.Value{Tag: value.TagClosure, Closure: &value.Closure{Params: e.Params, Body: e.Body, Env: env}}, nil

	case ast.If:
		return evalIf(ctx, e)

	case ast.For:
		return evalFor(ctx, e)

	case ast.Block:
		return evalBlock(ctx, e)

	case ast.Return:
		v, err := compute(ctx, e.Value)
		if err != nil {
			return value.Value{}, err
		}
		return value.Value{}, returnSignal(v)

	case ast.Break:
		return value.Value{}, breakSignal()

	case ast.Continue:
		return value.Value{}, continueSignal()

	case ast.Throw:
		v, err := compute(ctx, e.Value)
		if err != nil {
			return value.Value{}, err
		}
		return value.Value{}, kerr.New(kerr.InvalidStatement, "%s", v.String()).With("thrown", v)

	case ast.Let:
		return compute(ctx, e.Expr)

	case ast.Select, ast.Create, ast.Update, ast.Delete, ast.Relate, ast.Insert:
		return ctx.Exec.execSubquery(ctx, expr)
	}
	return value.Value{}, kerr.UnreachableErr("unhandled expression type %T", expr)
}

func evalParam(ctx *Context, name string) value.Value {
	if ctx.Scope != nil {
		switch name {
		case "before":
			return ctx.Scope.Before
		case "after":
			return ctx.Scope.After
		case "input":
			return ctx.Scope.Input
		case "value", "this":
			return ctx.Scope.Value
		}
	}
	return ctx.Var(name)
}

// evalIdiom resolves Base (nil means the current document, i.e.
// ctx.Scope.Value — the same convention doc/pipeline_test.go's
// fakeEvaluator implements) then navigates Path.
func evalIdiom(ctx *Context, base ast.Expr, path value.Idiom) (value.Value, error) {
	var root value.Value
	if base == nil {
		if ctx.Scope != nil {
			root = ctx.Scope.Value
		}
	} else {
		v, err := compute(ctx, base)
		if err != nil {
			return value.Value{}, err
		}
		root = v
	}
	return value.Get(root, path), nil
}

func evalBinary(ctx *Context, e ast.Binary) (value.Value, error) {
	if e.Op == ast.OpAnd {
		l, err := compute(ctx, e.Left)
		if err != nil {
			return value.Value{}, err
		}
		if !l.Truthy() {
			return value.Bool(false), nil
		}
		r, err := compute(ctx, e.Right)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(r.Truthy()), nil
	}
	if e.Op == ast.OpOr {
		l, err := compute(ctx, e.Left)
		if err != nil {
			return value.Value{}, err
		}
		if l.Truthy() {
			return value.Bool(true), nil
		}
		r, err := compute(ctx, e.Right)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(r.Truthy()), nil
	}

	l, err := compute(ctx, e.Left)
	if err != nil {
		return value.Value{}, err
	}
	r, err := compute(ctx, e.Right)
	if err != nil {
		return value.Value{}, err
	}

	switch e.Op {
	case ast.OpEq:
		return value.Bool(value.Equal(l, r)), nil
	case ast.OpNeq:
		return value.Bool(!value.Equal(l, r)), nil
	case ast.OpLt:
		return value.Bool(value.Compare(l, r) < 0), nil
	case ast.OpLte:
		return value.Bool(value.Compare(l, r) <= 0), nil
	case ast.OpGt:
		return value.Bool(value.Compare(l, r) > 0), nil
	case ast.OpGte:
		return value.Bool(value.Compare(l, r) >= 0), nil
	case ast.OpAdd:
		return arith(l, r, '+')
	case ast.OpSub:
		return arith(l, r, '-')
	case ast.OpMul:
		return arith(l, r, '*')
	case ast.OpDiv:
		return arith(l, r, '/')
	case ast.OpContains:
		return value.Bool(containsValue(l, r)), nil
	case ast.OpInside:
		return value.Bool(containsValue(r, l)), nil
	}
	return value.Value{}, kerr.UnreachableErr("unknown binary operator %d", e.Op)
}

func containsValue(container, item value.Value) bool {
	if container.Tag != value.TagArray {
		return false
	}
	for _, e := range container.Array {
		if value.Equal(e, item) {
			return true
		}
	}
	return false
}

func arith(l, r value.Value, op byte) (value.Value, error) {
	if l.Tag == value.TagString && r.Tag == value.TagString && op == '+' {
		return value.Str(l.Str + r.Str), nil
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return value.Value{}, kerr.New(kerr.InvalidArguments, "cannot apply arithmetic to %s and %s", l.Tag, r.Tag)
	}
	switch op {
	case '+':
		return numResult(l, r, lf+rf), nil
	case '-':
		return numResult(l, r, lf-rf), nil
	case '*':
		return numResult(l, r, lf*rf), nil
	case '/':
		if rf == 0 {
			return value.Value{}, kerr.New(kerr.InvalidArguments, "division by zero")
		}
		return numResult(l, r, lf/rf), nil
	}
	return value.Value{}, kerr.UnreachableErr("unknown arithmetic op")
}

func toFloat(v value.Value) (float64, bool) {
	switch v.Tag {
	case value.TagInt:
		return float64(v.Int), true
	case value.TagFloat:
		return v.Float, true
	case value.TagDecimal:
		f, _ := v.Decimal.Float64()
		return f, true
	}
	return 0, false
}

// numResult keeps Int+Int results as Int (matching SurrealQL's
// integer-preserving arithmetic); any other combination produces Float.
func numResult(l, r value.Value, f float64) value.Value {
	if l.Tag == value.TagInt && r.Tag == value.TagInt {
		return value.Int(int64(f))
	}
	return value.Float(f)
}

func evalIf(ctx *Context, e ast.If) (value.Value, error) {
	for _, b := range e.Branches {
		cond, err := compute(ctx, b.Cond)
		if err != nil {
			return value.Value{}, err
		}
		if cond.Truthy() {
			return compute(ctx, b.Then)
		}
	}
	if e.Else != nil {
		return compute(ctx, e.Else)
	}
	return value.None(), nil
}

func evalFor(ctx *Context, e ast.For) (value.Value, error) {
	iterVal, err := compute(ctx, e.Iter)
	if err != nil {
		return value.Value{}, err
	}
	if iterVal.Tag != value.TagArray {
		return value.None(), nil
	}
	if err := ctx.stack.Enter(); err != nil {
		return value.Value{}, err
	}
	defer ctx.stack.Leave()

	for _, item := range iterVal.Array {
		loopCtx := ctx.WithVar(e.Param, item)
		_, err := compute(loopCtx, e.Body)
		if err != nil {
			if cf, ok := asControlFlow(err); ok {
				switch cf.signal {
				case signalBreak:
					return value.None(), nil
				case signalContinue:
					continue
				default: // signalReturn propagates out of the loop
					return value.Value{}, err
				}
			}
			return value.Value{}, err
		}
	}
	return value.None(), nil
}

// evalBlock threads LET bindings from one statement to the next within
// the block, returning the last expression's value. A
// Return/Break/Continue/error from any statement stops the block
// immediately and propagates.
func evalBlock(ctx *Context, e ast.Block) (value.Value, error) {
	if err := ctx.stack.Enter(); err != nil {
		return value.Value{}, err
	}
	defer ctx.stack.Leave()

	cur := ctx
	var last value.Value
	for _, stmt := range e.Exprs {
		if lt, ok := stmt.(ast.Let); ok {
			v, err := compute(cur, lt.Expr)
			if err != nil {
				return value.Value{}, err
			}
			if lt.Kind != nil {
				cv, err := value.Coerce(v, *lt.Kind)
				if err != nil {
					return value.Value{}, kerr.New(kerr.SetCoerce, "LET $%s: %v", lt.Name, err)
				}
				v = cv
			}
			cur = cur.WithVar(lt.Name, v)
			last = v
			continue
		}
		v, err := compute(cur, stmt)
		if err != nil {
			return value.Value{}, err
		}
		last = v
	}
	return last, nil
}
