package dbs

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/value"
)

// callFunc dispatches a builtin FuncCall. Only a representative slice
// of the function library is implemented, enough to drive WHERE and
// computed-field expressions in tests and the REPL.
func callFunc(ctx *Context, e ast.FuncCall) (value.Value, error) {
	args := make([]value.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := compute(ctx, a)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}

	switch e.Name {
	case "count":
		if len(args) == 0 {
			return value.Int(0), nil
		}
		if args[0].Tag == value.TagArray {
			return value.Int(int64(len(args[0].Array))), nil
		}
		return value.Int(1), nil

	case "array::len":
		return value.Int(int64(len(arg(args, 0).Array))), nil

	case "array::first":
		a := arg(args, 0)
		if a.Tag == value.TagArray && len(a.Array) > 0 {
			return a.Array[0], nil
		}
		return value.None(), nil

	case "array::last":
		a := arg(args, 0)
		if a.Tag == value.TagArray && len(a.Array) > 0 {
			return a.Array[len(a.Array)-1], nil
		}
		return value.None(), nil

	case "string::len":
		return value.Int(int64(len(arg(args, 0).Str))), nil

	case "string::uppercase":
		return value.Str(strings.ToUpper(arg(args, 0).Str)), nil

	case "string::lowercase":
		return value.Str(strings.ToLower(arg(args, 0).Str)), nil

	case "string::concat":
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(a.String())
		}
		return value.Str(sb.String()), nil

	case "string::contains":
		return value.Bool(strings.Contains(arg(args, 0).Str, arg(args, 1).Str)), nil

	case "math::abs":
		f, _ := toFloat(arg(args, 0))
		if f < 0 {
			f = -f
		}
		return numResult(arg(args, 0), arg(args, 0), f), nil

	case "math::max":
		if len(args) == 0 {
			return value.None(), nil
		}
		best := args[0]
		for _, a := range args[1:] {
			if value.Compare(a, best) > 0 {
				best = a
			}
		}
		return best, nil

	case "math::min":
		if len(args) == 0 {
			return value.None(), nil
		}
		best := args[0]
		for _, a := range args[1:] {
			if value.Compare(a, best) < 0 {
				best = a
			}
		}
		return best, nil

	case "rand::uuid", "rand::uuid::v7":
		id, err := uuid.NewV7()
		if err != nil {
			return value.Value{}, kerr.New(kerr.Unreachable, "uuid generation failed: %v", err)
		}
		return value.ID(id), nil

	case "type::string":
		return value.Str(arg(args, 0).String()), nil

	case "type::int":
		f, ok := toFloat(arg(args, 0))
		if !ok {
			return value.Value{}, kerr.New(kerr.InvalidArguments, "type::int: not a number")
		}
		return value.Int(int64(f)), nil

	case "type::bool":
		return value.Bool(arg(args, 0).Truthy()), nil
	}

	return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown function %s", e.Name)
}

func arg(args []value.Value, i int) value.Value {
	if i >= len(args) {
		return value.None()
	}
	return args[i]
}
