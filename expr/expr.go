// Package expr is a minimal expression evaluator standing in for the "out
// of scope" expression tree the fabric's definitions evaluate. Nothing in
// node or txn depends on this package directly; they only depend on
// wire.DefinitionExpr. This package exists so cmd/fabricctl and the tests
// have something concrete to build definitions out of.
package expr

import "fmt"

// Node is one expression tree node. Eval reads named values out of inputs,
// which node.Definition populates from its per-input baselines before
// calling wire.DefinitionExpr.Eval.
type Node interface {
	Eval(inputs map[string]any) any
}

// Ref reads a named input value verbatim.
type Ref string

func (r Ref) Eval(inputs map[string]any) any { return inputs[string(r)] }

// Const always evaluates to the same value, ignoring inputs.
type Const struct{ Value any }

func (c Const) Eval(map[string]any) any { return c.Value }

// BinOp is a binary numeric operator. Operands are coerced to float64;
// results are returned as float64, matching the loose numeric typing a
// dynamically typed reactive value store needs.
type BinOp struct {
	Op          string
	Left, Right Node
}

func (b BinOp) Eval(inputs map[string]any) any {
	l := toFloat(b.Left.Eval(inputs))
	r := toFloat(b.Right.Eval(inputs))
	switch b.Op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			return 0.0
		}
		return l / r
	default:
		panic(fmt.Sprintf("expr: unknown operator %q", b.Op))
	}
}

// Call applies an arbitrary Go function to the evaluated arguments. It is
// the escape hatch for anything BinOp can't express (comparisons,
// string formatting, aggregation over a variable number of inputs).
type Call struct {
	Fn   func(args ...any) any
	Args []Node
}

func (c Call) Eval(inputs map[string]any) any {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.Eval(inputs)
	}
	return c.Fn(args...)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case nil:
		return 0
	default:
		panic(fmt.Sprintf("expr: value %v (%T) is not numeric", v, v))
	}
}
