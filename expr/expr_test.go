package expr

import "testing"

func TestBinOpArithmetic(t *testing.T) {
	cases := []struct {
		name string
		node Node
		want float64
	}{
		{"add", BinOp{Op: "+", Left: Const{1.0}, Right: Const{2.0}}, 3},
		{"sub", BinOp{Op: "-", Left: Const{5.0}, Right: Const{2.0}}, 3},
		{"mul", BinOp{Op: "*", Left: Const{3.0}, Right: Const{4.0}}, 12},
		{"div", BinOp{Op: "/", Left: Const{9.0}, Right: Const{3.0}}, 3},
		{"div by zero", BinOp{Op: "/", Left: Const{9.0}, Right: Const{0.0}}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.node.Eval(nil)
			if got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestRefReadsNamedInput(t *testing.T) {
	inputs := map[string]any{"x": 7.0}
	if got := (Ref("x")).Eval(inputs); got != 7.0 {
		t.Fatalf("got %v, want 7.0", got)
	}
	if got := (Ref("missing")).Eval(inputs); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestCallAppliesFunction(t *testing.T) {
	sum := Call{
		Fn: func(args ...any) any {
			total := 0.0
			for _, a := range args {
				total += a.(float64)
			}
			return total
		},
		Args: []Node{Const{1.0}, Const{2.0}, Const{3.0}},
	}
	if got := sum.Eval(nil); got != 6.0 {
		t.Fatalf("got %v, want 6.0", got)
	}
}

func TestBinOpUnknownOperatorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown operator")
		}
	}()
	BinOp{Op: "%", Left: Const{1.0}, Right: Const{1.0}}.Eval(nil)
}
