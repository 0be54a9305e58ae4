package expr

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Evaluation
// --------------------------------------------------------------------------

// Eval evaluates an expression against a row of instances. A nil
// expression is vacuously true. Attr nodes index into the row; an Arg
// outside the row or an undeclared property name is an error.
func Eval(e Expr, row ...schema.Instance) (any, error) {
	if e == nil {
		return true, nil
	}
	switch n := e.(type) {
	case Const:
		return n.Value, nil

	case Attr:
		if n.Arg < 0 || n.Arg >= len(row) {
			return nil, fmt.Errorf("expr: attribute %s references row slot %d of %d", n, n.Arg, len(row))
		}
		inst := row[n.Arg]
		if !inst.Type().HasProperty(n.Name) {
			return nil, fmt.Errorf("expr: type %q has no property %q", inst.Type().Name, n.Name)
		}
		return inst.Get(n.Name), nil

	case Cmp:
		l, err := Eval(n.Left, row...)
		if err != nil {
			return nil, err
		}
		r, err := Eval(n.Right, row...)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpEq:
			return valuesEqual(l, r), nil
		case OpNe:
			return !valuesEqual(l, r), nil
		}
		c, err := CompareValues(l, r)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		case OpGe:
			return c >= 0, nil
		}
		return nil, fmt.Errorf("expr: unknown comparison op %d", n.Op)

	case Logic:
		switch n.Op {
		case OpNot:
			if len(n.Terms) != 1 {
				return nil, fmt.Errorf("expr: not takes one term, got %d", len(n.Terms))
			}
			v, err := evalBool(n.Terms[0], row)
			if err != nil {
				return nil, err
			}
			return !v, nil
		case OpAnd:
			for _, t := range n.Terms {
				v, err := evalBool(t, row)
				if err != nil {
					return nil, err
				}
				if !v {
					return false, nil
				}
			}
			return true, nil
		case OpOr:
			for _, t := range n.Terms {
				v, err := evalBool(t, row)
				if err != nil {
					return nil, err
				}
				if v {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, fmt.Errorf("expr: unknown logic op %d", n.Op)

	case Call:
		if n.Fn == nil {
			return nil, fmt.Errorf("expr: call %q has no function bound", n.Name)
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := Eval(a, row...)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return n.Fn(args...)

	default:
		return nil, fmt.Errorf("expr: unknown node %T", e)
	}
}

// Matches evaluates a restriction and coerces the result to a boolean.
func Matches(e Expr, row ...schema.Instance) (bool, error) {
	return evalBool(e, row)
}

func evalBool(e Expr, row []schema.Instance) (bool, error) {
	v, err := Eval(e, row...)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expr: %s yields %T, expected bool", e, v)
	}
	return b, nil
}

// --------------------------------------------------------------------------
// Value Comparison
// --------------------------------------------------------------------------

// CompareValues orders two canonical values. Nil sorts before everything;
// int64 and float64 compare numerically against each other; otherwise the
// value types must match. Returns -1, 0 or 1.
func CompareValues(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if ax, aok := a.(int64); aok {
		if bx, bok := b.(int64); bok {
			switch {
			case ax < bx:
				return -1, nil
			case ax > bx:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return cmpOrdered(af, bf), nil
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y), nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			switch {
			case x.Before(y):
				return -1, nil
			case x.After(y):
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	return 0, fmt.Errorf("expr: cannot compare %T with %T", a, b)
}

func valuesEqual(a, b any) bool {
	c, err := CompareValues(a, b)
	return err == nil && c == 0
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func cmpOrdered[T interface{ ~string | ~float64 }](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
