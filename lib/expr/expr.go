package expr

import (
	"fmt"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Expression AST
// --------------------------------------------------------------------------

// Expr is one node of a restriction expression. Expressions are built from
// the closed set of variants below (Const, Attr, Cmp, Logic, Call) and
// evaluated against a row of instances; they carry no behaviour of their
// own beyond printing.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Const is a literal value from the canonical domain.
type Const struct {
	Value any
}

// Attr references a property of one row slot. Arg is the zero-based slot
// index inside the row (always 0 for single-type queries, left/right for
// joins).
type Attr struct {
	Arg  int
	Name string
}

// CmpOp is a comparison operator.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Cmp compares two sub-expressions.
type Cmp struct {
	Op    CmpOp
	Left  Expr
	Right Expr
}

// LogicOp is a boolean connective.
type LogicOp int

const (
	OpAnd LogicOp = iota
	OpOr
	OpNot
)

// Logic combines boolean sub-expressions. OpNot takes exactly one term.
type Logic struct {
	Op    LogicOp
	Terms []Expr
}

// Call applies a named host function to evaluated arguments. The name is
// informational (printing, pushdown rejection); Fn does the work.
type Call struct {
	Name string
	Fn   func(args ...any) (any, error)
	Args []Expr
}

func (Const) isExpr() {}
func (Attr) isExpr()  {}
func (Cmp) isExpr()   {}
func (Logic) isExpr() {}
func (Call) isExpr()  {}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// C wraps a literal value.
func C(v any) Const { return Const{Value: v} }

// A references a property on the first row slot.
func A(name string) Attr { return Attr{Arg: 0, Name: name} }

// AOf references a property on an explicit row slot.
func AOf(arg int, name string) Attr { return Attr{Arg: arg, Name: name} }

// Eq builds an equality comparison.
func Eq(l, r Expr) Cmp { return Cmp{Op: OpEq, Left: l, Right: r} }

// Ne builds an inequality comparison.
func Ne(l, r Expr) Cmp { return Cmp{Op: OpNe, Left: l, Right: r} }

// Lt builds a less-than comparison.
func Lt(l, r Expr) Cmp { return Cmp{Op: OpLt, Left: l, Right: r} }

// Le builds a less-or-equal comparison.
func Le(l, r Expr) Cmp { return Cmp{Op: OpLe, Left: l, Right: r} }

// Gt builds a greater-than comparison.
func Gt(l, r Expr) Cmp { return Cmp{Op: OpGt, Left: l, Right: r} }

// Ge builds a greater-or-equal comparison.
func Ge(l, r Expr) Cmp { return Cmp{Op: OpGe, Left: l, Right: r} }

// And joins terms conjunctively.
func And(terms ...Expr) Logic { return Logic{Op: OpAnd, Terms: terms} }

// Or joins terms disjunctively.
func Or(terms ...Expr) Logic { return Logic{Op: OpOr, Terms: terms} }

// Not negates one term.
func Not(term Expr) Logic { return Logic{Op: OpNot, Terms: []Expr{term}} }

// Filter builds the conjunction of name==value equalities over the first
// row slot, the common shorthand for exact-match restrictions. A nil or
// empty map yields nil (no restriction).
func Filter(props map[string]any) Expr {
	if len(props) == 0 {
		return nil
	}
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	// deterministic term order for printing and pushdown
	sort.Strings(names)
	terms := make([]Expr, len(names))
	for i, n := range names {
		terms[i] = Eq(A(n), C(props[n]))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return And(terms...)
}

// --------------------------------------------------------------------------
// Printing
// --------------------------------------------------------------------------

func (c Const) String() string {
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", c.Value)
}

func (a Attr) String() string {
	if a.Arg == 0 {
		return a.Name
	}
	return fmt.Sprintf("$%d.%s", a.Arg, a.Name)
}

func (o CmpOp) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

func (c Cmp) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right)
}

func (l Logic) String() string {
	if l.Op == OpNot {
		if len(l.Terms) == 1 {
			return fmt.Sprintf("(not %s)", l.Terms[0])
		}
		return "(not ?)"
	}
	op := " and "
	if l.Op == OpOr {
		op = " or "
	}
	parts := make([]string, len(l.Terms))
	for i, t := range l.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, op) + ")"
}

func (c Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}
