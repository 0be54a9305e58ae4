package expr

import (
	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Structural Matching
// --------------------------------------------------------------------------

// MatchIdentifierEq recognises the point-lookup shape: a restriction that
// pins every identifier of the type to a constant and nothing else. It
// returns the identity in identifier order when the shape matches.
//
// Recognised shapes are a single identifier equality (for single-key
// types) and a flat conjunction of identifier equalities covering each
// identifier exactly once. Anything else (extra terms, disjunctions,
// non-constant operands) does not match.
func MatchIdentifierEq(e Expr, t *schema.Type) (schema.Identity, bool) {
	idents := t.Identifiers()
	if len(idents) == 0 || e == nil {
		return nil, false
	}

	pinned := map[string]any{}
	collect := func(c Cmp) bool {
		name, value, ok := constEquality(c)
		if !ok {
			return false
		}
		if _, seen := pinned[name]; seen {
			return false
		}
		pinned[name] = value
		return true
	}

	switch n := e.(type) {
	case Cmp:
		if !collect(n) {
			return nil, false
		}
	case Logic:
		if n.Op != OpAnd {
			return nil, false
		}
		for _, term := range n.Terms {
			c, ok := term.(Cmp)
			if !ok || !collect(c) {
				return nil, false
			}
		}
	default:
		return nil, false
	}

	if len(pinned) != len(idents) {
		return nil, false
	}
	id := make(schema.Identity, len(idents))
	for i, name := range idents {
		v, ok := pinned[name]
		if !ok {
			return nil, false
		}
		p, declared := t.Property(name)
		if !declared {
			return nil, false
		}
		cv, err := p.Type.Coerce(v)
		if err != nil {
			return nil, false
		}
		id[i] = cv
	}
	return id, true
}

// constEquality decomposes "attr == const" (either operand order) on the
// first row slot.
func constEquality(c Cmp) (name string, value any, ok bool) {
	if c.Op != OpEq {
		return "", nil, false
	}
	if a, aok := c.Left.(Attr); aok && a.Arg == 0 {
		if v, vok := c.Right.(Const); vok {
			return a.Name, v.Value, true
		}
	}
	if a, aok := c.Right.(Attr); aok && a.Arg == 0 {
		if v, vok := c.Left.(Const); vok {
			return a.Name, v.Value, true
		}
	}
	return "", nil, false
}

// Attrs lists every property reference in the expression, in first-seen
// order. Pushdown planners use it to decide whether a restriction touches
// only known columns.
func Attrs(e Expr) []Attr {
	var out []Attr
	seen := map[Attr]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case Attr:
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		case Cmp:
			walk(n.Left)
			walk(n.Right)
		case Logic:
			for _, t := range n.Terms {
				walk(t)
			}
		case Call:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	if e != nil {
		walk(e)
	}
	return out
}
