package storage

import (
	"strings"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Sources and Joins
// --------------------------------------------------------------------------

// JoinBias selects which side of a join survives without a partner.
type JoinBias int

const (
	// JoinInner drops rows without a partner on either side.
	JoinInner JoinBias = iota
	// JoinLeft keeps every left row, pairing unmatched ones with a
	// blank placeholder unit.
	JoinLeft
	// JoinRight keeps every right row.
	JoinRight
)

func (b JoinBias) String() string {
	switch b {
	case JoinInner:
		return "&"
	case JoinLeft:
		return ">>"
	case JoinRight:
		return "<<"
	default:
		return "?"
	}
}

// Join is one node of a join tree.
type Join struct {
	Left  Source
	Right Source
	Bias  JoinBias
	// Path names the association used to pair the sides; empty means
	// discover one between the adjacent member types.
	Path string
}

// Source is the target of a query: either a single entity type or an
// ordered join tree. Exactly one field is set.
type Source struct {
	Type *schema.Type
	Join *Join
}

// From targets a single type.
func From(t *schema.Type) Source { return Source{Type: t} }

// Inner joins two sources, keeping matched rows only.
func Inner(l, r Source) Source {
	return Source{Join: &Join{Left: l, Right: r, Bias: JoinInner}}
}

// LeftOuter joins two sources, keeping every left row.
func LeftOuter(l, r Source) Source {
	return Source{Join: &Join{Left: l, Right: r, Bias: JoinLeft}}
}

// RightOuter joins two sources, keeping every right row.
func RightOuter(l, r Source) Source {
	return Source{Join: &Join{Left: l, Right: r, Bias: JoinRight}}
}

// Via names the association path pairing the two sides of the outermost
// join. It is a no-op on a single-type source.
func (s Source) Via(path string) Source {
	if s.Join != nil {
		j := *s.Join
		j.Path = path
		s.Join = &j
	}
	return s
}

// IsJoin reports whether the source spans more than one type.
func (s Source) IsJoin() bool { return s.Join != nil }

// Types returns the member types in row order.
func (s Source) Types() []*schema.Type {
	if s.Join == nil {
		if s.Type == nil {
			return nil
		}
		return []*schema.Type{s.Type}
	}
	return append(s.Join.Left.Types(), s.Join.Right.Types()...)
}

// Key returns a canonical routing key for the ordered member types.
func (s Source) Key() string {
	types := s.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name
	}
	return strings.Join(names, "\x1f")
}

// --------------------------------------------------------------------------
// Queries and Statements
// --------------------------------------------------------------------------

// Query is a projection request: which attributes of which source.
type Query struct {
	Source Source
	Attrs  []expr.Attr
	// Distinct collapses duplicate projected rows.
	Distinct bool
}

// NoLimit marks a statement without a row bound.
const NoLimit = -1

// Statement carries the restriction and result-shaping modifiers of a
// recall or view. Statements are value objects: the With* builders return
// modified copies.
//
// Limit semantics follow the pagination contract: NoLimit means
// unbounded, zero yields nothing. The zero Statement therefore yields
// nothing; start from All().
type Statement struct {
	Restriction expr.Expr
	Order       []expr.Order
	Limit       int
	Offset      int
}

// All is the unrestricted, unbounded statement.
func All() Statement { return Statement{Limit: NoLimit} }

// Where returns a copy with the restriction replaced.
func (st Statement) Where(e expr.Expr) Statement {
	st.Restriction = e
	return st
}

// OrderBy returns a copy with the sort terms replaced.
func (st Statement) OrderBy(orders ...expr.Order) Statement {
	st.Order = orders
	return st
}

// WithLimit returns a copy with the row bound replaced.
func (st Statement) WithLimit(n int) Statement {
	st.Limit = n
	return st
}

// WithOffset returns a copy with the rank of the first row replaced.
func (st Statement) WithOffset(n int) Statement {
	st.Offset = n
	return st
}

// Shaped reports whether the statement carries any result-shaping
// modifier (order, limit or offset). Unshaped statements stream straight
// through; shaped ones may force materialisation.
func (st Statement) Shaped() bool {
	return len(st.Order) > 0 || st.Limit != NoLimit || st.Offset > 0
}
