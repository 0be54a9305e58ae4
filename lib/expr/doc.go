// Package expr implements restriction expressions and sort terms for
// recall and view queries.
//
// A restriction is a small AST built from five node variants: Const
// (literal), Attr (property reference into a row slot), Cmp (comparison),
// Logic (and/or/not) and Call (host function application). The AST is
// plain data: backends can walk it for pushdown planning (MatchIdentifierEq,
// Attrs) and every backend can fall back to in-process evaluation (Eval,
// Matches) with identical semantics.
//
// Ordering is expressed separately as []Order terms rather than inside the
// restriction, so pagination can reason about it (an offset without an
// order is rejected as non-deterministic).
//
// Value comparison follows the canonical domain: nil sorts before
// everything, int64 and float64 compare numerically against each other,
// all other cross-type comparisons are errors.
package expr
