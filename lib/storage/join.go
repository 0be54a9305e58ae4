package storage

import (
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Shared Join Fallback
// --------------------------------------------------------------------------
// In-memory nested-loop join over fully materialised recall results.
// Backends override XMultiRecall only when they can push the join down.

// GenericXMultiRecall implements XMultiRecall on top of single-type
// recalls: combine the join tree, then filter and paginate in memory.
func GenericXMultiRecall(s IStorage, src Source, stmt Statement) RowSeq {
	if !src.IsJoin() {
		return func(yield func([]*unit.Unit, error) bool) {
			for u, err := range s.XRecall(src.Type, stmt) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield([]*unit.Unit{u}, nil) {
					return
				}
			}
		}
	}
	rows, err := Combine(s, src.Join)
	if err != nil {
		return FailRows(err)
	}
	rows, err = ApplyStatementRows(rows, stmt)
	if err != nil {
		return FailRows(err)
	}
	return SeqOfRows(rows)
}

// Combine materialises the cross product of a join node, honouring the
// association pairing and the join bias. Unmatched rows on the kept side
// pair with blank placeholder units so projections stay rectangular.
func Combine(s IStorage, j *Join) ([][]*unit.Unit, error) {
	left, err := materializeSide(s, j.Left)
	if err != nil {
		return nil, err
	}
	right, err := materializeSide(s, j.Right)
	if err != nil {
		return nil, err
	}

	// pairing happens between the adjacent member types
	leftTypes := j.Left.Types()
	rightTypes := j.Right.Types()
	nearType := leftTypes[len(leftTypes)-1]
	farType := rightTypes[0]

	assoc, onNear, err := findAssociation(nearType, farType, j.Path)
	if err != nil {
		return nil, err
	}

	var out [][]*unit.Unit
	leftMatched := make([]bool, len(left))
	rightMatched := make([]bool, len(right))

	for li, lrow := range left {
		near := lrow[len(lrow)-1]
		for ri, rrow := range right {
			far := rrow[0]
			if !pairMatches(assoc, onNear, near, far) {
				continue
			}
			leftMatched[li] = true
			rightMatched[ri] = true
			out = append(out, concatRows(lrow, rrow))
		}
	}

	switch j.Bias {
	case JoinLeft:
		blank, err := blankRow(rightTypes)
		if err != nil {
			return nil, err
		}
		for li, lrow := range left {
			if !leftMatched[li] {
				out = append(out, concatRows(lrow, blank))
			}
		}
	case JoinRight:
		blank, err := blankRow(leftTypes)
		if err != nil {
			return nil, err
		}
		for ri, rrow := range right {
			if !rightMatched[ri] {
				out = append(out, concatRows(blank, rrow))
			}
		}
	}
	return out, nil
}

func materializeSide(s IStorage, src Source) ([][]*unit.Unit, error) {
	if src.IsJoin() {
		return Combine(s, src.Join)
	}
	units, err := s.Recall(src.Type, All())
	if err != nil {
		return nil, err
	}
	rows := make([][]*unit.Unit, len(units))
	for i, u := range units {
		rows[i] = []*unit.Unit{u}
	}
	return rows, nil
}

// findAssociation locates the pairing between the adjacent types: first
// on the near side, then reversed on the far side. With an explicit path
// only that name is consulted.
func findAssociation(near, far *schema.Type, path string) (schema.Association, bool, error) {
	if path != "" {
		if a, ok := near.Association(path); ok {
			return a, true, nil
		}
		if a, ok := far.Association(path); ok {
			return a, false, nil
		}
		return schema.Association{}, false, Errorf(CodeAssociation,
			"no association %q between %q and %q", path, near.Name, far.Name)
	}
	if a, ok := near.Association(far.Name); ok {
		return a, true, nil
	}
	for _, a := range near.Associations() {
		if a.FarType == far.Name {
			return a, true, nil
		}
	}
	if a, ok := far.Association(near.Name); ok {
		return a, false, nil
	}
	for _, a := range far.Associations() {
		if a.FarType == near.Name {
			return a, false, nil
		}
	}
	return schema.Association{}, false, Errorf(CodeAssociation,
		"no association between %q and %q", near.Name, far.Name)
}

// pairMatches applies the association's key equality. A nil key value on
// either side never matches (blank placeholders stay unpaired).
func pairMatches(assoc schema.Association, onNear bool, near, far *unit.Unit) bool {
	var a, b any
	if onNear {
		a, b = near.Get(assoc.NearKey), far.Get(assoc.FarKey)
	} else {
		a, b = far.Get(assoc.NearKey), near.Get(assoc.FarKey)
	}
	if a == nil || b == nil {
		return false
	}
	c, err := expr.CompareValues(a, b)
	return err == nil && c == 0
}

func concatRows(a, b []*unit.Unit) []*unit.Unit {
	out := make([]*unit.Unit, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// blankRow builds all-nil placeholder units for the unmatched side of an
// outer join.
func blankRow(types []*schema.Type) ([]*unit.Unit, error) {
	row := make([]*unit.Unit, len(types))
	for i, t := range types {
		u, err := unit.FromProps(t, nil)
		if err != nil {
			return nil, err
		}
		row[i] = u
	}
	return row, nil
}
