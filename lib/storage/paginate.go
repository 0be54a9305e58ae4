package storage

import (
	"sort"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Shared Pagination Fallback
// --------------------------------------------------------------------------
// Backends that cannot push order/limit/offset into their engine share
// this in-memory implementation; pushdown paths must stay observably
// equivalent to it.

// Instances converts a join row for expression evaluation.
func Instances(row []*unit.Unit) []schema.Instance {
	out := make([]schema.Instance, len(row))
	for i, u := range row {
		out[i] = u
	}
	return out
}

// FilterRows keeps the rows matching the restriction.
func FilterRows(rows [][]*unit.Unit, restriction expr.Expr) ([][]*unit.Unit, error) {
	if restriction == nil {
		return rows, nil
	}
	out := rows[:0:0]
	for _, row := range rows {
		ok, err := expr.Matches(restriction, Instances(row)...)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// PaginateRows applies order, offset and limit, in that sequence. An
// offset without an order is rejected: without a total order the skipped
// ranks are meaningless. A limit of zero yields nothing.
func PaginateRows(rows [][]*unit.Unit, stmt Statement) ([][]*unit.Unit, error) {
	if stmt.Offset > 0 && len(stmt.Order) == 0 {
		return nil, Errorf(CodeInvalid, "offset requires an order")
	}
	if stmt.Offset < 0 {
		return nil, Errorf(CodeInvalid, "negative offset")
	}
	if len(stmt.Order) > 0 {
		ordered := make([][]*unit.Unit, len(rows))
		copy(ordered, rows)
		var sortErr error
		sort.SliceStable(ordered, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			c, err := expr.CompareRows(stmt.Order, Instances(ordered[i]), Instances(ordered[j]))
			if err != nil {
				sortErr = err
				return false
			}
			return c < 0
		})
		if sortErr != nil {
			return nil, sortErr
		}
		rows = ordered
	}
	if stmt.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[stmt.Offset:]
	if stmt.Limit == NoLimit {
		return rows, nil
	}
	if stmt.Limit <= 0 {
		return nil, nil
	}
	if stmt.Limit < len(rows) {
		rows = rows[:stmt.Limit]
	}
	return rows, nil
}

// ApplyStatementRows runs the full fallback: filter, then paginate.
func ApplyStatementRows(rows [][]*unit.Unit, stmt Statement) ([][]*unit.Unit, error) {
	matched, err := FilterRows(rows, stmt.Restriction)
	if err != nil {
		return nil, err
	}
	return PaginateRows(matched, stmt)
}

// ApplyStatement is ApplyStatementRows for single-type results.
func ApplyStatement(units []*unit.Unit, stmt Statement) ([]*unit.Unit, error) {
	rows := make([][]*unit.Unit, len(units))
	for i, u := range units {
		rows[i] = []*unit.Unit{u}
	}
	out, err := ApplyStatementRows(rows, stmt)
	if err != nil {
		return nil, err
	}
	units = make([]*unit.Unit, len(out))
	for i, row := range out {
		units[i] = row[0]
	}
	return units, nil
}

// --------------------------------------------------------------------------
// Sequence Helpers
// --------------------------------------------------------------------------

// SeqOfUnits wraps a materialised result as a lazy sequence.
func SeqOfUnits(units []*unit.Unit) UnitSeq {
	return func(yield func(*unit.Unit, error) bool) {
		for _, u := range units {
			if !yield(u, nil) {
				return
			}
		}
	}
}

// SeqOfRows wraps materialised join rows as a lazy sequence.
func SeqOfRows(rows [][]*unit.Unit) RowSeq {
	return func(yield func([]*unit.Unit, error) bool) {
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

// FailUnits yields a single error.
func FailUnits(err error) UnitSeq {
	return func(yield func(*unit.Unit, error) bool) {
		yield(nil, err)
	}
}

// FailRows yields a single error.
func FailRows(err error) RowSeq {
	return func(yield func([]*unit.Unit, error) bool) {
		yield(nil, err)
	}
}

// FailViews yields a single error.
func FailViews(err error) ViewSeq {
	return func(yield func([]any, error) bool) {
		yield(nil, err)
	}
}

// CollectUnits materialises a unit sequence, stopping at the first error.
func CollectUnits(seq UnitSeq) ([]*unit.Unit, error) {
	var out []*unit.Unit
	for u, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// CollectRows materialises a row sequence.
func CollectRows(seq RowSeq) ([][]*unit.Unit, error) {
	var out [][]*unit.Unit
	for row, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// CollectViews materialises a view sequence.
func CollectViews(seq ViewSeq) ([][]any, error) {
	var out [][]any
	for row, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
