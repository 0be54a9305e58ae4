package expr

import (
	"sort"

	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Ordering
// --------------------------------------------------------------------------

// Order is one sort term: a property of a row slot plus a direction.
type Order struct {
	Arg  int
	Attr string
	Desc bool
}

// By builds an ascending sort term on the first row slot.
func By(name string) Order { return Order{Attr: name} }

// ByDesc builds a descending sort term on the first row slot.
func ByDesc(name string) Order { return Order{Attr: name, Desc: true} }

// CompareRows orders two rows by the given sort terms. Ties on every term
// yield 0; rows keep their input order then (stable sorts preserve it).
func CompareRows(orders []Order, x, y []schema.Instance) (int, error) {
	for _, o := range orders {
		if o.Arg < 0 || o.Arg >= len(x) || o.Arg >= len(y) {
			return 0, &SlotError{Order: o, RowLen: min(len(x), len(y))}
		}
		c, err := CompareValues(x[o.Arg].Get(o.Attr), y[o.Arg].Get(o.Attr))
		if err != nil {
			return 0, err
		}
		if o.Desc {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// SortRows sorts rows in place by the given terms. The sort is stable.
// The first comparison error aborts the sort and is returned; the slice
// order is unspecified then.
func SortRows(orders []Order, rows [][]schema.Instance) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		c, err := CompareRows(orders, rows[i], rows[j])
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	return sortErr
}

// SlotError reports a sort term referencing a row slot that does not exist.
type SlotError struct {
	Order  Order
	RowLen int
}

func (e *SlotError) Error() string {
	return "expr: sort term references a row slot outside the row"
}
