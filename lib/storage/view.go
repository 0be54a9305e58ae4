package storage

import (
	"sort"
	"time"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Shared View and Aggregate Fallbacks
// --------------------------------------------------------------------------

// GenericXView projects attribute rows from a recall, applying Distinct
// in memory.
func GenericXView(s IStorage, q Query, stmt Statement) ViewSeq {
	if len(q.Attrs) == 0 {
		return FailViews(Errorf(CodeInvalid, "view requires at least one attribute"))
	}
	types := q.Source.Types()
	for _, a := range q.Attrs {
		if a.Arg < 0 || a.Arg >= len(types) {
			return FailViews(Errorf(CodeInvalid, "view attribute %s outside the source", a))
		}
		if !types[a.Arg].HasProperty(a.Name) {
			return FailViews(Errorf(CodeInvalid, "type %q has no property %q", types[a.Arg].Name, a.Name))
		}
	}
	return func(yield func([]any, error) bool) {
		seen := map[string]bool{}
		for row, err := range s.XMultiRecall(q.Source, stmt) {
			if err != nil {
				yield(nil, err)
				return
			}
			projected := projectRow(q.Attrs, row)
			if q.Distinct {
				key := schema.Identity(projected).Key()
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			if !yield(projected, nil) {
				return
			}
		}
	}
}

func projectRow(attrs []expr.Attr, row []*unit.Unit) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = row[a.Arg].Get(a.Name)
	}
	return out
}

// GenericCount counts matching rows.
func GenericCount(s IStorage, src Source, restriction expr.Expr) (int, error) {
	n := 0
	for _, err := range s.XMultiRecall(src, All().Where(restriction)) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// GenericSum totals one attribute over matching rows. Nil values are
// skipped; the sum stays int64 until a float joins it.
func GenericSum(s IStorage, src Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	var values []any
	for row, err := range s.XMultiRecall(src, All().Where(restriction)) {
		if err != nil {
			return nil, err
		}
		if attr.Arg < 0 || attr.Arg >= len(row) {
			return nil, Errorf(CodeInvalid, "sum attribute %s outside the source", attr)
		}
		values = append(values, row[attr.Arg].Get(attr.Name))
	}
	return SumValues(values)
}

// SumValues totals a value slice under the Sum contract: nils are
// skipped and the result stays int64 until a float joins it.
func SumValues(values []any) (any, error) {
	var (
		iSum    int64
		fSum    float64
		isFloat bool
	)
	for _, raw := range values {
		switch v := raw.(type) {
		case nil:
		case int64:
			if isFloat {
				fSum += float64(v)
			} else {
				iSum += v
			}
		case float64:
			if !isFloat {
				isFloat = true
				fSum = float64(iSum)
			}
			fSum += v
		default:
			return nil, Errorf(CodeInvalid, "cannot sum %T values", v)
		}
	}
	if isFloat {
		return fSum, nil
	}
	return iSum, nil
}

// GenericRange returns the ordered distinct values of one attribute over
// matching rows. For discrete kinds (int, date) the result is the dense
// closed interval between the observed minimum and maximum, gaps filled.
func GenericRange(s IStorage, src Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	types := src.Types()
	if attr.Arg < 0 || attr.Arg >= len(types) {
		return nil, Errorf(CodeInvalid, "range attribute %s outside the source", attr)
	}
	prop, declared := types[attr.Arg].Property(attr.Name)
	if !declared {
		return nil, Errorf(CodeInvalid, "type %q has no property %q", types[attr.Arg].Name, attr.Name)
	}

	var values []any
	for row, err := range s.XMultiRecall(src, All().Where(restriction)) {
		if err != nil {
			return nil, err
		}
		values = append(values, row[attr.Arg].Get(attr.Name))
	}
	return RangeOfValues(prop.Type, values)
}

// RangeOfValues applies the Range contract to a raw value slice: nils
// are skipped, duplicates collapse, the rest is sorted, and discrete
// kinds densify into the closed interval between minimum and maximum.
func RangeOfValues(kind schema.Kind, raw []any) ([]any, error) {
	seen := map[string]bool{}
	var values []any
	for _, v := range raw {
		if v == nil {
			continue
		}
		key := schema.Identity{v}.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, nil
	}

	var sortErr error
	sort.SliceStable(values, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		c, err := expr.CompareValues(values[i], values[j])
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	if !kind.Discrete() {
		return values, nil
	}
	return densify(kind, values)
}

// densify expands sorted discrete values into the closed interval between
// the first and last element.
func densify(kind schema.Kind, values []any) ([]any, error) {
	switch kind {
	case schema.KindInt:
		lo, lok := values[0].(int64)
		hi, hok := values[len(values)-1].(int64)
		if !lok || !hok {
			return nil, Errorf(CodeInvalid, "range over mixed value types")
		}
		out := make([]any, 0, hi-lo+1)
		for v := lo; v <= hi; v++ {
			out = append(out, v)
		}
		return out, nil
	case schema.KindDate:
		lo, lok := values[0].(time.Time)
		hi, hok := values[len(values)-1].(time.Time)
		if !lok || !hok {
			return nil, Errorf(CodeInvalid, "range over mixed value types")
		}
		var out []any
		for d := lo; !d.After(hi); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
		return out, nil
	default:
		return values, nil
	}
}
