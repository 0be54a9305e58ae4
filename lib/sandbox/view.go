package sandbox

import (
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
)

// --------------------------------------------------------------------------
// Views and Aggregates
// --------------------------------------------------------------------------

// XView lazily yields projected attribute rows. For keyed single-type
// sources the type's identifiers are appended to the projection
// transparently, so each row can be matched against the identity cache:
// rows whose instance lives in this sandbox are recomputed from the live
// values, then the appended columns are stripped again. Join and keyless
// sources project straight from the store.
func (s *Sandbox) XView(q storage.Query, stmt storage.Statement) storage.ViewSeq {
	if q.Source.IsJoin() || !q.Source.Type.HasIdentifiers() {
		return s.store.XView(q, stmt)
	}
	rows, err := s.view(q, stmt)
	if err != nil {
		return storage.FailViews(err)
	}
	return func(yield func([]any, error) bool) {
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

// View materialises XView.
func (s *Sandbox) View(q storage.Query, stmt storage.Statement) ([][]any, error) {
	return storage.CollectViews(s.XView(q, stmt))
}

func (s *Sandbox) view(q storage.Query, stmt storage.Statement) ([][]any, error) {
	t := q.Source.Type

	// augment the projection with any identifier not already requested
	augmented := append([]expr.Attr(nil), q.Attrs...)
	idPos := make([]int, len(t.Identifiers()))
	for i, name := range t.Identifiers() {
		pos := -1
		for j, a := range q.Attrs {
			if a.Arg == 0 && a.Name == name {
				pos = j
				break
			}
		}
		if pos < 0 {
			pos = len(augmented)
			augmented = append(augmented, expr.AOf(0, name))
		}
		idPos[i] = pos
	}

	raw, err := s.store.View(storage.Query{Source: q.Source, Attrs: augmented}, stmt)
	if err != nil {
		return nil, err
	}

	cache := s.cacheOf(t.Name)
	seen := map[string]bool{}
	var out [][]any
	for _, row := range raw {
		ident := make(schema.Identity, len(idPos))
		for i, pos := range idPos {
			ident[i] = row[pos]
		}
		projected := make([]any, len(q.Attrs))
		if live, ok := cache[ident.Key()]; ok {
			// the live instance may carry unflushed edits
			for i, a := range q.Attrs {
				projected[i] = live.Get(a.Name)
			}
		} else {
			copy(projected, row[:len(q.Attrs)])
		}
		if q.Distinct {
			key := schema.Identity(projected).Key()
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, projected)
	}
	return out, nil
}

// Count returns the number of matching rows, cache aware for single
// types.
func (s *Sandbox) Count(src storage.Source, restriction expr.Expr) (int, error) {
	if src.IsJoin() {
		return s.store.Count(src, restriction)
	}
	units, err := s.Recall(src.Type, storage.All().Where(restriction))
	if err != nil {
		return 0, err
	}
	return len(units), nil
}

// Sum totals one attribute over matching rows.
func (s *Sandbox) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	values, err := s.attrValues(src, attr, restriction)
	if err != nil {
		return nil, err
	}
	return storage.SumValues(values)
}

// Range returns the ordered distinct values of one attribute over
// matching rows. Discrete kinds densify into the closed interval between
// the observed minimum and maximum.
func (s *Sandbox) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	types := src.Types()
	if attr.Arg < 0 || attr.Arg >= len(types) {
		return nil, storage.Errorf(storage.CodeInvalid, "range attribute %s outside the source", attr)
	}
	prop, ok := types[attr.Arg].Property(attr.Name)
	if !ok {
		return nil, storage.Errorf(storage.CodeInvalid, "type %q has no property %q", types[attr.Arg].Name, attr.Name)
	}
	values, err := s.attrValues(src, attr, restriction)
	if err != nil {
		return nil, err
	}
	return storage.RangeOfValues(prop.Type, values)
}

func (s *Sandbox) attrValues(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	rows, err := s.View(
		storage.Query{Source: src, Attrs: []expr.Attr{attr}},
		storage.All().Where(restriction),
	)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[0]
	}
	return values, nil
}
