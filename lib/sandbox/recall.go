package sandbox

import (
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Single-Type Recall
// --------------------------------------------------------------------------

// Unit returns at most one instance matching the filter, or nil when
// none matches. A filter pinning exactly the type's identifiers takes
// the fast path: cache lookup by identity, then a storage point lookup
// guarded by the double-check in adopt.
func (s *Sandbox) Unit(t *schema.Type, filter map[string]any) (*unit.Unit, error) {
	var pred expr.Expr
	if len(filter) > 0 {
		pred = expr.Filter(filter)
	}
	if ident, ok := expr.MatchIdentifierEq(pred, t); ok {
		if u, hit := s.cacheOf(t.Name)[ident.Key()]; hit {
			return u, nil
		}
		stored, err := s.store.Recall(t, storage.All().Where(pred))
		if err != nil {
			return nil, err
		}
		for _, u := range stored {
			adopted, err := s.adopt(u)
			if err != nil {
				return nil, err
			}
			if adopted != nil {
				return adopted, nil
			}
		}
		return nil, nil
	}

	// general path: cached instances first, on their in-memory values
	for _, u := range s.caches[t.Name] {
		ok, err := matches(pred, u)
		if err != nil {
			return nil, err
		}
		if ok {
			return u, nil
		}
	}
	stored, err := s.store.Recall(t, storage.All().Where(pred))
	if err != nil {
		return nil, err
	}
	for _, u := range stored {
		if t.HasIdentifiers() {
			if _, cached := s.cacheOf(t.Name)[u.Identity().Key()]; cached {
				// the cached instance already failed the predicate on
				// its live values; the stored copy is stale
				continue
			}
		}
		adopted, err := s.adopt(u)
		if err != nil {
			return nil, err
		}
		if adopted != nil {
			return adopted, nil
		}
	}
	return nil, nil
}

func matches(pred expr.Expr, u *unit.Unit) (bool, error) {
	if pred == nil {
		return true, nil
	}
	return expr.Matches(pred, u)
}

// XRecall lazily yields instances of one type matching the statement.
// Cached instances are matched on their in-memory values and shadow the
// stored row for the same identity; stored rows pass through the
// double-check and the recall-hook veto. Identifier-less types cannot be
// deduplicated by identity, so they bypass the cache and query storage
// directly.
func (s *Sandbox) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	if !t.HasIdentifiers() {
		return s.store.XRecall(t, stmt)
	}
	units, err := s.recall(t, stmt)
	if err != nil {
		return storage.FailUnits(err)
	}
	return storage.SeqOfUnits(units)
}

// Recall materialises XRecall.
func (s *Sandbox) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(s.XRecall(t, stmt))
}

func (s *Sandbox) recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	if stmt.Limit != storage.NoLimit && stmt.Limit <= 0 {
		return nil, nil
	}
	// identifier point lookup: a cache hit avoids the round trip
	if len(stmt.Order) == 0 && stmt.Offset == 0 {
		if ident, ok := expr.MatchIdentifierEq(stmt.Restriction, t); ok {
			if u, hit := s.cacheOf(t.Name)[ident.Key()]; hit {
				return []*unit.Unit{u}, nil
			}
		}
	}

	// cache pass over a key snapshot, on live values
	cache := s.cacheOf(t.Name)
	keys := make([]string, 0, len(cache))
	for key := range cache {
		keys = append(keys, key)
	}
	var out []*unit.Unit
	for _, key := range keys {
		u, ok := cache[key]
		if !ok {
			continue
		}
		hit, err := matches(stmt.Restriction, u)
		if err != nil {
			return nil, err
		}
		if hit {
			out = append(out, u)
		}
	}

	// storage pass: anything cache-resident is skipped, the cache pass
	// already decided on its live values
	stored, err := s.store.Recall(t, storage.All().Where(stmt.Restriction))
	if err != nil {
		return nil, err
	}
	for _, u := range stored {
		if _, cached := s.cacheOf(t.Name)[u.Identity().Key()]; cached {
			continue
		}
		adopted, err := s.adopt(u)
		if err != nil {
			return nil, err
		}
		if adopted != nil {
			out = append(out, adopted)
		}
	}
	return storage.ApplyStatement(out, stmt.Where(nil))
}

// --------------------------------------------------------------------------
// Joins
// --------------------------------------------------------------------------

// XMultiRecall yields join rows with cached instances substituted per
// slot. Join recalls are weakly isolated: the join itself runs against
// the store, so a restriction may miss cache-only edits that were never
// flushed. Safe usage patterns are an unrestricted join, a read-only
// sandbox, or an explicit FlushAll before joining. This is a documented
// limitation, not a defect to compensate for here.
func (s *Sandbox) XMultiRecall(src storage.Source, stmt storage.Statement) storage.RowSeq {
	rows, err := storage.CollectRows(s.store.XMultiRecall(src, stmt))
	if err != nil {
		return storage.FailRows(err)
	}
	var out [][]*unit.Unit
	for _, row := range rows {
		merged := make([]*unit.Unit, len(row))
		keep := true
		for i, u := range row {
			if u == nil || !u.Type().HasIdentifiers() || !hasIdentity(u) {
				// blank placeholders and keyless units pass through
				merged[i] = u
				continue
			}
			adopted, err := s.adopt(u)
			if err != nil {
				return storage.FailRows(err)
			}
			if adopted == nil {
				// a vetoed slot drops the whole row
				keep = false
				break
			}
			merged[i] = adopted
		}
		if keep {
			out = append(out, merged)
		}
	}
	return storage.SeqOfRows(out)
}

// MultiRecall materialises XMultiRecall.
func (s *Sandbox) MultiRecall(src storage.Source, stmt storage.Statement) ([][]*unit.Unit, error) {
	return storage.CollectRows(s.XMultiRecall(src, stmt))
}
