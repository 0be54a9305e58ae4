package sqldb

import (
	"fmt"
	"strings"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// DML
// --------------------------------------------------------------------------

// Reserve assigns an identity when the sequencer requires one, then
// fully persists the unit.
func (s *Store) Reserve(u *unit.Unit) error {
	t := u.Type()
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	unlock := s.locks.Lock(t)
	defer unlock()

	if t.HasIdentifiers() && !t.Sequencer().ValidID(u.Identity()) {
		existing, err := s.identities(t)
		if err != nil {
			return err
		}
		if err := t.Sequencer().Assign(u, existing); err != nil {
			return err
		}
	}
	if err := s.put(u); err != nil {
		return err
	}
	s.Log.Log(storage.LogReserve, "sqldb: reserved %q %v", t.Name, u.Identity())
	u.Cleanse()
	return nil
}

func (s *Store) Save(u *unit.Unit, force bool) error {
	if !force && !u.Dirty() {
		return nil
	}
	t := u.Type()
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	unlock := s.locks.Lock(t)
	defer unlock()
	if err := s.put(u); err != nil {
		return err
	}
	s.Log.Log(storage.LogSave, "sqldb: saved %q %v", t.Name, u.Identity())
	u.Cleanse()
	return nil
}

func (s *Store) Destroy(u *unit.Unit) error {
	t := u.Type()
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	unlock := s.locks.Lock(t)
	defer unlock()

	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	var (
		names []string
		args  []any
	)
	if t.HasIdentifiers() {
		names = t.Identifiers()
		for _, n := range names {
			p, _ := t.Property(n)
			args = append(args, toSQL(p.Type, u.Get(n)))
		}
	} else {
		// identifier-less rows match on the whole snapshot
		names = t.PropertyNames()
		args = bindArgs(t, u.Properties())
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(t.Name), matchClause(names))
	if _, err := q.Exec(stmt, args...); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "destroying %q unit", t.Name)
	}
	s.Log.Log(storage.LogDestroy, "sqldb: destroyed %q %v", t.Name, u.Identity())
	return nil
}

// put upserts the unit's snapshot; caller holds the type lock.
func (s *Store) put(u *unit.Unit) error {
	t := u.Type()
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if !exists {
		// storage springs into existence on first write
		if err := s.CreateStorage(t, storage.ConflictRepair); err != nil {
			return err
		}
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	args := bindArgs(t, u.Properties())
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	if t.HasIdentifiers() {
		stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
			quote(t.Name), columnList(t), placeholders)
		if _, err := q.Exec(stmt, args...); err != nil {
			return storage.WrapErr(storage.CodeIO, err, "writing %q unit", t.Name)
		}
		return nil
	}
	// no natural key: replace rows with the same full snapshot so
	// repeated saves stay idempotent
	del := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(t.Name), matchClause(t.PropertyNames()))
	if _, err := q.Exec(del, args...); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "writing %q unit", t.Name)
	}
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(t.Name), columnList(t), placeholders)
	if _, err := q.Exec(ins, args...); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "writing %q unit", t.Name)
	}
	return nil
}

// --------------------------------------------------------------------------
// Recall
// --------------------------------------------------------------------------

func (s *Store) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	units, err := s.recall(t, stmt)
	if err != nil {
		return storage.FailUnits(err)
	}
	s.Log.Log(storage.LogRecall, "sqldb: recalled %d of %q", len(units), t.Name)
	return storage.SeqOfUnits(units)
}

func (s *Store) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(s.XRecall(t, stmt))
}

// recall picks the evaluation strategy: identity point lookup, full
// engine-side shaping for unrestricted statements, or a scan with the
// in-memory fallback.
func (s *Store) recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	if err := s.EnsureHandled(t); err != nil {
		return nil, err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		// missing storage reads as empty, but the statement is still
		// validated
		return storage.ApplyStatement(nil, stmt)
	}
	if id, ok := expr.MatchIdentifierEq(stmt.Restriction, t); ok {
		names := t.Identifiers()
		args := make([]any, len(names))
		for i, n := range names {
			p, _ := t.Property(n)
			args[i] = toSQL(p.Type, id[i])
		}
		units, err := s.selectUnits(t, " WHERE "+matchClause(names), args)
		if err != nil {
			return nil, err
		}
		return storage.ApplyStatement(units, stmt.Where(nil))
	}
	if stmt.Restriction == nil {
		return s.selectShaped(t, stmt)
	}
	units, err := s.selectUnits(t, "", nil)
	if err != nil {
		return nil, err
	}
	return storage.ApplyStatement(units, stmt)
}

// selectShaped pushes order, offset and limit into the engine. The
// pagination contract still applies: an offset without an order is
// invalid, a zero limit yields nothing.
func (s *Store) selectShaped(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	if stmt.Offset > 0 && len(stmt.Order) == 0 {
		return nil, storage.Errorf(storage.CodeInvalid, "offset requires an order")
	}
	if stmt.Offset < 0 {
		return nil, storage.Errorf(storage.CodeInvalid, "negative offset")
	}
	if stmt.Limit != storage.NoLimit && stmt.Limit <= 0 {
		return nil, nil
	}
	var tail strings.Builder
	if len(stmt.Order) > 0 {
		terms := make([]string, len(stmt.Order))
		for i, o := range stmt.Order {
			if o.Arg != 0 {
				return nil, storage.Errorf(storage.CodeInvalid, "order slot %d out of range", o.Arg)
			}
			if !t.HasProperty(o.Attr) {
				return nil, storage.Errorf(storage.CodeInvalid, "no property %q.%q to order by", t.Name, o.Attr)
			}
			terms[i] = quote(o.Attr)
			if o.Desc {
				terms[i] += " DESC"
			}
		}
		tail.WriteString(" ORDER BY ")
		tail.WriteString(strings.Join(terms, ", "))
	}
	if stmt.Limit != storage.NoLimit || stmt.Offset > 0 {
		// LIMIT -1 keeps the result unbounded when only an offset is set
		fmt.Fprintf(&tail, " LIMIT %d", stmt.Limit)
		if stmt.Offset > 0 {
			fmt.Fprintf(&tail, " OFFSET %d", stmt.Offset)
		}
	}
	return s.selectUnits(t, "", nil, tail.String())
}

// selectUnits runs a SELECT over all property columns and decodes each
// row into a fresh unit.
func (s *Store) selectUnits(t *schema.Type, where string, args []any, tail ...string) ([]*unit.Unit, error) {
	q, err := s.q()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + columnList(t) + " FROM " + quote(t.Name) + where + strings.Join(tail, "")
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "querying %q", t.Name)
	}
	defer rows.Close()

	props := t.Properties()
	var units []*unit.Unit
	for rows.Next() {
		raw := make([]any, len(props))
		ptrs := make([]any, len(props))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, storage.WrapErr(storage.CodeIO, err, "scanning %q row", t.Name)
		}
		snapshot := make(map[string]any, len(props))
		for i, p := range props {
			v, err := fromSQL(p.Type, raw[i])
			if err != nil {
				return nil, err
			}
			snapshot[p.Name] = v
		}
		u, err := unit.FromProps(t, snapshot)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "querying %q", t.Name)
	}
	return units, nil
}

// identities lists the stored identities of the type; caller holds the
// type lock.
func (s *Store) identities(t *schema.Type) ([]schema.Identity, error) {
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	q, err := s.q()
	if err != nil {
		return nil, err
	}
	names := t.Identifiers()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	rows, err := q.Query("SELECT " + strings.Join(quoted, ", ") + " FROM " + quote(t.Name))
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "listing %q identities", t.Name)
	}
	defer rows.Close()

	var ids []schema.Identity
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, storage.WrapErr(storage.CodeIO, err, "listing %q identities", t.Name)
		}
		id := make(schema.Identity, len(names))
		for i, n := range names {
			p, _ := t.Property(n)
			v, err := fromSQL(p.Type, raw[i])
			if err != nil {
				return nil, err
			}
			id[i] = v
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --------------------------------------------------------------------------
// Joins, views, aggregates
// --------------------------------------------------------------------------

func (s *Store) XMultiRecall(src storage.Source, stmt storage.Statement) storage.RowSeq {
	if err := s.EnsureSource(src); err != nil {
		return storage.FailRows(err)
	}
	return storage.GenericXMultiRecall(s, src, stmt)
}

func (s *Store) MultiRecall(src storage.Source, stmt storage.Statement) ([][]*unit.Unit, error) {
	return storage.CollectRows(s.XMultiRecall(src, stmt))
}

func (s *Store) XView(q storage.Query, stmt storage.Statement) storage.ViewSeq {
	return storage.GenericXView(s, q, stmt)
}

func (s *Store) View(q storage.Query, stmt storage.Statement) ([][]any, error) {
	return storage.CollectViews(s.XView(q, stmt))
}

// Count pushes an unrestricted single-type count into the engine and
// falls back to the generic pass otherwise.
func (s *Store) Count(src storage.Source, restriction expr.Expr) (int, error) {
	if !src.IsJoin() && restriction == nil {
		if err := s.EnsureSource(src); err != nil {
			return 0, err
		}
		return s.CachedCount(src.Type)
	}
	return storage.GenericCount(s, src, restriction)
}

func (s *Store) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	return storage.GenericSum(s, src, attr, restriction)
}

func (s *Store) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	return storage.GenericRange(s, src, attr, restriction)
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

func (s *Store) CachedCount(t *schema.Type) (int, error) {
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	q, err := s.q()
	if err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRow("SELECT count(*) FROM " + quote(t.Name)).Scan(&n); err != nil {
		return 0, storage.WrapErr(storage.CodeIO, err, "counting %q", t.Name)
	}
	return n, nil
}

func (s *Store) CachedUnits(t *schema.Type) ([]*unit.Unit, error) {
	if err := s.EnsureHandled(t); err != nil {
		return nil, err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return s.selectUnits(t, "", nil)
}

func (s *Store) FlushType(t *schema.Type) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	if _, err := q.Exec("DELETE FROM " + quote(t.Name)); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "flushing %q", t.Name)
	}
	return nil
}
