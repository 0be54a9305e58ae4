package ram

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/mnemo-db/mnemo/lib/codec"
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// In-Memory Storage Manager
// --------------------------------------------------------------------------

// Store keeps codec-encoded property snapshots in process memory, one
// table per entity type keyed by identity. Snapshots are decoded into
// fresh units on every read, so results never alias a caller's live
// instance.
//
// Thread-safety: the table map is guarded by an RWMutex; reserve, save
// and destroy additionally hold the entity type's lock so identifier
// assignment is atomic against concurrent reservations.
type Store struct {
	storage.TypeSet
	Log storage.Logger

	cdc   codec.ICodec
	locks storage.TypeLocks

	mu      sync.RWMutex
	hasDB   bool
	tables  map[string]map[string][]byte
	indexes map[string]map[string]bool
}

var (
	_ storage.IStorage     = (*Store)(nil)
	_ storage.Introspector = (*Store)(nil)
)

// New creates an empty store. A nil codec defaults to gob.
func New(cdc codec.ICodec) *Store {
	if cdc == nil {
		cdc = codec.NewGOBCodec()
	}
	return &Store{
		cdc:     cdc,
		hasDB:   true,
		tables:  map[string]map[string][]byte{},
		indexes: map[string]map[string]bool{},
	}
}

// --------------------------------------------------------------------------
// DDL
// --------------------------------------------------------------------------

func (s *Store) CreateDatabase(conflict storage.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasDB {
		if conflict == storage.ConflictRepair {
			// reconcile: an existing in-memory database already
			// matches any declared model
			return nil
		}
		return conflict.ResolveOne(&s.Log, "database already exists")
	}
	s.hasDB = true
	s.Log.Log(storage.LogDDL, "ram: created database")
	return nil
}

func (s *Store) HasDatabase() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasDB, nil
}

func (s *Store) DropDatabase(conflict storage.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasDB {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no database to drop")
	}
	s.hasDB = false
	s.tables = map[string]map[string][]byte{}
	s.indexes = map[string]map[string]bool{}
	s.Log.Log(storage.LogDDL, "ram: dropped database")
	return nil
}

func (s *Store) CreateStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[t.Name]; ok {
		if conflict == storage.ConflictRepair {
			// schemaless tables need no structural reconciliation
			return nil
		}
		return conflict.ResolveOne(&s.Log, "storage for %q already exists", t.Name)
	}
	s.tables[t.Name] = map[string][]byte{}
	s.Log.Log(storage.LogDDL, "ram: created storage for %q", t.Name)
	return nil
}

func (s *Store) HasStorage(t *schema.Type) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[t.Name]
	return ok, nil
}

func (s *Store) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[t.Name]; !ok {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q to drop", t.Name)
	}
	delete(s.tables, t.Name)
	delete(s.indexes, t.Name)
	s.Log.Log(storage.LogDDL, "ram: dropped storage for %q", t.Name)
	return nil
}

// AddProperty writes the coerced default into every stored snapshot that
// lacks the property.
func (s *Store) AddProperty(t *schema.Type, p schema.Property, conflict storage.Conflict) error {
	def, err := p.Type.Coerce(p.Default)
	if err != nil {
		return storage.WrapErr(storage.CodeMapping, err, "default for %q.%q", t.Name, p.Name)
	}
	return s.rewrite(t, conflict, func(props map[string]any) {
		if _, ok := props[p.Name]; !ok {
			props[p.Name] = def
		}
	})
}

func (s *Store) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	return s.rewrite(t, conflict, func(props map[string]any) {
		delete(props, name)
	})
}

func (s *Store) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	return s.rewrite(t, conflict, func(props map[string]any) {
		if v, ok := props[oldname]; ok {
			delete(props, oldname)
			props[newname] = v
		}
	})
}

// rewrite decodes, mutates and re-encodes every snapshot of the type.
func (s *Store) rewrite(t *schema.Type, conflict storage.Conflict, mutate func(map[string]any)) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[t.Name]
	if !ok {
		if conflict == storage.ConflictRepair {
			s.tables[t.Name] = map[string][]byte{}
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q", t.Name)
	}
	for key, snap := range table {
		props, err := s.cdc.Decode(snap)
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "decoding %q snapshot", t.Name)
		}
		mutate(props)
		b, err := s.cdc.Encode(props)
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "encoding %q snapshot", t.Name)
		}
		table[key] = b
	}
	s.Log.Log(storage.LogDDL, "ram: rewrote %d snapshots of %q", len(table), t.Name)
	return nil
}

func (s *Store) AddIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexes[t.Name][name] {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "index %q on %q already exists", name, t.Name)
	}
	if s.indexes[t.Name] == nil {
		s.indexes[t.Name] = map[string]bool{}
	}
	// in-memory scans need no index structure; only the declaration
	// is tracked so conflict handling stays uniform
	s.indexes[t.Name][name] = true
	return nil
}

func (s *Store) HasIndex(t *schema.Type, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[t.Name][name], nil
}

func (s *Store) DropIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexes[t.Name][name] {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no index %q on %q to drop", name, t.Name)
	}
	delete(s.indexes[t.Name], name)
	return nil
}

func (s *Store) Map(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	ok, _ := s.HasStorage(t)
	if ok {
		return nil
	}
	if conflict == storage.ConflictRepair {
		return s.CreateStorage(t, storage.ConflictRepair)
	}
	return conflict.ResolveOne(&s.Log, "no storage for registered type %q", t.Name)
}

func (s *Store) MapAll(conflict storage.Conflict) error {
	var issues []string
	for _, t := range s.Types() {
		ok, _ := s.HasStorage(t)
		if ok {
			continue
		}
		if conflict == storage.ConflictRepair {
			if err := s.CreateStorage(t, storage.ConflictRepair); err != nil {
				return err
			}
			continue
		}
		issues = append(issues, "no storage for registered type \""+t.Name+"\"")
	}
	return conflict.Resolve(&s.Log, issues...)
}

// --------------------------------------------------------------------------
// DML
// --------------------------------------------------------------------------

// Reserve assigns an identity when the sequencer requires one, then
// fully persists the unit. Holding the type lock across the existing-
// identity scan and the write keeps assignment race free.
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
	s.Log.Log(storage.LogReserve, "ram: reserved %q %v", t.Name, u.Identity())
	// fully persisted, so the contract requires a cleanse
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
	s.Log.Log(storage.LogSave, "ram: saved %q %v", t.Name, u.Identity())
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

	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[t.Name]
	if !ok {
		return nil
	}
	key, err := s.unitKey(u)
	if err != nil {
		return err
	}
	delete(table, key)
	s.Log.Log(storage.LogDestroy, "ram: destroyed %q %v", t.Name, u.Identity())
	return nil
}

func (s *Store) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	units, err := s.scan(t)
	if err != nil {
		return storage.FailUnits(err)
	}
	units, err = storage.ApplyStatement(units, stmt)
	if err != nil {
		return storage.FailUnits(err)
	}
	s.Log.Log(storage.LogRecall, "ram: recalled %d of %q", len(units), t.Name)
	return storage.SeqOfUnits(units)
}

func (s *Store) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(s.XRecall(t, stmt))
}

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

func (s *Store) Count(src storage.Source, restriction expr.Expr) (int, error) {
	return storage.GenericCount(s, src, restriction)
}

func (s *Store) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	return storage.GenericSum(s, src, attr, restriction)
}

func (s *Store) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	return storage.GenericRange(s, src, attr, restriction)
}

// --------------------------------------------------------------------------
// Transactions / Lifecycle
// --------------------------------------------------------------------------

// Start is a no-op: memory writes apply immediately.
func (s *Store) Start() error    { return nil }
func (s *Store) Commit() error   { return nil }
func (s *Store) Rollback() error { return nil }

func (s *Store) SupportsFeature(f storage.Feature) bool {
	return f&(storage.FeatureScan|storage.FeatureIntrospection) == f && f != 0
}

func (s *Store) Shutdown(conflict storage.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = map[string]map[string][]byte{}
	s.indexes = map[string]map[string]bool{}
	return nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

func (s *Store) CachedCount(t *schema.Type) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[t.Name]), nil
}

func (s *Store) CachedUnits(t *schema.Type) ([]*unit.Unit, error) {
	return s.scan(t)
}

func (s *Store) FlushType(t *schema.Type) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[t.Name]; ok {
		s.tables[t.Name] = map[string][]byte{}
	}
	return nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// unitKey derives the table key: the identity key for keyed types, a
// digest of the full snapshot for identifier-less ones.
func (s *Store) unitKey(u *unit.Unit) (string, error) {
	if u.Type().HasIdentifiers() {
		return u.Identity().Key(), nil
	}
	b, err := s.cdc.Encode(u.Properties())
	if err != nil {
		return "", storage.WrapErr(storage.CodeIO, err, "keying %q unit", u.Type().Name)
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// put encodes and stores the snapshot; caller holds the type lock.
func (s *Store) put(u *unit.Unit) error {
	key, err := s.unitKey(u)
	if err != nil {
		return err
	}
	b, err := s.cdc.Encode(u.Properties())
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "encoding %q unit", u.Type().Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[u.Type().Name]
	if !ok {
		// storage springs into existence on first write, like a
		// schemaless table
		table = map[string][]byte{}
		s.tables[u.Type().Name] = table
	}
	table[key] = b
	return nil
}

// scan decodes every snapshot of the type into fresh units. A missing
// table reads as empty.
func (s *Store) scan(t *schema.Type) ([]*unit.Unit, error) {
	if err := s.EnsureHandled(t); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snaps := make([][]byte, 0, len(s.tables[t.Name]))
	for _, b := range s.tables[t.Name] {
		snaps = append(snaps, b)
	}
	s.mu.RUnlock()

	units := make([]*unit.Unit, 0, len(snaps))
	for _, b := range snaps {
		props, err := s.cdc.Decode(b)
		if err != nil {
			return nil, storage.WrapErr(storage.CodeIO, err, "decoding %q snapshot", t.Name)
		}
		u, err := unit.FromProps(t, props)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// identities lists the current identities of the type; caller holds the
// type lock.
func (s *Store) identities(t *schema.Type) ([]schema.Identity, error) {
	units, err := s.scan(t)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Identity, len(units))
	for i, u := range units {
		out[i] = u.Identity()
	}
	return out, nil
}
