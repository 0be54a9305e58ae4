package kv

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mnemo-db/mnemo/lib/codec"
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Key-Value Storage Manager
// --------------------------------------------------------------------------

// Store persists units in a flat key-value namespace: one key per
// identity, holding the codec-encoded snapshot, plus one index key per
// type listing the member keys when the store runs indexed.
// Identifier-less types are keyed by a digest of the snapshot instead.
//
// Unindexed mode trades the index maintenance away and with it the
// ability to enumerate a type: scans, client-side identifier assignment
// and schema evolution all come back not-supported then. Point lookups
// (every identifier pinned to a constant) keep working either way.
//
// Thread-safety: snapshot keys live in an xsync.MapOf and are safe for
// concurrent access; index updates and identifier assignment serialise
// through the per-type lock.
type Store struct {
	storage.TypeSet
	Log storage.Logger

	cdc     codec.ICodec
	locks   storage.TypeLocks
	name    string
	indexed bool

	data *xsync.MapOf[string, []byte]

	mu         sync.Mutex
	hasDB      bool
	storageSet map[string]bool
}

var _ storage.IStorage = (*Store)(nil)

// New creates a store. The name prefixes every key so several stores can
// share one logical namespace. Indexed mode maintains the per-type index
// keys; a nil codec defaults to gob.
func New(name string, indexed bool, cdc codec.ICodec) *Store {
	if cdc == nil {
		cdc = codec.NewGOBCodec()
	}
	return &Store{
		cdc:        cdc,
		name:       name,
		indexed:    indexed,
		data:       xsync.NewMapOf[string, []byte](),
		hasDB:      true,
		storageSet: map[string]bool{},
	}
}

func (s *Store) typePrefix(t *schema.Type) string {
	return "mnemo:" + s.name + ":" + t.Name + ":"
}

// unitKey hashes the identity so arbitrary identifier values stay within
// key-length limits of memcached-style backends.
func (s *Store) unitKey(t *schema.Type, id schema.Identity) string {
	sum := md5.Sum([]byte(id.Key()))
	return s.typePrefix(t) + hex.EncodeToString(sum[:])
}

func (s *Store) indexKey(t *schema.Type) string {
	return s.typePrefix(t) + "!index"
}

// --------------------------------------------------------------------------
// DDL
// --------------------------------------------------------------------------

func (s *Store) CreateDatabase(conflict storage.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasDB {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "database already exists")
	}
	s.hasDB = true
	return nil
}

func (s *Store) HasDatabase() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.storageSet = map[string]bool{}
	s.data.Clear()
	return nil
}

func (s *Store) CreateStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storageSet[t.Name] {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "storage for %q already exists", t.Name)
	}
	s.storageSet[t.Name] = true
	s.Log.Log(storage.LogDDL, "kv: created storage for %q", t.Name)
	return nil
}

func (s *Store) HasStorage(t *schema.Type) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storageSet[t.Name], nil
}

func (s *Store) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	s.mu.Lock()
	missing := !s.storageSet[t.Name]
	if !missing {
		delete(s.storageSet, t.Name)
	}
	s.mu.Unlock()
	if missing {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q to drop", t.Name)
	}
	// drop every member key plus the index
	if s.indexed {
		keys, err := s.indexedKeys(t)
		if err != nil {
			return err
		}
		for _, k := range keys {
			s.data.Delete(k)
		}
	}
	s.data.Delete(s.indexKey(t))
	s.Log.Log(storage.LogDDL, "kv: dropped storage for %q", t.Name)
	return nil
}

// AddProperty rewrites every stored snapshot, which requires the index.
func (s *Store) AddProperty(t *schema.Type, p schema.Property, conflict storage.Conflict) error {
	def, err := p.Type.Coerce(p.Default)
	if err != nil {
		return storage.WrapErr(storage.CodeMapping, err, "default for %q.%q", t.Name, p.Name)
	}
	return s.rewrite(t, func(props map[string]any) {
		if _, ok := props[p.Name]; !ok {
			props[p.Name] = def
		}
	})
}

func (s *Store) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	return s.rewrite(t, func(props map[string]any) {
		delete(props, name)
	})
}

func (s *Store) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	return s.rewrite(t, func(props map[string]any) {
		if v, ok := props[oldname]; ok {
			delete(props, oldname)
			props[newname] = v
		}
	})
}

func (s *Store) rewrite(t *schema.Type, mutate func(map[string]any)) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	if !s.indexed {
		return storage.Errorf(storage.CodeNotSupported,
			"kv: schema evolution for %q requires an indexed store", t.Name)
	}
	unlock := s.locks.Lock(t)
	defer unlock()
	keys, err := s.indexedKeys(t)
	if err != nil {
		return err
	}
	for _, k := range keys {
		snap, ok := s.data.Load(k)
		if !ok {
			continue
		}
		props, err := s.cdc.Decode(snap)
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "decoding %q snapshot", t.Name)
		}
		mutate(props)
		b, err := s.cdc.Encode(props)
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "encoding %q snapshot", t.Name)
		}
		s.data.Store(k, b)
	}
	return nil
}

// AddIndex is not available: the key-value layout has no secondary
// structures beyond the per-type member index it maintains itself.
func (s *Store) AddIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	return storage.Errorf(storage.CodeNotSupported, "kv: no secondary indexes")
}

func (s *Store) HasIndex(t *schema.Type, name string) (bool, error) {
	return false, nil
}

func (s *Store) DropIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	return storage.Errorf(storage.CodeNotSupported, "kv: no secondary indexes")
}

func (s *Store) Map(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	if ok, _ := s.HasStorage(t); ok {
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
		if ok, _ := s.HasStorage(t); ok {
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

func (s *Store) Reserve(u *unit.Unit) error {
	t := u.Type()
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	unlock := s.locks.Lock(t)
	defer unlock()

	if t.HasIdentifiers() && !t.Sequencer().ValidID(u.Identity()) {
		if !s.indexed {
			// without the index the existing identities are
			// unknowable, so client-side assignment is off
			return storage.Errorf(storage.CodeNotSupported,
				"kv: cannot assign identifiers for %q on an unindexed store", t.Name)
		}
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
	s.Log.Log(storage.LogReserve, "kv: reserved %q %v", t.Name, u.Identity())
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
	s.Log.Log(storage.LogSave, "kv: saved %q %v", t.Name, u.Identity())
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

	key := s.unitKey(t, u.Identity())
	if !t.HasIdentifiers() {
		b, err := s.cdc.Encode(u.Properties())
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "encoding %q unit", t.Name)
		}
		key = s.snapshotKey(t, b)
	}
	s.data.Delete(key)
	if s.indexed {
		if err := s.updateIndex(t, key, false); err != nil {
			return err
		}
	}
	s.Log.Log(storage.LogDestroy, "kv: destroyed %q %v", t.Name, u.Identity())
	return nil
}

func (s *Store) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	if err := s.EnsureHandled(t); err != nil {
		return storage.FailUnits(err)
	}
	// point lookups work without the index
	if id, ok := expr.MatchIdentifierEq(stmt.Restriction, t); ok && !stmt.Shaped() {
		u, err := s.get(t, id)
		if err != nil {
			return storage.FailUnits(err)
		}
		if u == nil {
			return storage.SeqOfUnits(nil)
		}
		return storage.SeqOfUnits([]*unit.Unit{u})
	}
	if !s.indexed {
		return storage.FailUnits(storage.Errorf(storage.CodeNotSupported,
			"kv: scanning %q requires an indexed store", t.Name))
	}
	units, err := s.scan(t)
	if err != nil {
		return storage.FailUnits(err)
	}
	units, err = storage.ApplyStatement(units, stmt)
	if err != nil {
		return storage.FailUnits(err)
	}
	s.Log.Log(storage.LogRecall, "kv: recalled %d of %q", len(units), t.Name)
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

func (s *Store) Start() error    { return nil }
func (s *Store) Commit() error   { return nil }
func (s *Store) Rollback() error { return nil }

func (s *Store) SupportsFeature(f storage.Feature) bool {
	var supported storage.Feature = storage.FeaturePushdown
	if s.indexed {
		supported |= storage.FeatureScan | storage.FeatureIntrospection
	}
	return f != 0 && f&supported == f
}

func (s *Store) Shutdown(conflict storage.Conflict) error {
	s.data.Clear()
	return nil
}

// --------------------------------------------------------------------------
// Introspection (indexed mode)
// --------------------------------------------------------------------------

func (s *Store) CachedCount(t *schema.Type) (int, error) {
	keys, err := s.indexedKeys(t)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) CachedUnits(t *schema.Type) ([]*unit.Unit, error) {
	return s.scan(t)
}

func (s *Store) FlushType(t *schema.Type) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	unlock := s.locks.Lock(t)
	defer unlock()
	keys, err := s.indexedKeys(t)
	if err != nil {
		return err
	}
	for _, k := range keys {
		s.data.Delete(k)
	}
	s.data.Delete(s.indexKey(t))
	return nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func (s *Store) put(u *unit.Unit) error {
	t := u.Type()
	b, err := s.cdc.Encode(u.Properties())
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "encoding %q unit", t.Name)
	}
	key := s.unitKey(t, u.Identity())
	if !t.HasIdentifiers() {
		key = s.snapshotKey(t, b)
	}
	s.data.Store(key, b)
	if s.indexed {
		return s.updateIndex(t, key, true)
	}
	return nil
}

// snapshotKey keys an identifier-less snapshot by a digest of its
// encoded form, mirroring the identity hashing of keyed types.
func (s *Store) snapshotKey(t *schema.Type, encoded []byte) string {
	sum := md5.Sum(encoded)
	return s.typePrefix(t) + hex.EncodeToString(sum[:])
}

func (s *Store) get(t *schema.Type, id schema.Identity) (*unit.Unit, error) {
	b, ok := s.data.Load(s.unitKey(t, id))
	if !ok {
		return nil, nil
	}
	props, err := s.cdc.Decode(b)
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "decoding %q snapshot", t.Name)
	}
	return unit.FromProps(t, props)
}

// indexedKeys loads the member-key list of the type.
func (s *Store) indexedKeys(t *schema.Type) ([]string, error) {
	if !s.indexed {
		return nil, storage.Errorf(storage.CodeNotSupported,
			"kv: %q is not enumerable on an unindexed store", t.Name)
	}
	b, ok := s.data.Load(s.indexKey(t))
	if !ok {
		return nil, nil
	}
	props, err := s.cdc.Decode(b)
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "decoding %q index", t.Name)
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	return keys, nil
}

// updateIndex adds or removes one member key; caller holds the type
// lock. The index is stored as a snapshot whose property names are the
// member keys, reusing the codec.
func (s *Store) updateIndex(t *schema.Type, key string, add bool) error {
	members := map[string]any{}
	if b, ok := s.data.Load(s.indexKey(t)); ok {
		decoded, err := s.cdc.Decode(b)
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "decoding %q index", t.Name)
		}
		members = decoded
	}
	if add {
		members[key] = true
	} else {
		delete(members, key)
	}
	b, err := s.cdc.Encode(members)
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "encoding %q index", t.Name)
	}
	s.data.Store(s.indexKey(t), b)
	return nil
}

func (s *Store) scan(t *schema.Type) ([]*unit.Unit, error) {
	keys, err := s.indexedKeys(t)
	if err != nil {
		return nil, err
	}
	units := make([]*unit.Unit, 0, len(keys))
	for _, k := range keys {
		b, ok := s.data.Load(k)
		if !ok {
			// index points at an evicted key; skip it
			continue
		}
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
