package fs

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Flat-File Storage Manager
// --------------------------------------------------------------------------

const lockFileName = "class.lock"

// Store persists units as plain files: a directory per entity type, a
// folder per unit named after its identity, a file per property. String
// and byte properties are written raw, everything else as JSON, so the
// layout stays inspectable with ordinary shell tools.
//
// Thread-safety: in-process callers serialise through per-type mutexes;
// against other processes each type directory is guarded by a lock file
// acquired with bounded-sleep polling.
type Store struct {
	storage.TypeSet
	Log storage.Logger

	root  string
	idsep string
	locks storage.TypeLocks

	lockPoll    time.Duration
	lockTimeout time.Duration
}

var (
	_ storage.IStorage     = (*Store)(nil)
	_ storage.Introspector = (*Store)(nil)
)

// New creates a store rooted at the given directory. The separator joins
// escaped identifier values into folder names; it defaults to "_".
func New(root, idsep string) *Store {
	if idsep == "" {
		idsep = "_"
	}
	return &Store{
		root:        root,
		idsep:       idsep,
		lockPoll:    10 * time.Millisecond,
		lockTimeout: 5 * time.Second,
	}
}

func (s *Store) typeDir(t *schema.Type) string {
	return filepath.Join(s.root, t.Name)
}

func (s *Store) typeLock(t *schema.Type) *fileLock {
	return &fileLock{
		path:    filepath.Join(s.typeDir(t), lockFileName),
		poll:    s.lockPoll,
		timeout: s.lockTimeout,
	}
}

// unitDir encodes the identity into a folder name. Identifier-less
// snapshots fall back to a digest of the property values.
func (s *Store) unitDir(u *unit.Unit) string {
	t := u.Type()
	if !t.HasIdentifiers() {
		sum := md5.Sum([]byte(schema.Identity(propsTuple(u)).Key()))
		return filepath.Join(s.typeDir(t), hex.EncodeToString(sum[:]))
	}
	id := u.Identity()
	parts := make([]string, len(id))
	for i, v := range id {
		if v == nil {
			parts[i] = "__blank__"
			continue
		}
		parts[i] = url.PathEscape(fmt.Sprintf("%v", v))
	}
	return filepath.Join(s.typeDir(t), strings.Join(parts, s.idsep))
}

func propsTuple(u *unit.Unit) []any {
	names := u.Type().PropertyNames()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = u.Get(n)
	}
	return out
}

// --------------------------------------------------------------------------
// DDL
// --------------------------------------------------------------------------

func (s *Store) CreateDatabase(conflict storage.Conflict) error {
	if _, err := os.Stat(s.root); err == nil {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "database directory %q already exists", s.root)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "creating database directory")
	}
	s.Log.Log(storage.LogDDL, "fs: created database at %q", s.root)
	return nil
}

func (s *Store) HasDatabase() (bool, error) {
	_, err := os.Stat(s.root)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storage.WrapErr(storage.CodeIO, err, "checking database directory")
}

func (s *Store) DropDatabase(conflict storage.Conflict) error {
	ok, err := s.HasDatabase()
	if err != nil {
		return err
	}
	if !ok {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no database directory %q to drop", s.root)
	}
	if err := os.RemoveAll(s.root); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "removing database directory")
	}
	s.Log.Log(storage.LogDDL, "fs: dropped database at %q", s.root)
	return nil
}

func (s *Store) CreateStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	dir := s.typeDir(t)
	if _, err := os.Stat(dir); err == nil {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "storage for %q already exists", t.Name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "creating storage for %q", t.Name)
	}
	s.Log.Log(storage.LogDDL, "fs: created storage for %q", t.Name)
	return nil
}

func (s *Store) HasStorage(t *schema.Type) (bool, error) {
	_, err := os.Stat(s.typeDir(t))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storage.WrapErr(storage.CodeIO, err, "checking storage for %q", t.Name)
}

func (s *Store) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	ok, err := s.HasStorage(t)
	if err != nil {
		return err
	}
	if !ok {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q to drop", t.Name)
	}
	if err := os.RemoveAll(s.typeDir(t)); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "removing storage for %q", t.Name)
	}
	s.Log.Log(storage.LogDDL, "fs: dropped storage for %q", t.Name)
	return nil
}

func (s *Store) AddProperty(t *schema.Type, p schema.Property, conflict storage.Conflict) error {
	def, err := p.Type.Coerce(p.Default)
	if err != nil {
		return storage.WrapErr(storage.CodeMapping, err, "default for %q.%q", t.Name, p.Name)
	}
	return s.eachUnitDir(t, conflict, func(dir string) error {
		path := filepath.Join(dir, p.Name)
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		return writeValue(path, p.Type, def)
	})
}

func (s *Store) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	return s.eachUnitDir(t, conflict, func(dir string) error {
		err := os.Remove(filepath.Join(dir, name))
		if err != nil && !os.IsNotExist(err) {
			return storage.WrapErr(storage.CodeIO, err, "dropping %q.%q", t.Name, name)
		}
		return nil
	})
}

func (s *Store) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	return s.eachUnitDir(t, conflict, func(dir string) error {
		err := os.Rename(filepath.Join(dir, oldname), filepath.Join(dir, newname))
		if err != nil && !os.IsNotExist(err) {
			return storage.WrapErr(storage.CodeIO, err, "renaming %q.%q", t.Name, oldname)
		}
		return nil
	})
}

func (s *Store) eachUnitDir(t *schema.Type, conflict storage.Conflict, visit func(dir string) error) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	ok, err := s.HasStorage(t)
	if err != nil {
		return err
	}
	if !ok {
		if conflict == storage.ConflictRepair {
			return s.CreateStorage(t, storage.ConflictRepair)
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q", t.Name)
	}

	unlock := s.locks.Lock(t)
	defer unlock()
	flock := s.typeLock(t)
	if err := flock.acquire(); err != nil {
		return err
	}
	defer flock.release()

	dirs, err := s.unitDirs(t)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := visit(dir); err != nil {
			return err
		}
	}
	return nil
}

// AddIndex is unavailable: a directory tree has no index structures.
func (s *Store) AddIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	return storage.Errorf(storage.CodeNotSupported, "fs: no indexes")
}

func (s *Store) HasIndex(t *schema.Type, name string) (bool, error) { return false, nil }

func (s *Store) DropIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	return storage.Errorf(storage.CodeNotSupported, "fs: no indexes")
}

func (s *Store) Map(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	ok, err := s.HasStorage(t)
	if err != nil {
		return err
	}
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
		ok, err := s.HasStorage(t)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if conflict == storage.ConflictRepair {
			if err := s.CreateStorage(t, storage.ConflictRepair); err != nil {
				return err
			}
			continue
		}
		issues = append(issues, fmt.Sprintf("no storage for registered type %q", t.Name))
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
	flock := s.typeLock(t)
	if err := flock.acquire(); err != nil {
		return err
	}
	defer flock.release()

	if t.HasIdentifiers() && !t.Sequencer().ValidID(u.Identity()) {
		existing, err := s.identitiesLocked(t)
		if err != nil {
			return err
		}
		if err := t.Sequencer().Assign(u, existing); err != nil {
			return err
		}
	}
	if err := s.writeUnit(u); err != nil {
		return err
	}
	s.Log.Log(storage.LogReserve, "fs: reserved %q %v", t.Name, u.Identity())
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
	flock := s.typeLock(t)
	if err := flock.acquire(); err != nil {
		return err
	}
	defer flock.release()

	if err := s.writeUnit(u); err != nil {
		return err
	}
	s.Log.Log(storage.LogSave, "fs: saved %q %v", t.Name, u.Identity())
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
	flock := s.typeLock(t)
	if err := flock.acquire(); err != nil {
		return err
	}
	defer flock.release()

	if err := os.RemoveAll(s.unitDir(u)); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "destroying %q unit", t.Name)
	}
	s.Log.Log(storage.LogDestroy, "fs: destroyed %q %v", t.Name, u.Identity())
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
	s.Log.Log(storage.LogRecall, "fs: recalled %d of %q", len(units), t.Name)
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
	return f != 0 && f&(storage.FeatureScan|storage.FeatureIntrospection) == f
}

func (s *Store) Shutdown(conflict storage.Conflict) error { return nil }

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

func (s *Store) CachedCount(t *schema.Type) (int, error) {
	dirs, err := s.unitDirs(t)
	if err != nil {
		return 0, err
	}
	return len(dirs), nil
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
	dirs, err := s.unitDirs(t)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return storage.WrapErr(storage.CodeIO, err, "flushing %q", t.Name)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func (s *Store) unitDirs(t *schema.Type) ([]string, error) {
	entries, err := os.ReadDir(s.typeDir(t))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "listing %q storage", t.Name)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(s.typeDir(t), e.Name()))
		}
	}
	return dirs, nil
}

func (s *Store) writeUnit(u *unit.Unit) error {
	dir := s.unitDir(u)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "creating %q unit folder", u.Type().Name)
	}
	for _, p := range u.Type().Properties() {
		path := filepath.Join(dir, p.Name)
		v := u.Get(p.Name)
		if v == nil {
			// absent file reads back as nil
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return storage.WrapErr(storage.CodeIO, err, "clearing %q.%q", u.Type().Name, p.Name)
			}
			continue
		}
		if err := writeValue(path, p.Type, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) readUnit(t *schema.Type, dir string) (*unit.Unit, error) {
	props := map[string]any{}
	for _, p := range t.Properties() {
		v, err := readValue(filepath.Join(dir, p.Name), p.Type)
		if err != nil {
			return nil, err
		}
		if v != nil {
			props[p.Name] = v
		}
	}
	return unit.FromProps(t, props)
}

func (s *Store) scan(t *schema.Type) ([]*unit.Unit, error) {
	if err := s.EnsureHandled(t); err != nil {
		return nil, err
	}
	dirs, err := s.unitDirs(t)
	if err != nil {
		return nil, err
	}
	units := make([]*unit.Unit, 0, len(dirs))
	for _, dir := range dirs {
		u, err := s.readUnit(t, dir)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// identitiesLocked lists current identities; caller holds both locks.
func (s *Store) identitiesLocked(t *schema.Type) ([]schema.Identity, error) {
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

// writeValue stores one property: raw bytes for strings and byte
// slices, JSON for everything else.
func writeValue(path string, kind schema.Kind, v any) error {
	var b []byte
	switch kind {
	case schema.KindString:
		b = []byte(v.(string))
	case schema.KindBytes:
		b = v.([]byte)
	default:
		var err error
		b, err = json.Marshal(v)
		if err != nil {
			return storage.WrapErr(storage.CodeIO, err, "encoding property file %q", path)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "writing property file %q", path)
	}
	return nil
}

func readValue(path string, kind schema.Kind) (any, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "reading property file %q", path)
	}
	switch kind {
	case schema.KindString:
		return string(b), nil
	case schema.KindBytes:
		return b, nil
	default:
		var raw any
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, storage.WrapErr(storage.CodeIO, err, "decoding property file %q", path)
		}
		return kind.Coerce(raw)
	}
}
