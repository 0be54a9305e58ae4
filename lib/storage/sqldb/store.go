package sqldb

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
)

// --------------------------------------------------------------------------
// SQLite Storage Manager
// --------------------------------------------------------------------------

// Store persists units in a SQLite file, one table per entity type with
// one column per property. Identifier columns form the primary key, so
// saves are idempotent upserts. Restrictions that pin the full identity
// and plain result shaping are pushed into the engine; everything else
// falls back to an in-memory pass over the scanned rows.
//
// Thread-safety: the connection pool is limited to a single connection,
// so statements never interleave at the SQLite level. Reserve, save and
// destroy additionally hold the entity type's lock for race-free
// identifier assignment.
type Store struct {
	storage.TypeSet
	Log storage.Logger

	locks storage.TypeLocks

	mu    sync.Mutex
	db    *sql.DB
	tx    *sql.Tx
	hasDB bool
}

var (
	_ storage.IStorage     = (*Store)(nil)
	_ storage.Introspector = (*Store)(nil)
)

// querier is the slice of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Open opens or creates a SQLite database at path and applies the
// required pragmas. Pass ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	existed := false
	if path != ":memory:" {
		if _, err := os.Stat(path); err == nil {
			existed = true
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "opening %q", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storage.WrapErr(storage.CodeIO, err, "connecting to %q", path)
	}
	// single writer avoids SQLITE_BUSY and keeps open transactions on
	// the connection every statement uses
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, storage.WrapErr(storage.CodeIO, err, "applying %q", pragma)
		}
	}
	return &Store{db: db, hasDB: existed}, nil
}

// q returns the statement target: the open transaction when one is
// active, the pooled connection otherwise.
func (s *Store) q() (querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, storage.Errorf(storage.CodeIO, "store is shut down")
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return s.db, nil
}

// --------------------------------------------------------------------------
// DDL
// --------------------------------------------------------------------------

func (s *Store) CreateDatabase(conflict storage.Conflict) error {
	s.mu.Lock()
	hasDB := s.hasDB
	s.mu.Unlock()
	if hasDB {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "database already exists")
	}
	s.mu.Lock()
	s.hasDB = true
	s.mu.Unlock()
	s.Log.Log(storage.LogDDL, "sqldb: created database")
	return nil
}

func (s *Store) HasDatabase() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasDB, nil
}

// DropDatabase removes every user table from the file.
func (s *Store) DropDatabase(conflict storage.Conflict) error {
	s.mu.Lock()
	hasDB := s.hasDB
	s.mu.Unlock()
	if !hasDB {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no database to drop")
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	rows, err := q.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "listing tables")
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return storage.WrapErr(storage.CodeIO, err, "listing tables")
		}
		names = append(names, n)
	}
	if err := rows.Close(); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "listing tables")
	}
	for _, n := range names {
		if _, err := q.Exec("DROP TABLE " + quote(n)); err != nil {
			return storage.WrapErr(storage.CodeIO, err, "dropping table %q", n)
		}
	}
	s.mu.Lock()
	s.hasDB = false
	s.mu.Unlock()
	s.Log.Log(storage.LogDDL, "sqldb: dropped database")
	return nil
}

func (s *Store) CreateStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if exists {
		if conflict == storage.ConflictRepair {
			return s.reconcileColumns(t)
		}
		return conflict.ResolveOne(&s.Log, "storage for %q already exists", t.Name)
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	if _, err := q.Exec(createSQL(t)); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "creating storage for %q", t.Name)
	}
	s.Log.Log(storage.LogDDL, "sqldb: created storage for %q", t.Name)
	return nil
}

func (s *Store) HasStorage(t *schema.Type) (bool, error) {
	return s.tableExists(t.Name)
}

func (s *Store) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if !exists {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q to drop", t.Name)
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	if _, err := q.Exec("DROP TABLE " + quote(t.Name)); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "dropping storage for %q", t.Name)
	}
	s.Log.Log(storage.LogDDL, "sqldb: dropped storage for %q", t.Name)
	return nil
}

func (s *Store) AddProperty(t *schema.Type, p schema.Property, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if !exists {
		if conflict == storage.ConflictRepair {
			return s.CreateStorage(t, storage.ConflictRepair)
		}
		return conflict.ResolveOne(&s.Log, "no storage for %q", t.Name)
	}
	has, err := s.columnExists(t.Name, p.Name)
	if err != nil {
		return err
	}
	if has {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "property %q.%q already stored", t.Name, p.Name)
	}
	return s.addColumn(t.Name, p)
}

func (s *Store) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	has, err := s.columnExists(t.Name, name)
	if err != nil {
		return err
	}
	if !has {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no stored property %q.%q to drop", t.Name, name)
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(t.Name), quote(name))
	if _, err := q.Exec(stmt); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "dropping %q.%q", t.Name, name)
	}
	s.Log.Log(storage.LogDDL, "sqldb: dropped column %q.%q", t.Name, name)
	return nil
}

func (s *Store) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	has, err := s.columnExists(t.Name, oldname)
	if err != nil {
		return err
	}
	if !has {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no stored property %q.%q to rename", t.Name, oldname)
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		quote(t.Name), quote(oldname), quote(newname))
	if _, err := q.Exec(stmt); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "renaming %q.%q", t.Name, oldname)
	}
	s.Log.Log(storage.LogDDL, "sqldb: renamed column %q.%q to %q", t.Name, oldname, newname)
	return nil
}

func (s *Store) AddIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	if !t.HasProperty(name) {
		return storage.Errorf(storage.CodeMapping, "no property %q.%q to index", t.Name, name)
	}
	has, err := s.HasIndex(t, name)
	if err != nil {
		return err
	}
	if has {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "index on %q.%q already exists", t.Name, name)
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quote(indexName(t.Name, name)), quote(t.Name), quote(name))
	if _, err := q.Exec(stmt); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "indexing %q.%q", t.Name, name)
	}
	s.Log.Log(storage.LogDDL, "sqldb: created index on %q.%q", t.Name, name)
	return nil
}

func (s *Store) HasIndex(t *schema.Type, name string) (bool, error) {
	q, err := s.q()
	if err != nil {
		return false, err
	}
	var n int
	row := q.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?`,
		indexName(t.Name, name))
	if err := row.Scan(&n); err != nil {
		return false, storage.WrapErr(storage.CodeIO, err, "checking index on %q.%q", t.Name, name)
	}
	return n > 0, nil
}

func (s *Store) DropIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	has, err := s.HasIndex(t, name)
	if err != nil {
		return err
	}
	if !has {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "no index on %q.%q to drop", t.Name, name)
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	if _, err := q.Exec("DROP INDEX " + quote(indexName(t.Name, name))); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "dropping index on %q.%q", t.Name, name)
	}
	return nil
}

func (s *Store) Map(t *schema.Type, conflict storage.Conflict) error {
	if err := s.EnsureHandled(t); err != nil {
		return err
	}
	exists, err := s.tableExists(t.Name)
	if err != nil {
		return err
	}
	if exists {
		if conflict == storage.ConflictRepair {
			return s.reconcileColumns(t)
		}
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
		exists, err := s.tableExists(t.Name)
		if err != nil {
			return err
		}
		if exists {
			if conflict == storage.ConflictRepair {
				if err := s.reconcileColumns(t); err != nil {
					return err
				}
			}
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
// Transactions
// --------------------------------------------------------------------------

func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return storage.Errorf(storage.CodeIO, "store is shut down")
	}
	if s.tx != nil {
		return storage.Errorf(storage.CodeInvalid, "transaction already started")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "starting transaction")
	}
	s.tx = tx
	return nil
}

func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.Errorf(storage.CodeInvalid, "no transaction to commit")
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "committing transaction")
	}
	return nil
}

func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.Errorf(storage.CodeInvalid, "no transaction to roll back")
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "rolling back transaction")
	}
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *Store) SupportsFeature(f storage.Feature) bool {
	switch f {
	case storage.FeatureTransactions, storage.FeaturePushdown,
		storage.FeatureScan, storage.FeatureIntrospection:
		return true
	}
	return false
}

// Shutdown rolls back any open transaction and closes the connection.
func (s *Store) Shutdown(conflict storage.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		if conflict == storage.ConflictRepair {
			return nil
		}
		return conflict.ResolveOne(&s.Log, "store already shut down")
	}
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return storage.WrapErr(storage.CodeIO, err, "closing database")
	}
	return nil
}

// --------------------------------------------------------------------------
// Schema internals
// --------------------------------------------------------------------------

func createSQL(t *schema.Type) string {
	defs := make([]string, 0, len(t.Properties())+1)
	for _, p := range t.Properties() {
		defs = append(defs, quote(p.Name)+" "+columnType(p.Type))
	}
	if t.HasIdentifiers() {
		ids := t.Identifiers()
		quoted := make([]string, len(ids))
		for i, n := range ids {
			quoted[i] = quote(n)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(t.Name), strings.Join(defs, ", "))
}

func indexName(typeName, propName string) string {
	return "idx_" + typeName + "_" + propName
}

func (s *Store) tableExists(name string) (bool, error) {
	q, err := s.q()
	if err != nil {
		return false, err
	}
	var n int
	row := q.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err := row.Scan(&n); err != nil {
		return false, storage.WrapErr(storage.CodeIO, err, "checking table %q", name)
	}
	return n > 0, nil
}

// columns lists the current column names of a table.
func (s *Store) columns(name string) (map[string]bool, error) {
	q, err := s.q()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query("PRAGMA table_info(" + quote(name) + ")")
	if err != nil {
		return nil, storage.WrapErr(storage.CodeIO, err, "inspecting table %q", name)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid, notnull, pk int
			cname, ctype     string
			dflt             any
		)
		if err := rows.Scan(&cid, &cname, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, storage.WrapErr(storage.CodeIO, err, "inspecting table %q", name)
		}
		cols[cname] = true
	}
	return cols, rows.Err()
}

func (s *Store) columnExists(table, column string) (bool, error) {
	cols, err := s.columns(table)
	if err != nil {
		return false, err
	}
	return cols[column], nil
}

// reconcileColumns adds declared columns the stored table lacks. Extra
// stored columns are left alone.
func (s *Store) reconcileColumns(t *schema.Type) error {
	cols, err := s.columns(t.Name)
	if err != nil {
		return err
	}
	for _, p := range t.Properties() {
		if cols[p.Name] {
			continue
		}
		if err := s.addColumn(t.Name, p); err != nil {
			return err
		}
	}
	return nil
}

// addColumn issues the ALTER TABLE; the declared default backfills
// existing rows.
func (s *Store) addColumn(table string, p schema.Property) error {
	def, err := p.Type.Coerce(p.Default)
	if err != nil {
		return storage.WrapErr(storage.CodeMapping, err, "default for %q.%q", table, p.Name)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		quote(table), quote(p.Name), columnType(p.Type))
	if def != nil {
		lit, err := literal(p.Type, def)
		if err != nil {
			return err
		}
		stmt += " DEFAULT " + lit
	}
	q, err := s.q()
	if err != nil {
		return err
	}
	if _, err := q.Exec(stmt); err != nil {
		return storage.WrapErr(storage.CodeIO, err, "adding column %q.%q", table, p.Name)
	}
	s.Log.Log(storage.LogDDL, "sqldb: added column %q.%q", table, p.Name)
	return nil
}
