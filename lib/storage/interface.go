package storage

import (
	"iter"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Sequences
// --------------------------------------------------------------------------

// UnitSeq is a lazy sequence of single-type recall results. Iteration
// stops at the first non-nil error.
type UnitSeq = iter.Seq2[*unit.Unit, error]

// RowSeq is a lazy sequence of join rows, one unit per member type in
// source order.
type RowSeq = iter.Seq2[[]*unit.Unit, error]

// ViewSeq is a lazy sequence of projected attribute rows.
type ViewSeq = iter.Seq2[[]any, error]

// --------------------------------------------------------------------------
// Features
// --------------------------------------------------------------------------

// Feature advertises optional backend capabilities.
type Feature uint32

const (
	// FeatureTransactions: Start/Commit/Rollback have real semantics.
	FeatureTransactions Feature = 1 << iota
	// FeatureIntrospection: the manager implements Introspector.
	FeatureIntrospection
	// FeatureScan: the manager can enumerate all units of a type. An
	// unindexed key-value store cannot.
	FeatureScan
	// FeaturePushdown: the manager evaluates some restrictions or
	// result shaping in the backing engine instead of in memory.
	FeaturePushdown
)

// --------------------------------------------------------------------------
// Storage Manager Contract
// --------------------------------------------------------------------------

// IStorage is the uniform persistence contract implemented by every
// backend, cache layer and mediator. Layers compose by holding the next
// IStorage explicitly and forwarding.
//
// Thread-safety: implementations must tolerate concurrent calls from
// multiple goroutines; backends with process-wide shared state serialise
// reserve/save/destroy per entity type (see TypeLocks).
type IStorage interface {
	// ------------------ registration ------------------

	// Register declares the entity types this manager handles. DML and
	// DDL calls for unregistered types are invalid.
	Register(types ...*schema.Type) error
	// Handles reports whether the type is registered.
	Handles(t *schema.Type) bool
	// Types returns the registered types in registration order.
	Types() []*schema.Type
	// TypeByName resolves a registered type.
	TypeByName(name string) (*schema.Type, bool)

	// ------------------ DDL ------------------
	// Every DDL call resolves model/storage mismatches per the given
	// conflict mode; the observable effect of each mode is identical
	// across backends.

	CreateDatabase(conflict Conflict) error
	HasDatabase() (bool, error)
	DropDatabase(conflict Conflict) error

	CreateStorage(t *schema.Type, conflict Conflict) error
	HasStorage(t *schema.Type) (bool, error)
	DropStorage(t *schema.Type, conflict Conflict) error

	AddProperty(t *schema.Type, p schema.Property, conflict Conflict) error
	DropProperty(t *schema.Type, name string, conflict Conflict) error
	RenameProperty(t *schema.Type, oldname, newname string, conflict Conflict) error

	AddIndex(t *schema.Type, name string, conflict Conflict) error
	HasIndex(t *schema.Type, name string) (bool, error)
	DropIndex(t *schema.Type, name string, conflict Conflict) error

	// Map reconciles one registered type with the backing storage:
	// missing storage is reported (or created, under repair) per the
	// conflict mode. MapAll reconciles every registered type,
	// collecting issues across types under warn.
	Map(t *schema.Type, conflict Conflict) error
	MapAll(conflict Conflict) error

	// ------------------ DML ------------------

	// Reserve allocates an identity for the unit if its sequencer
	// requires one and minimally persists it. A manager that fully
	// persists during Reserve must also cleanse the unit.
	Reserve(u *unit.Unit) error
	// Save fully persists the unit. Clean units are skipped unless
	// force is set. Cleanses on success.
	Save(u *unit.Unit, force bool) error
	// Destroy removes the unit from the backing storage.
	Destroy(u *unit.Unit) error

	// XRecall lazily yields units of one type matching the statement.
	XRecall(t *schema.Type, stmt Statement) UnitSeq
	// Recall materialises XRecall.
	Recall(t *schema.Type, stmt Statement) ([]*unit.Unit, error)

	// XMultiRecall lazily yields join rows for a multi-type source.
	XMultiRecall(src Source, stmt Statement) RowSeq
	// MultiRecall materialises XMultiRecall.
	MultiRecall(src Source, stmt Statement) ([][]*unit.Unit, error)

	// XView lazily yields projected attribute rows.
	XView(q Query, stmt Statement) ViewSeq
	// View materialises XView.
	View(q Query, stmt Statement) ([][]any, error)

	// Count returns the number of rows matching the restriction.
	Count(src Source, restriction expr.Expr) (int, error)
	// Sum totals one attribute over matching rows. Nil values are
	// skipped; the result is int64 for integer attributes, float64
	// otherwise.
	Sum(src Source, attr expr.Attr, restriction expr.Expr) (any, error)
	// Range returns the ordered distinct values of one attribute over
	// matching rows. Discrete kinds (int, date) densify into the
	// closed interval between the observed minimum and maximum.
	Range(src Source, attr expr.Attr, restriction expr.Expr) ([]any, error)

	// ------------------ transactions ------------------
	// No-ops on backends without transactional semantics; check
	// FeatureTransactions to distinguish.

	Start() error
	Commit() error
	Rollback() error

	// ------------------ lifecycle ------------------

	// SupportsFeature reports an optional capability.
	SupportsFeature(f Feature) bool
	// Shutdown releases backend resources. The conflict mode governs
	// mismatches detected while closing (a missing database to drop).
	Shutdown(conflict Conflict) error
}

// Introspector is the cache introspection surface required by the burned
// cache. Managers advertising FeatureIntrospection implement it.
type Introspector interface {
	// CachedCount returns the number of stored units of the type.
	CachedCount(t *schema.Type) (int, error)
	// CachedUnits returns all stored units of the type.
	CachedUnits(t *schema.Type) ([]*unit.Unit, error)
	// FlushType drops every stored unit of the type.
	FlushType(t *schema.Type) error
}
