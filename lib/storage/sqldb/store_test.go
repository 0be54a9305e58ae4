package sqldb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

func ticketType() *schema.Type {
	return schema.NewType("ticket",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "label", Type: schema.KindString},
		schema.Property{Name: "weight", Type: schema.KindFloat},
		schema.Property{Name: "open", Type: schema.KindBool, Default: true},
		schema.Property{Name: "filed", Type: schema.KindTime},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

func newStore(t *testing.T, types ...*schema.Type) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(storage.ConflictRepair) })
	if err := s.Register(types...); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.CreateDatabase(storage.ConflictError); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	for _, typ := range types {
		if err := s.CreateStorage(typ, storage.ConflictError); err != nil {
			t.Fatalf("CreateStorage failed: %v", err)
		}
	}
	return s
}

func mustTicket(t *testing.T, s *Store, id int64, label string, weight float64) *unit.Unit {
	t.Helper()
	u, _ := unit.New(ticketTypeOf(s))
	_ = u.Set("id", id)
	_ = u.Set("label", label)
	_ = u.Set("weight", weight)
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return u
}

func ticketTypeOf(s *Store) *schema.Type {
	typ, _ := s.TypeByName("ticket")
	return typ
}

// TestRoundTrip verifies save-then-recall equality across all column kinds
func TestRoundTrip(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	filed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	u, _ := unit.New(typ)
	_ = u.Set("id", int64(1))
	_ = u.Set("label", "first")
	_ = u.Set("weight", 1.5)
	_ = u.Set("filed", filed)
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if u.Dirty() {
		t.Error("Save must cleanse the unit")
	}

	got, err := s.Recall(typ, storage.All())
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if !unit.PropsEqual(u, got[0]) {
		t.Errorf("recalled unit differs: %v vs %v", got[0].Properties(), u.Properties())
	}
	if got[0].Get("open") != true {
		t.Error("bool default must survive the column round trip")
	}
	if !got[0].Get("filed").(time.Time).Equal(filed) {
		t.Errorf("filed = %v, want %v", got[0].Get("filed"), filed)
	}
}

// TestUpsert verifies that saving the same identity twice keeps one row
func TestUpsert(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	mustTicket(t, s, 1, "first", 1.0)
	mustTicket(t, s, 1, "revised", 2.0)

	got, err := s.Recall(typ, storage.All())
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("label") != "revised" {
		t.Errorf("label = %v, want revised", got[0].Get("label"))
	}
}

// TestPointLookup verifies the identity pushdown path
func TestPointLookup(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	mustTicket(t, s, 1, "first", 1.0)
	mustTicket(t, s, 2, "second", 2.0)

	got, err := s.Recall(typ, storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(2)))))
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("label") != "second" {
		t.Errorf("label = %v, want second", got[0].Get("label"))
	}
}

// TestShapingPushdown verifies engine-side order, offset and limit
func TestShapingPushdown(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	mustTicket(t, s, 1, "a", 3.0)
	mustTicket(t, s, 2, "b", 1.0)
	mustTicket(t, s, 3, "c", 2.0)

	got, err := s.Recall(typ, storage.All().OrderBy(expr.ByDesc("weight")).WithOffset(1).WithLimit(1))
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("label") != "c" {
		t.Errorf("label = %v, want c", got[0].Get("label"))
	}

	// contract checks still hold on the pushdown path
	if _, err := s.Recall(typ, storage.All().WithOffset(1)); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("offset without order: got %v, want invalid", err)
	}
	if got, err := s.Recall(typ, storage.All().WithLimit(0)); err != nil || len(got) != 0 {
		t.Errorf("limit 0: %d units, err %v", len(got), err)
	}
	if got, _ := s.Recall(typ, storage.Statement{}); len(got) != 0 {
		t.Error("the zero statement must yield nothing")
	}
}

// TestRestrictedRecall verifies the in-memory fallback for general restrictions
func TestRestrictedRecall(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	mustTicket(t, s, 1, "a", 3.0)
	mustTicket(t, s, 2, "b", 1.0)
	mustTicket(t, s, 3, "c", 2.0)

	got, err := s.Recall(typ, storage.All().
		Where(expr.Gt(expr.A("weight"), expr.C(1.5))).
		OrderBy(expr.By("weight")))
	if err != nil || len(got) != 2 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("label") != "c" || got[1].Get("label") != "a" {
		t.Errorf("order = %v, %v; want c, a", got[0].Get("label"), got[1].Get("label"))
	}
}

// TestReserveAssignsIdentity verifies sequencer-driven assignment
func TestReserveAssignsIdentity(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	mustTicket(t, s, 7, "seed", 1.0)

	u, _ := unit.New(typ)
	_ = u.Set("label", "fresh")
	if err := s.Reserve(u); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if u.Get("id") != int64(8) {
		t.Errorf("id = %v, want 8", u.Get("id"))
	}
	if u.Dirty() {
		t.Error("Reserve fully persists and must cleanse")
	}
	if n, _ := s.CachedCount(typ); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

// TestDestroy verifies removal by identity
func TestDestroy(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	u := mustTicket(t, s, 1, "doomed", 1.0)
	mustTicket(t, s, 2, "kept", 1.0)

	if err := s.Destroy(u); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if len(got) != 1 || got[0].Get("label") != "kept" {
		t.Fatalf("after destroy: %d units", len(got))
	}
}

// TestTransactions verifies rollback and commit over the shared connection
func TestTransactions(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	mustTicket(t, s, 1, "base", 1.0)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustTicket(t, s, 2, "tentative", 1.0)
	if n, _ := s.Count(storage.From(typ), nil); n != 2 {
		t.Errorf("inside tx: count = %d, want 2", n)
	}
	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if n, _ := s.Count(storage.From(typ), nil); n != 1 {
		t.Errorf("after rollback: count = %d, want 1", n)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("nested Start: got %v, want invalid", err)
	}
	mustTicket(t, s, 3, "durable", 1.0)
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if n, _ := s.Count(storage.From(typ), nil); n != 2 {
		t.Errorf("after commit: count = %d, want 2", n)
	}
	if err := s.Commit(); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("Commit without tx: got %v, want invalid", err)
	}
}

// TestSchemaEvolution verifies column add, rename and drop with backfill
func TestSchemaEvolution(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	mustTicket(t, s, 1, "first", 1.0)

	prio := schema.Property{Name: "prio", Type: schema.KindInt, Default: 3}
	typ.AddProperty(prio)
	if err := s.AddProperty(typ, prio, storage.ConflictError); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if got[0].Get("prio") != int64(3) {
		t.Errorf("prio = %v, want backfilled 3", got[0].Get("prio"))
	}

	typ.RenameProperty("prio", "rank")
	if err := s.RenameProperty(typ, "prio", "rank", storage.ConflictError); err != nil {
		t.Fatalf("RenameProperty failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if got[0].Get("rank") != int64(3) {
		t.Errorf("rank = %v, want 3", got[0].Get("rank"))
	}

	typ.DropProperty("rank")
	if err := s.DropProperty(typ, "rank", storage.ConflictError); err != nil {
		t.Fatalf("DropProperty failed: %v", err)
	}
	if has, _ := s.columnExists("ticket", "rank"); has {
		t.Error("dropped column still stored")
	}
}

// TestConflictModes verifies the uniform DDL conflict contract
func TestConflictModes(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	if err := s.CreateStorage(typ, storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("error mode: got %v, want mapping error", err)
	}
	if err := s.CreateStorage(typ, storage.ConflictIgnore); err != nil {
		t.Errorf("ignore mode: got %v", err)
	}
	logged := 0
	s.Log = storage.Logger{
		Flags: storage.LogDDL,
		Logf:  func(string, ...any) { logged++ },
	}
	if err := s.CreateStorage(typ, storage.ConflictWarn); err != nil {
		t.Errorf("warn mode: got %v", err)
	}
	if logged == 0 {
		t.Error("warn mode must surface the issue through the logger")
	}
	s.Log = storage.Logger{}
	if err := s.CreateStorage(typ, storage.ConflictRepair); err != nil {
		t.Errorf("repair mode: got %v", err)
	}
}

// TestMapRepair verifies reconciliation of missing tables and columns
func TestMapRepair(t *testing.T) {
	typ := ticketType()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(storage.ConflictRepair) })
	if err := s.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := s.Map(typ, storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("Map without storage: got %v, want mapping error", err)
	}
	if err := s.MapAll(storage.ConflictRepair); err != nil {
		t.Fatalf("MapAll repair failed: %v", err)
	}
	if has, _ := s.HasStorage(typ); !has {
		t.Fatal("MapAll repair must create the table")
	}

	// a column added to the model after the table exists is reconciled
	extra := schema.Property{Name: "extra", Type: schema.KindString}
	typ.AddProperty(extra)
	if err := s.Map(typ, storage.ConflictRepair); err != nil {
		t.Fatalf("Map repair failed: %v", err)
	}
	if has, _ := s.columnExists("ticket", "extra"); !has {
		t.Error("Map repair must add the missing column")
	}
}

// TestIdentifierlessRows verifies whole-snapshot matching semantics
func TestIdentifierlessRows(t *testing.T) {
	typ := schema.NewType("note",
		schema.Property{Name: "body", Type: schema.KindString},
	)
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("body", "hello")
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// an equal snapshot replaces rather than duplicates
	u2, _ := unit.New(typ)
	_ = u2.Set("body", "hello")
	if err := s.Save(u2, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n, _ := s.CachedCount(typ); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	if err := s.Destroy(u); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if n, _ := s.CachedCount(typ); n != 0 {
		t.Errorf("count after destroy = %d, want 0", n)
	}
}

// TestIndexes verifies index DDL through sqlite_master
func TestIndexes(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	if err := s.AddIndex(typ, "label", storage.ConflictError); err != nil {
		t.Fatalf("AddIndex failed: %v", err)
	}
	if has, _ := s.HasIndex(typ, "label"); !has {
		t.Fatal("index not visible after AddIndex")
	}
	if err := s.AddIndex(typ, "label", storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("duplicate AddIndex: got %v, want mapping error", err)
	}
	if err := s.DropIndex(typ, "label", storage.ConflictError); err != nil {
		t.Fatalf("DropIndex failed: %v", err)
	}
	if has, _ := s.HasIndex(typ, "label"); has {
		t.Error("index still visible after DropIndex")
	}
}

// TestFilePersistence verifies durability across store instances
func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")
	typ := ticketType()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.CreateStorage(typ, storage.ConflictError); err != nil {
		t.Fatalf("CreateStorage failed: %v", err)
	}
	mustTicket(t, s, 1, "durable", 1.0)
	if err := s.Shutdown(storage.ConflictError); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := s.Shutdown(storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("double Shutdown: got %v, want mapping error", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { s2.Shutdown(storage.ConflictRepair) })
	if err := s2.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if has, _ := s2.HasDatabase(); !has {
		t.Error("reopened store must report an existing database")
	}
	got, err := s2.Recall(typ, storage.All())
	if err != nil || len(got) != 1 || got[0].Get("label") != "durable" {
		t.Fatalf("reopened recall: %d units, err %v", len(got), err)
	}
}
