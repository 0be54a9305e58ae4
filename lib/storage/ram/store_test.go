package ram

import (
	"fmt"
	"sync"
	"testing"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

func ticketType() *schema.Type {
	return schema.NewType("ticket",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "label", Type: schema.KindString},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

func newStore(t *testing.T, types ...*schema.Type) *Store {
	t.Helper()
	s := New(nil)
	if err := s.Register(types...); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for _, typ := range types {
		if err := s.CreateStorage(typ, storage.ConflictError); err != nil {
			t.Fatalf("CreateStorage failed: %v", err)
		}
	}
	return s
}

// TestRoundTrip verifies save-then-recall equality and no aliasing
func TestRoundTrip(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("id", int64(1))
	_ = u.Set("label", "first")
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
		t.Error("recalled unit must equal the saved one")
	}
	if got[0] == u {
		t.Error("recalled unit must be a fresh copy, not the saved instance")
	}

	// mutating the recalled copy must not leak into the store
	_ = got[0].Set("label", "mutated")
	again, _ := s.Recall(typ, storage.All())
	if again[0].Get("label") != "first" {
		t.Error("stored snapshot changed through a recalled copy")
	}
}

// TestSaveSkipsClean verifies the dirty-flag contract
func TestSaveSkipsClean(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("id", int64(1))
	_ = u.Set("label", "v2")
	_ = s.Save(u, false)

	// a clean unit: Save without force is a no-op, Save with force writes
	u2, _ := unit.New(typ)
	_ = u2.Set("id", int64(1))
	_ = u2.Set("label", "v3")
	u2.Cleanse()
	if err := s.Save(u2, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if got[0].Get("label") != "v2" {
		t.Errorf("clean save must be skipped, got %v", got[0].Get("label"))
	}
	if err := s.Save(u2, true); err != nil {
		t.Fatalf("forced Save failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if got[0].Get("label") != "v3" {
		t.Errorf("forced save must write, got %v", got[0].Get("label"))
	}
}

// TestReserveAssignsIdentity verifies sequencer integration
func TestReserveAssignsIdentity(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	a, _ := unit.New(typ)
	b, _ := unit.New(typ)
	if err := s.Reserve(a); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := s.Reserve(b); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if a.Get("id") != int64(1) || b.Get("id") != int64(2) {
		t.Errorf("unexpected identities: %v %v", a.Get("id"), b.Get("id"))
	}
	if a.Dirty() || b.Dirty() {
		t.Error("Reserve fully persists, so it must cleanse")
	}
}

// TestConcurrentReserve verifies identifier assignment is race free
func TestConcurrentReserve(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	const n = 32
	var wg sync.WaitGroup
	units := make([]*unit.Unit, n)
	for i := 0; i < n; i++ {
		units[i], _ = unit.New(typ)
	}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(u *unit.Unit) {
			defer wg.Done()
			if err := s.Reserve(u); err != nil {
				t.Errorf("Reserve failed: %v", err)
			}
		}(units[i])
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, u := range units {
		key := u.Identity().Key()
		if seen[key] {
			t.Fatalf("duplicate identity assigned: %v", u.Identity())
		}
		seen[key] = true
	}
	if count, _ := s.CachedCount(typ); count != n {
		t.Errorf("expected %d stored units, got %d", n, count)
	}
}

// TestDestroy verifies removal from the table
func TestDestroy(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("id", int64(5))
	_ = s.Save(u, false)
	if err := s.Destroy(u); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if len(got) != 0 {
		t.Errorf("destroyed unit still recalled: %d", len(got))
	}
}

// TestConflictModes verifies create-storage behaviour per mode
func TestConflictModes(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)

	if err := s.CreateStorage(typ, storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("error mode must raise a mapping error, got %v", err)
	}
	var warned int
	s.Log = storage.Logger{Flags: storage.LogDDL, Logf: func(string, ...any) { warned++ }}
	if err := s.CreateStorage(typ, storage.ConflictWarn); err != nil || warned == 0 {
		t.Errorf("warn mode must log and continue: err %v, warnings %d", err, warned)
	}
	if err := s.CreateStorage(typ, storage.ConflictRepair); err != nil {
		t.Errorf("repair mode must reconcile: %v", err)
	}
	if err := s.CreateStorage(typ, storage.ConflictIgnore); err != nil {
		t.Errorf("ignore mode must no-op: %v", err)
	}
}

// TestSchemaEvolution verifies snapshot rewriting
func TestSchemaEvolution(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	for i := 1; i <= 3; i++ {
		u, _ := unit.New(typ)
		_ = u.Set("id", int64(i))
		_ = u.Set("label", fmt.Sprintf("t%d", i))
		_ = s.Save(u, false)
	}

	// evolve the declared model alongside the storage
	typ.AddProperty(schema.Property{Name: "closed", Type: schema.KindBool, Default: false})
	if err := s.AddProperty(typ, schema.Property{Name: "closed", Type: schema.KindBool, Default: false}, storage.ConflictError); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	for _, u := range got {
		if u.Get("closed") != false {
			t.Errorf("back-filled default missing: %v", u.Get("closed"))
		}
	}

	typ.RenameProperty("label", "title")
	if err := s.RenameProperty(typ, "label", "title", storage.ConflictError); err != nil {
		t.Fatalf("RenameProperty failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if got[0].Get("title") == nil {
		t.Error("renamed property lost its value")
	}

	typ.DropProperty("closed")
	if err := s.DropProperty(typ, "closed", storage.ConflictError); err != nil {
		t.Fatalf("DropProperty failed: %v", err)
	}
}

// TestMapRepair verifies model reconciliation
func TestMapRepair(t *testing.T) {
	typ := ticketType()
	s := New(nil)
	_ = s.Register(typ)

	if err := s.Map(typ, storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("missing storage must be a mapping error, got %v", err)
	}
	if err := s.Map(typ, storage.ConflictRepair); err != nil {
		t.Fatalf("repair must create the storage: %v", err)
	}
	if ok, _ := s.HasStorage(typ); !ok {
		t.Error("repair did not create the storage")
	}
	if err := s.MapAll(storage.ConflictError); err != nil {
		t.Errorf("MapAll after repair must pass: %v", err)
	}
}

// TestIdentifierlessKeys verifies digest keying
func TestIdentifierlessKeys(t *testing.T) {
	typ := schema.NewType("event",
		schema.Property{Name: "payload", Type: schema.KindString},
	)
	s := newStore(t, typ)

	a, _ := unit.New(typ)
	_ = a.Set("payload", "x")
	b, _ := unit.New(typ)
	_ = b.Set("payload", "y")
	_ = s.Save(a, false)
	_ = s.Save(b, false)

	got, err := s.Recall(typ, storage.All())
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 units, got %d, err %v", len(got), err)
	}
	// identical property values collapse onto one key
	c, _ := unit.New(typ)
	_ = c.Set("payload", "x")
	_ = s.Save(c, false)
	got, _ = s.Recall(typ, storage.All())
	if len(got) != 2 {
		t.Errorf("equal snapshots must share a key, got %d units", len(got))
	}
}

// TestIntrospection verifies the burned-cache hooks
func TestIntrospection(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	if !s.SupportsFeature(storage.FeatureIntrospection) {
		t.Fatal("ram store must advertise introspection")
	}
	if s.SupportsFeature(storage.FeatureTransactions) {
		t.Error("ram store must not advertise transactions")
	}

	for i := 1; i <= 4; i++ {
		u, _ := unit.New(typ)
		_ = u.Set("id", int64(i))
		_ = s.Save(u, false)
	}
	if n, _ := s.CachedCount(typ); n != 4 {
		t.Errorf("expected 4, got %d", n)
	}
	units, _ := s.CachedUnits(typ)
	if len(units) != 4 {
		t.Errorf("expected 4 units, got %d", len(units))
	}
	if err := s.FlushType(typ); err != nil {
		t.Fatalf("FlushType failed: %v", err)
	}
	if n, _ := s.CachedCount(typ); n != 0 {
		t.Errorf("expected empty table after flush, got %d", n)
	}
}

// TestRecallRestriction verifies restriction + order through the store
func TestRecallRestriction(t *testing.T) {
	typ := ticketType()
	s := newStore(t, typ)
	for i := 1; i <= 5; i++ {
		u, _ := unit.New(typ)
		_ = u.Set("id", int64(i))
		_ = u.Set("label", fmt.Sprintf("t%d", i%2))
		_ = s.Save(u, false)
	}
	got, err := s.Recall(typ, storage.All().
		Where(expr.Eq(expr.A("label"), expr.C("t1"))).
		OrderBy(expr.ByDesc("id")))
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 3 || got[0].Get("id") != int64(5) {
		t.Errorf("unexpected result: %d units", len(got))
	}
}
