package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

func noteType() *schema.Type {
	return schema.NewType("note",
		schema.Property{Name: "slug", Type: schema.KindString},
		schema.Property{Name: "body", Type: schema.KindString},
		schema.Property{Name: "stars", Type: schema.KindInt},
		schema.Property{Name: "written", Type: schema.KindDate},
		schema.Property{Name: "raw", Type: schema.KindBytes},
	).SetIdentifiers("slug")
}

func newStore(t *testing.T, types ...*schema.Type) *Store {
	t.Helper()
	s := New(t.TempDir(), "")
	if err := s.Register(types...); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for _, typ := range types {
		if err := s.CreateStorage(typ, storage.ConflictIgnore); err != nil {
			t.Fatalf("CreateStorage failed: %v", err)
		}
	}
	return s
}

// TestRoundTrip verifies every property kind survives the file layout
func TestRoundTrip(t *testing.T) {
	typ := noteType()
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("slug", "hello world") // needs escaping in the folder name
	_ = u.Set("body", "line one\nline two")
	_ = u.Set("stars", int64(5))
	_ = u.Set("written", "2024-03-15")
	_ = u.Set("raw", []byte{0x00, 0xff})
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Recall(typ, storage.All())
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	r := got[0]
	if r.Get("slug") != "hello world" || r.Get("body") != "line one\nline two" {
		t.Error("string properties mangled")
	}
	if r.Get("stars") != int64(5) {
		t.Errorf("int property mangled: %#v", r.Get("stars"))
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !r.Get("written").(time.Time).Equal(want) {
		t.Errorf("date property mangled: %v", r.Get("written"))
	}
	if b := r.Get("raw").([]byte); len(b) != 2 || b[0] != 0x00 || b[1] != 0xff {
		t.Errorf("bytes property mangled: %v", b)
	}
}

// TestNilReadsBack verifies absent files decode as nil
func TestNilReadsBack(t *testing.T) {
	typ := noteType()
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("slug", "sparse")
	_ = s.Save(u, false)

	got, _ := s.Recall(typ, storage.All())
	if got[0].Get("body") != nil || got[0].Get("stars") != nil {
		t.Error("unset properties must read back nil")
	}

	// clearing a value removes its file
	_ = u.Set("body", "text")
	_ = s.Save(u, false)
	_ = u.Set("body", nil)
	_ = s.Save(u, false)
	got, _ = s.Recall(typ, storage.All())
	if got[0].Get("body") != nil {
		t.Error("cleared property must read back nil")
	}
}

// TestLayout verifies the documented on-disk shape
func TestLayout(t *testing.T) {
	typ := noteType()
	s := newStore(t, typ)

	u, _ := unit.New(typ)
	_ = u.Set("slug", "plain")
	_ = u.Set("body", "content")
	_ = s.Save(u, false)

	body, err := os.ReadFile(filepath.Join(s.root, "note", "plain", "body"))
	if err != nil {
		t.Fatalf("expected a raw property file: %v", err)
	}
	if string(body) != "content" {
		t.Errorf("string property must be stored raw, got %q", body)
	}
}

// TestReserveAndDestroy verifies sequencing over the directory scan
func TestReserveAndDestroy(t *testing.T) {
	typ := schema.NewType("counter",
		schema.Property{Name: "id", Type: schema.KindInt},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
	s := newStore(t, typ)

	a, _ := unit.New(typ)
	b, _ := unit.New(typ)
	if err := s.Reserve(a); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := s.Reserve(b); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if b.Get("id") != int64(2) {
		t.Errorf("expected id 2, got %v", b.Get("id"))
	}

	if err := s.Destroy(a); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if len(got) != 1 {
		t.Errorf("expected 1 unit after destroy, got %d", len(got))
	}
}

// TestLockFileBlocksWriters verifies the bounded-sleep polling lock
func TestLockFileBlocksWriters(t *testing.T) {
	typ := noteType()
	s := newStore(t, typ)
	s.lockTimeout = 50 * time.Millisecond

	// a stale lock held by "another process"
	lockPath := filepath.Join(s.typeDir(typ), lockFileName)
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatalf("planting lock failed: %v", err)
	}

	u, _ := unit.New(typ)
	_ = u.Set("slug", "blocked")
	err := s.Save(u, false)
	if !storage.IsCode(err, storage.CodeIO) {
		t.Fatalf("expected lock timeout, got %v", err)
	}

	_ = os.Remove(lockPath)
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save after release failed: %v", err)
	}
}

// TestSchemaEvolution verifies property files follow the model
func TestSchemaEvolution(t *testing.T) {
	typ := noteType()
	s := newStore(t, typ)
	u, _ := unit.New(typ)
	_ = u.Set("slug", "v1")
	_ = u.Set("body", "text")
	_ = s.Save(u, false)

	typ.AddProperty(schema.Property{Name: "pinned", Type: schema.KindBool, Default: true})
	if err := s.AddProperty(typ, schema.Property{Name: "pinned", Type: schema.KindBool, Default: true}, storage.ConflictError); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if got[0].Get("pinned") != true {
		t.Errorf("default not back-filled: %v", got[0].Get("pinned"))
	}

	typ.RenameProperty("body", "text")
	if err := s.RenameProperty(typ, "body", "text", storage.ConflictError); err != nil {
		t.Fatalf("RenameProperty failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if got[0].Get("text") != "text" {
		t.Error("renamed property lost its value")
	}
}

// TestDatabaseLifecycle verifies directory-level DDL conflict handling
func TestDatabaseLifecycle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	s := New(root, "")

	if ok, _ := s.HasDatabase(); ok {
		t.Fatal("database must not exist yet")
	}
	if err := s.CreateDatabase(storage.ConflictError); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	if err := s.CreateDatabase(storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("duplicate create must be a mapping error, got %v", err)
	}
	if err := s.DropDatabase(storage.ConflictError); err != nil {
		t.Fatalf("DropDatabase failed: %v", err)
	}
	if err := s.DropDatabase(storage.ConflictIgnore); err != nil {
		t.Errorf("ignore mode must no-op, got %v", err)
	}
}

// TestRestrictedRecall verifies expression filtering over file scans
func TestRestrictedRecall(t *testing.T) {
	typ := noteType()
	s := newStore(t, typ)
	for _, spec := range []struct {
		slug  string
		stars int64
	}{{"a", 1}, {"b", 3}, {"c", 5}} {
		u, _ := unit.New(typ)
		_ = u.Set("slug", spec.slug)
		_ = u.Set("stars", spec.stars)
		_ = s.Save(u, false)
	}
	got, err := s.Recall(typ, storage.All().
		Where(expr.Ge(expr.A("stars"), expr.C(int64(3)))).
		OrderBy(expr.ByDesc("stars")))
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 2 || got[0].Get("slug") != "c" {
		t.Errorf("unexpected result: %d units", len(got))
	}
}
