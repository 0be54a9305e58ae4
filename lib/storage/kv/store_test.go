package kv

import (
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

func save(t *testing.T, s *Store, typ *schema.Type, id int64, label string) *unit.Unit {
	t.Helper()
	u, _ := unit.New(typ)
	_ = u.Set("id", id)
	_ = u.Set("label", label)
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return u
}

// TestIndexedRoundTrip verifies save/recall/destroy with the index key
func TestIndexedRoundTrip(t *testing.T) {
	typ := ticketType()
	s := New("test", true, nil)
	_ = s.Register(typ)
	_ = s.CreateStorage(typ, storage.ConflictError)

	u := save(t, s, typ, 1, "first")
	save(t, s, typ, 2, "second")

	got, err := s.Recall(typ, storage.All().OrderBy(expr.By("id")))
	if err != nil || len(got) != 2 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if !unit.PropsEqual(u, got[0]) {
		t.Error("round trip changed the values")
	}

	if err := s.Destroy(u); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if len(got) != 1 {
		t.Errorf("destroyed unit still indexed: %d", len(got))
	}
	if n, _ := s.CachedCount(typ); n != 1 {
		t.Errorf("index out of step: %d", n)
	}
}

// TestPointLookup verifies the identifier-equality path works with and
// without the index
func TestPointLookup(t *testing.T) {
	for _, indexed := range []bool{true, false} {
		name := map[bool]string{true: "indexed", false: "unindexed"}[indexed]
		t.Run(name, func(t *testing.T) {
			typ := ticketType()
			s := New("test", indexed, nil)
			_ = s.Register(typ)
			_ = s.CreateStorage(typ, storage.ConflictError)
			save(t, s, typ, 7, "target")

			got, err := s.Recall(typ, storage.All().
				Where(expr.Eq(expr.A("id"), expr.C(int64(7)))))
			if err != nil {
				t.Fatalf("point lookup failed: %v", err)
			}
			if len(got) != 1 || got[0].Get("label") != "target" {
				t.Errorf("unexpected result: %d units", len(got))
			}

			miss, err := s.Recall(typ, storage.All().
				Where(expr.Eq(expr.A("id"), expr.C(int64(99)))))
			if err != nil || len(miss) != 0 {
				t.Errorf("miss must be empty, got %d, err %v", len(miss), err)
			}
		})
	}
}

// TestUnindexedLimits verifies the not-supported surface
func TestUnindexedLimits(t *testing.T) {
	typ := ticketType()
	s := New("test", false, nil)
	_ = s.Register(typ)
	_ = s.CreateStorage(typ, storage.ConflictError)
	save(t, s, typ, 1, "x")

	if _, err := s.Recall(typ, storage.All()); !storage.IsCode(err, storage.CodeNotSupported) {
		t.Errorf("scan must be not-supported, got %v", err)
	}

	fresh, _ := unit.New(typ)
	if err := s.Reserve(fresh); !storage.IsCode(err, storage.CodeNotSupported) {
		t.Errorf("identifier assignment must be not-supported, got %v", err)
	}

	if err := s.AddProperty(typ, schema.Property{Name: "extra", Type: schema.KindInt}, storage.ConflictError); !storage.IsCode(err, storage.CodeNotSupported) {
		t.Errorf("schema evolution must be not-supported, got %v", err)
	}

	if s.SupportsFeature(storage.FeatureScan) {
		t.Error("unindexed store must not advertise scans")
	}
	if !s.SupportsFeature(storage.FeaturePushdown) {
		t.Error("point-lookup pushdown must be advertised")
	}
}

// TestReserveViaIndex verifies identifier assignment over indexed keys
func TestReserveViaIndex(t *testing.T) {
	typ := ticketType()
	s := New("test", true, nil)
	_ = s.Register(typ)
	_ = s.CreateStorage(typ, storage.ConflictError)
	save(t, s, typ, 3, "existing")

	u, _ := unit.New(typ)
	if err := s.Reserve(u); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if u.Get("id") != int64(4) {
		t.Errorf("expected next id 4, got %v", u.Get("id"))
	}
}

// TestIdentifierlessKeys verifies snapshot-digest keying
func TestIdentifierlessKeys(t *testing.T) {
	typ := schema.NewType("event", schema.Property{Name: "p", Type: schema.KindString})
	s := New("test", true, nil)
	_ = s.Register(typ)
	_ = s.CreateStorage(typ, storage.ConflictError)

	a, _ := unit.New(typ)
	_ = a.Set("p", "x")
	b, _ := unit.New(typ)
	_ = b.Set("p", "y")
	if err := s.Save(a, true); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(b, true); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Recall(typ, storage.All())
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 units, got %d, err %v", len(got), err)
	}
	// identical property values collapse onto one key
	c, _ := unit.New(typ)
	_ = c.Set("p", "x")
	if err := s.Save(c, true); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if len(got) != 2 {
		t.Errorf("equal snapshots must share a key, got %d units", len(got))
	}

	if err := s.Destroy(a); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if len(got) != 1 {
		t.Errorf("expected 1 unit after destroy, got %d", len(got))
	}
}

// TestSecondaryIndexes verifies index DDL is not softened by conflict
// modes
func TestSecondaryIndexes(t *testing.T) {
	typ := ticketType()
	s := New("test", true, nil)
	_ = s.Register(typ)

	for _, mode := range []storage.Conflict{
		storage.ConflictError, storage.ConflictWarn,
		storage.ConflictRepair, storage.ConflictIgnore,
	} {
		if err := s.AddIndex(typ, "label", mode); !storage.IsCode(err, storage.CodeNotSupported) {
			t.Errorf("mode %s: expected not-supported, got %v", mode, err)
		}
	}
}
