package storetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// StoreFactory builds a fresh, empty storage manager for one subtest.
// Implementations register their own cleanup on t.
type StoreFactory func(t *testing.T) storage.IStorage

// RunStorageTests runs the uniform conformance suite against one storage
// manager implementation. Feature-dependent subtests skip themselves on
// managers that do not advertise the capability.
func RunStorageTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Register", func(t *testing.T) {
			testRegister(t, factory(t))
		})

		t.Run("RoundTrip", func(t *testing.T) {
			testRoundTrip(t, factory(t))
		})

		t.Run("Upsert", func(t *testing.T) {
			testUpsert(t, factory(t))
		})

		t.Run("PointLookup", func(t *testing.T) {
			testPointLookup(t, factory(t))
		})

		t.Run("Restriction", func(t *testing.T) {
			testRestriction(t, factory(t))
		})

		t.Run("Shaping", func(t *testing.T) {
			testShaping(t, factory(t))
		})

		t.Run("PaginationContract", func(t *testing.T) {
			testPaginationContract(t, factory(t))
		})

		t.Run("Reserve", func(t *testing.T) {
			testReserve(t, factory(t))
		})

		t.Run("Destroy", func(t *testing.T) {
			testDestroy(t, factory(t))
		})

		t.Run("Aggregates", func(t *testing.T) {
			testAggregates(t, factory(t))
		})

		t.Run("Joins", func(t *testing.T) {
			testJoins(t, factory(t))
		})

		t.Run("ConflictModes", func(t *testing.T) {
			testConflictModes(t, factory(t))
		})

		t.Run("SchemaEvolution", func(t *testing.T) {
			testSchemaEvolution(t, factory(t))
		})

		t.Run("MapRepair", func(t *testing.T) {
			testMapRepair(t, factory(t))
		})

		t.Run("IdentifierlessRows", func(t *testing.T) {
			testIdentifierlessRows(t, factory(t))
		})

		t.Run("Transactions", func(t *testing.T) {
			testTransactions(t, factory(t))
		})

		t.Run("Introspection", func(t *testing.T) {
			testIntrospection(t, factory(t))
		})

		t.Run("ConcurrentWrites", func(t *testing.T) {
			testConcurrentWrites(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the manager supports the specified feature.
// Skip the test if it is not supported.
func requireFeature(t testing.TB, s storage.IStorage, feature storage.Feature) {
	if !s.SupportsFeature(feature) {
		t.Skip()
	}
}

func crewType() *schema.Type {
	return schema.NewType("crew",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "name", Type: schema.KindString},
		schema.Property{Name: "rating", Type: schema.KindFloat},
		schema.Property{Name: "active", Type: schema.KindBool, Default: true},
		schema.Property{Name: "hired", Type: schema.KindTime},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

func shipType() *schema.Type {
	return schema.NewType("ship",
		schema.Property{Name: "name", Type: schema.KindString},
		schema.Property{Name: "captain", Type: schema.KindInt},
	).SetIdentifiers("name").
		Associate(schema.Association{NearKey: "captain", FarType: "crew", FarKey: "id"})
}

func prepare(t *testing.T, s storage.IStorage, types ...*schema.Type) {
	t.Helper()
	if err := s.Register(types...); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.CreateDatabase(storage.ConflictIgnore); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	for _, typ := range types {
		if err := s.CreateStorage(typ, storage.ConflictIgnore); err != nil {
			t.Fatalf("CreateStorage(%q) failed: %v", typ.Name, err)
		}
	}
}

func mustCrew(t *testing.T, s storage.IStorage, typ *schema.Type, id int64, name string, rating float64) *unit.Unit {
	t.Helper()
	u, err := unit.New(typ)
	if err != nil {
		t.Fatalf("unit.New failed: %v", err)
	}
	_ = u.Set("id", id)
	_ = u.Set("name", name)
	_ = u.Set("rating", rating)
	if err := s.Save(u, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return u
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testRegister(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)

	typ := crewType()
	if s.Handles(typ) {
		t.Error("Handles must be false before Register")
	}
	if err := s.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !s.Handles(typ) {
		t.Error("Handles must be true after Register")
	}
	got, ok := s.TypeByName("crew")
	if !ok || got != typ {
		t.Errorf("TypeByName = %v, %v", got, ok)
	}
	if n := len(s.Types()); n != 1 {
		t.Errorf("Types = %d entries, want 1", n)
	}

	stranger := schema.NewType("stranger",
		schema.Property{Name: "x", Type: schema.KindInt},
	).SetIdentifiers("x")
	u, _ := unit.New(stranger)
	_ = u.Set("x", int64(1))
	if err := s.Save(u, false); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("Save of unregistered type: got %v, want invalid", err)
	}
}

func testRoundTrip(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)

	hired := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	u, _ := unit.New(typ)
	_ = u.Set("id", int64(1))
	_ = u.Set("name", "ada")
	_ = u.Set("rating", 4.5)
	_ = u.Set("hired", hired)
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
	if got[0].Get("active") != true {
		t.Error("bool default must survive the round trip")
	}
	if !got[0].Get("hired").(time.Time).Equal(hired) {
		t.Errorf("hired = %v, want %v", got[0].Get("hired"), hired)
	}
}

func testUpsert(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)
	mustCrew(t, s, typ, 1, "ada lovelace", 5.0)

	got, err := s.Recall(typ, storage.All())
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("name") != "ada lovelace" {
		t.Errorf("name = %v, want ada lovelace", got[0].Get("name"))
	}
}

func testPointLookup(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)
	mustCrew(t, s, typ, 2, "grace", 4.8)

	got, err := s.Recall(typ, storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(2)))))
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("name") != "grace" {
		t.Errorf("name = %v, want grace", got[0].Get("name"))
	}

	got, err = s.Recall(typ, storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(99)))))
	if err != nil || len(got) != 0 {
		t.Errorf("missing identity: %d units, err %v", len(got), err)
	}
}

func testRestriction(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)
	mustCrew(t, s, typ, 2, "grace", 4.8)
	mustCrew(t, s, typ, 3, "edsger", 3.9)

	got, err := s.Recall(typ, storage.All().Where(expr.Gt(expr.A("rating"), expr.C(4.0))))
	if err != nil || len(got) != 2 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
}

func testShaping(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)
	mustCrew(t, s, typ, 2, "grace", 4.8)
	mustCrew(t, s, typ, 3, "edsger", 3.9)

	got, err := s.Recall(typ, storage.All().OrderBy(expr.ByDesc("rating")).WithLimit(2))
	if err != nil || len(got) != 2 {
		t.Fatalf("Recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("name") != "grace" || got[1].Get("name") != "ada" {
		t.Errorf("order = %v, %v; want grace, ada", got[0].Get("name"), got[1].Get("name"))
	}

	got, err = s.Recall(typ, storage.All().OrderBy(expr.By("rating")).WithOffset(2).WithLimit(storage.NoLimit))
	if err != nil || len(got) != 1 {
		t.Fatalf("offset recall: %d units, err %v", len(got), err)
	}
	if got[0].Get("name") != "grace" {
		t.Errorf("name = %v, want grace", got[0].Get("name"))
	}
}

func testPaginationContract(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)

	if _, err := s.Recall(typ, storage.All().WithOffset(1)); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("offset without order: got %v, want invalid", err)
	}
	if _, err := s.Recall(typ, storage.All().OrderBy(expr.By("id")).WithOffset(-1)); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("negative offset: got %v, want invalid", err)
	}
	if got, err := s.Recall(typ, storage.All().WithLimit(0)); err != nil || len(got) != 0 {
		t.Errorf("limit 0: %d units, err %v", len(got), err)
	}
	if got, _ := s.Recall(typ, storage.Statement{}); len(got) != 0 {
		t.Error("the zero statement must yield nothing")
	}
}

func testReserve(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 7, "seed", 1.0)

	u, _ := unit.New(typ)
	_ = u.Set("name", "fresh")
	if err := s.Reserve(u); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if u.Get("id") != int64(8) {
		t.Errorf("id = %v, want 8", u.Get("id"))
	}
	if n, err := s.Count(storage.From(typ), nil); err != nil || n != 2 {
		t.Errorf("count = %d, err %v; want 2", n, err)
	}
}

func testDestroy(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)

	typ := crewType()
	prepare(t, s, typ)
	doomed := mustCrew(t, s, typ, 1, "doomed", 1.0)
	mustCrew(t, s, typ, 2, "kept", 1.0)

	if err := s.Destroy(doomed); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	got, err := s.Recall(typ, storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(1)))))
	if err != nil || len(got) != 0 {
		t.Errorf("destroyed identity still recalled: %d units, err %v", len(got), err)
	}
	got, err = s.Recall(typ, storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(2)))))
	if err != nil || len(got) != 1 {
		t.Errorf("unrelated identity lost: %d units, err %v", len(got), err)
	}
}

func testAggregates(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)
	mustCrew(t, s, typ, 2, "grace", 4.8)
	mustCrew(t, s, typ, 4, "edsger", 3.9)

	n, err := s.Count(storage.From(typ), nil)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, err %v; want 3", n, err)
	}
	n, err = s.Count(storage.From(typ), expr.Gt(expr.A("rating"), expr.C(4.0)))
	if err != nil || n != 2 {
		t.Errorf("restricted Count = %d, err %v; want 2", n, err)
	}

	sum, err := s.Sum(storage.From(typ), expr.A("id"), nil)
	if err != nil || sum != int64(7) {
		t.Errorf("Sum = %v, err %v; want 7", sum, err)
	}

	// discrete kinds densify the interval between min and max
	vals, err := s.Range(storage.From(typ), expr.A("id"), nil)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	want := []any{int64(1), int64(2), int64(3), int64(4)}
	if len(vals) != len(want) {
		t.Fatalf("Range = %v, want %v", vals, want)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("Range[%d] = %v, want %v", i, vals[i], want[i])
		}
	}
}

func testJoins(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	crew, ship := crewType(), shipType()
	prepare(t, s, crew, ship)
	mustCrew(t, s, crew, 1, "ada", 4.5)
	mustCrew(t, s, crew, 2, "grace", 4.8)

	v, _ := unit.New(ship)
	_ = v.Set("name", "beagle")
	_ = v.Set("captain", int64(1))
	if err := s.Save(v, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	orphan, _ := unit.New(ship)
	_ = orphan.Set("name", "ghost")
	_ = orphan.Set("captain", int64(99))
	if err := s.Save(orphan, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rows, err := s.MultiRecall(storage.Inner(storage.From(ship), storage.From(crew)), storage.All())
	if err != nil || len(rows) != 1 {
		t.Fatalf("inner join: %d rows, err %v", len(rows), err)
	}
	if rows[0][0].Get("name") != "beagle" || rows[0][1].Get("name") != "ada" {
		t.Errorf("row = %v / %v", rows[0][0].Properties(), rows[0][1].Properties())
	}

	rows, err = s.MultiRecall(storage.LeftOuter(storage.From(ship), storage.From(crew)), storage.All())
	if err != nil || len(rows) != 2 {
		t.Fatalf("left join: %d rows, err %v", len(rows), err)
	}
	for _, row := range rows {
		if row[0].Get("name") == "ghost" && row[1].Get("id") != nil {
			t.Error("unmatched left row must pair with a blank placeholder")
		}
	}
}

func testConflictModes(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)

	typ := crewType()
	prepare(t, s, typ)

	if err := s.CreateStorage(typ, storage.ConflictError); !storage.IsCode(err, storage.CodeMapping) {
		t.Errorf("error mode: got %v, want mapping error", err)
	}
	if err := s.CreateStorage(typ, storage.ConflictIgnore); err != nil {
		t.Errorf("ignore mode: got %v", err)
	}
	if err := s.CreateStorage(typ, storage.ConflictRepair); err != nil {
		t.Errorf("repair mode: got %v", err)
	}
}

func testSchemaEvolution(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)

	rank := schema.Property{Name: "rank", Type: schema.KindInt, Default: 3}
	typ.AddProperty(rank)
	if err := s.AddProperty(typ, rank, storage.ConflictError); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}
	got, _ := s.Recall(typ, storage.All())
	if len(got) != 1 || got[0].Get("rank") != int64(3) {
		t.Errorf("rank = %v, want backfilled 3", got[0].Get("rank"))
	}

	typ.RenameProperty("rank", "grade")
	if err := s.RenameProperty(typ, "rank", "grade", storage.ConflictError); err != nil {
		t.Fatalf("RenameProperty failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if len(got) != 1 || got[0].Get("grade") != int64(3) {
		t.Errorf("grade = %v, want 3", got[0].Get("grade"))
	}

	typ.DropProperty("grade")
	if err := s.DropProperty(typ, "grade", storage.ConflictError); err != nil {
		t.Fatalf("DropProperty failed: %v", err)
	}
	got, _ = s.Recall(typ, storage.All())
	if len(got) != 1 || got[0].Get("grade") != nil {
		t.Errorf("dropped property still present: %v", got[0].Properties())
	}
}

func testMapRepair(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)

	typ := crewType()
	if err := s.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.CreateDatabase(storage.ConflictIgnore); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}

	if err := s.MapAll(storage.ConflictRepair); err != nil {
		t.Fatalf("MapAll repair failed: %v", err)
	}
	if has, err := s.HasStorage(typ); err != nil || !has {
		t.Fatalf("HasStorage = %v, err %v after repair", has, err)
	}
	if err := s.Map(typ, storage.ConflictError); err != nil {
		t.Errorf("Map on reconciled storage: got %v", err)
	}
}

func testIdentifierlessRows(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := schema.NewType("note",
		schema.Property{Name: "body", Type: schema.KindString},
	)
	prepare(t, s, typ)

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
	if n, err := s.Count(storage.From(typ), nil); err != nil || n != 1 {
		t.Errorf("count = %d, err %v; want 1", n, err)
	}

	if err := s.Destroy(u); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if n, err := s.Count(storage.From(typ), nil); err != nil || n != 0 {
		t.Errorf("count after destroy = %d, err %v; want 0", n, err)
	}
}

func testTransactions(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureTransactions)

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "base", 1.0)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustCrew(t, s, typ, 2, "tentative", 1.0)
	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if n, _ := s.Count(storage.From(typ), nil); n != 1 {
		t.Errorf("after rollback: count = %d, want 1", n)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustCrew(t, s, typ, 3, "durable", 1.0)
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if n, _ := s.Count(storage.From(typ), nil); n != 2 {
		t.Errorf("after commit: count = %d, want 2", n)
	}
}

func testIntrospection(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureIntrospection)

	in, ok := s.(storage.Introspector)
	if !ok {
		t.Fatal("FeatureIntrospection advertised without the Introspector surface")
	}

	typ := crewType()
	prepare(t, s, typ)
	mustCrew(t, s, typ, 1, "ada", 4.5)
	mustCrew(t, s, typ, 2, "grace", 4.8)

	if n, err := in.CachedCount(typ); err != nil || n != 2 {
		t.Errorf("CachedCount = %d, err %v; want 2", n, err)
	}
	units, err := in.CachedUnits(typ)
	if err != nil || len(units) != 2 {
		t.Fatalf("CachedUnits: %d units, err %v", len(units), err)
	}
	if err := in.FlushType(typ); err != nil {
		t.Fatalf("FlushType failed: %v", err)
	}
	if n, _ := in.CachedCount(typ); n != 0 {
		t.Errorf("CachedCount after flush = %d, want 0", n)
	}
}

func testConcurrentWrites(t *testing.T, s storage.IStorage) {
	defer s.Shutdown(storage.ConflictIgnore)
	requireFeature(t, s, storage.FeatureScan)

	typ := crewType()
	prepare(t, s, typ)

	numWorkers := 8
	perWorker := 50
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := int64(workerId*perWorker + i)
				u, _ := unit.New(typ)
				_ = u.Set("id", id)
				_ = u.Set("name", fmt.Sprintf("worker-%d-%d", workerId, i))
				_ = u.Set("rating", float64(i))
				if err := s.Save(u, false); err != nil {
					t.Errorf("Save failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := s.Count(storage.From(typ), nil)
	if err != nil || n != numWorkers*perWorker {
		t.Errorf("count = %d, err %v; want %d", n, err, numWorkers*perWorker)
	}
}
