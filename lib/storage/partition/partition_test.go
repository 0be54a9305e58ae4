package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/ram"
	"github.com/mnemo-db/mnemo/lib/unit"
)

func bookType() *schema.Type {
	return schema.NewType("book",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "title", Type: schema.KindString},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

func authorType() *schema.Type {
	return schema.NewType("author",
		schema.Property{Name: "name", Type: schema.KindString},
	).SetIdentifiers("name").
		Associate(schema.Association{NearKey: "name", FarType: "book", FarKey: "title", ToMany: true})
}

func save(t *testing.T, s storage.IStorage, typ *schema.Type, props map[string]any) *unit.Unit {
	t.Helper()
	u, err := unit.New(typ)
	require.NoError(t, err)
	for k, v := range props {
		require.NoError(t, u.Set(k, v))
	}
	require.NoError(t, s.Save(u, true))
	return u
}

func TestRoutingToAuthoritativeStore(t *testing.T) {
	book := bookType()
	p := New()
	a, b := ram.New(nil), ram.New(nil)
	require.NoError(t, p.AddStore("a", a, 0, book))
	require.NoError(t, p.AddStore("b", b, 1, book))

	save(t, p, book, map[string]any{"id": int64(1), "title": "dune"})

	got, err := a.Recall(book, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 1, "DML must hit the first delegate")
	got, err = b.Recall(book, storage.All())
	require.NoError(t, err)
	assert.Empty(t, got, "secondary delegates see no DML")
}

func TestDDLBroadcastsByPriority(t *testing.T) {
	book := bookType()
	p := New()
	a, b := ram.New(nil), ram.New(nil)
	// b carries the lower priority and must be created first
	require.NoError(t, p.AddStore("a", a, 5, book))
	require.NoError(t, p.AddStore("b", b, 1, book))

	require.NoError(t, p.CreateStorage(book, storage.ConflictError))
	for name, s := range map[string]*ram.Store{"a": a, "b": b} {
		has, err := s.HasStorage(book)
		require.NoError(t, err)
		assert.True(t, has, "delegate %s must receive the broadcast", name)
	}
}

func TestUnroutedTypeFails(t *testing.T) {
	book := bookType()
	p := New()
	require.NoError(t, p.Register(book))

	u, _ := unit.New(book)
	err := p.Save(u, true)
	assert.True(t, storage.IsCode(err, storage.CodeNotSupported))
	_, err = p.Recall(book, storage.All())
	assert.True(t, storage.IsCode(err, storage.CodeNotSupported))
}

func TestJoinDelegateIntersection(t *testing.T) {
	book, author := bookType(), authorType()
	p := New()
	shared, solo := ram.New(nil), ram.New(nil)
	require.NoError(t, p.AddStore("shared", shared, 0, book, author))
	require.NoError(t, p.AddStore("solo", solo, 0, book))

	save(t, p, author, map[string]any{"name": "herbert"})
	save(t, shared, book, map[string]any{"id": int64(1), "title": "herbert"})

	src := storage.Inner(storage.From(author), storage.From(book))
	rows, err := p.MultiRecall(src, storage.All())
	require.NoError(t, err)
	require.Len(t, rows, 1, "the shared delegate must service the join")
}

func TestJoinWithoutCommonDelegate(t *testing.T) {
	book, author := bookType(), authorType()
	p := New()
	require.NoError(t, p.AddStore("a", ram.New(nil), 0, author))
	require.NoError(t, p.AddStore("b", ram.New(nil), 0, book))

	src := storage.Inner(storage.From(author), storage.From(book))
	_, err := p.MultiRecall(src, storage.All())
	assert.True(t, storage.IsCode(err, storage.CodeNotSupported),
		"an empty delegate intersection is unsupported, not a partial result")

	// pinning a route cannot bypass the delegate's own registration
	require.NoError(t, p.SetJoinRoute(src, "a"))
	_, err = p.MultiRecall(src, storage.All())
	assert.Error(t, err)
}

func TestJoinRouteOverride(t *testing.T) {
	book, author := bookType(), authorType()
	p := New()
	both, extra := ram.New(nil), ram.New(nil)
	require.NoError(t, p.AddStore("both", both, 1, book, author))
	require.NoError(t, p.AddStore("extra", extra, 0, book, author))

	save(t, both, author, map[string]any{"name": "herbert"})
	save(t, both, book, map[string]any{"id": int64(1), "title": "herbert"})

	src := storage.Inner(storage.From(author), storage.From(book))
	require.NoError(t, p.SetJoinRoute(src, "both"))
	rows, err := p.MultiRecall(src, storage.All())
	require.NoError(t, err)
	assert.Len(t, rows, 1, "the pinned delegate wins over the intersection rule")
}

func TestMigrateReroutes(t *testing.T) {
	book := bookType()
	p := New()
	a, b := ram.New(nil), ram.New(nil)
	require.NoError(t, p.AddStore("a", a, 0, book))
	require.NoError(t, p.AddStore("b", b, 0))

	save(t, p, book, map[string]any{"id": int64(1), "title": "dune"})
	require.NoError(t, p.Migrate("b", false, book))

	// reads and writes now route to b
	save(t, p, book, map[string]any{"id": int64(2), "title": "messiah"})
	got, err := b.Recall(book, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 2, "migrated data plus the new write must live in b")

	assert.False(t, a.Handles(book), "the source store no longer handles the type")
	n, err := a.CachedCount(book)
	require.NoError(t, err)
	assert.Zero(t, n, "a full migration clears the source")
}

func TestMigrateCopyOnly(t *testing.T) {
	book := bookType()
	p := New()
	a, b := ram.New(nil), ram.New(nil)
	require.NoError(t, p.AddStore("a", a, 0, book))
	require.NoError(t, p.AddStore("b", b, 0))

	save(t, p, book, map[string]any{"id": int64(1), "title": "dune"})
	require.NoError(t, p.Migrate("b", true, book))

	n, err := a.CachedCount(book)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "copy-only migration keeps the source data")
	assert.True(t, a.Handles(book), "copy-only keeps the source registered")

	got, err := p.Recall(book, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 1, "reads route to the migration target")
	gotB, err := b.Recall(book, storage.All())
	require.NoError(t, err)
	assert.Len(t, gotB, 1)
}

func TestRemoveStore(t *testing.T) {
	book := bookType()
	p := New()
	require.NoError(t, p.AddStore("a", ram.New(nil), 0, book))
	require.NoError(t, p.RemoveStore("a"))

	_, err := p.Recall(book, storage.All())
	assert.True(t, storage.IsCode(err, storage.CodeNotSupported))
	assert.True(t, storage.IsCode(p.RemoveStore("a"), storage.CodeInvalid))
}

func TestAggregatesRoute(t *testing.T) {
	book := bookType()
	p := New()
	require.NoError(t, p.AddStore("a", ram.New(nil), 0, book))
	save(t, p, book, map[string]any{"id": int64(1), "title": "dune"})
	save(t, p, book, map[string]any{"id": int64(4), "title": "messiah"})

	n, err := p.Count(storage.From(book), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	vals, err := p.Range(storage.From(book), expr.A("id"), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, vals)
}
