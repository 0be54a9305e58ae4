package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/ram"
	"github.com/mnemo-db/mnemo/lib/unit"
)

func petType() *schema.Type {
	return schema.NewType("pet",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "name", Type: schema.KindString},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

func newCache(t *testing.T, typ *schema.Type) (*Cache, *ram.Store, *ram.Store) {
	t.Helper()
	next := ram.New(nil)
	cacheStore := ram.New(nil)
	c := New("cache", next, cacheStore)
	require.NoError(t, c.Register(typ))
	require.NoError(t, next.CreateStorage(typ, storage.ConflictError))
	return c, next, cacheStore
}

func pet(t *testing.T, typ *schema.Type, id int64, name string) *unit.Unit {
	t.Helper()
	u, err := unit.New(typ)
	require.NoError(t, err)
	require.NoError(t, u.Set("id", id))
	require.NoError(t, u.Set("name", name))
	return u
}

// flakyStore rejects cache writes after a budget of successful ones.
type flakyStore struct {
	*ram.Store
	budget int
	writes int
}

func (f *flakyStore) Save(u *unit.Unit, force bool) error {
	f.writes++
	if f.writes > f.budget {
		return storage.Errorf(storage.CodeIO, "cache full")
	}
	return f.Store.Save(u, force)
}

func TestWriteThrough(t *testing.T) {
	typ := petType()
	c, _, cacheStore := newCache(t, typ)

	u := pet(t, typ, 1, "rex")
	require.NoError(t, c.Save(u, true))

	cached, err := cacheStore.Recall(typ, storage.All())
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.True(t, unit.PropsEqual(u, cached[0]), "cache copy must equal the saved unit")

	require.NoError(t, c.Destroy(u))
	cached, err = cacheStore.Recall(typ, storage.All())
	require.NoError(t, err)
	assert.Empty(t, cached, "destroy must invalidate the cache entry")
}

func TestReserveMirrors(t *testing.T) {
	typ := petType()
	c, _, cacheStore := newCache(t, typ)

	u := pet(t, typ, 0, "rex")
	require.NoError(t, u.Set("id", nil))
	require.NoError(t, c.Reserve(u))
	assert.Equal(t, int64(1), u.Get("id"))

	n, err := cacheStore.CachedCount(typ)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reserve must mirror into the cache store")
}

func TestCacheWriteFailureSwallowed(t *testing.T) {
	typ := petType()
	next := ram.New(nil)
	c := New("cache", next, &flakyStore{Store: ram.New(nil), budget: 0})
	require.NoError(t, c.Register(typ))

	u := pet(t, typ, 1, "rex")
	require.NoError(t, c.Save(u, true), "a failing cache write must not surface")

	got, err := next.Recall(typ, storage.All())
	require.NoError(t, err)
	require.Len(t, got, 1, "the authoritative write must have happened")
}

func TestReadPopulatesCache(t *testing.T) {
	typ := petType()
	c, next, cacheStore := newCache(t, typ)

	require.NoError(t, next.Save(pet(t, typ, 1, "rex"), true))

	got, err := c.Recall(typ, storage.All())
	require.NoError(t, err)
	require.Len(t, got, 1)

	n, err := cacheStore.CachedCount(typ)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reads must populate the cache as a side effect")
}

func TestFullQueryMerge(t *testing.T) {
	typ := petType()
	c, next, cacheStore := newCache(t, typ)
	c.FullQuery = true

	// the same identity differs between layers; the cache must shadow
	require.NoError(t, next.Save(pet(t, typ, 1, "stale"), true))
	require.NoError(t, cacheStore.Save(pet(t, typ, 1, "fresh"), true))
	// and a row only the next store knows still shows up
	require.NoError(t, next.Save(pet(t, typ, 2, "deep"), true))

	got, err := c.Recall(typ, storage.All().OrderBy(expr.By("id")))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].Get("name"))
	assert.Equal(t, "deep", got[1].Get("name"))
}

func TestIdentifierlessBypass(t *testing.T) {
	typ := schema.NewType("note",
		schema.Property{Name: "body", Type: schema.KindString},
	)
	next := ram.New(nil)
	cacheStore := ram.New(nil)
	c := New("cache", next, cacheStore)
	require.NoError(t, c.Register(typ))

	u, _ := unit.New(typ)
	require.NoError(t, u.Set("body", "hello"))
	require.NoError(t, c.Save(u, true))

	assert.False(t, cacheStore.Handles(typ), "identifier-less types are never cached")
	got, err := c.Recall(typ, storage.All())
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestOuterJoinPlaceholdersNotCached(t *testing.T) {
	owner := schema.NewType("owner",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "name", Type: schema.KindString},
	).SetIdentifiers("id").
		Associate(schema.Association{Name: "pets", NearKey: "id", FarType: "pet", FarKey: "id", ToMany: true})
	typ := petType()

	next := ram.New(nil)
	cacheStore := ram.New(nil)
	c := New("cache", next, cacheStore)
	require.NoError(t, c.Register(owner, typ))

	o := pet(t, owner, 1, "ada")
	require.NoError(t, c.Save(o, true))

	rows, err := c.MultiRecall(storage.LeftOuter(storage.From(owner), storage.From(typ)), storage.All())
	require.NoError(t, err)
	require.Len(t, rows, 1, "left join keeps the unmatched owner")

	n, err := cacheStore.CachedCount(typ)
	require.NoError(t, err)
	assert.Zero(t, n, "blank placeholders must not be cached")
}

func TestFlushDropsCachedCopies(t *testing.T) {
	typ := petType()
	c, next, cacheStore := newCache(t, typ)

	require.NoError(t, c.Save(pet(t, typ, 1, "rex"), true))
	require.NoError(t, c.Flush(typ))

	n, err := cacheStore.CachedCount(typ)
	require.NoError(t, err)
	assert.Zero(t, n, "flush must empty the cache store")

	got, err := next.Recall(typ, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 1, "flush must not touch the next manager")
}

func TestBurnedFlushForcesReprime(t *testing.T) {
	typ := petType()
	next := ram.New(nil)
	b, err := NewBurned("burned", next, ram.New(nil))
	require.NoError(t, err)
	require.NoError(t, b.Register(typ))

	require.NoError(t, next.Save(pet(t, typ, 1, "a"), true))
	got, err := b.Recall(typ, storage.All())
	require.NoError(t, err)
	require.Len(t, got, 1)

	// invisible while primed, visible after a flush re-primes
	require.NoError(t, next.Save(pet(t, typ, 2, "b"), true))
	require.NoError(t, b.Flush(typ))
	got, err = b.Recall(typ, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAgedSweep(t *testing.T) {
	typ := petType()
	next := ram.New(nil)
	a, err := NewAged("aged", next, ram.New(nil))
	require.NoError(t, err)
	require.NoError(t, a.Register(typ))
	a.FullQuery = true

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	require.NoError(t, a.Save(pet(t, typ, 1, "touched"), true))
	require.NoError(t, a.Save(pet(t, typ, 2, "idle"), true))

	// serve id 1 from the cache so it picks up an access stamp
	got, err := a.Recall(typ, storage.All().Where(expr.Eq(expr.A("id"), expr.C(int64(1)))))
	require.NoError(t, err)
	require.Len(t, got, 1)

	// no cutoff: entries never accessed are dropped
	require.NoError(t, a.Sweep(time.Time{}))
	intro := a.Store.(storage.Introspector)
	n, err := intro.CachedCount(typ)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the untouched entry must be swept")

	// a cutoff after the recorded access would have dropped id 1 too,
	// but sweeping reset the records, so it survives a dated sweep
	require.NoError(t, a.Sweep(base.Add(time.Hour)))
	n, err = intro.CachedCount(typ)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// and falls to the next cutoff-less sweep
	require.NoError(t, a.Sweep(time.Time{}))
	n, err = intro.CachedCount(typ)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAgedSweepByCutoff(t *testing.T) {
	typ := petType()
	a, err := NewAged("aged", ram.New(nil), ram.New(nil))
	require.NoError(t, err)
	require.NoError(t, a.Register(typ))
	a.FullQuery = true

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	require.NoError(t, a.Save(pet(t, typ, 1, "old"), true))
	_, err = a.Recall(typ, storage.All())
	require.NoError(t, err)

	// accessed before the cutoff: dropped
	require.NoError(t, a.Sweep(base.Add(time.Minute)))
	n, err := a.Store.(storage.Introspector).CachedCount(typ)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBurnedPrimesOnFirstRead(t *testing.T) {
	typ := petType()
	next := ram.New(nil)
	b, err := NewBurned("burned", next, ram.New(nil))
	require.NoError(t, err)
	require.NoError(t, b.Register(typ))

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, next.Save(pet(t, typ, i, "rex"), true))
	}

	got, err := b.Recall(typ, storage.All())
	require.NoError(t, err)
	require.Len(t, got, 3)

	n, err := b.Store.(storage.Introspector).CachedCount(typ)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "first read must pull the whole population")

	// the next store is no longer consulted for this type
	require.NoError(t, next.Save(pet(t, typ, 4, "ghost"), true))
	got, err = b.Recall(typ, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 3, "primed reads are served purely from cache")

	// writes through the cache keep it synchronised
	require.NoError(t, b.Save(pet(t, typ, 5, "seen"), true))
	got, err = b.Recall(typ, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestBurnedPrimingIsAllOrNothing(t *testing.T) {
	typ := petType()
	next := ram.New(nil)
	flaky := &flakyStore{Store: ram.New(nil), budget: 1}
	b, err := NewBurned("burned", next, flaky)
	require.NoError(t, err)
	require.NoError(t, b.Register(typ))

	require.NoError(t, next.Save(pet(t, typ, 1, "a"), true))
	require.NoError(t, next.Save(pet(t, typ, 2, "b"), true))

	got, err := b.Recall(typ, storage.All())
	require.NoError(t, err)
	assert.Len(t, got, 2, "a failed priming still serves the full result from the next store")

	n, err := flaky.CachedCount(typ)
	require.NoError(t, err)
	assert.Zero(t, n, "the partial fill must be discarded")
}
