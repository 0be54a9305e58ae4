package registry

import (
	"github.com/mnemo-db/mnemo/lib/codec"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/cache"
	"github.com/mnemo-db/mnemo/lib/storage/fs"
	"github.com/mnemo-db/mnemo/lib/storage/kv"
	"github.com/mnemo-db/mnemo/lib/storage/partition"
	"github.com/mnemo-db/mnemo/lib/storage/proxy"
	"github.com/mnemo-db/mnemo/lib/storage/ram"
	"github.com/mnemo-db/mnemo/lib/storage/sqldb"
)

// Implementation identifies a storage manager flavour by name.
type Implementation string

const (
	ImplRAM       Implementation = "ram"
	ImplKV        Implementation = "kv"
	ImplFS        Implementation = "fs"
	ImplSQLite    Implementation = "sqlite"
	ImplProxy     Implementation = "proxy"
	ImplCache     Implementation = "cache"
	ImplAged      Implementation = "aged"
	ImplBurned    Implementation = "burned"
	ImplPartition Implementation = "partition"
)

// Terminal reports whether the implementation stands on its own, as
// opposed to wrapping another store.
func (i Implementation) Terminal() bool {
	switch i {
	case ImplRAM, ImplKV, ImplFS, ImplSQLite, ImplPartition:
		return true
	}
	return false
}

// Options carries the per-implementation knobs. Zero values select a
// sensible default where one exists.
type Options struct {
	// Name labels proxy, cache and kv instances in logs and metrics.
	Name string
	// Path is the filesystem root (fs) or database file (sqlite).
	Path string
	// IDSep separates identity parts in fs file names.
	IDSep string
	// Indexed enables secondary identity indexes on the kv store.
	Indexed bool
	// Codec overrides the snapshot codec of ram and kv stores.
	Codec codec.ICodec
	// CacheStore backs the cache layers; defaults to a ram store.
	CacheStore storage.IStorage
}

// Open builds a terminal store by name.
func Open(impl Implementation, opts Options) (storage.IStorage, error) {
	switch impl {
	case ImplRAM:
		return ram.New(opts.Codec), nil
	case ImplKV:
		name := opts.Name
		if name == "" {
			name = "kv"
		}
		return kv.New(name, opts.Indexed, opts.Codec), nil
	case ImplFS:
		if opts.Path == "" {
			return nil, storage.Errorf(storage.CodeInvalid, "fs store requires a root path")
		}
		return fs.New(opts.Path, opts.IDSep), nil
	case ImplSQLite:
		if opts.Path == "" {
			return nil, storage.Errorf(storage.CodeInvalid, "sqlite store requires a database path")
		}
		return sqldb.Open(opts.Path)
	case ImplPartition:
		return partition.New(), nil
	}
	if !impl.Terminal() {
		return nil, storage.Errorf(storage.CodeInvalid,
			"%q wraps another store, use Wrap", impl)
	}
	return nil, storage.Errorf(storage.CodeInvalid, "unknown store implementation %q", impl)
}

// Wrap builds a layering store by name around next.
func Wrap(impl Implementation, next storage.IStorage, opts Options) (storage.IStorage, error) {
	if next == nil {
		return nil, storage.Errorf(storage.CodeInvalid, "%q requires a store to wrap", impl)
	}
	name := opts.Name
	if name == "" {
		name = string(impl)
	}
	switch impl {
	case ImplProxy:
		return proxy.New(name, next), nil
	case ImplCache:
		return cache.New(name, next, cacheStore(opts)), nil
	case ImplAged:
		return cache.NewAged(name, next, cacheStore(opts))
	case ImplBurned:
		return cache.NewBurned(name, next, cacheStore(opts))
	}
	if impl.Terminal() {
		return nil, storage.Errorf(storage.CodeInvalid,
			"%q stands on its own, use Open", impl)
	}
	return nil, storage.Errorf(storage.CodeInvalid, "unknown store implementation %q", impl)
}

func cacheStore(opts Options) storage.IStorage {
	if opts.CacheStore != nil {
		return opts.CacheStore
	}
	return ram.New(opts.Codec)
}
