package storetest

import (
	"path/filepath"
	"testing"

	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/cache"
	"github.com/mnemo-db/mnemo/lib/storage/fs"
	"github.com/mnemo-db/mnemo/lib/storage/kv"
	"github.com/mnemo-db/mnemo/lib/storage/proxy"
	"github.com/mnemo-db/mnemo/lib/storage/ram"
	"github.com/mnemo-db/mnemo/lib/storage/sqldb"
)

func TestRAMConformance(t *testing.T) {
	RunStorageTests(t, "ram", func(t *testing.T) storage.IStorage {
		return ram.New(nil)
	})
}

func TestKVConformance(t *testing.T) {
	RunStorageTests(t, "kv-indexed", func(t *testing.T) storage.IStorage {
		return kv.New("conformance", true, nil)
	})
}

func TestFSConformance(t *testing.T) {
	RunStorageTests(t, "fs", func(t *testing.T) storage.IStorage {
		return fs.New(t.TempDir(), "")
	})
}

func TestSQLiteConformance(t *testing.T) {
	RunStorageTests(t, "sqlite", func(t *testing.T) storage.IStorage {
		s, err := sqldb.Open(filepath.Join(t.TempDir(), "conformance.db"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() { s.Shutdown(storage.ConflictRepair) })
		return s
	})
}

func TestProxyConformance(t *testing.T) {
	RunStorageTests(t, "proxy-over-ram", func(t *testing.T) storage.IStorage {
		return proxy.New("conformance", ram.New(nil))
	})
}

func TestCacheConformance(t *testing.T) {
	RunStorageTests(t, "cache-over-ram", func(t *testing.T) storage.IStorage {
		return cache.New("conformance", ram.New(nil), ram.New(nil))
	})
}
