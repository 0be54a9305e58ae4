package registry

import (
	"testing"

	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/ram"
)

func TestOpenTerminals(t *testing.T) {
	for _, impl := range []Implementation{ImplRAM, ImplKV, ImplPartition} {
		s, err := Open(impl, Options{})
		if err != nil {
			t.Fatalf("Open(%q): %v", impl, err)
		}
		if s == nil {
			t.Fatalf("Open(%q) returned no store", impl)
		}
	}
	s, err := Open(ImplFS, Options{Path: t.TempDir()})
	if err != nil || s == nil {
		t.Fatalf("Open(fs): %v", err)
	}
	s, err = Open(ImplSQLite, Options{Path: ":memory:"})
	if err != nil || s == nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	if err := s.Shutdown(storage.ConflictRepair); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	for _, impl := range []Implementation{ImplFS, ImplSQLite} {
		if _, err := Open(impl, Options{}); !storage.IsCode(err, storage.CodeInvalid) {
			t.Errorf("Open(%q) without a path: %v", impl, err)
		}
	}
}

func TestOpenRejectsLayers(t *testing.T) {
	if _, err := Open(ImplCache, Options{}); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("Open(cache): %v", err)
	}
	if _, err := Open("bogus", Options{}); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("Open(bogus): %v", err)
	}
}

func TestWrapLayers(t *testing.T) {
	next := ram.New(nil)
	for _, impl := range []Implementation{ImplProxy, ImplCache, ImplAged, ImplBurned} {
		s, err := Wrap(impl, next, Options{})
		if err != nil {
			t.Fatalf("Wrap(%q): %v", impl, err)
		}
		if s == nil {
			t.Fatalf("Wrap(%q) returned no store", impl)
		}
	}
}

func TestWrapRejectsTerminalsAndNil(t *testing.T) {
	if _, err := Wrap(ImplRAM, ram.New(nil), Options{}); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("Wrap(ram): %v", err)
	}
	if _, err := Wrap(ImplProxy, nil, Options{}); !storage.IsCode(err, storage.CodeInvalid) {
		t.Errorf("Wrap(proxy, nil): %v", err)
	}
}
