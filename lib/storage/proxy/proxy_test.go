package proxy

import (
	"testing"

	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/ram"
	"github.com/mnemo-db/mnemo/lib/unit"
)

func ticketType() *schema.Type {
	return schema.NewType("ticket",
		schema.Property{Name: "id", Type: schema.KindInt},
		schema.Property{Name: "label", Type: schema.KindString},
	).SetIdentifiers("id").SetSequencer(schema.IntSequencer{})
}

// TestForwarding verifies the proxy is observably transparent
func TestForwarding(t *testing.T) {
	typ := ticketType()
	next := ram.New(nil)
	p := New("test", next)

	if err := p.Register(typ); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !p.Handles(typ) || !next.Handles(typ) {
		t.Error("registration must reach the next store")
	}
	if err := p.CreateStorage(typ, storage.ConflictError); err != nil {
		t.Fatalf("CreateStorage failed: %v", err)
	}

	u, _ := unit.New(typ)
	if err := p.Reserve(u); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	got, err := p.Recall(typ, storage.All())
	if err != nil || len(got) != 1 {
		t.Fatalf("Recall through proxy: %d units, err %v", len(got), err)
	}
	if !unit.PropsEqual(u, got[0]) {
		t.Error("proxied recall must return the stored values")
	}

	// features pass through unchanged
	if p.SupportsFeature(storage.FeatureIntrospection) != next.SupportsFeature(storage.FeatureIntrospection) {
		t.Error("feature flags must forward")
	}
}

// TestDatabaseScope verifies out-of-scope proxies skip database DDL
func TestDatabaseScope(t *testing.T) {
	typ := ticketType()
	next := ram.New(nil)
	_ = next.Register(typ)

	p := New("scoped", next)
	p.DatabaseScope = false

	if err := p.DropDatabase(storage.ConflictError); err != nil {
		t.Fatalf("out-of-scope DropDatabase must no-op: %v", err)
	}
	if ok, _ := next.HasDatabase(); !ok {
		t.Error("out-of-scope drop must not reach the next store")
	}

	p.DatabaseScope = true
	if err := p.DropDatabase(storage.ConflictError); err != nil {
		t.Fatalf("DropDatabase failed: %v", err)
	}
	if ok, _ := next.HasDatabase(); ok {
		t.Error("in-scope drop must reach the next store")
	}
}
