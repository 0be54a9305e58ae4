package partition

import (
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
)

// --------------------------------------------------------------------------
// Live Migration
// --------------------------------------------------------------------------

// unregisterer is implemented by stores that can retract a type. The
// contract has no retraction surface, so migration detects it.
type unregisterer interface {
	Unregister(t *schema.Type)
}

// Migrate moves all instances of the given types to the named target
// store. The routing table is updated only after the copy succeeds, so
// a failed migration leaves the old routing intact. With copyOnly the
// source keeps its data and remains a secondary delegate, which
// maintains a temporary duplicate during cutovers.
func (p *Partitioner) Migrate(target string, copyOnly bool, types ...*schema.Type) error {
	p.mu.RLock()
	td, ok := p.stores[target]
	p.mu.RUnlock()
	if !ok {
		return storage.Errorf(storage.CodeInvalid, "no store %q to migrate to", target)
	}
	for _, t := range types {
		if err := p.migrateType(t, td, copyOnly); err != nil {
			return err
		}
	}
	return nil
}

// MigrateAll migrates every registered type.
func (p *Partitioner) MigrateAll(target string, copyOnly bool) error {
	return p.Migrate(target, copyOnly, p.Types()...)
}

func (p *Partitioner) migrateType(t *schema.Type, td *delegate, copyOnly bool) error {
	if err := p.EnsureHandled(t); err != nil {
		return err
	}
	p.mu.RLock()
	list := append([]*delegate(nil), p.classmap[t.Name]...)
	p.mu.RUnlock()

	var source *delegate
	if len(list) > 0 {
		source = list[0]
	}
	if source == td {
		return nil
	}

	if err := td.store.Register(t); err != nil {
		return err
	}
	if err := td.store.Map(t, storage.ConflictRepair); err != nil {
		return err
	}

	if source != nil {
		units, err := source.store.Recall(t, storage.All())
		if err != nil {
			return err
		}
		for _, u := range units {
			if err := td.store.Save(u, true); err != nil {
				return err
			}
		}
		p.Log.Log(storage.LogDDL, "partition: migrated %d %q units from %q to %q",
			len(units), t.Name, source.name, td.name)
		if !copyOnly {
			for _, u := range units {
				if err := source.store.Destroy(u); err != nil {
					return err
				}
			}
			if ur, ok := source.store.(unregisterer); ok {
				ur.Unregister(t)
			}
		}
	}

	// reroute only now, after the copy went through
	p.mu.Lock()
	defer p.mu.Unlock()
	rerouted := []*delegate{td}
	for _, d := range list {
		if d == td {
			continue
		}
		if d == source && !copyOnly {
			continue
		}
		rerouted = append(rerouted, d)
	}
	p.classmap[t.Name] = rerouted
	return nil
}
