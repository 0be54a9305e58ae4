package partition

import (
	"sort"
	"strings"
	"sync"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Vertical Partitioner
// --------------------------------------------------------------------------

// delegate is one registered store with its broadcast priority.
type delegate struct {
	name     string
	store    storage.IStorage
	priority int
}

// Partitioner routes each entity type to one of several delegate
// stores. The routing table maps a type to an ordered delegate list;
// the first entry is authoritative for DML, while DDL broadcasts to
// every delegate in priority order (lower first) so master structures
// exist before dependents. Joins need a single delegate that services
// every member type: an explicit route set with SetJoinRoute wins,
// otherwise the intersection of the members' delegate sets decides.
//
// Thread-safety: the routing table is guarded by an RWMutex; the
// delegates carry their own synchronisation.
type Partitioner struct {
	storage.TypeSet
	Log storage.Logger

	mu       sync.RWMutex
	stores   map[string]*delegate
	classmap map[string][]*delegate
	joinmap  map[string]string
}

var _ storage.IStorage = (*Partitioner)(nil)

// New creates an empty partitioner. Types become reachable once a store
// is added for them.
func New() *Partitioner {
	return &Partitioner{
		stores:   map[string]*delegate{},
		classmap: map[string][]*delegate{},
		joinmap:  map[string]string{},
	}
}

// --------------------------------------------------------------------------
// Routing table
// --------------------------------------------------------------------------

// AddStore registers a named delegate for the given types. The first
// store added for a type is its authoritative one; priority only orders
// DDL broadcasts. Adding the same name twice extends its type set.
func (p *Partitioner) AddStore(name string, s storage.IStorage, priority int, types ...*schema.Type) error {
	if s == nil {
		return storage.Errorf(storage.CodeInvalid, "nil store %q", name)
	}
	p.mu.Lock()
	d, ok := p.stores[name]
	if !ok {
		d = &delegate{name: name, store: s, priority: priority}
		p.stores[name] = d
	}
	p.mu.Unlock()

	if err := p.TypeSet.Register(types...); err != nil {
		return err
	}
	if err := s.Register(types...); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range types {
		list := p.classmap[t.Name]
		known := false
		for _, e := range list {
			if e == d {
				known = true
				break
			}
		}
		if !known {
			p.classmap[t.Name] = append(list, d)
		}
		p.Log.Log(storage.LogRegister, "partition: %q routed to %q", t.Name, name)
	}
	return nil
}

// RemoveStore detaches a delegate from every route. Types losing their
// only delegate stay registered but become unreachable until rerouted.
func (p *Partitioner) RemoveStore(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.stores[name]
	if !ok {
		return storage.Errorf(storage.CodeInvalid, "no store %q", name)
	}
	delete(p.stores, name)
	for tn, list := range p.classmap {
		kept := list[:0]
		for _, e := range list {
			if e != d {
				kept = append(kept, e)
			}
		}
		p.classmap[tn] = kept
	}
	for key, sn := range p.joinmap {
		if sn == name {
			delete(p.joinmap, key)
		}
	}
	return nil
}

// SetJoinRoute pins a multi-type source to a named delegate, overriding
// the intersection rule.
func (p *Partitioner) SetJoinRoute(src storage.Source, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.stores[name]; !ok {
		return storage.Errorf(storage.CodeInvalid, "no store %q", name)
	}
	p.joinmap[src.Key()] = name
	return nil
}

// Register declares types without routing them. DML for an unrouted
// type fails with a not-supported error until a store is added.
func (p *Partitioner) Register(types ...*schema.Type) error {
	return p.TypeSet.Register(types...)
}

// route returns the authoritative delegate for a type.
func (p *Partitioner) route(t *schema.Type) (*delegate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := p.classmap[t.Name]
	if len(list) == 0 {
		return nil, storage.Errorf(storage.CodeNotSupported, "no store routes %q", t.Name)
	}
	return list[0], nil
}

// delegatesFor lists the delegates of a type in priority order.
func (p *Partitioner) delegatesFor(t *schema.Type) ([]*delegate, error) {
	p.mu.RLock()
	list := append([]*delegate(nil), p.classmap[t.Name]...)
	p.mu.RUnlock()
	if len(list) == 0 {
		return nil, storage.Errorf(storage.CodeNotSupported, "no store routes %q", t.Name)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority < list[j].priority })
	return list, nil
}

// allStores lists every delegate in priority order.
func (p *Partitioner) allStores() []*delegate {
	p.mu.RLock()
	list := make([]*delegate, 0, len(p.stores))
	for _, d := range p.stores {
		list = append(list, d)
	}
	p.mu.RUnlock()
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].name < list[j].name
	})
	return list
}

// pick resolves the delegate servicing a source: the authoritative one
// for a single type, the pinned or intersection delegate for a join.
func (p *Partitioner) pick(src storage.Source) (*delegate, error) {
	if !src.IsJoin() {
		return p.route(src.Type)
	}
	p.mu.RLock()
	pinned, ok := p.joinmap[src.Key()]
	p.mu.RUnlock()
	if ok {
		p.mu.RLock()
		d := p.stores[pinned]
		p.mu.RUnlock()
		if d == nil {
			return nil, storage.Errorf(storage.CodeNotSupported, "join route %q is gone", pinned)
		}
		return d, nil
	}

	types := src.Types()
	var shared map[*delegate]bool
	p.mu.RLock()
	for i, t := range types {
		members := map[*delegate]bool{}
		for _, d := range p.classmap[t.Name] {
			if i == 0 || shared[d] {
				members[d] = true
			}
		}
		shared = members
	}
	p.mu.RUnlock()
	if len(shared) == 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = t.Name
		}
		return nil, storage.Errorf(storage.CodeNotSupported,
			"no single store services a join over %s", strings.Join(names, ", "))
	}
	// deterministic choice among the shared delegates
	var best *delegate
	for d := range shared {
		if best == nil || d.priority < best.priority ||
			(d.priority == best.priority && d.name < best.name) {
			best = d
		}
	}
	return best, nil
}

// --------------------------------------------------------------------------
// DDL broadcast
// --------------------------------------------------------------------------

func (p *Partitioner) CreateDatabase(conflict storage.Conflict) error {
	for _, d := range p.allStores() {
		if err := d.store.CreateDatabase(conflict); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partitioner) HasDatabase() (bool, error) {
	for _, d := range p.allStores() {
		ok, err := d.store.HasDatabase()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *Partitioner) DropDatabase(conflict storage.Conflict) error {
	for _, d := range p.allStores() {
		if err := d.store.DropDatabase(conflict); err != nil {
			return err
		}
	}
	return nil
}

// broadcast runs a DDL call against every delegate of the type in
// priority order.
func (p *Partitioner) broadcast(t *schema.Type, ddl func(storage.IStorage) error) error {
	if err := p.EnsureHandled(t); err != nil {
		return err
	}
	list, err := p.delegatesFor(t)
	if err != nil {
		return err
	}
	for _, d := range list {
		if err := ddl(d.store); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partitioner) CreateStorage(t *schema.Type, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.CreateStorage(t, conflict) })
}

func (p *Partitioner) HasStorage(t *schema.Type) (bool, error) {
	d, err := p.route(t)
	if err != nil {
		return false, err
	}
	return d.store.HasStorage(t)
}

func (p *Partitioner) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.DropStorage(t, conflict) })
}

func (p *Partitioner) AddProperty(t *schema.Type, prop schema.Property, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.AddProperty(t, prop, conflict) })
}

func (p *Partitioner) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.DropProperty(t, name, conflict) })
}

func (p *Partitioner) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.RenameProperty(t, oldname, newname, conflict) })
}

func (p *Partitioner) AddIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.AddIndex(t, name, conflict) })
}

func (p *Partitioner) HasIndex(t *schema.Type, name string) (bool, error) {
	d, err := p.route(t)
	if err != nil {
		return false, err
	}
	return d.store.HasIndex(t, name)
}

func (p *Partitioner) DropIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.DropIndex(t, name, conflict) })
}

func (p *Partitioner) Map(t *schema.Type, conflict storage.Conflict) error {
	return p.broadcast(t, func(s storage.IStorage) error { return s.Map(t, conflict) })
}

func (p *Partitioner) MapAll(conflict storage.Conflict) error {
	for _, t := range p.Types() {
		list, err := p.delegatesFor(t)
		if err != nil {
			// unrouted types have nothing to reconcile
			continue
		}
		for _, d := range list {
			if err := d.store.Map(t, conflict); err != nil {
				return err
			}
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// DML
// --------------------------------------------------------------------------

func (p *Partitioner) Reserve(u *unit.Unit) error {
	d, err := p.route(u.Type())
	if err != nil {
		return err
	}
	return d.store.Reserve(u)
}

func (p *Partitioner) Save(u *unit.Unit, force bool) error {
	d, err := p.route(u.Type())
	if err != nil {
		return err
	}
	return d.store.Save(u, force)
}

func (p *Partitioner) Destroy(u *unit.Unit) error {
	d, err := p.route(u.Type())
	if err != nil {
		return err
	}
	return d.store.Destroy(u)
}

func (p *Partitioner) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	d, err := p.route(t)
	if err != nil {
		return storage.FailUnits(err)
	}
	return d.store.XRecall(t, stmt)
}

func (p *Partitioner) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(p.XRecall(t, stmt))
}

func (p *Partitioner) XMultiRecall(src storage.Source, stmt storage.Statement) storage.RowSeq {
	d, err := p.pick(src)
	if err != nil {
		return storage.FailRows(err)
	}
	return d.store.XMultiRecall(src, stmt)
}

func (p *Partitioner) MultiRecall(src storage.Source, stmt storage.Statement) ([][]*unit.Unit, error) {
	return storage.CollectRows(p.XMultiRecall(src, stmt))
}

func (p *Partitioner) XView(q storage.Query, stmt storage.Statement) storage.ViewSeq {
	d, err := p.pick(q.Source)
	if err != nil {
		return storage.FailViews(err)
	}
	return d.store.XView(q, stmt)
}

func (p *Partitioner) View(q storage.Query, stmt storage.Statement) ([][]any, error) {
	return storage.CollectViews(p.XView(q, stmt))
}

func (p *Partitioner) Count(src storage.Source, restriction expr.Expr) (int, error) {
	d, err := p.pick(src)
	if err != nil {
		return 0, err
	}
	return d.store.Count(src, restriction)
}

func (p *Partitioner) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	d, err := p.pick(src)
	if err != nil {
		return nil, err
	}
	return d.store.Sum(src, attr, restriction)
}

func (p *Partitioner) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	d, err := p.pick(src)
	if err != nil {
		return nil, err
	}
	return d.store.Range(src, attr, restriction)
}

// --------------------------------------------------------------------------
// Transactions / Lifecycle
// --------------------------------------------------------------------------

func (p *Partitioner) Start() error {
	for _, d := range p.allStores() {
		if err := d.store.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partitioner) Commit() error {
	for _, d := range p.allStores() {
		if err := d.store.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partitioner) Rollback() error {
	for _, d := range p.allStores() {
		if err := d.store.Rollback(); err != nil {
			return err
		}
	}
	return nil
}

// SupportsFeature holds only when every delegate supports it.
func (p *Partitioner) SupportsFeature(f storage.Feature) bool {
	all := p.allStores()
	if len(all) == 0 {
		return false
	}
	for _, d := range all {
		if !d.store.SupportsFeature(f) {
			return false
		}
	}
	return true
}

// Shutdown closes delegates in reverse priority order, dependents
// before masters.
func (p *Partitioner) Shutdown(conflict storage.Conflict) error {
	all := p.allStores()
	for i := len(all) - 1; i >= 0; i-- {
		if err := all[i].store.Shutdown(conflict); err != nil {
			return err
		}
	}
	return nil
}
