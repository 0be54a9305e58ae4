package proxy

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Pass-Through Proxy
// --------------------------------------------------------------------------

// Proxy forwards every storage operation unchanged to the next manager,
// counting and optionally logging each one. Cache and partition layers
// embed it so they only override the operations they intercept.
//
// DatabaseScope controls whether create/drop-database calls are
// forwarded. Compositions in which several proxies share one physical
// database set it to false on all but one layer, so the database is not
// created or dropped repeatedly.
type Proxy struct {
	Next          storage.IStorage
	DatabaseScope bool
	Log           storage.Logger

	name string
}

var _ storage.IStorage = (*Proxy)(nil)

// New wraps the next manager. The name labels this proxy's metrics.
func New(name string, next storage.IStorage) *Proxy {
	return &Proxy{Next: next, DatabaseScope: true, name: name}
}

// Name returns the metrics label of this proxy.
func (p *Proxy) Name() string { return p.name }

// count bumps the per-operation counter for this proxy.
func (p *Proxy) count(op string) {
	metrics.GetOrCreateCounter(
		fmt.Sprintf(`mnemo_storage_ops_total{layer=%q,op=%q}`, p.name, op),
	).Inc()
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

func (p *Proxy) Register(types ...*schema.Type) error {
	p.count("register")
	for _, t := range types {
		p.Log.Log(storage.LogRegister, "%s: registering %q", p.name, t.Name)
	}
	return p.Next.Register(types...)
}

func (p *Proxy) Handles(t *schema.Type) bool { return p.Next.Handles(t) }

func (p *Proxy) Types() []*schema.Type { return p.Next.Types() }

func (p *Proxy) TypeByName(name string) (*schema.Type, bool) { return p.Next.TypeByName(name) }

// --------------------------------------------------------------------------
// DDL
// --------------------------------------------------------------------------

func (p *Proxy) CreateDatabase(conflict storage.Conflict) error {
	if !p.DatabaseScope {
		p.Log.Log(storage.LogDDL, "%s: create database skipped (out of scope)", p.name)
		return nil
	}
	p.count("create_database")
	return p.Next.CreateDatabase(conflict)
}

func (p *Proxy) HasDatabase() (bool, error) { return p.Next.HasDatabase() }

func (p *Proxy) DropDatabase(conflict storage.Conflict) error {
	if !p.DatabaseScope {
		p.Log.Log(storage.LogDDL, "%s: drop database skipped (out of scope)", p.name)
		return nil
	}
	p.count("drop_database")
	return p.Next.DropDatabase(conflict)
}

func (p *Proxy) CreateStorage(t *schema.Type, conflict storage.Conflict) error {
	p.count("create_storage")
	return p.Next.CreateStorage(t, conflict)
}

func (p *Proxy) HasStorage(t *schema.Type) (bool, error) { return p.Next.HasStorage(t) }

func (p *Proxy) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	p.count("drop_storage")
	return p.Next.DropStorage(t, conflict)
}

func (p *Proxy) AddProperty(t *schema.Type, prop schema.Property, conflict storage.Conflict) error {
	p.count("add_property")
	return p.Next.AddProperty(t, prop, conflict)
}

func (p *Proxy) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	p.count("drop_property")
	return p.Next.DropProperty(t, name, conflict)
}

func (p *Proxy) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	p.count("rename_property")
	return p.Next.RenameProperty(t, oldname, newname, conflict)
}

func (p *Proxy) AddIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	p.count("add_index")
	return p.Next.AddIndex(t, name, conflict)
}

func (p *Proxy) HasIndex(t *schema.Type, name string) (bool, error) {
	return p.Next.HasIndex(t, name)
}

func (p *Proxy) DropIndex(t *schema.Type, name string, conflict storage.Conflict) error {
	p.count("drop_index")
	return p.Next.DropIndex(t, name, conflict)
}

func (p *Proxy) Map(t *schema.Type, conflict storage.Conflict) error {
	p.count("map")
	return p.Next.Map(t, conflict)
}

func (p *Proxy) MapAll(conflict storage.Conflict) error {
	p.count("map_all")
	return p.Next.MapAll(conflict)
}

// --------------------------------------------------------------------------
// DML
// --------------------------------------------------------------------------

func (p *Proxy) Reserve(u *unit.Unit) error {
	p.count("reserve")
	p.Log.Log(storage.LogReserve, "%s: reserve %q", p.name, u.Type().Name)
	return p.Next.Reserve(u)
}

func (p *Proxy) Save(u *unit.Unit, force bool) error {
	p.count("save")
	p.Log.Log(storage.LogSave, "%s: save %q %v", p.name, u.Type().Name, u.Identity())
	return p.Next.Save(u, force)
}

func (p *Proxy) Destroy(u *unit.Unit) error {
	p.count("destroy")
	p.Log.Log(storage.LogDestroy, "%s: destroy %q %v", p.name, u.Type().Name, u.Identity())
	return p.Next.Destroy(u)
}

func (p *Proxy) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	p.count("recall")
	p.Log.Log(storage.LogRecall, "%s: recall %q", p.name, t.Name)
	return p.Next.XRecall(t, stmt)
}

func (p *Proxy) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(p.XRecall(t, stmt))
}

func (p *Proxy) XMultiRecall(src storage.Source, stmt storage.Statement) storage.RowSeq {
	p.count("multi_recall")
	p.Log.Log(storage.LogRecall, "%s: multi recall %q", p.name, src.Key())
	return p.Next.XMultiRecall(src, stmt)
}

func (p *Proxy) MultiRecall(src storage.Source, stmt storage.Statement) ([][]*unit.Unit, error) {
	return storage.CollectRows(p.XMultiRecall(src, stmt))
}

func (p *Proxy) XView(q storage.Query, stmt storage.Statement) storage.ViewSeq {
	p.count("view")
	p.Log.Log(storage.LogView, "%s: view %q", p.name, q.Source.Key())
	return p.Next.XView(q, stmt)
}

func (p *Proxy) View(q storage.Query, stmt storage.Statement) ([][]any, error) {
	return storage.CollectViews(p.XView(q, stmt))
}

func (p *Proxy) Count(src storage.Source, restriction expr.Expr) (int, error) {
	p.count("count")
	return p.Next.Count(src, restriction)
}

func (p *Proxy) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	p.count("sum")
	return p.Next.Sum(src, attr, restriction)
}

func (p *Proxy) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	p.count("range")
	return p.Next.Range(src, attr, restriction)
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------
// Forwarded so that advertising FeatureIntrospection keeps the
// Introspector surface reachable through the proxy.

func (p *Proxy) introspector() (storage.Introspector, error) {
	in, ok := p.Next.(storage.Introspector)
	if !ok {
		return nil, storage.Errorf(storage.CodeNotSupported,
			"%s: wrapped store is not introspectable", p.name)
	}
	return in, nil
}

func (p *Proxy) CachedCount(t *schema.Type) (int, error) {
	in, err := p.introspector()
	if err != nil {
		return 0, err
	}
	return in.CachedCount(t)
}

func (p *Proxy) CachedUnits(t *schema.Type) ([]*unit.Unit, error) {
	in, err := p.introspector()
	if err != nil {
		return nil, err
	}
	return in.CachedUnits(t)
}

func (p *Proxy) FlushType(t *schema.Type) error {
	in, err := p.introspector()
	if err != nil {
		return err
	}
	return in.FlushType(t)
}

// --------------------------------------------------------------------------
// Transactions / Lifecycle
// --------------------------------------------------------------------------

func (p *Proxy) Start() error {
	p.count("start")
	return p.Next.Start()
}

func (p *Proxy) Commit() error {
	p.count("commit")
	return p.Next.Commit()
}

func (p *Proxy) Rollback() error {
	p.count("rollback")
	return p.Next.Rollback()
}

func (p *Proxy) SupportsFeature(f storage.Feature) bool { return p.Next.SupportsFeature(f) }

func (p *Proxy) Shutdown(conflict storage.Conflict) error {
	p.count("shutdown")
	return p.Next.Shutdown(conflict)
}
