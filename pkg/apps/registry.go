package apps

import (
	"sync"

	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// Factory builds an adapter for an application record.
type Factory func(deps Deps, app *storage.App) Adapter

// Registry maps application system names to adapter constructors and
// caches one adapter per application id. Unknown system names fall
// back to the generic BaseAdapter.
type Registry struct {
	deps      Deps
	factories map[string]Factory

	mu    sync.RWMutex
	cache map[string]Adapter
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps: deps,
		factories: map[string]Factory{
			"jira":       func(d Deps, app *storage.App) Adapter { return NewJiraAdapter(d, app) },
			"salesforce": func(d Deps, app *storage.App) Adapter { return NewSalesforceAdapter(d, app) },
			"asana":      func(d Deps, app *storage.App) Adapter { return NewAsanaAdapter(d, app) },
		},
		cache: make(map[string]Adapter),
	}
}

// RegisterFactory adds or replaces the constructor for a system name.
func (r *Registry) RegisterFactory(systemName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[systemName] = factory
}

// Get returns the cached adapter for the app, constructing it on
// first use.
func (r *Registry) Get(app *storage.App) Adapter {
	r.mu.RLock()
	adapter, ok := r.cache[app.ID]
	r.mu.RUnlock()
	if ok {
		return adapter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.cache[app.ID]; ok {
		return adapter
	}

	factory, ok := r.factories[app.SystemName]
	if !ok {
		factory = func(d Deps, app *storage.App) Adapter { return NewBaseAdapter(d, app) }
	}
	adapter = factory(r.deps, app)
	r.cache[app.ID] = adapter
	return adapter
}

// Invalidate drops the cached adapter for an app so the next Get
// rebuilds it from the updated record.
func (r *Registry) Invalidate(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, appID)
}
