// Package ifacecache holds interfaces (by URI) in memory for the
// lifetime of one solve, with an optional watcher mechanism so other
// components (the solver's re-entrant recalculation loop, a background
// feed refresher) can react when a feed changes on disk.
//
// Grounded on zeroinstall/injector/iface_cache.py's IfaceCache
// (get_interface never returns nil, creating an empty Interface on
// first sight of a URI; add_watcher/update_interface notify observers)
// and on the teacher's internal/config reload-coordinator watcher/notify
// pattern.
package ifacecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ipiton/depsolve/internal/model"
)

// Watcher is called after the interface named by uri has been
// reloaded or updated in the cache.
type Watcher func(uri string)

// InterfaceCache holds in-memory Interface state for a solve run.
type InterfaceCache interface {
	// GetInterface returns the cached Interface for uri, creating an
	// empty one (no implementations yet) on first access. Never nil.
	GetInterface(uri string) *model.Interface

	// Put replaces the cached Interface for its own URI and notifies
	// any watchers registered against that URI.
	Put(iface *model.Interface)

	// AddWatcher registers w to be called whenever uri's interface is
	// replaced via Put.
	AddWatcher(uri string, w Watcher)

	// AddGlobalWatcher registers w to be called after every Put,
	// regardless of which URI changed. This is the production wiring
	// point for spec.md §4.5's closing re-entrancy guarantee: a caller
	// (e.g. internal/cli) uses it to re-trigger Solver.Recalculate
	// whenever a background feed download lands, rather than only once
	// via internal/solve.Once's single bounded wait.
	AddGlobalWatcher(w Watcher)
}

const defaultCapacity = 512

// Memory is an in-process InterfaceCache backed by a bounded LRU of
// Interface values plus a watcher registry. Safe for concurrent use.
type Memory struct {
	mu             sync.Mutex
	entries        *lru.Cache[string, *model.Interface]
	watchers       map[string][]Watcher
	globalWatchers []Watcher
}

// NewMemory builds a Memory cache holding up to capacity interfaces
// (0 selects defaultCapacity). Evicting an interface under LRU
// pressure is safe: GetInterface recreates an empty one on demand, and
// the solver always re-resolves from a loaded feed before using it.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := lru.New[string, *model.Interface](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already excluded above.
		panic(err)
	}
	return &Memory{entries: c, watchers: make(map[string][]Watcher)}
}

func (m *Memory) GetInterface(uri string) *model.Interface {
	m.mu.Lock()
	defer m.mu.Unlock()

	if iface, ok := m.entries.Get(uri); ok {
		return iface
	}
	iface := &model.Interface{
		URI:             uri,
		Implementations: make(map[string]*model.Implementation),
	}
	m.entries.Add(uri, iface)
	return iface
}

func (m *Memory) Put(iface *model.Interface) {
	m.mu.Lock()
	m.entries.Add(iface.URI, iface)
	watchers := append([]Watcher(nil), m.watchers[iface.URI]...)
	globalWatchers := append([]Watcher(nil), m.globalWatchers...)
	m.mu.Unlock()

	for _, w := range watchers {
		w(iface.URI)
	}
	for _, w := range globalWatchers {
		w(iface.URI)
	}
}

func (m *Memory) AddWatcher(uri string, w Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[uri] = append(m.watchers[uri], w)
}

func (m *Memory) AddGlobalWatcher(w Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalWatchers = append(m.globalWatchers, w)
}
