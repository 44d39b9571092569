// Package solver implements the recursive greedy dependency walker:
// starting from a root interface, it picks the best candidate
// implementation for each transitively required interface, tolerating
// missing feed data by marking the solve not-ready rather than failing,
// and re-entering cleanly when background feed downloads complete.
//
// Grounded line-for-line on zeroinstall/injector/policy.py's
// Policy.recalculate()/_do_recalculate()/walk(), expressed with the
// teacher's optional-metrics-hook-on-a-pure-algorithm pattern from
// internal/core/resilience.RetryPolicy.Metrics.
package solver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ipiton/depsolve/internal/archplat"
	"github.com/ipiton/depsolve/internal/ifacecache"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/obs/metrics"
	"github.com/ipiton/depsolve/internal/policy"
	"github.com/ipiton/depsolve/internal/ranker"
)

// FeedFetcher is the subset of FetchCoordinator the Solver needs: a way
// to kick off a non-blocking interface (feed) download. Declared here,
// rather than imported from internal/fetch, so the Solver's dependency
// on "how feeds actually get fetched" stays a narrow contract.
type FeedFetcher interface {
	BeginInterfaceDownload(ctx context.Context, iface *model.Interface, force bool) error
}

// Watcher is invoked after a completed Recalculate pass.
type Watcher func(ready bool, implementation map[string]*model.Implementation)

// Solver is the recursive greedy walker of spec.md §4.5.
type Solver struct {
	ifaces  ifacecache.InterfaceCache
	arch    *archplat.ArchRanker
	rk      *ranker.Ranker
	policy  *policy.Policy
	fetcher FeedFetcher
	logger  *slog.Logger
	metrics *metrics.SolverMetrics

	recalcMu sync.Mutex

	mu             sync.Mutex
	implementation map[string]*model.Implementation
	ready          bool
	watchers       []Watcher
}

// Options configures a Solver.
type Options struct {
	Interfaces ifacecache.InterfaceCache
	Arch       *archplat.ArchRanker
	Ranker     *ranker.Ranker
	Policy     *policy.Policy
	Fetcher    FeedFetcher
	Logger     *slog.Logger
	Metrics    *metrics.SolverMetrics
}

// New builds a Solver.
func New(opts Options) *Solver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultRegistry().Solver()
	}
	return &Solver{
		ifaces:         opts.Interfaces,
		arch:           opts.Arch,
		rk:             opts.Ranker,
		policy:         opts.Policy,
		fetcher:        opts.Fetcher,
		logger:         logger,
		metrics:        m,
		implementation: make(map[string]*model.Implementation),
	}
}

// AddWatcher registers w to be called after every Recalculate pass, with
// the pass's ready flag and a snapshot of the chosen implementations.
func (s *Solver) AddWatcher(w Watcher) {
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()
}

// Ready reports whether the most recent Recalculate pass resolved every
// transitively required interface.
func (s *Solver) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Implementation returns a snapshot of the current iface URI -> chosen
// Implementation map (nil entries, if any leaked past a pass, are
// filtered out; callers never see the in-progress sentinel).
func (s *Solver) Implementation() map[string]*model.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.Implementation, len(s.implementation))
	for uri, impl := range s.implementation {
		if impl != nil {
			out[uri] = impl
		}
	}
	return out
}

// Recalculate resets the solve and performs a fresh depth-first walk from
// root. Safe to call repeatedly and re-entrantly (e.g. from a watcher
// triggered by a feed arriving); each pass is deterministic given the
// current InterfaceCache contents.
func (s *Solver) Recalculate(ctx context.Context, root string) bool {
	s.recalcMu.Lock()
	defer s.recalcMu.Unlock()

	walk := &walkState{
		s:              s,
		ctx:            ctx,
		implementation: make(map[string]*model.Implementation),
		ready:          true,
	}
	walk.walk(model.Dependency{Interface: root})

	s.mu.Lock()
	s.implementation = walk.implementation
	s.ready = walk.ready
	watchers := append([]Watcher(nil), s.watchers...)
	ready := s.ready
	s.mu.Unlock()
	snapshot := s.Implementation()

	if s.metrics != nil {
		outcome := "not_ready"
		if ready {
			outcome = "ready"
		}
		s.metrics.PassesTotal.WithLabelValues(outcome).Inc()
	}

	for _, w := range watchers {
		w(ready, snapshot)
	}
	return ready
}

// walkState holds the mutable state of a single Recalculate pass so
// concurrent passes (triggered re-entrantly) never share a map.
type walkState struct {
	s              *Solver
	ctx            context.Context
	implementation map[string]*model.Implementation
	ready          bool
}

func (w *walkState) walk(dep model.Dependency) {
	if dep.Use == "testing" && !w.s.policy.HelpWithTesting {
		return
	}

	iface := w.s.ifaces.GetInterface(dep.Interface)
	w.refreshIfNeeded(iface)

	if _, seen := w.implementation[iface.URI]; seen {
		// Cycle: this interface is already being (or has been) resolved
		// on this pass. Tolerated by design (spec.md §4.5 step 2).
		return
	}
	w.implementation[iface.URI] = nil // in-progress sentinel

	candidates := w.collectCandidates(iface)
	for _, r := range dep.Restrictions {
		filtered := candidates[:0:0]
		for _, impl := range candidates {
			if r.Meets(impl) {
				filtered = append(filtered, impl)
			}
		}
		candidates = filtered
	}

	if w.s.metrics != nil {
		w.s.metrics.CandidatesConsidered.Observe(float64(len(candidates)))
		w.s.metrics.ComparisonsTotal.Add(float64(maxInt(len(candidates)-1, 0)))
	}

	if len(candidates) == 0 {
		w.ready = false
		return
	}

	best := ranker.Best(w.s.rk, iface, candidates, nil)
	if best == nil {
		w.ready = false
		return
	}

	w.implementation[iface.URI] = best
	for _, childDep := range best.Dependencies {
		w.walk(childDep)
	}
}

// refreshIfNeeded implements spec.md §4.5 step 1: trigger a download for
// an unloaded interface, or a background refresh for a stale one,
// without ever blocking the walk on the network. It also advances
// LastChecked, preserving the freshness-monotonicity invariant (spec.md
// §3) even when the interface is local or offline.
func (w *walkState) refreshIfNeeded(iface *model.Interface) {
	now := time.Now()
	local := isLocalURI(iface.URI)
	offline := w.s.policy.NetworkUse == policy.NetworkOffline

	needsInitialLoad := iface.LastModified.IsZero()
	stale := !local && w.s.policy.Freshness > 0 && !iface.LastChecked.IsZero() &&
		now.Sub(iface.LastChecked) > time.Duration(w.s.policy.Freshness)*time.Second

	if !local && !offline && w.s.fetcher != nil && (needsInitialLoad || stale) {
		if err := w.s.fetcher.BeginInterfaceDownload(w.ctx, iface, false); err != nil {
			w.s.logger.Warn("solver: feed download failed to start", "uri", iface.URI, "error", err)
		}
	} else if offline && needsInitialLoad {
		if w.s.policy.WarnOfflineOnce() {
			w.s.logger.Warn("solver: nothing known about interface and we are offline", "uri", iface.URI)
		}
	}

	if iface.LastChecked.Before(now) {
		iface.LastChecked = now
	}
}

// collectCandidates gathers iface's own implementations plus those
// contributed by every usable feed (spec.md §4.5 step 4).
func (w *walkState) collectCandidates(iface *model.Interface) []*model.Implementation {
	candidates := make([]*model.Implementation, 0, len(iface.Implementations))
	for _, impl := range iface.Implementations {
		candidates = append(candidates, impl)
	}

	for _, feedRef := range iface.Feeds {
		if !w.feedUsable(feedRef) {
			continue
		}
		feedIface := w.s.ifaces.GetInterface(feedRef.URI)
		w.refreshIfNeeded(feedIface)
		w.warnIfFeedForMismatch(iface.URI, feedIface)
		for _, impl := range feedIface.Implementations {
			candidates = append(candidates, impl)
		}
	}
	return candidates
}

// warnIfFeedForMismatch logs (but never drops) a feed whose own
// feed-for declarations don't name the consuming interface. Mirrors
// zeroinstall/injector/policy.py's _get_best_implementation: "if
// feed_iface.name and iface.uri not in feed_iface.feed_for: warn(...)" —
// the feed's implementations are still ingested.
func (w *walkState) warnIfFeedForMismatch(consumerURI string, feedIface *model.Interface) {
	if feedIface.Name == "" || len(feedIface.FeedFor) == 0 {
		return
	}
	for _, target := range feedIface.FeedFor {
		if target == consumerURI {
			return
		}
	}
	w.s.logger.Warn("solver: feed-for target mismatch, ingesting anyway",
		"feed", feedIface.URI, "consumer", consumerURI, "feed_for", feedIface.FeedFor)
}

// feedUsable reports whether feedRef's OS/machine constraints are
// satisfiable on this host, per spec.md §4.5 step 4 ("A feed is usable
// iff its os and machine are in the rank tables").
func (w *walkState) feedUsable(feedRef model.FeedRef) bool {
	if feedRef.OS != "" {
		if _, ok := w.s.arch.OSRank(feedRef.OS); !ok {
			return false
		}
	}
	if feedRef.Machine != "" {
		if _, ok := w.s.arch.MachineRank(feedRef.Machine); !ok {
			return false
		}
	}
	return true
}

func isLocalURI(uri string) bool {
	return len(uri) > 0 && uri[0] == '/'
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
