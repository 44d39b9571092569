package solver

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/depsolve/internal/archplat"
	"github.com/ipiton/depsolve/internal/ifacecache"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/policy"
	"github.com/ipiton/depsolve/internal/ranker"
)

func newTestSolver(t *testing.T, ifaces ifacecache.InterfaceCache, pol *policy.Policy) *Solver {
	t.Helper()
	arch := archplat.New()
	rk := ranker.New(pol, arch, func(*model.Implementation) bool { return true })
	return New(Options{Interfaces: ifaces, Arch: arch, Ranker: rk, Policy: pol})
}

func TestRecalculate_SimpleChain(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=root": {
				ID: "sha1=root", Version: model.MustParseVersion("1.0"), Stability: model.Stable,
				Dependencies: []model.Dependency{{Interface: "http://foo/Compiler.xml"}},
			},
		},
	})
	ifaces.Put(&model.Interface{
		URI: "http://foo/Compiler.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=compiler": {ID: "sha1=compiler", Version: model.MustParseVersion("2.0"), Stability: model.Stable},
		},
	})

	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	ready := sv.Recalculate(context.Background(), "http://foo/Root.xml")
	require.True(t, ready)
	assert.True(t, sv.Ready())

	impl := sv.Implementation()
	require.Contains(t, impl, "http://foo/Root.xml")
	require.Contains(t, impl, "http://foo/Compiler.xml")
	assert.Equal(t, "sha1=root", impl["http://foo/Root.xml"].ID)
	assert.Equal(t, "sha1=compiler", impl["http://foo/Compiler.xml"].ID)
}

func TestRecalculate_NotReadyWhenNoCandidates(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	// Root declared but never populated with implementations: no
	// candidates to choose from, so the walk leaves the pass not-ready.
	pol := policy.New("http://foo/Missing.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	ready := sv.Recalculate(context.Background(), "http://foo/Missing.xml")
	assert.False(t, ready)
	assert.False(t, sv.Ready())
	assert.Empty(t, sv.Implementation())
}

func TestRecalculate_ToleratesCycle(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/A.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=a": {
				ID: "sha1=a", Version: model.MustParseVersion("1.0"), Stability: model.Stable,
				Dependencies: []model.Dependency{{Interface: "http://foo/B.xml"}},
			},
		},
	})
	ifaces.Put(&model.Interface{
		URI: "http://foo/B.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=b": {
				ID: "sha1=b", Version: model.MustParseVersion("1.0"), Stability: model.Stable,
				Dependencies: []model.Dependency{{Interface: "http://foo/A.xml"}},
			},
		},
	})

	pol := policy.New("http://foo/A.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	ready := sv.Recalculate(context.Background(), "http://foo/A.xml")
	require.True(t, ready)
	impl := sv.Implementation()
	assert.Len(t, impl, 2)
}

func TestRecalculate_SkipsTestingDependencyUnlessOptedIn(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=root": {
				ID: "sha1=root", Version: model.MustParseVersion("1.0"), Stability: model.Stable,
				Dependencies: []model.Dependency{
					{Interface: "http://foo/TestHarness.xml", Use: "testing"},
				},
			},
		},
	})
	// TestHarness.xml is never populated: if the solver walked into it,
	// the pass would go not-ready.

	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	ready := sv.Recalculate(context.Background(), "http://foo/Root.xml")
	require.True(t, ready)
	impl := sv.Implementation()
	assert.NotContains(t, impl, "http://foo/TestHarness.xml")

	pol.HelpWithTesting = true
	ready = sv.Recalculate(context.Background(), "http://foo/Root.xml")
	assert.False(t, ready, "opting in to testing deps should now walk into the never-populated harness interface")
}

func TestRecalculate_RestrictionFiltersCandidates(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=root": {
				ID: "sha1=root", Version: model.MustParseVersion("1.0"), Stability: model.Stable,
				Dependencies: []model.Dependency{{
					Interface:    "http://foo/Lib.xml",
					Restrictions: []model.Restriction{{NotBeforeVersion: model.MustParseVersion("2.0")}},
				}},
			},
		},
	})
	ifaces.Put(&model.Interface{
		URI: "http://foo/Lib.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=lib1": {ID: "sha1=lib1", Version: model.MustParseVersion("1.0"), Stability: model.Stable},
		},
	})

	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	ready := sv.Recalculate(context.Background(), "http://foo/Root.xml")
	assert.False(t, ready, "only candidate is below NotBeforeVersion, so Lib.xml has no usable implementation")
}

func TestRecalculate_PicksBestAmongFeeds(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=root": {ID: "sha1=root", Version: model.MustParseVersion("1.0"), Stability: model.Stable},
		},
		Feeds: []model.FeedRef{{URI: "http://foo/Extra.xml"}},
	})
	ifaces.Put(&model.Interface{
		URI: "http://foo/Extra.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=newer": {ID: "sha1=newer", Version: model.MustParseVersion("9.0"), Stability: model.Stable},
		},
	})

	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	ready := sv.Recalculate(context.Background(), "http://foo/Root.xml")
	require.True(t, ready)
	assert.Equal(t, "sha1=newer", sv.Implementation()["http://foo/Root.xml"].ID)
}

func TestRecalculate_WarnsOnFeedForMismatchButStillIngests(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=root": {ID: "sha1=root", Version: model.MustParseVersion("1.0"), Stability: model.Stable},
		},
		Feeds: []model.FeedRef{{URI: "http://foo/Extra.xml"}},
	})
	// Extra.xml declares itself a feed for a *different* interface than
	// the one that actually references it as a <feed>.
	ifaces.Put(&model.Interface{
		URI:     "http://foo/Extra.xml",
		Name:    "Extra",
		FeedFor: []string{"http://foo/SomeoneElse.xml"},
		Implementations: map[string]*model.Implementation{
			"sha1=newer": {ID: "sha1=newer", Version: model.MustParseVersion("9.0"), Stability: model.Stable},
		},
	})

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	arch := archplat.New()
	rk := ranker.New(pol, arch, func(*model.Implementation) bool { return true })
	sv := New(Options{Interfaces: ifaces, Arch: arch, Ranker: rk, Policy: pol, Logger: logger})

	ready := sv.Recalculate(context.Background(), "http://foo/Root.xml")
	require.True(t, ready)
	assert.Equal(t, "sha1=newer", sv.Implementation()["http://foo/Root.xml"].ID,
		"mismatched feed-for must not stop the feed's implementations from being considered")

	assert.Contains(t, logBuf.String(), "feed-for target mismatch")
	assert.Contains(t, logBuf.String(), "http://foo/Extra.xml")
}

func TestAddWatcher_FiresAfterRecalculate(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=root": {ID: "sha1=root", Version: model.MustParseVersion("1.0"), Stability: model.Stable},
		},
	})

	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	sv := newTestSolver(t, ifaces, pol)

	var gotReady bool
	var gotCount int
	sv.AddWatcher(func(ready bool, impl map[string]*model.Implementation) {
		gotReady = ready
		gotCount = len(impl)
	})

	sv.Recalculate(context.Background(), "http://foo/Root.xml")
	assert.True(t, gotReady)
	assert.Equal(t, 1, gotCount)
}
