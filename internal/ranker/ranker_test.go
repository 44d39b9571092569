package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/depsolve/internal/archplat"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/policy"
)

func newTestRanker(t *testing.T, networkUse policy.NetworkUse, cached map[string]bool) *Ranker {
	t.Helper()
	arch := archplat.NewForHost("Linux", "x86_64")
	pol := policy.New("http://foo/Root.xml", networkUse)
	isCached := func(impl *model.Implementation) bool {
		return cached[impl.ID]
	}
	return New(pol, arch, isCached)
}

func implOf(id, version string, stability model.Stability) *model.Implementation {
	return &model.Implementation{
		ID:        id,
		Version:   model.MustParseVersion(version),
		Stability: stability,
		OS:        "Linux",
		Machine:   "x86_64",
	}
}

// TestCompare_TotalOrder checks antisymmetry and transitivity of Compare
// over a mixed candidate set (spec.md §8's required testable property),
// by sorting with a simple comparison sort and asserting the result is
// consistent regardless of input order.
func TestCompare_TotalOrder(t *testing.T) {
	rk := newTestRanker(t, policy.NetworkFull, nil)
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	a := implOf("sha1=a", "1.0", model.Stable)
	b := implOf("sha1=b", "2.0", model.Stable)
	c := implOf("sha1=c", "2.0", model.Testing)
	d := implOf("sha1=d", "0.5", model.Buggy)

	impls := []*model.Implementation{a, b, c, d}

	for _, x := range impls {
		for _, y := range impls {
			xy := rk.Compare(iface, x, y)
			yx := rk.Compare(iface, y, x)
			if x == y {
				assert.Zero(t, xy, "Compare(x, x) must be 0")
				continue
			}
			// Antisymmetry: sign(Compare(x,y)) == -sign(Compare(y,x)).
			switch {
			case xy < 0:
				assert.Positive(t, yx, "Compare(%s,%s)<0 but Compare(%s,%s) not >0", x.ID, y.ID, y.ID, x.ID)
			case xy > 0:
				assert.Negative(t, yx, "Compare(%s,%s)>0 but Compare(%s,%s) not <0", x.ID, y.ID, y.ID, x.ID)
			default:
				assert.Zero(t, yx, "Compare(%s,%s)==0 but Compare(%s,%s) != 0", x.ID, y.ID, y.ID, x.ID)
			}
		}
	}

	// Transitivity: if a < b and b < c then a < c, for every ordered triple.
	for _, x := range impls {
		for _, y := range impls {
			for _, z := range impls {
				if rk.Compare(iface, x, y) < 0 && rk.Compare(iface, y, z) < 0 {
					assert.Negative(t, rk.Compare(iface, x, z),
						"transitivity violated: %s < %s < %s but not %s < %s", x.ID, y.ID, z.ID, x.ID, z.ID)
				}
			}
		}
	}
}

func TestCompare_UsableBeforeUnusable(t *testing.T) {
	rk := newTestRanker(t, policy.NetworkFull, nil)
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	usable := implOf("sha1=usable", "1.0", model.Stable)
	unusable := implOf("sha1=unusable", "9.0", model.Buggy) // stability <= Insecure is unusable

	assert.Negative(t, rk.Compare(iface, usable, unusable))
	assert.Positive(t, rk.Compare(iface, unusable, usable))
}

func TestCompare_PreferredStabilityWins(t *testing.T) {
	rk := newTestRanker(t, policy.NetworkFull, nil)
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	preferred := implOf("sha1=pref", "1.0", model.Preferred)
	stable := implOf("sha1=stable", "9.0", model.Stable) // higher version, but not Preferred

	assert.Negative(t, rk.Compare(iface, preferred, stable))
}

func TestCompare_VersionOrdering(t *testing.T) {
	rk := newTestRanker(t, policy.NetworkFull, nil)
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	newer := implOf("sha1=newer", "2.0", model.Stable)
	older := implOf("sha1=older", "1.0", model.Stable)

	assert.Negative(t, rk.Compare(iface, newer, older), "higher version should be preferred")
}

func TestCompare_IDTiebreakIsDeterministic(t *testing.T) {
	rk := newTestRanker(t, policy.NetworkFull, nil)
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	a := implOf("sha1=aaa", "1.0", model.Stable)
	b := implOf("sha1=bbb", "1.0", model.Stable)

	assert.Negative(t, rk.Compare(iface, a, b))
	assert.Positive(t, rk.Compare(iface, b, a))
}

// TestCompare_OfflineUncachedBest covers spec.md §8 scenario 5: two
// candidates, A (newer, uncached) and B (older, cached), under
// network_use=offline. A is unusable ("not cached and we are off-line"),
// so B must rank first even though A has the higher version.
func TestCompare_OfflineUncachedBest(t *testing.T) {
	a := implOf("sha1=a-v2", "2.0", model.Stable) // uncached
	b := implOf("sha1=b-v1", "1.0", model.Stable) // cached

	rk := newTestRanker(t, policy.NetworkOffline, map[string]bool{"sha1=b-v1": true})
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	assert.True(t, rk.Unusable(a), "uncached implementation must be unusable while offline")
	assert.Equal(t, "not cached and we are off-line", rk.UnusableReason(a))
	assert.False(t, rk.Unusable(b))

	best := Best(rk, iface, []*model.Implementation{a, b}, nil)
	require.NotNil(t, best)
	assert.Equal(t, "sha1=b-v1", best.ID, "cached B must win over unusable uncached A while offline")
}

// TestCompare_CachedTiebreakPositionDiffersByNetworkMode locks in spec.md
// §4.4 / §9's explicit requirement that "cached" is a dominant early key
// outside full network mode, but only a late tiebreak within it.
func TestCompare_CachedTiebreakPositionDiffersByNetworkMode(t *testing.T) {
	// Same stability; only the version differs, so
	// that in full mode the higher version (uncached) still wins, while
	// in minimal mode the cached-first rule at key 3 dominates even
	// though uncached has a higher version.
	cachedOlder := implOf("sha1=cached", "1.0", model.Stable)
	uncachedNewer := implOf("sha1=uncached", "2.0", model.Stable)
	cached := map[string]bool{"sha1=cached": true}

	iface := &model.Interface{URI: "http://foo/Root.xml"}

	minimalRanker := newTestRanker(t, policy.NetworkMinimal, cached)
	assert.Negative(t, minimalRanker.Compare(iface, cachedOlder, uncachedNewer),
		"outside full network mode, cached must dominate over a higher uncached version")

	fullRanker := newTestRanker(t, policy.NetworkFull, cached)
	assert.Negative(t, fullRanker.Compare(iface, uncachedNewer, cachedOlder),
		"in full network mode, version must win over the cached-only tiebreak")
}

func TestCompare_StabilityClampedToPolicyThreshold(t *testing.T) {
	// help_with_testing opts the threshold down to Testing, so a Stable
	// and a Testing implementation both fold to "at or above threshold"
	// at key 4 and tie there; the newer version must then win at key 5
	// instead of Stable beating Testing directly.
	arch := archplat.NewForHost("Linux", "x86_64")
	pol := policy.New("http://foo/Root.xml", policy.NetworkFull)
	pol.HelpWithTesting = true
	rk := New(pol, arch, func(*model.Implementation) bool { return true })
	iface := &model.Interface{URI: "http://foo/Root.xml"}

	olderStable := implOf("sha1=stable-old", "1.0", model.Stable)
	newerTesting := implOf("sha1=testing-new", "2.0", model.Testing)

	assert.Negative(t, rk.Compare(iface, newerTesting, olderStable),
		"both at/above the testing threshold should tie on stability and let version decide")
}

func TestUnusableReason_UnsupportedOSOrMachine(t *testing.T) {
	rk := newTestRanker(t, policy.NetworkFull, nil)

	wrongOS := implOf("sha1=wrongos", "1.0", model.Stable)
	wrongOS.OS = "Windows"
	assert.Equal(t, "unsupported OS", rk.UnusableReason(wrongOS))

	wrongMachine := implOf("sha1=wrongmachine", "1.0", model.Stable)
	wrongMachine.Machine = "sparc"
	assert.Equal(t, "unsupported machine type", rk.UnusableReason(wrongMachine))
}
