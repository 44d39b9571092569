// Package ranker implements the total order the solver uses to pick the
// best candidate implementation for an interface: a 9-key lexicographic
// comparison grounded exactly on zeroinstall/injector/policy.py's
// Policy.compare() (usability, preferred-stability, cached-first in
// restricted network modes, stability-vs-policy, version, OS rank,
// machine rank, cached-as-tiebreak in full network mode, id tiebreak).
package ranker

import (
	"github.com/ipiton/depsolve/internal/archplat"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/policy"
)

// IsCachedFunc reports whether impl's files are already available
// locally (in the content store, or LocalPath is set), without needing
// a network round-trip.
type IsCachedFunc func(impl *model.Implementation) bool

// Ranker orders candidate implementations for one solve run.
type Ranker struct {
	arch            *archplat.ArchRanker
	networkUse      policy.NetworkUse
	helpWithTesting bool
	isCached        IsCachedFunc
}

// New builds a Ranker using the given policy's network mode and
// help_with_testing opt-in, archRanker for OS/machine scoring, and
// isCached to answer the "is this already on disk" question.
func New(p *policy.Policy, arch *archplat.ArchRanker, isCached IsCachedFunc) *Ranker {
	return &Ranker{
		arch:            arch,
		networkUse:      p.NetworkUse,
		helpWithTesting: p.HelpWithTesting,
		isCached:        isCached,
	}
}

// UnusableReason returns why impl can never be selected, or "" if it's
// usable. Mirrors policy.py's get_unusable_reason.
func (rk *Ranker) UnusableReason(impl *model.Implementation) string {
	stability := impl.EffectiveStability()
	if stability <= model.Insecure {
		return stability.String()
	}
	if rk.networkUse == policy.NetworkOffline && !rk.isCached(impl) {
		return "not cached and we are off-line"
	}
	if !rk.arch.Usable(impl.OS, impl.Machine) {
		if _, ok := rk.arch.OSRank(impl.OS); !ok {
			return "unsupported OS"
		}
		return "unsupported machine type"
	}
	return ""
}

// Unusable reports whether impl can never be selected.
func (rk *Ranker) Unusable(impl *model.Implementation) bool {
	return rk.UnusableReason(impl) != ""
}

// stabilityPolicyFor returns the minimum stability this interface's
// policy treats as Preferred: the interface's own override if set,
// otherwise Testing when help_with_testing is on, else Stable.
func (rk *Ranker) stabilityPolicyFor(iface *model.Interface) model.Stability {
	if iface.HasStabilityPolicy {
		return iface.StabilityPolicy
	}
	if rk.helpWithTesting {
		return model.Testing
	}
	return model.Stable
}

// Compare orders a and b for iface: negative if a should be preferred
// over b, positive if b should be preferred, 0 if they're equivalent
// for ranking purposes (callers should then keep the earlier-seen one).
func (rk *Ranker) Compare(iface *model.Interface, a, b *model.Implementation) int {
	// 1. Usable implementations always outrank unusable ones.
	aUnusable, bUnusable := rk.Unusable(a), rk.Unusable(b)
	if aUnusable != bUnusable {
		if aUnusable {
			return 1
		}
		return -1
	}

	// 2. Implementations explicitly marked Preferred outrank all others.
	aPreferred := a.EffectiveStability() == model.Preferred
	bPreferred := b.EffectiveStability() == model.Preferred
	if aPreferred != bPreferred {
		if aPreferred {
			return -1
		}
		return 1
	}

	// 3. In restricted network modes, a cached implementation is chosen
	// over a non-cached one even if the non-cached one otherwise ranks
	// higher, since fetching it may not be possible at all.
	if rk.networkUse != policy.NetworkFull {
		if c := rk.compareCached(a, b); c != 0 {
			return c
		}
	}

	// 4. Stability, folding anything at or above the interface's policy
	// threshold up to Preferred so e.g. Stable and Preferred tie when the
	// policy only requires Stable.
	stabPolicy := rk.stabilityPolicyFor(iface)
	aStab, bStab := a.EffectiveStability(), b.EffectiveStability()
	if aStab >= stabPolicy {
		aStab = model.Preferred
	}
	if bStab >= stabPolicy {
		bStab = model.Preferred
	}
	if aStab != bStab {
		if aStab > bStab {
			return -1
		}
		return 1
	}

	// 5. Newer versions before older ones.
	if c := a.Version.Compare(b.Version); c != 0 {
		return -c
	}

	// 6. Best-matching OS before worse-matching OS.
	if c := rk.compareRank(rk.arch.OSRank, a.OS, b.OS); c != 0 {
		return c
	}

	// 7. Best-matching machine before worse-matching machine.
	if c := rk.compareRank(rk.arch.MachineRank, a.Machine, b.Machine); c != 0 {
		return c
	}

	// 8. In full-network mode, a cached implementation is a late
	// tiebreak only (prefer it slightly, but it never overrides an
	// otherwise-better candidate from steps 1-7).
	if rk.networkUse == policy.NetworkFull {
		if c := rk.compareCached(a, b); c != 0 {
			return c
		}
	}

	// 9. Deterministic fallback: lower ID sorts first.
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

func (rk *Ranker) compareCached(a, b *model.Implementation) int {
	aCached, bCached := rk.isCached(a), rk.isCached(b)
	if aCached == bCached {
		return 0
	}
	if aCached {
		return -1
	}
	return 1
}

func (rk *Ranker) compareRank(rank func(string) (int, bool), a, b string) int {
	ra, _ := rank(a)
	rb, _ := rank(b)
	if ra == rb {
		return 0
	}
	if ra > rb {
		return -1
	}
	return 1
}

// Best returns the highest-ranked usable implementation in impls for
// iface, after filtering by restrictions, or nil if none qualify.
// Mirrors policy.py's _get_best_implementation's selection loop (the
// feed-gathering half of that function lives in internal/solver, which
// has access to the interface cache).
func Best(rk *Ranker, iface *model.Interface, impls []*model.Implementation, restrictions []model.Restriction) *model.Implementation {
	candidates := impls
	for _, r := range restrictions {
		filtered := candidates[:0:0]
		for _, impl := range candidates {
			if r.Meets(impl) {
				filtered = append(filtered, impl)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, x := range candidates[1:] {
		if rk.Compare(iface, x, best) < 0 {
			best = x
		}
	}
	if rk.Unusable(best) {
		return nil
	}
	return best
}
