// Package policy holds the user-configurable choices that steer a solve
// and fetch: how much network access is allowed, how stale a cached feed
// may be before it's refetched, and whether testing-grade implementations
// are acceptable. It also defines the Handler contract a solve/fetch run
// reports progress through.
//
// Grounded on zeroinstall/injector/policy.py's Policy class (root,
// network_use, freshness, help_with_testing, warned_offline, handler
// slots) and on the teacher's internal/config package for how
// configuration is structured, loaded, and validated in this codebase.
package policy

import (
	"fmt"
	"sync"
)

// NetworkUse controls how much network access a solve/fetch is allowed.
type NetworkUse string

const (
	// NetworkFull allows fetching feeds and implementations freely.
	NetworkFull NetworkUse = "full"
	// NetworkMinimal allows network access like NetworkFull (missing feeds,
	// stale-feed refreshes, implementations), but the ranker prefers
	// cached implementations over uncached ones.
	NetworkMinimal NetworkUse = "minimal"
	// NetworkOffline forbids all network access; only cached data is used.
	NetworkOffline NetworkUse = "offline"
)

// Valid reports whether n is one of the known NetworkUse values.
func (n NetworkUse) Valid() bool {
	switch n {
	case NetworkFull, NetworkMinimal, NetworkOffline:
		return true
	default:
		return false
	}
}

// Policy is the set of choices that govern one solve/fetch run.
//
// Not safe for concurrent field mutation; WarnedOffline is the only field
// mutated after construction (by get_interface-equivalent code warning the
// user once per run), guarded by its own mutex.
type Policy struct {
	// Root is the URI of the interface being solved for.
	Root string

	NetworkUse      NetworkUse
	Freshness       int64 // seconds; 0 disables freshness-based refresh
	HelpWithTesting bool

	// Handler receives progress notifications for downloads started
	// while applying this policy.
	Handler Handler

	mu            sync.Mutex
	warnedOffline bool
}

// New builds a Policy for root with the given network mode and the
// defaults used throughout this package: one month of freshness, no
// testing opt-in, and a console Handler.
func New(root string, networkUse NetworkUse) *Policy {
	return &Policy{
		Root:       root,
		NetworkUse: networkUse,
		Freshness:  defaultFreshnessSeconds,
		Handler:    NewConsoleHandler(),
	}
}

const defaultFreshnessSeconds = 60 * 60 * 24 * 30 // one month, matching policy.py

// Validate reports whether the policy's fields are internally consistent.
func (p *Policy) Validate() error {
	if p.Root == "" {
		return fmt.Errorf("policy: root interface URI is required")
	}
	if !p.NetworkUse.Valid() {
		return fmt.Errorf("policy: invalid network_use %q", p.NetworkUse)
	}
	if p.Freshness < 0 {
		return fmt.Errorf("policy: freshness cannot be negative")
	}
	return nil
}

// WarnOfflineOnce reports whether this is the first time in the Policy's
// lifetime that an offline-mode warning has been requested, and marks it
// as delivered. Mirrors policy.py's warned_offline guard, which prevents
// the same "nothing known and we're offline" message from repeating for
// every interface hit during one run.
func (p *Policy) WarnOfflineOnce() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.warnedOffline {
		return false
	}
	p.warnedOffline = true
	return true
}
