// Package model defines the feed/interface data types the solver operates
// on: Interface, Implementation, Dependency, Restriction, FeedRef,
// RetrievalMethod, and the Selections document produced by a successful
// solve. These are plain structs — the shapes of a 0install-style feed,
// not a wire format in themselves; feed parsing sits behind the
// fetch.FeedLoader seam and internal/selections owns the Selections XML.
package model

import "time"

// Importance controls whether a missing/unmet Dependency fails the solve.
type Importance int

const (
	// Essential dependencies must be met for the solve to succeed.
	Essential Importance = iota
	// Recommended marks a dependency as optional in the feed. The solver
	// walks it exactly like an Essential one, so an unmet Recommended
	// dependency also leaves the solve not ready.
	Recommended
)

// Stability ranks how trustworthy an Implementation is considered.
// Order matters: higher values are more trusted. Buggy and Insecure
// implementations are filtered out entirely unless explicitly requested.
type Stability int

const (
	Buggy Stability = iota
	Insecure
	Developer
	Testing
	Stable
	Preferred
)

func (s Stability) String() string {
	switch s {
	case Buggy:
		return "buggy"
	case Insecure:
		return "insecure"
	case Developer:
		return "developer"
	case Testing:
		return "testing"
	case Stable:
		return "stable"
	case Preferred:
		return "preferred"
	default:
		return "unknown"
	}
}

// Restriction narrows which Implementations of a Dependency's interface
// are acceptable.
type Restriction struct {
	// NotBeforeVersion, if non-zero, excludes versions below it.
	NotBeforeVersion Version
	// BeforeVersion, if non-zero, excludes versions at or above it.
	BeforeVersion Version
	// Distributions restricts the restriction to implementations whose
	// Distribution is in this set (empty means no restriction).
	Distributions []string
}

// Meets reports whether impl satisfies the restriction.
func (r Restriction) Meets(impl *Implementation) bool {
	if !r.NotBeforeVersion.IsZero() && impl.Version.Compare(r.NotBeforeVersion) < 0 {
		return false
	}
	if !r.BeforeVersion.IsZero() && impl.Version.Compare(r.BeforeVersion) >= 0 {
		return false
	}
	if len(r.Distributions) > 0 {
		if impl.Distribution == "" {
			return false
		}
		ok := false
		for _, d := range r.Distributions {
			if d == impl.Distribution {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Dependency is an edge from one interface to another, with optional
// restrictions narrowing acceptable implementations of the target.
type Dependency struct {
	// Interface is the URI of the interface this dependency resolves to.
	Interface string
	// Importance controls whether this dependency must be met.
	Importance Importance
	// Use labels the role of this dependency (e.g. "testing") so the
	// solver/UI can skip it unless explicitly requested. Empty for
	// ordinary runtime dependencies.
	Use string
	// Restrictions further narrow acceptable implementations.
	Restrictions []Restriction
	// Bindings describe how the chosen implementation of this
	// dependency should be exposed to the running program (environment
	// variables, inserted paths, ...), in declared order.
	Bindings []Binding
}

// BindingKind identifies which exposure mechanism a Binding describes.
type BindingKind string

const (
	// EnvironmentBinding sets (or prepends/appends to) an environment
	// variable from the dependency's implementation path.
	EnvironmentBinding BindingKind = "environment"
	// ExecutableInPathBinding exposes a runnable as a named command on PATH.
	ExecutableInPathBinding BindingKind = "executable-in-path"
	// InsertBinding exposes a sub-path of the dependency directly (used
	// by the feed-document <environment insert="..."/> shorthand).
	InsertBinding BindingKind = "insert"
)

// Binding is a declaration of how a dependency (or the implementation
// itself, for self-bindings) should be exposed to the running program.
// Fields are a union over the three BindingKinds; only the ones that
// apply to Kind are meaningful.
type Binding struct {
	Kind BindingKind

	// Name is the environment variable name (EnvironmentBinding) or the
	// command name to expose (ExecutableInPathBinding).
	Name string
	// Insert is the path within the implementation to use as the value,
	// relative to its root ("" or "." means the root itself).
	Insert string
	// Mode controls how Insert combines with any existing value:
	// "replace" (default), "prepend", or "append", using Separator
	// between entries.
	Mode      string
	Separator string
	// Default, if set, is used as the starting value when the named
	// environment variable is unset in the launched process.
	Default string
}

// FeedRef points at an additional feed document that may contribute
// implementations to an Interface.
type FeedRef struct {
	URI string
	// OS and Machine restrict this feed to a specific architecture; empty
	// means "any" (always usable).
	OS      string
	Machine string
	// Languages restricts the feed to implementations localized to one
	// of these languages; empty means no restriction.
	Languages []string
}

// RetrievalMethod describes how to obtain an Implementation's files.
type RetrievalMethod interface {
	isRetrievalMethod()
}

// DownloadSource is a single archive download.
type DownloadSource struct {
	URL         string
	Size        int64
	Extract     string // subdirectory within the archive to use as the root, if any
	MimeType    string // archive format hint (tar.gz, zip, ...); inferred from URL if empty
	StartOffset int64  // bytes to skip before the archive data begins (self-extracting blobs)
	Destination string // path within the implementation's tree to unpack into; "" means the root
}

func (DownloadSource) isRetrievalMethod() {}

// Recipe is an ordered sequence of steps (each a RetrievalMethod) whose
// combined output forms a single Implementation.
type Recipe struct {
	Steps []RetrievalMethod
}

func (Recipe) isRetrievalMethod() {}

// Implementation is one concrete, installable version of an interface.
type Implementation struct {
	// ID is the feed-unique implementation identifier. For downloadable
	// implementations this is a manifest digest (e.g. "sha256new=...");
	// for package implementations it may be an opaque distro package ID.
	ID      string
	Version Version
	// Released is the publication date, used for freshness checks.
	Released time.Time

	// OS and Machine are the architecture this implementation targets;
	// empty means "any" for that axis.
	OS      string
	Machine string

	Stability Stability
	// UserStability, if non-nil, overrides Stability (a user's local
	// <implementation> override in their feed cache).
	UserStability *Stability

	// Main is the relative path to the executable to run, if any.
	Main string

	Dependencies []Dependency

	// Bindings describe how this implementation's own directory should
	// be exposed to the program that depends on it, in declared order
	// (e.g. an "insert=." binding pointing at the implementation root).
	Bindings []Binding

	// RetrievalMethods are tried in order until one succeeds; empty means
	// the implementation has no fetchable source (e.g. local dev override).
	RetrievalMethods []RetrievalMethod

	// Digests lists every manifest digest that addresses this
	// implementation's content (an implementation may be indexed under
	// more than one algorithm, e.g. both "sha1=..." and "sha256new=...").
	// Two Implementations sharing an ID must have identical Digests.
	Digests []string

	// LocalPath, if set, is an absolute path to an already-available
	// implementation on disk (no download/store lookup needed).
	LocalPath string

	// Distribution is the source of a native-package implementation
	// (e.g. "deb", "rpm"); empty for 0install-native implementations.
	Distribution string

	// FeedURI records which feed document this implementation came from,
	// for diagnostics and Selections provenance.
	FeedURI string
}

// EffectiveStability returns UserStability if set, otherwise Stability.
func (impl *Implementation) EffectiveStability() Stability {
	if impl.UserStability != nil {
		return *impl.UserStability
	}
	return impl.Stability
}

// Interface is a named contract: a URI, optional feeds, and the
// implementations directly declared in its own feed document.
type Interface struct {
	URI     string
	Name    string
	Summary string

	// Implementations declared directly in this interface's own feed.
	Implementations map[string]*Implementation

	// Feeds are additional feed documents that may contribute more
	// implementations when queried via usable feeds.
	Feeds []FeedRef

	// FeedFor lists the interface URIs this document declares itself a
	// feed for (via <feed-for interface="...">), used to warn about
	// missing back-references when a feed is pulled in via FeedRef.
	FeedFor []string

	// StabilityPolicy is the minimum stability this interface's user has
	// opted into treating as Preferred. It is consulted only when
	// HasStabilityPolicy is set; otherwise the solver-wide default
	// applies (Stable, or Testing with help_with_testing).
	StabilityPolicy Stability
	HasStabilityPolicy bool

	// LastModified is non-zero once a feed document has been loaded for
	// this interface (from disk or network), zero if nothing is known.
	LastModified time.Time
	// LastChecked is when this interface was last checked for staleness
	// against Policy.Freshness.
	LastChecked time.Time
}

// Selection records the concrete Implementation chosen for one interface
// in a completed solve, plus a copy of its declared dependencies (so
// Selections round-trips need not re-derive them from the original feed).
type Selection struct {
	InterfaceURI string
	Implementation
	UsedDependencies []Dependency
	// Attrs preserves any foreign-namespace attributes found on the
	// original <selection> element when round-tripping an existing
	// Selections document (internal/selections owns the XML shape).
	Attrs map[string]string
}

// Selections is the output of a successful solve: one Selection per
// interface reachable from the root dependency.
type Selections struct {
	Interface string
	Command   string
	Selections map[string]*Selection // keyed by interface URI
}
