package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a 0install-style dotted version number with an optional
// pre-release modifier, e.g. "1.2.3-pre", "2.0-post1".
//
// Versions compare element-wise: each dotted component is compared
// numerically, and a missing component counts as zero (so
// "1.2" < "1.2.1", and "1.2" equals "1.2.0"). The modifier adjusts the final ordering:
// "pre" < (no modifier) < "post", matching the feed format's
// {pre,rc,,post} modifier ladder.
type Version struct {
	raw       string
	parts     []int
	modifier  string
	modNumber int
}

var modifierRank = map[string]int{
	"pre":  -2,
	"rc":   -1,
	"":     0,
	"post": 1,
}

// ParseVersion parses a version string of the form "N(.N)*[-modifier[N]]".
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("version: empty string")
	}

	main, modifier, modNumber := s, "", 0
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		main = s[:idx]
		rest := s[idx+1:]
		modifier = rest
		for i, r := range rest {
			if r >= '0' && r <= '9' {
				modifier = rest[:i]
				n, err := strconv.Atoi(rest[i:])
				if err != nil {
					return Version{}, fmt.Errorf("version %q: invalid modifier suffix: %w", s, err)
				}
				modNumber = n
				break
			}
		}
		if _, ok := modifierRank[modifier]; !ok {
			return Version{}, fmt.Errorf("version %q: unknown modifier %q", s, modifier)
		}
	}

	segments := strings.Split(main, ".")
	parts := make([]int, 0, len(segments))
	for _, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: invalid component %q: %w", s, seg, err)
		}
		parts = append(parts, n)
	}

	return Version{raw: s, parts: parts, modifier: modifier, modNumber: modNumber}, nil
}

// MustParseVersion panics if s is not a valid version. Intended for
// fixed literal versions (tests, defaults), not for untrusted input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical textual form of the version.
func (v Version) String() string {
	return v.raw
}

// IsZero reports whether v is the zero Version (unparsed/unset).
func (v Version) IsZero() bool {
	return v.raw == "" && v.parts == nil
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other, per the dotted-component + modifier ordering above.
func (v Version) Compare(other Version) int {
	n := len(v.parts)
	if len(other.parts) > n {
		n = len(other.parts)
	}
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(v.parts) {
			a = v.parts[i]
		}
		if i < len(other.parts) {
			b = other.parts[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}

	ra, rb := modifierRank[v.modifier], modifierRank[other.modifier]
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	if v.modNumber != other.modNumber {
		if v.modNumber < other.modNumber {
			return -1
		}
		return 1
	}

	return 0
}
