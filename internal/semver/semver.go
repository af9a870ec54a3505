package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Any is the wildcard constraint accepted by Check.
const Any = "*"

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Constraint is a semantic version constraint.
//
// Examples:
// - ">=1.2.0 <2.0.0"
// - "^1.0.0"
// - "~1.4"
type Constraint struct {
	c *mm.Constraints
}

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.Original()
}

func ParseConstraint(raw string) (Constraint, error) {
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Constraint{}, fmt.Errorf("semver: parse constraint %q: %w", raw, err)
	}
	return Constraint{c: c}, nil
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// IsAny reports whether raw matches every version.
func IsAny(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw == "" || raw == Any || raw == "x"
}

// Check reports whether the raw version satisfies the raw constraint.
// Descriptor versions are not always semantic versions, so when either side
// fails to parse the two strings are compared literally.
func Check(version, constraint string) bool {
	if IsAny(constraint) {
		return true
	}
	c, cerr := ParseConstraint(constraint)
	v, verr := ParseVersion(version)
	if cerr != nil || verr != nil {
		return strings.TrimSpace(version) == strings.TrimSpace(constraint)
	}
	return Satisfies(v, c)
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// CompareRaw orders raw version strings. Unparsable versions sort below
// parsable ones and are ordered lexically among themselves.
func CompareRaw(a, b string) int {
	va, aerr := ParseVersion(a)
	vb, berr := ParseVersion(b)
	switch {
	case aerr == nil && berr == nil:
		return Compare(va, vb)
	case aerr == nil:
		return 1
	case berr == nil:
		return -1
	}
	return strings.Compare(a, b)
}

// MaxSatisfying returns the highest version in candidates that satisfies c.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(c Constraint, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !Satisfies(candidate, c) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
