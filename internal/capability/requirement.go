package capability

import (
	"github.com/bayleafwalker/bindery-workspace/internal/semver"
)

// Requirement references a capability by versionless key plus a version
// constraint. Resolved, Source and Provider record what satisfied it when
// the owning module was last resolved, so swapping a repository artifact
// for a workspace module shows up as a changed requirement.
type Requirement struct {
	Target   VersionlessKey `json:"target"`
	Version  string         `json:"version"`
	Scope    string         `json:"scope,omitempty"`
	Optional bool           `json:"optional,omitempty"`
	Resolved bool           `json:"resolved"`
	Source   string         `json:"source,omitempty"`
	Provider ModuleIdentity `json:"provider"`
}

// Matches reports whether c can satisfy r. With includeRelated only the
// versionless keys are compared.
func (r Requirement) Matches(c Capability, includeRelated bool) bool {
	if r.Target != c.VersionlessKey() {
		return false
	}
	if includeRelated {
		return true
	}
	return semver.Check(c.Identity.Version, r.Version)
}

func (r Requirement) String() string {
	v := r.Version
	if semver.IsAny(v) {
		v = semver.Any
	}
	return r.Target.String() + "@" + v
}

// HasDiff compares requirement lists positionally. Lists are built in
// declaration order, so equal content means equal positions.
func HasDiff(old, new []Requirement) bool {
	if len(old) != len(new) {
		return true
	}
	for i := range old {
		if old[i] != new[i] {
			return true
		}
	}
	return false
}
