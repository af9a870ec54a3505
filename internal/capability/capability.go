// Package capability holds the value types that connect workspace modules:
// identities, the capabilities a module provides and the requirements it
// declares against other modules' capabilities.
package capability

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/semver"
)

type Kind string

const (
	// KindIdentity is provided by every module for its own coordinate.
	KindIdentity Kind = "identity"
	// KindParent is provided by a module that may act as a parent.
	KindParent Kind = "parent"
)

// ModuleIdentity is a (group, name, version) coordinate.
type ModuleIdentity struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func FromAPI(id workspacev1alpha1.ModuleIdentity) ModuleIdentity {
	return ModuleIdentity{Group: id.Group, Name: id.Name, Version: id.Version}
}

// ParseIdentity parses "group:name" or "group:name:version".
func ParseIdentity(raw string) (ModuleIdentity, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return ModuleIdentity{}, fmt.Errorf("capability: parse identity %q: want group:name[:version]", raw)
	}
	id := ModuleIdentity{Group: parts[0], Name: parts[1]}
	if len(parts) == 3 {
		id.Version = parts[2]
	}
	return id, nil
}

func (id ModuleIdentity) IsZero() bool {
	return id == ModuleIdentity{}
}

func (id ModuleIdentity) String() string {
	if id.Version == "" {
		return id.Group + ":" + id.Name
	}
	return id.Group + ":" + id.Name + ":" + id.Version
}

// VersionlessKey identifies a capability regardless of version.
type VersionlessKey struct {
	Kind  Kind   `json:"kind"`
	Group string `json:"group"`
	Name  string `json:"name"`
}

func (k VersionlessKey) String() string {
	return string(k.Kind) + "/" + k.Group + ":" + k.Name
}

// Capability is a fact a module provides. The full key is the capability
// value itself, so two capabilities are equal only when versions match.
type Capability struct {
	Kind     Kind           `json:"kind"`
	Identity ModuleIdentity `json:"identity"`
}

func Identity(id ModuleIdentity) Capability {
	return Capability{Kind: KindIdentity, Identity: id}
}

func ParentIdentity(id ModuleIdentity) Capability {
	return Capability{Kind: KindParent, Identity: id}
}

func (c Capability) VersionlessKey() VersionlessKey {
	return VersionlessKey{Kind: c.Kind, Group: c.Identity.Group, Name: c.Identity.Name}
}

func (c Capability) String() string {
	return string(c.Kind) + "/" + c.Identity.String()
}

// Set is an unordered set of capabilities.
type Set = sets.Set[Capability]

func NewSet(caps ...Capability) Set {
	return sets.New(caps...)
}

// Diff returns the symmetric difference of old and new. Nil sets are empty.
func Diff(old, new Set) Set {
	return old.SymmetricDifference(new)
}

// Sorted returns the members of s in a stable order.
func Sorted(s Set) []Capability {
	out := s.UnsortedList()
	slices.SortFunc(out, compare)
	return out
}

func compare(a, b Capability) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Identity.Group, b.Identity.Group),
		cmp.Compare(a.Identity.Name, b.Identity.Name),
		semver.CompareRaw(a.Identity.Version, b.Identity.Version),
		cmp.Compare(a.Identity.Version, b.Identity.Version),
	)
}
