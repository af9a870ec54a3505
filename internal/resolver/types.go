package resolver

import (
	"fmt"
	"strings"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
)

type Source string

const (
	SourceWorkspace  Source = "workspace"
	SourceRepository Source = "repository"
	SourceUnresolved Source = "unresolved"
)

// WorkspaceModule is a module in the workspace providing some capability.
type WorkspaceModule struct {
	Descriptor string
	Identity   capability.ModuleIdentity
}

// Artifact is a repository hit.
type Artifact struct {
	Identity capability.ModuleIdentity
	Location string
}

// ResolvedDependency records where a requirement was satisfied.
type ResolvedDependency struct {
	Requirement capability.Requirement
	Source      Source
	Identity    capability.ModuleIdentity
	// Descriptor is set for workspace hits, Location for repository hits.
	Descriptor string
	Location   string
}

// Resolution is the result of resolving one module.
type Resolution struct {
	Identity     capability.ModuleIdentity
	Capabilities []capability.Capability
	Requirements []capability.Requirement
	Dependencies []ResolvedDependency
	Diagnostics  Diagnostics
}

// Diagnostics captures human-readable information about resolution.
//
// This is useful for markers, events and logging.
type Diagnostics struct {
	UnresolvedRequired []UnresolvedRequirement
	UnresolvedOptional []UnresolvedRequirement
}

type UnresolvedRequirement struct {
	Target  capability.VersionlessKey
	Version string
	Reason  string
}

func (d Diagnostics) Empty() bool {
	return len(d.UnresolvedRequired) == 0 && len(d.UnresolvedOptional) == 0
}

// Message summarises the diagnostics on one line.
func (d Diagnostics) Message() string {
	var parts []string
	for _, u := range d.UnresolvedRequired {
		parts = append(parts, fmt.Sprintf("%s@%s: %s", u.Target, u.Version, u.Reason))
	}
	for _, u := range d.UnresolvedOptional {
		parts = append(parts, fmt.Sprintf("%s@%s (optional): %s", u.Target, u.Version, u.Reason))
	}
	return strings.Join(parts, "; ")
}
