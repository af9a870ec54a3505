// Package registry holds the workspace project graph: an immutable
// ProjectRegistry snapshot and the MutableProjectRegistry a refresh pass
// uses to compute the next one.
//
// All cross-module links are index maps keyed by descriptor path; facades
// never point at each other.
package registry

import (
	"maps"
	"slices"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/facade"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// ProjectRegistry is a read-only snapshot of the workspace. It is never
// modified after construction.
type ProjectRegistry struct {
	facades      map[string]*facade.ModuleFacade
	capabilities map[string]capability.Set
	requirements map[string][]capability.Requirement

	// Both indices are transposes of the forward maps above.
	dependents map[capability.VersionlessKey]sets.Set[string]
	providers  map[capability.VersionlessKey]sets.Set[string]
}

// Entry is one descriptor's state, used to persist and rebuild snapshots.
// Facade is nil for descriptors that failed to parse.
type Entry struct {
	Descriptor   string
	Facade       *facade.ModuleFacade
	Capabilities []capability.Capability
	Requirements []capability.Requirement
}

// New returns an empty registry.
func New() *ProjectRegistry {
	return &ProjectRegistry{
		facades:      map[string]*facade.ModuleFacade{},
		capabilities: map[string]capability.Set{},
		requirements: map[string][]capability.Requirement{},
		dependents:   map[capability.VersionlessKey]sets.Set[string]{},
		providers:    map[capability.VersionlessKey]sets.Set[string]{},
	}
}

// Build reconstructs a registry from entries. The reverse indices are
// derived from the forward maps.
func Build(entries []Entry) *ProjectRegistry {
	r := New()
	for _, e := range entries {
		if e.Facade != nil {
			r.facades[e.Descriptor] = e.Facade
		}
		if len(e.Capabilities) > 0 {
			caps := capability.NewSet(e.Capabilities...)
			r.capabilities[e.Descriptor] = caps
			for c := range caps {
				insert(r.providers, c.VersionlessKey(), e.Descriptor)
			}
		}
		if len(e.Requirements) > 0 {
			r.requirements[e.Descriptor] = slices.Clone(e.Requirements)
			for _, req := range e.Requirements {
				insert(r.dependents, req.Target, e.Descriptor)
			}
		}
	}
	return r
}

func insert(index map[capability.VersionlessKey]sets.Set[string], key capability.VersionlessKey, path string) {
	s, ok := index[key]
	if !ok {
		s = sets.New[string]()
		index[key] = s
	}
	s.Insert(path)
}

func (r *ProjectRegistry) facade(path string) *facade.ModuleFacade { return r.facades[path] }

func (r *ProjectRegistry) caps(path string) capability.Set { return r.capabilities[path] }

func (r *ProjectRegistry) reqs(path string) []capability.Requirement { return r.requirements[path] }

func (r *ProjectRegistry) dependentsOf(key capability.VersionlessKey) sets.Set[string] {
	return r.dependents[key]
}

func (r *ProjectRegistry) providersOf(key capability.VersionlessKey) sets.Set[string] {
	return r.providers[key]
}

// Facade returns the facade for path, or nil.
func (r *ProjectRegistry) Facade(path string) *facade.ModuleFacade { return r.facade(path) }

// Facades returns every facade ordered by descriptor path.
func (r *ProjectRegistry) Facades() []*facade.ModuleFacade {
	out := make([]*facade.ModuleFacade, 0, len(r.facades))
	for _, path := range sortedKeys(r.facades) {
		out = append(out, r.facades[path])
	}
	return out
}

// Descriptors returns every descriptor with any recorded state.
func (r *ProjectRegistry) Descriptors() []string {
	all := sets.KeySet(r.facades)
	all = all.Union(sets.KeySet(r.capabilities))
	all = all.Union(sets.KeySet(r.requirements))
	return sets.List(all)
}

// Len is the number of modules with a facade.
func (r *ProjectRegistry) Len() int { return len(r.facades) }

func (r *ProjectRegistry) Capabilities(path string) capability.Set { return r.caps(path).Clone() }

func (r *ProjectRegistry) Requirements(path string) []capability.Requirement {
	return slices.Clone(r.reqs(path))
}

// Dependents returns the descriptors with a requirement on c. With
// includeRelated every requirement on c's versionless key matches;
// otherwise the requirement's version constraint must accept c.
func (r *ProjectRegistry) Dependents(c capability.Capability, includeRelated bool) []string {
	return dependents(r, c, includeRelated)
}

// Providers returns the descriptors providing a capability with key.
func (r *ProjectRegistry) Providers(key capability.VersionlessKey) []string {
	return sets.List(r.providersOf(key))
}

func (r *ProjectRegistry) WorkspaceModules(key capability.VersionlessKey) []resolver.WorkspaceModule {
	return workspaceModules(r, key)
}

// WorkspaceModule returns the descriptor whose identity capability equals id.
func (r *ProjectRegistry) WorkspaceModule(id capability.ModuleIdentity) (string, bool) {
	want := capability.Identity(id)
	for _, path := range r.Providers(want.VersionlessKey()) {
		if r.caps(path).Has(want) {
			return path, true
		}
	}
	return "", false
}

// Entries lists the snapshot contents ordered by descriptor.
func (r *ProjectRegistry) Entries() []Entry {
	paths := r.Descriptors()
	out := make([]Entry, 0, len(paths))
	for _, path := range paths {
		out = append(out, Entry{
			Descriptor:   path,
			Facade:       r.facades[path],
			Capabilities: capability.Sorted(r.caps(path)),
			Requirements: r.Requirements(path),
		})
	}
	return out
}

// reader is the read side shared by the snapshot and the mutable view.
type reader interface {
	facade(path string) *facade.ModuleFacade
	caps(path string) capability.Set
	reqs(path string) []capability.Requirement
	dependentsOf(key capability.VersionlessKey) sets.Set[string]
	providersOf(key capability.VersionlessKey) sets.Set[string]
}

func dependents(r reader, c capability.Capability, includeRelated bool) []string {
	candidates := r.dependentsOf(c.VersionlessKey())
	if includeRelated {
		return sets.List(candidates)
	}
	out := make([]string, 0, len(candidates))
	for path := range candidates {
		for _, req := range r.reqs(path) {
			if req.Matches(c, false) {
				out = append(out, path)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func workspaceModules(r reader, key capability.VersionlessKey) []resolver.WorkspaceModule {
	providers := sets.List(r.providersOf(key))
	out := make([]resolver.WorkspaceModule, 0, len(providers))
	for _, path := range providers {
		for _, c := range capability.Sorted(r.caps(path)) {
			if c.VersionlessKey() == key {
				out = append(out, resolver.WorkspaceModule{Descriptor: path, Identity: c.Identity})
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
