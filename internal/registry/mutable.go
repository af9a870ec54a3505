package registry

import (
	"errors"
	"io"
	"maps"
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/facade"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// GenerationSource reports the generation of the authoritative snapshot.
type GenerationSource interface {
	Generation() uint64
}

// MutableProjectRegistry is a copy-on-write view over a ProjectRegistry,
// owned by a single refresh pass. Overlay entries with a nil value mark
// descriptors removed in this pass.
type MutableProjectRegistry struct {
	base       *ProjectRegistry
	generation uint64
	source     GenerationSource

	facades      map[string]*facade.ModuleFacade
	capabilities map[string]capability.Set
	requirements map[string][]capability.Requirement
	dependents   map[capability.VersionlessKey]sets.Set[string]
	providers    map[capability.VersionlessKey]sets.Set[string]

	touched sets.Set[string]
	closers []io.Closer
	closed  bool
}

var _ resolver.WorkspaceView = (*MutableProjectRegistry)(nil)

// NewMutable starts a view over base, which was published at generation.
// A nil source disables staleness detection.
func NewMutable(base *ProjectRegistry, generation uint64, source GenerationSource) *MutableProjectRegistry {
	if base == nil {
		base = New()
	}
	return &MutableProjectRegistry{
		base:         base,
		generation:   generation,
		source:       source,
		facades:      map[string]*facade.ModuleFacade{},
		capabilities: map[string]capability.Set{},
		requirements: map[string][]capability.Requirement{},
		dependents:   map[capability.VersionlessKey]sets.Set[string]{},
		providers:    map[capability.VersionlessKey]sets.Set[string]{},
		touched:      sets.New[string](),
	}
}

// Generation is the base snapshot generation this view was created from.
func (m *MutableProjectRegistry) Generation() uint64 { return m.generation }

// Base returns the snapshot this view is layered over.
func (m *MutableProjectRegistry) Base() *ProjectRegistry { return m.base }

// IsStale reports whether the authoritative snapshot has moved on.
func (m *MutableProjectRegistry) IsStale() bool {
	return m.source != nil && m.source.Generation() != m.generation
}

func (m *MutableProjectRegistry) checkWritable() error {
	if m.closed {
		return ErrClosed
	}
	if m.IsStale() {
		return ErrStale
	}
	return nil
}

func (m *MutableProjectRegistry) facade(path string) *facade.ModuleFacade {
	if f, ok := m.facades[path]; ok {
		return f
	}
	return m.base.facade(path)
}

func (m *MutableProjectRegistry) caps(path string) capability.Set {
	if c, ok := m.capabilities[path]; ok {
		return c
	}
	return m.base.caps(path)
}

func (m *MutableProjectRegistry) reqs(path string) []capability.Requirement {
	if r, ok := m.requirements[path]; ok {
		return r
	}
	return m.base.reqs(path)
}

func (m *MutableProjectRegistry) dependentsOf(key capability.VersionlessKey) sets.Set[string] {
	if s, ok := m.dependents[key]; ok {
		return s
	}
	return m.base.dependentsOf(key)
}

func (m *MutableProjectRegistry) providersOf(key capability.VersionlessKey) sets.Set[string] {
	if s, ok := m.providers[key]; ok {
		return s
	}
	return m.base.providersOf(key)
}

// writable returns the overlay copy of an index entry, cloning the base
// entry on first write.
func writable(overlay, base map[capability.VersionlessKey]sets.Set[string], key capability.VersionlessKey) sets.Set[string] {
	if s, ok := overlay[key]; ok {
		return s
	}
	s := base[key].Clone()
	overlay[key] = s
	return s
}

func (m *MutableProjectRegistry) Facade(path string) *facade.ModuleFacade { return m.facade(path) }

func (m *MutableProjectRegistry) Capabilities(path string) capability.Set { return m.caps(path).Clone() }

func (m *MutableProjectRegistry) Requirements(path string) []capability.Requirement {
	return slices.Clone(m.reqs(path))
}

func (m *MutableProjectRegistry) Dependents(c capability.Capability, includeRelated bool) []string {
	return dependents(m, c, includeRelated)
}

func (m *MutableProjectRegistry) WorkspaceModules(key capability.VersionlessKey) []resolver.WorkspaceModule {
	return workspaceModules(m, key)
}

// SetFacade stores f for path. A nil facade records a descriptor that
// could not be parsed.
func (m *MutableProjectRegistry) SetFacade(path string, f *facade.ModuleFacade) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.facades[path] = f
	m.touched.Insert(path)
	return nil
}

// SetCapabilities replaces the capabilities path provides and returns the
// previous set.
func (m *MutableProjectRegistry) SetCapabilities(path string, caps capability.Set) (capability.Set, error) {
	if err := m.checkWritable(); err != nil {
		return nil, err
	}
	old := m.caps(path)
	for c := range old {
		writable(m.providers, m.base.providers, c.VersionlessKey()).Delete(path)
	}
	var next capability.Set
	if caps.Len() > 0 {
		next = caps.Clone()
		for c := range next {
			writable(m.providers, m.base.providers, c.VersionlessKey()).Insert(path)
		}
	}
	m.capabilities[path] = next
	m.touched.Insert(path)
	return old.Clone(), nil
}

// SetRequirements replaces the requirements of path and returns the
// previous list. The dependents index is updated in the same step.
func (m *MutableProjectRegistry) SetRequirements(path string, reqs []capability.Requirement) ([]capability.Requirement, error) {
	if err := m.checkWritable(); err != nil {
		return nil, err
	}
	old := m.reqs(path)
	for _, r := range old {
		writable(m.dependents, m.base.dependents, r.Target).Delete(path)
	}
	var next []capability.Requirement
	if len(reqs) > 0 {
		next = slices.Clone(reqs)
		for _, r := range next {
			writable(m.dependents, m.base.dependents, r.Target).Insert(path)
		}
	}
	m.requirements[path] = next
	m.touched.Insert(path)
	return slices.Clone(old), nil
}

// RemoveProject drops the facade and every forward and reverse entry of path.
func (m *MutableProjectRegistry) RemoveProject(path string) error {
	if _, err := m.SetCapabilities(path, nil); err != nil {
		return err
	}
	if _, err := m.SetRequirements(path, nil); err != nil {
		return err
	}
	return m.SetFacade(path, nil)
}

// Touched returns the descriptors written in this pass.
func (m *MutableProjectRegistry) Touched() []string {
	return sets.List(m.touched)
}

// AddCloser registers a resource released by Close.
func (m *MutableProjectRegistry) AddCloser(c io.Closer) {
	m.closers = append(m.closers, c)
}

// Close releases the resources opened for the pass. It is safe to call
// more than once; only the first call closes anything.
func (m *MutableProjectRegistry) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

// Freeze produces the snapshot that results from applying the overlay to
// the base. The view stays usable and the base is not modified.
func (m *MutableProjectRegistry) Freeze() *ProjectRegistry {
	next := &ProjectRegistry{
		facades:      maps.Clone(m.base.facades),
		capabilities: maps.Clone(m.base.capabilities),
		requirements: maps.Clone(m.base.requirements),
		dependents:   maps.Clone(m.base.dependents),
		providers:    maps.Clone(m.base.providers),
	}
	for path, f := range m.facades {
		if f == nil {
			delete(next.facades, path)
			continue
		}
		next.facades[path] = f
	}
	for path, c := range m.capabilities {
		if c.Len() == 0 {
			delete(next.capabilities, path)
			continue
		}
		next.capabilities[path] = c.Clone()
	}
	for path, r := range m.requirements {
		if len(r) == 0 {
			delete(next.requirements, path)
			continue
		}
		next.requirements[path] = slices.Clone(r)
	}
	overlayIndex(next.dependents, m.dependents)
	overlayIndex(next.providers, m.providers)
	return next
}

func overlayIndex(dst, overlay map[capability.VersionlessKey]sets.Set[string]) {
	for key, s := range overlay {
		if s.Len() == 0 {
			delete(dst, key)
			continue
		}
		dst[key] = s.Clone()
	}
}
