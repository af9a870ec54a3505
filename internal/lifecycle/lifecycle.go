// Package lifecycle maps module packaging to build-participant strategies.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
)

// ErrMissingStrategy is returned by the participants of a strategy that was
// requested by id but never registered.
var ErrMissingStrategy = errors.New("lifecycle strategy not registered")

// Strategy decides which build participants act on a resolved module.
type Strategy interface {
	ID() string
	Participants(module *workspacev1alpha1.Module) ([]string, error)
}

// NoopID identifies the fallback strategy.
const NoopID = "noop"

// Noop is used when nothing is registered for a packaging type.
type Noop struct{}

func (Noop) ID() string { return NoopID }

func (Noop) Participants(*workspacev1alpha1.Module) ([]string, error) { return nil, nil }

// Missing stands in for an explicitly requested strategy that is unknown.
type Missing struct {
	Requested string
}

func (m Missing) ID() string { return m.Requested }

func (m Missing) Participants(*workspacev1alpha1.Module) ([]string, error) {
	return nil, fmt.Errorf("%w: %q", ErrMissingStrategy, m.Requested)
}

// Mapping binds a fixed participant list.
type Mapping struct {
	Name  string
	Steps []string
}

func (m Mapping) ID() string { return m.Name }

func (m Mapping) Participants(*workspacev1alpha1.Module) ([]string, error) {
	return slices.Clone(m.Steps), nil
}

// Registry holds strategies by packaging and by id.
type Registry struct {
	mu          sync.RWMutex
	byPackaging map[string]Strategy
	byID        map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{
		byPackaging: map[string]Strategy{},
		byID:        map[string]Strategy{},
	}
}

// Register makes s the default for packaging and addressable by its id.
func (r *Registry) Register(packaging string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPackaging[packaging] = s
	r.byID[s.ID()] = s
}

// RegisterID makes s addressable by id only.
func (r *Registry) RegisterID(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

// Lookup returns the strategy for a module. An explicit id that is not
// registered yields Missing, never Noop.
func (r *Registry) Lookup(packaging, id string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id != "" {
		if id == NoopID {
			return Noop{}
		}
		if s, ok := r.byID[id]; ok {
			return s
		}
		return Missing{Requested: id}
	}
	if s, ok := r.byPackaging[packaging]; ok {
		return s
	}
	return Noop{}
}

// For looks up the strategy for module and returns its participants.
func (r *Registry) For(module *workspacev1alpha1.Module) (Strategy, []string, error) {
	s := r.Lookup(module.EffectivePackaging(), module.Spec.Lifecycle)
	participants, err := s.Participants(module)
	return s, participants, err
}
