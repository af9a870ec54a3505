package facade

import (
	"slices"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
)

// State is the persisted form of a facade. The resolution is not persisted;
// restored facades load it lazily.
type State struct {
	Descriptor string                    `json:"descriptor"`
	Model      *workspacev1alpha1.Module `json:"model"`
	Identity   capability.ModuleIdentity `json:"identity"`
	Tracked    []string                  `json:"tracked"`
	Timestamps []int64                   `json:"timestamps"`
	Lifecycle  Lifecycle                 `json:"lifecycle"`
}

func (f *ModuleFacade) State() State {
	return State{
		Descriptor: f.descriptor,
		Model:      f.model.DeepCopy(),
		Identity:   f.identity,
		Tracked:    slices.Clone(f.tracked),
		Timestamps: slices.Clone(f.timestamps),
		Lifecycle:  f.lifecycle,
	}
}

// FromState rebuilds a facade with the recorded timestamps, so a restored
// facade is stale exactly when its files changed while nothing was watching.
func FromState(s State) *ModuleFacade {
	model := s.Model
	if model == nil {
		model = &workspacev1alpha1.Module{}
	}
	id := s.Identity
	if id.IsZero() {
		id = capability.FromAPI(model.EffectiveIdentity())
	}
	return &ModuleFacade{
		descriptor: s.Descriptor,
		model:      model,
		identity:   id,
		tracked:    slices.Clone(s.Tracked),
		timestamps: slices.Clone(s.Timestamps),
		lifecycle:  s.Lifecycle,
	}
}
