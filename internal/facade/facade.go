// Package facade holds the cached per-module state kept by the registry.
package facade

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// DefaultMetadataFiles are tracked relative to each module directory.
var DefaultMetadataFiles = []string{".bindery/settings.yaml"}

// Lifecycle records the build-participant strategy chosen at resolve time.
type Lifecycle struct {
	Strategy     string   `json:"strategy,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// ResolutionLoader computes a resolution for a facade that has none attached.
type ResolutionLoader func(ctx context.Context, f *ModuleFacade) (*resolver.Resolution, error)

// ModuleFacade is the cached state of one module. It is replaced wholesale
// on every re-read; only the resolution may be filled in lazily.
type ModuleFacade struct {
	descriptor string
	model      *workspacev1alpha1.Module
	identity   capability.ModuleIdentity
	tracked    []string
	timestamps []int64
	lifecycle  Lifecycle

	mu         sync.Mutex
	resolution *resolver.Resolution
}

// New builds a facade for a freshly parsed model and records the current
// timestamps of the tracked files. The descriptor is always tracked last.
func New(descriptor string, model *workspacev1alpha1.Module, metadataFiles []string) *ModuleFacade {
	dir := filepath.Dir(descriptor)
	tracked := make([]string, 0, len(metadataFiles)+1)
	for _, rel := range metadataFiles {
		tracked = append(tracked, filepath.Join(dir, filepath.FromSlash(rel)))
	}
	tracked = append(tracked, descriptor)

	return &ModuleFacade{
		descriptor: descriptor,
		model:      model,
		identity:   capability.FromAPI(model.EffectiveIdentity()),
		tracked:    tracked,
		timestamps: stat(tracked),
	}
}

func stat(paths []string) []int64 {
	out := make([]int64, len(paths))
	for i, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			out[i] = fi.ModTime().UnixNano()
		}
	}
	return out
}

// IsStale reports whether any tracked file changed, appeared or vanished
// since the facade was built.
func (f *ModuleFacade) IsStale() bool {
	return !slices.Equal(f.timestamps, stat(f.tracked))
}

func (f *ModuleFacade) Descriptor() string { return f.descriptor }

// Dir is the module directory.
func (f *ModuleFacade) Dir() string { return filepath.Dir(f.descriptor) }

// Model returns the parsed descriptor. Callers must not modify it.
func (f *ModuleFacade) Model() *workspacev1alpha1.Module { return f.model }

func (f *ModuleFacade) Identity() capability.ModuleIdentity { return f.identity }

func (f *ModuleFacade) Packaging() string { return f.model.EffectivePackaging() }

func (f *ModuleFacade) Lifecycle() Lifecycle { return f.lifecycle }

func (f *ModuleFacade) TrackedFiles() []string { return slices.Clone(f.tracked) }

func (f *ModuleFacade) Timestamps() []int64 { return slices.Clone(f.timestamps) }

// Modules returns the declared sub-module directories.
func (f *ModuleFacade) Modules() []string {
	out := make([]string, 0, len(f.model.Spec.Modules))
	for _, m := range f.model.Spec.Modules {
		out = append(out, filepath.Join(f.Dir(), filepath.FromSlash(m)))
	}
	return out
}

// Resources returns resource mappings with directories made absolute.
func (f *ModuleFacade) Resources() []workspacev1alpha1.ResourceMapping {
	out := make([]workspacev1alpha1.ResourceMapping, len(f.model.Spec.Resources))
	for i := range f.model.Spec.Resources {
		f.model.Spec.Resources[i].DeepCopyInto(&out[i])
		out[i].Directory = f.abs(out[i].Directory)
	}
	return out
}

// Output returns output directories made absolute.
func (f *ModuleFacade) Output() workspacev1alpha1.OutputDirectories {
	out := f.model.Spec.Output
	out.Directory = f.abs(out.Directory)
	out.TestDirectory = f.abs(out.TestDirectory)
	return out
}

func (f *ModuleFacade) abs(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(f.Dir(), filepath.FromSlash(rel))
}

// WithResolution returns a copy of f carrying res and lc.
func (f *ModuleFacade) WithResolution(res *resolver.Resolution, lc Lifecycle) *ModuleFacade {
	out := &ModuleFacade{
		descriptor: f.descriptor,
		model:      f.model,
		identity:   f.identity,
		tracked:    f.tracked,
		timestamps: f.timestamps,
		lifecycle:  lc,
		resolution: res,
	}
	if res != nil && !res.Identity.IsZero() {
		out.identity = res.Identity
	}
	return out
}

// CachedResolution returns the attached resolution without loading one.
func (f *ModuleFacade) CachedResolution() *resolver.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolution
}

// Resolution returns the attached resolution, computing it with load on
// first use. Failed loads are not cached.
func (f *ModuleFacade) Resolution(ctx context.Context, load ResolutionLoader) (*resolver.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolution != nil {
		return f.resolution, nil
	}
	res, err := load(ctx, f)
	if err != nil {
		return nil, err
	}
	f.resolution = res
	return res, nil
}
