package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/semver"
)

// DefaultResolver is the embedder wired into the manager. It reads YAML
// descriptors and resolves dependencies against the workspace first and an
// optional Repository second.
type DefaultResolver struct {
	repo Repository
}

var _ Embedder = (*DefaultResolver)(nil)

// NewDefault returns a DefaultResolver. repo may be nil.
func NewDefault(repo Repository) *DefaultResolver {
	return &DefaultResolver{repo: repo}
}

func (r *DefaultResolver) Parse(ctx context.Context, path string) (*workspacev1alpha1.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := readDescriptor(path)
	if err != nil {
		return nil, err
	}

	var m workspacev1alpha1.Module
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, &DescriptorError{Path: path, Reason: "decode", Err: err}
	}
	if m.APIVersion != "" && m.APIVersion != workspacev1alpha1.GroupVersion.String() {
		return nil, &DescriptorError{Path: path, Reason: fmt.Sprintf("unsupported apiVersion %q", m.APIVersion)}
	}
	if m.Kind != "" && m.Kind != workspacev1alpha1.ModuleKind {
		return nil, &DescriptorError{Path: path, Reason: fmt.Sprintf("unsupported kind %q", m.Kind)}
	}
	if strings.TrimSpace(m.Spec.Identity.Name) == "" {
		return nil, &DescriptorError{Path: path, Reason: "spec.identity.name is required"}
	}
	return &m, nil
}

func (r *DefaultResolver) ReadParent(ctx context.Context, path string) (*capability.ModuleIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := readDescriptor(path)
	if err != nil {
		return nil, err
	}

	var partial struct {
		Spec struct {
			Parent *workspacev1alpha1.ParentRef `json:"parent"`
		} `json:"spec"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return nil, &DescriptorError{Path: path, Reason: "decode parent", Err: err}
	}
	p := partial.Spec.Parent
	if p == nil || p.Name == "" {
		return nil, nil
	}
	return &capability.ModuleIdentity{Group: p.Group, Name: p.Name, Version: p.Version}, nil
}

func (r *DefaultResolver) OpenSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{repo: r.repo, cache: map[string]lookupResult{}}, nil
}

func readDescriptor(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &DescriptorError{Path: path, Reason: "read", Err: ErrDescriptorNotFound}
	}
	if err != nil {
		return nil, &DescriptorError{Path: path, Reason: "read", Err: err}
	}
	return data, nil
}

type lookupResult struct {
	artifact Artifact
	ok       bool
	err      error
}

type session struct {
	repo Repository

	mu     sync.Mutex
	cache  map[string]lookupResult
	closed bool
}

func (s *session) Resolve(ctx context.Context, path string, model *workspacev1alpha1.Module, view WorkspaceView) (*Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	id := capability.FromAPI(model.EffectiveIdentity())
	if id.Name == "" {
		return nil, &DescriptorError{Path: path, Reason: "module has no name"}
	}

	res := &Resolution{
		Identity:     id,
		Capabilities: []capability.Capability{capability.Identity(id), capability.ParentIdentity(id)},
	}

	// Parent first, then dependencies in declaration order.
	if p := model.Spec.Parent; p != nil {
		req := capability.Requirement{
			Target:  capability.VersionlessKey{Kind: capability.KindParent, Group: p.Group, Name: p.Name},
			Version: constraintOrAny(p.Version),
		}
		s.resolve(ctx, path, req, view, res)
	}
	for _, d := range model.Spec.Dependencies {
		scope := d.Scope
		if scope == "" {
			scope = workspacev1alpha1.ScopeCompile
		}
		req := capability.Requirement{
			Target:   capability.VersionlessKey{Kind: capability.KindIdentity, Group: d.Group, Name: d.Name},
			Version:  constraintOrAny(d.Version),
			Scope:    string(scope),
			Optional: d.Optional,
		}
		s.resolve(ctx, path, req, view, res)
	}
	return res, nil
}

func (s *session) resolve(ctx context.Context, path string, req capability.Requirement, view WorkspaceView, res *Resolution) {
	if m, ok := selectWorkspaceModule(path, req, view); ok {
		req.Resolved, req.Source, req.Provider = true, string(SourceWorkspace), m.Identity
		res.Requirements = append(res.Requirements, req)
		res.Dependencies = append(res.Dependencies, ResolvedDependency{
			Requirement: req,
			Source:      SourceWorkspace,
			Identity:    m.Identity,
			Descriptor:  m.Descriptor,
		})
		return
	}

	reason := "no workspace module satisfies the constraint"
	if req.Target.Kind == capability.KindIdentity && s.repo != nil {
		hit := s.lookup(ctx, req)
		switch {
		case hit.err != nil:
			reason = hit.err.Error()
		case hit.ok:
			req.Resolved, req.Source, req.Provider = true, string(SourceRepository), hit.artifact.Identity
			res.Requirements = append(res.Requirements, req)
			res.Dependencies = append(res.Dependencies, ResolvedDependency{
				Requirement: req,
				Source:      SourceRepository,
				Identity:    hit.artifact.Identity,
				Location:    hit.artifact.Location,
			})
			return
		default:
			reason = "no workspace module or repository artifact satisfies the constraint"
		}
	}

	res.Requirements = append(res.Requirements, req)
	res.Dependencies = append(res.Dependencies, ResolvedDependency{Requirement: req, Source: SourceUnresolved})
	addUnresolved(&res.Diagnostics, req, reason)
}

func (s *session) lookup(ctx context.Context, req capability.Requirement) lookupResult {
	key := req.Target.Group + ":" + req.Target.Name + "@" + req.Version
	s.mu.Lock()
	defer s.mu.Unlock()
	if hit, ok := s.cache[key]; ok {
		return hit
	}
	artifact, ok, err := s.repo.Lookup(ctx, req.Target.Group, req.Target.Name, req.Version)
	hit := lookupResult{artifact: artifact, ok: ok, err: err}
	if ctx.Err() == nil {
		s.cache[key] = hit
	}
	return hit
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cache = nil
	return nil
}

func constraintOrAny(raw string) string {
	raw = strings.TrimSpace(raw)
	if semver.IsAny(raw) {
		return semver.Any
	}
	return raw
}

// selectWorkspaceModule picks the highest satisfying workspace module,
// ignoring the module being resolved.
func selectWorkspaceModule(path string, req capability.Requirement, view WorkspaceView) (WorkspaceModule, bool) {
	if view == nil {
		return WorkspaceModule{}, false
	}
	candidates := make([]WorkspaceModule, 0)
	for _, m := range view.WorkspaceModules(req.Target) {
		if m.Descriptor == path {
			continue
		}
		if !semver.Check(m.Identity.Version, req.Version) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return WorkspaceModule{}, false
	}
	return selectProvidersDeterministic(candidates)[0], true
}

func selectProvidersDeterministic(candidates []WorkspaceModule) []WorkspaceModule {
	// Deterministic ordering:
	// 1) Higher version wins
	// 2) Tie-break: descriptor path (ascending)
	sort.Slice(candidates, func(i, j int) bool {
		cmp := semver.CompareRaw(candidates[i].Identity.Version, candidates[j].Identity.Version)
		if cmp != 0 {
			return cmp > 0
		}
		return candidates[i].Descriptor < candidates[j].Descriptor
	})
	return candidates
}

func addUnresolved(diag *Diagnostics, req capability.Requirement, reason string) {
	unresolved := UnresolvedRequirement{
		Target:  req.Target,
		Version: req.Version,
		Reason:  reason,
	}
	if req.Optional {
		diag.UnresolvedOptional = append(diag.UnresolvedOptional, unresolved)
		return
	}
	diag.UnresolvedRequired = append(diag.UnresolvedRequired, unresolved)
}
