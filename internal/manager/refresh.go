package manager

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/facade"
	"github.com/bayleafwalker/bindery-workspace/internal/markers"
	"github.com/bayleafwalker/bindery-workspace/internal/registry"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// pass is the state of one refresh over a mutable view.
type pass struct {
	m       *Manager
	mutable *registry.MutableProjectRegistry
	queue   *ResolutionContext
	session resolver.Session
	markers *markers.Batch
	logger  logr.Logger

	reads, resolves int
}

// refresh drains the queue built from reqs in alternating phases: phase 1
// re-reads stale or forced descriptors, phase 2 resolves them and forces
// the dependents of whatever changed. It stops at the first stale or
// cancelled check and leaves publishing to the caller. Marker updates are
// returned unapplied and only take effect when the pass is published.
func (m *Manager) refresh(ctx context.Context, mutable *registry.MutableProjectRegistry, reqs []UpdateRequest) (*markers.Batch, error) {
	p := &pass{
		m:       m,
		mutable: mutable,
		queue:   NewResolutionContext(reqs...),
		markers: markers.NewBatch(),
		logger:  log.FromContext(ctx).WithValues("generation", mutable.Generation()),
	}
	for _, r := range reqs {
		p.logger.V(1).Info("refresh requested", "request", r.ID, "paths", len(r.Paths), "force", r.Force)
	}

	for !p.queue.Empty() {
		stash, err := p.readPhase(ctx)
		if err != nil {
			return nil, err
		}
		if err := p.resolvePhase(ctx, stash); err != nil {
			return nil, err
		}
	}
	p.logger.V(1).Info("refresh pass complete", "reads", p.reads, "resolutions", p.resolves)
	return p.markers, nil
}

func (p *pass) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.mutable.IsStale() {
		return registry.ErrStale
	}
	return nil
}

// readPhase pops the whole queue and returns the descriptors that were
// re-read, in pop order.
func (p *pass) readPhase(ctx context.Context) ([]string, error) {
	var stash []string
	stashed := map[string]bool{}
	for !p.queue.Empty() {
		if err := p.check(ctx); err != nil {
			return nil, err
		}
		path, force := p.queue.Pop()

		if old := p.mutable.Facade(path); !force && old != nil && !old.IsStale() {
			continue
		}
		p.markers.Clear(path)

		model, err := p.m.embedder.Parse(ctx, path)
		p.reads++
		descriptorReadsTotal.Inc()
		if errors.Is(err, resolver.ErrDescriptorNotFound) {
			if err := p.remove(path); err != nil {
				return nil, err
			}
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var f *facade.ModuleFacade
		if err != nil {
			p.logger.Info("failed to parse descriptor", "descriptor", path, "error", err.Error())
		} else {
			f = facade.New(path, model, p.m.metadataFiles)
		}
		p.markers.DescriptorParsed(path, err)
		if err := p.mutable.SetFacade(path, f); err != nil {
			return nil, err
		}
		if !stashed[path] {
			stashed[path] = true
			stash = append(stash, path)
		}
	}
	return stash, nil
}

// remove drops a descriptor that no longer exists and forces everything
// that depended on what it provided.
func (p *pass) remove(path string) error {
	oldCaps, err := p.mutable.SetCapabilities(path, nil)
	if err != nil {
		return err
	}
	p.forceDependents(path, oldCaps, true)
	if err := p.mutable.RemoveProject(path); err != nil {
		return err
	}
	p.markers.Clear(path)
	p.logger.V(1).Info("descriptor removed", "descriptor", path)
	return nil
}

func (p *pass) resolvePhase(ctx context.Context, stash []string) error {
	for _, path := range stash {
		if err := p.check(ctx); err != nil {
			return err
		}
		newCaps, newReqs, err := p.resolve(ctx, path)
		if err != nil {
			return err
		}

		oldCaps, err := p.mutable.SetCapabilities(path, newCaps)
		if err != nil {
			return err
		}
		p.forceDependents(path, capability.Diff(oldCaps, newCaps), true)

		oldReqs, err := p.mutable.SetRequirements(path, newReqs)
		if err != nil {
			return err
		}
		// Moved requirements force the exact dependents of the previous
		// capabilities, even when those capabilities are unchanged.
		if oldCaps.Len() > 0 && capability.HasDiff(oldReqs, newReqs) {
			p.forceDependents(path, oldCaps, false)
		}
	}
	return nil
}

// resolve computes the capabilities and requirements of path. Per-module
// failures become markers; only context errors are returned.
func (p *pass) resolve(ctx context.Context, path string) (capability.Set, []capability.Requirement, error) {
	f := p.mutable.Facade(path)
	if f == nil {
		parent, err := p.m.embedder.ReadParent(ctx, path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if err != nil || parent == nil {
			return nil, nil, nil
		}
		return nil, []capability.Requirement{{
			Target:  capability.ParentIdentity(*parent).VersionlessKey(),
			Version: parent.Version,
		}}, nil
	}

	session, err := p.openSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := session.Resolve(ctx, path, f.Model(), p.mutable)
	p.resolves++
	resolutionsTotal.Inc()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}
	if err != nil {
		p.logger.Info("failed to resolve module", "descriptor", path, "error", err.Error())
		p.markers.DependenciesResolved(path, resolver.Diagnostics{}, err)
		id := f.Identity()
		return capability.NewSet(capability.Identity(id), capability.ParentIdentity(id)), nil, nil
	}
	p.markers.DependenciesResolved(path, res.Diagnostics, nil)

	strategy, participants, lcErr := p.m.lifecycle.For(f.Model())
	p.markers.LifecycleConfigured(path, strategy.ID(), lcErr)
	lc := facade.Lifecycle{Strategy: strategy.ID(), Participants: participants}
	if lcErr != nil {
		lc.Error = lcErr.Error()
	}
	if err := p.mutable.SetFacade(path, f.WithResolution(res, lc)); err != nil {
		return nil, nil, err
	}
	return capability.NewSet(res.Capabilities...), res.Requirements, nil
}

// openSession opens the embedder session on first use and ties its
// lifetime to the mutable view.
func (p *pass) openSession(ctx context.Context) (resolver.Session, error) {
	if p.session != nil {
		return p.session, nil
	}
	s, err := p.m.embedder.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	p.mutable.AddCloser(s)
	p.session = s
	return s, nil
}

func (p *pass) forceDependents(path string, caps capability.Set, includeRelated bool) {
	for _, c := range capability.Sorted(caps) {
		for _, d := range p.mutable.Dependents(c, includeRelated) {
			if d != path {
				p.queue.Force(d)
			}
		}
	}
}
