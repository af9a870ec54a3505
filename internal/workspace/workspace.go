// Package workspace assembles a manager, its persistence and its watcher
// from a configuration.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/bindery-workspace/internal/config"
	"github.com/bayleafwalker/bindery-workspace/internal/manager"
	"github.com/bayleafwalker/bindery-workspace/internal/markers"
	"github.com/bayleafwalker/bindery-workspace/internal/persist"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
	"github.com/bayleafwalker/bindery-workspace/internal/watch"
)

type Workspace struct {
	Config  *config.Config
	Manager *manager.Manager
	Job     *manager.RefreshJob

	matcher *watch.Matcher
	logger  logr.Logger
	closers []func() error
}

// Open builds the workspace and restores the persisted snapshot when one
// is configured. Nothing is scanned until Sync or Watch.
func Open(ctx context.Context, cfg *config.Config, logger logr.Logger) (*Workspace, error) {
	matcher, err := watch.NewMatcher(cfg.Descriptors, cfg.Exclude)
	if err != nil {
		return nil, err
	}
	w := &Workspace{Config: cfg, matcher: matcher, logger: logger}

	recorder, stopRecorder, err := markers.NewRecorder(logger.WithName("markers"))
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, func() error { stopRecorder(); return nil })

	opts := manager.Options{
		Embedder:      resolver.NewDefault(resolver.DirRepository{Root: cfg.Resolve(cfg.Repository)}),
		Markers:       markers.NewManager(recorder),
		Lifecycle:     cfg.LifecycleRegistry(),
		MetadataFiles: cfg.MetadataFiles,
		Logger:        logger.WithName("manager"),
	}
	if cfg.Snapshot != "" {
		store, err := persist.Open(cfg.Resolve(cfg.Snapshot))
		if err != nil {
			w.Close()
			return nil, err
		}
		w.closers = append(w.closers, store.Close)
		opts.Store = store
	}

	m, err := manager.New(opts)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.Manager = m
	w.closers = append(w.closers, m.Close)
	w.Job = manager.NewRefreshJob(m, cfg.CoalesceDelay)

	if err := m.Load(ctx); err != nil {
		// A snapshot that cannot be read only costs a full scan.
		logger.Error(err, "ignoring persisted snapshot")
	}
	return w, nil
}

// Sync discovers descriptors and refreshes them, together with every
// descriptor of the published snapshot, in one synchronous pass.
// Descriptors that disappeared are removed.
func (w *Workspace) Sync(ctx context.Context, force bool) error {
	found, err := watch.Discover(w.Config.Root, w.matcher)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	paths := append(found, w.Manager.Snapshot().Descriptors()...)
	slices.Sort(paths)
	paths = slices.Compact(paths)
	return w.Manager.Refresh(ctx, manager.NewUpdateRequest(force, paths...))
}

// Watch starts a watcher that feeds the refresh job. The caller runs the
// job and stops the watcher.
func (w *Workspace) Watch(ctx context.Context) (*watch.Watcher, error) {
	watcher, err := watch.New(w.Config.Root, w.matcher, w.Config.MetadataFiles, w.Job)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}
	return watcher, nil
}

// Close releases everything Open acquired, in reverse order.
func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		errs = append(errs, w.closers[i]())
	}
	w.closers = nil
	return errors.Join(errs...)
}
