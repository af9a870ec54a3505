// Package manager keeps the authoritative workspace snapshot up to date.
// Refresh passes run on a MutableProjectRegistry and are published by
// swapping an immutable snapshot under the workspace lock.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/facade"
	"github.com/bayleafwalker/bindery-workspace/internal/lifecycle"
	"github.com/bayleafwalker/bindery-workspace/internal/markers"
	"github.com/bayleafwalker/bindery-workspace/internal/registry"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// ErrUnknownModule is returned for descriptors absent from the snapshot.
var ErrUnknownModule = errors.New("module not in workspace")

// SnapshotStore persists published snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, r *registry.ProjectRegistry) error
	// Load returns nil when no usable snapshot exists.
	Load(ctx context.Context) (*registry.ProjectRegistry, error)
}

type Options struct {
	Embedder  resolver.Embedder
	Markers   *markers.Manager
	Lifecycle *lifecycle.Registry
	// Store is optional.
	Store SnapshotStore
	// MetadataFiles are tracked per module, relative to its directory.
	// Nil means facade.DefaultMetadataFiles.
	MetadataFiles []string
	Logger        logr.Logger
}

type published struct {
	registry   *registry.ProjectRegistry
	generation uint64
}

// Manager owns the authoritative ProjectRegistry and its generation.
type Manager struct {
	embedder      resolver.Embedder
	markers       *markers.Manager
	lifecycle     *lifecycle.Registry
	store         SnapshotStore
	metadataFiles []string
	logger        logr.Logger

	// mu is the workspace lock. It serialises publishing and is held for
	// the whole of a synchronous refresh.
	mu      sync.Mutex
	current atomic.Pointer[published]
	events  *dispatcher
}

func New(opts Options) (*Manager, error) {
	if opts.Embedder == nil {
		return nil, errors.New("manager: embedder is required")
	}
	if opts.Markers == nil {
		opts.Markers = markers.NewManager(nil)
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = lifecycle.NewRegistry()
	}
	if opts.MetadataFiles == nil {
		opts.MetadataFiles = facade.DefaultMetadataFiles
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = log.Log.WithName("manager")
	}

	m := &Manager{
		embedder:      opts.Embedder,
		markers:       opts.Markers,
		lifecycle:     opts.Lifecycle,
		store:         opts.Store,
		metadataFiles: opts.MetadataFiles,
		logger:        opts.Logger,
		events:        newDispatcher(opts.Logger.WithName("events")),
	}
	m.current.Store(&published{registry: registry.New()})
	return m, nil
}

// Generation is the generation of the published snapshot.
func (m *Manager) Generation() uint64 { return m.current.Load().generation }

// Snapshot returns the published snapshot.
func (m *Manager) Snapshot() *registry.ProjectRegistry { return m.current.Load().registry }

func (m *Manager) Facade(path string) *facade.ModuleFacade { return m.Snapshot().Facade(path) }

func (m *Manager) Markers() *markers.Manager { return m.markers }

// NewMutable starts a view over the published snapshot.
func (m *Manager) NewMutable() *registry.MutableProjectRegistry {
	p := m.current.Load()
	return registry.NewMutable(p.registry, p.generation, m)
}

// AddListener registers l and returns a function that removes it.
func (m *Manager) AddListener(l Listener) func() { return m.events.add(l) }

// Refresh runs a pass for reqs and publishes the result, holding the
// workspace lock throughout. It returns registry.ErrStale or the context
// error when the pass was discarded.
func (m *Manager) Refresh(ctx context.Context, reqs ...UpdateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runPass(ctx, "sync", reqs, true)
}

// refreshDetached runs the pass without the lock and takes it only to
// publish. Used by the RefreshJob.
func (m *Manager) refreshDetached(ctx context.Context, reqs []UpdateRequest) error {
	return m.runPass(ctx, "async", reqs, false)
}

func (m *Manager) runPass(ctx context.Context, mode string, reqs []UpdateRequest, locked bool) (err error) {
	start := time.Now()
	refreshTotal.WithLabelValues(mode).Inc()
	defer func() {
		refreshDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			refreshErrorTotal.WithLabelValues(errorReason(err)).Inc()
		}
	}()

	mutable := m.NewMutable()
	defer func() {
		if cerr := mutable.Close(); cerr != nil {
			log.FromContext(ctx).Error(cerr, "failed to release refresh resources")
		}
	}()

	batch, err := m.refresh(ctx, mutable, reqs)
	if err != nil {
		return err
	}
	if !locked {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return m.applyLocked(ctx, mutable, batch)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, registry.ErrStale):
		return "stale"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}

// applyLocked publishes mutable together with the marker updates of the
// pass that built it. The caller holds m.mu.
func (m *Manager) applyLocked(ctx context.Context, mutable *registry.MutableProjectRegistry, batch *markers.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mutable.IsStale() {
		return registry.ErrStale
	}
	logger := log.FromContext(ctx)

	old := m.current.Load()
	next := mutable.Freeze()
	generation := old.generation + 1
	events := changeEvents(old.registry, next, mutable.Touched(), generation)

	m.current.Store(&published{registry: next, generation: generation})
	m.markers.Apply(batch)
	modulesGauge.Set(float64(next.Len()))
	logger.V(1).Info("published snapshot", "generation", generation, "modules", next.Len(), "events", len(events))

	if m.store != nil {
		if err := m.store.Save(ctx, next); err != nil {
			persistErrorTotal.Inc()
			logger.Error(err, "failed to persist snapshot", "generation", generation)
		}
	}
	if len(events) > 0 {
		m.events.enqueue(events)
	}
	return nil
}

// Load restores the persisted snapshot, if any, and publishes it without
// events.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	restored, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if restored == nil {
		return nil
	}
	old := m.current.Load()
	m.current.Store(&published{registry: restored, generation: old.generation + 1})
	modulesGauge.Set(float64(restored.Len()))
	log.FromContext(ctx).Info("restored snapshot", "modules", restored.Len())
	return nil
}

// Resolution returns the resolution of a published module, resolving it
// against the current snapshot when the facade carries none.
func (m *Manager) Resolution(ctx context.Context, path string) (*resolver.Resolution, error) {
	f := m.Facade(path)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, path)
	}
	return f.Resolution(ctx, m.loadResolution)
}

func (m *Manager) loadResolution(ctx context.Context, f *facade.ModuleFacade) (*resolver.Resolution, error) {
	session, err := m.embedder.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.Resolve(ctx, f.Descriptor(), f.Model(), m.Snapshot())
}

// Close stops event delivery after flushing queued events.
func (m *Manager) Close() error {
	m.events.close()
	return nil
}
