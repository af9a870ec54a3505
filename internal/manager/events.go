package manager

import (
	"context"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/registry"
)

type EventKind string

const (
	EventAdded               EventKind = "Added"
	EventRemoved             EventKind = "Removed"
	EventDependenciesChanged EventKind = "DependenciesChanged"
)

// ChangeEvent describes a structural change in a published snapshot.
type ChangeEvent struct {
	Kind       EventKind                 `json:"kind"`
	Descriptor string                    `json:"descriptor"`
	Identity   capability.ModuleIdentity `json:"identity"`
	Generation uint64                    `json:"generation"`
}

// Listener receives the events of each publish, in publish order, on the
// dispatcher goroutine.
type Listener interface {
	ModulesChanged(ctx context.Context, events []ChangeEvent)
}

type ListenerFunc func(ctx context.Context, events []ChangeEvent)

func (f ListenerFunc) ModulesChanged(ctx context.Context, events []ChangeEvent) { f(ctx, events) }

// changeEvents compares two snapshots over the descriptors touched by a pass.
func changeEvents(old, next *registry.ProjectRegistry, touched []string, generation uint64) []ChangeEvent {
	var out []ChangeEvent
	for _, path := range touched {
		before, after := old.Facade(path), next.Facade(path)
		ev := ChangeEvent{Descriptor: path, Generation: generation}
		switch {
		case before == nil && after != nil:
			ev.Kind, ev.Identity = EventAdded, after.Identity()
		case before != nil && after == nil:
			ev.Kind, ev.Identity = EventRemoved, before.Identity()
		case before != nil && after != nil:
			if !capability.HasDiff(old.Requirements(path), next.Requirements(path)) &&
				old.Capabilities(path).Equal(next.Capabilities(path)) {
				continue
			}
			ev.Kind, ev.Identity = EventDependenciesChanged, after.Identity()
		default:
			continue
		}
		out = append(out, ev)
	}
	return out
}

// dispatcher delivers event batches to listeners from a single goroutine.
type dispatcher struct {
	ctx    context.Context
	logger logr.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]ChangeEvent
	listeners map[int]Listener
	nextID    int
	busy      bool
	closed    bool
	done      chan struct{}
}

func newDispatcher(logger logr.Logger) *dispatcher {
	d := &dispatcher{
		ctx:       log.IntoContext(context.Background(), logger),
		logger:    logger,
		listeners: map[int]Listener{},
		done:      make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) add(l Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

func (d *dispatcher) enqueue(events []ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, events)
	d.cond.Broadcast()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue[0]
		d.queue = d.queue[1:]
		d.busy = true
		listeners := d.snapshot()
		d.mu.Unlock()

		for _, l := range listeners {
			d.deliver(l, batch)
		}

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *dispatcher) snapshot() []Listener {
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.listeners[id])
	}
	return out
}

func (d *dispatcher) deliver(l Listener, batch []ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(nil, "listener panicked", "panic", r)
		}
	}()
	l.ModulesChanged(d.ctx, batch)
}

// waitIdle blocks until every queued batch has been delivered.
func (d *dispatcher) waitIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) > 0 || d.busy {
		d.cond.Wait()
	}
}

// close delivers what is queued and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
