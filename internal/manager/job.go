package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/registry"
)

// DefaultCoalesceDelay is how long the job waits for more requests before
// running a pass.
const DefaultCoalesceDelay = 500 * time.Millisecond

// jobKey is the only item ever put on the queue; the delaying queue folds
// repeated AddAfter calls for it into one wake-up.
const jobKey = "refresh"

// RefreshJob runs refresh passes in the background. Requests scheduled
// within one coalescing window are handled by a single pass; a pass that
// loses the publish race is retried with the same requests.
type RefreshJob struct {
	manager *Manager
	delay   time.Duration
	queue   workqueue.TypedDelayingInterface[string]

	mu      sync.Mutex
	pending []UpdateRequest
}

func NewRefreshJob(m *Manager, delay time.Duration) *RefreshJob {
	if delay <= 0 {
		delay = DefaultCoalesceDelay
	}
	return &RefreshJob{
		manager: m,
		delay:   delay,
		queue:   workqueue.NewTypedDelayingQueueWithConfig(workqueue.TypedDelayingQueueConfig[string]{Name: "refresh"}),
	}
}

// Schedule queues reqs for the next pass. It is safe to call from any
// goroutine, before or after Start.
func (j *RefreshJob) Schedule(reqs ...UpdateRequest) {
	if len(reqs) == 0 {
		return
	}
	j.mu.Lock()
	j.pending = append(j.pending, reqs...)
	pendingRequests.Set(float64(len(j.pending)))
	j.mu.Unlock()
	j.queue.AddAfter(jobKey, j.delay)
}

// Pending returns the number of requests waiting for a pass.
func (j *RefreshJob) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Start runs the worker until ctx is cancelled. Requests still pending at
// that point are dropped.
func (j *RefreshJob) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("refresh-job")
	ctx = log.IntoContext(ctx, logger)
	logger.Info("starting refresh job", "delay", j.delay)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait.UntilWithContext(ctx, j.worker, time.Second)
	}()

	<-ctx.Done()
	j.queue.ShutDown()
	<-done
	logger.Info("stopped refresh job", "dropped", j.Pending())
	return nil
}

func (j *RefreshJob) worker(ctx context.Context) {
	for j.processNext(ctx) {
	}
}

func (j *RefreshJob) processNext(ctx context.Context) bool {
	key, shutdown := j.queue.Get()
	if shutdown {
		return false
	}
	defer j.queue.Done(key)
	j.runOnce(ctx)
	return true
}

func (j *RefreshJob) runOnce(ctx context.Context) {
	logger := log.FromContext(ctx)

	j.mu.Lock()
	reqs := j.pending
	j.pending = nil
	pendingRequests.Set(0)
	j.mu.Unlock()
	if len(reqs) == 0 {
		return
	}
	coalescedRequestsTotal.Add(float64(len(reqs)))

	err := j.manager.refreshDetached(ctx, reqs)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrStale):
		logger.V(1).Info("refresh pass went stale, retrying", "requests", len(reqs))
		j.requeue(reqs)
	case ctx.Err() != nil:
		logger.V(1).Info("refresh pass cancelled", "requests", len(reqs))
	default:
		logger.Error(err, "refresh pass failed", "requests", len(reqs))
	}
}

// requeue puts reqs back ahead of anything scheduled since they were taken.
func (j *RefreshJob) requeue(reqs []UpdateRequest) {
	j.mu.Lock()
	j.pending = append(append([]UpdateRequest(nil), reqs...), j.pending...)
	pendingRequests.Set(float64(len(j.pending)))
	j.mu.Unlock()
	j.queue.AddAfter(jobKey, j.delay)
}
