package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// verifyNoLeaks runs goleak with the goroutines present at test start
// ignored. The workqueue notices shutdown on its next metrics tick, which
// can outlast goleak's retries.
func verifyNoLeaks(t *testing.T, current goleak.Option) {
	goleak.VerifyNone(t, current,
		goleak.IgnoreAnyFunction("k8s.io/client-go/util/workqueue.(*Typed[...]).updateUnfinishedWorkLoop"))
}

func startJob(t *testing.T, job *RefreshJob) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(log.IntoContext(context.Background(), testr.New(t)))
	done := make(chan error, 1)
	go func() { done <- job.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("refresh job did not stop")
		}
	}
}

func TestRefreshJobCoalescesRequests(t *testing.T) {
	defer verifyNoLeaks(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.m.Close()

	paths := []string{
		h.ws.write("a", module("a", "1.0.0", "")),
		h.ws.write("b", module("b", "1.0.0", "", "a")),
		h.ws.write("c", module("c", "1.0.0", "", "b")),
	}
	passes := testutil.ToFloat64(refreshTotal.WithLabelValues("async"))

	job := NewRefreshJob(h.m, 200*time.Millisecond)
	for _, p := range paths {
		job.Schedule(NewUpdateRequest(true, p))
	}
	assert.Equal(t, 3, job.Pending())
	stop := startJob(t, job)
	defer stop()

	require.Eventually(t, func() bool { return h.m.Snapshot().Len() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, passes+1, testutil.ToFloat64(refreshTotal.WithLabelValues("async")), "one pass for the whole burst")
	assert.Zero(t, job.Pending())
	assert.Equal(t, uint64(1), h.m.Generation())
}

func TestRefreshJobRetriesStalePass(t *testing.T) {
	defer verifyNoLeaks(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.m.Close()

	a := h.ws.write("a", module("a", "1.0.0", ""))
	b := h.ws.write("b", module("b", "1.0.0", ""))

	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.embedder.onParse = func(path string) {
		if path == a {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}
	stale := testutil.ToFloat64(refreshErrorTotal.WithLabelValues("stale"))

	job := NewRefreshJob(h.m, 20*time.Millisecond)
	stop := startJob(t, job)
	defer stop()
	job.Schedule(NewUpdateRequest(true, a))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job pass never started")
	}
	// Publish while the job's pass is mid-flight.
	require.NoError(t, h.m.Refresh(h.ctx, NewUpdateRequest(true, b)))
	close(release)

	require.Eventually(t, func() bool { return h.m.Facade(a) != nil }, 5*time.Second, 10*time.Millisecond)
	assert.NotNil(t, h.m.Facade(b), "synchronous publish is kept")
	assert.Equal(t, 2, h.embedder.count(a), "request replayed after the stale pass")
	assert.Equal(t, stale+1, testutil.ToFloat64(refreshErrorTotal.WithLabelValues("stale")))
	assert.Equal(t, uint64(2), h.m.Generation())
}

func TestRefreshJobStopsWithPendingRequests(t *testing.T) {
	defer verifyNoLeaks(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.m.Close()

	job := NewRefreshJob(h.m, time.Hour)
	stop := startJob(t, job)
	job.Schedule(NewUpdateRequest(false, h.ws.write("a", module("a", "1.0.0", ""))))
	stop()

	assert.Equal(t, 1, job.Pending())
	assert.Zero(t, h.m.Generation())
}
