package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/registry"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// countingEmbedder counts Parse calls per descriptor and can block them.
type countingEmbedder struct {
	resolver.Embedder

	mu      sync.Mutex
	parses  map[string]int
	onParse func(path string)
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{Embedder: resolver.NewDefault(nil), parses: map[string]int{}}
}

func (e *countingEmbedder) Parse(ctx context.Context, path string) (*workspacev1alpha1.Module, error) {
	e.mu.Lock()
	e.parses[path]++
	hook := e.onParse
	e.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	return e.Embedder.Parse(ctx, path)
}

func (e *countingEmbedder) count(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parses[path]
}

func (e *countingEmbedder) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.parses {
		n += c
	}
	return n
}

func (e *countingEmbedder) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parses = map[string]int{}
}

type eventLog struct {
	mu      sync.Mutex
	batches [][]ChangeEvent
}

func (l *eventLog) ModulesChanged(_ context.Context, events []ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, events)
}

func (l *eventLog) take() []ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ChangeEvent
	for _, b := range l.batches {
		out = append(out, b...)
	}
	l.batches = nil
	return out
}

type workspace struct {
	t    *testing.T
	root string
}

func newWorkspace(t *testing.T) *workspace {
	return &workspace{t: t, root: t.TempDir()}
}

func (w *workspace) path(dir string) string {
	return filepath.Join(w.root, dir, "module.yaml")
}

func (w *workspace) write(dir, body string) string {
	w.t.Helper()
	path := w.path(dir)
	require.NoError(w.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(w.t, os.WriteFile(path, []byte(body), 0o644))
	// Push the mtime forward so rewrites within one clock tick still register.
	w.bump(path)
	return path
}

func (w *workspace) bump(path string) {
	w.t.Helper()
	at := time.Now()
	if fi, err := os.Stat(path); err == nil && !fi.ModTime().Before(at) {
		at = fi.ModTime()
	}
	at = at.Add(time.Second)
	require.NoError(w.t, os.Chtimes(path, at, at))
}

// module renders a descriptor. parent is "name:version" or empty, deps are
// "name" or "name@constraint", all in group g.
func module(name, version, parent string, deps ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "apiVersion: workspace.bindery.dev/v1alpha1\nkind: Module\nspec:\n  identity: {group: g, name: %s, version: %q}\n", name, version)
	if parent != "" {
		pname, pversion, _ := strings.Cut(parent, ":")
		fmt.Fprintf(&b, "  parent: {group: g, name: %s, version: %q}\n", pname, pversion)
	}
	if len(deps) > 0 {
		b.WriteString("  dependencies:\n")
		for _, d := range deps {
			dname, constraint, _ := strings.Cut(d, "@")
			fmt.Fprintf(&b, "  - {group: g, name: %s, version: %q}\n", dname, constraint)
		}
	}
	return b.String()
}

type fakeStore struct {
	mu      sync.Mutex
	saved   *registry.ProjectRegistry
	saves   int
	saveErr error
	load    *registry.ProjectRegistry
}

func (s *fakeStore) Save(_ context.Context, r *registry.ProjectRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = r
	return nil
}

func (s *fakeStore) Load(context.Context) (*registry.ProjectRegistry, error) {
	return s.load, nil
}

type harness struct {
	m        *Manager
	embedder *countingEmbedder
	events   *eventLog
	ws       *workspace
	ctx      context.Context
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	logger := testr.New(t)
	h := &harness{
		embedder: newCountingEmbedder(),
		events:   &eventLog{},
		ws:       newWorkspace(t),
	}
	opts := Options{Embedder: h.embedder, Logger: logger}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	m.AddListener(h.events)
	h.m = m
	h.ctx = context.Background()
	return h
}

func (h *harness) refresh(t *testing.T, force bool, paths ...string) {
	t.Helper()
	require.NoError(t, h.m.Refresh(h.ctx, NewUpdateRequest(force, paths...)))
	h.m.events.waitIdle()
}

// assertNoDangling checks that every resolved requirement in the snapshot
// is backed by a module that still provides a matching capability.
func assertNoDangling(t *testing.T, snap *registry.ProjectRegistry) {
	t.Helper()
	for _, path := range snap.Descriptors() {
		for _, req := range snap.Requirements(path) {
			if !req.Resolved {
				continue
			}
			found := false
			for _, wm := range snap.WorkspaceModules(req.Target) {
				c := capability.Capability{Kind: req.Target.Kind, Identity: wm.Identity}
				if req.Matches(c, false) {
					found = true
				}
			}
			require.True(t, found, "%s: dangling requirement %s", path, req)
		}
	}
}
