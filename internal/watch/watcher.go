package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"lukechampine.com/blake3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/manager"
)

// DefaultDebounce is how long the watcher waits for the filesystem to go
// quiet before handing a batch to the sink.
const DefaultDebounce = 200 * time.Millisecond

// Sink receives the requests of each settled batch. *manager.RefreshJob
// satisfies it.
type Sink interface {
	Schedule(reqs ...manager.UpdateRequest)
}

type digest [32]byte

// Watcher tracks descriptors and their metadata files. A write that leaves
// the content unchanged produces no change.
type Watcher struct {
	root          string
	matcher       *Matcher
	metadataFiles []string
	sink          Sink
	debounce      time.Duration
	logger        logr.Logger

	fsw *fsnotify.Watcher

	mu          sync.Mutex
	descriptors map[string]digest
	metadata    map[string]digest
	pending     []manager.Change
	seen        map[manager.Change]bool
	lastEvent   time.Time
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func New(root string, m *Matcher, metadataFiles []string, sink Sink) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:          abs,
		matcher:       m,
		metadataFiles: metadataFiles,
		sink:          sink,
		debounce:      DefaultDebounce,
		logger:        log.Log.WithName("watch"),
		descriptors:   map[string]digest{},
		metadata:      map[string]digest{},
		seen:          map[manager.Change]bool{},
	}, nil
}

// SetDebounce must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Descriptors returns the descriptors known to the watcher, sorted.
func (w *Watcher) Descriptors() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.descriptors))
	for p := range w.descriptors {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Start scans the workspace, installs directory watches and begins
// delivering batches. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	if err := w.addTree(w.root, false); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		fsw.Close()
		return err
	}
	w.logger.Info("watching workspace", "root", w.root, "descriptors", len(w.Descriptors()))

	go w.run(ctx)
	return nil
}

// Stop ends delivery and releases the watches. Changes still waiting for
// the debounce window are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh, fsw := w.stopCh, w.doneCh, w.fsw
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	if err := fsw.Close(); err != nil {
		w.logger.Error(err, "closing watcher")
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := max(w.debounce/4, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "watch error")
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// addTree watches dir and everything below it that is not excluded, and
// records the descriptors found. With announce, descriptors are reported as
// added.
func (w *Watcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel := w.rel(path)
		if d.IsDir() {
			if rel != "." && w.matcher.Excluded(rel) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Error(err, "adding watch", "dir", path)
			}
			return nil
		}
		if w.matcher.Match(rel) {
			w.observe(path, announce)
		} else if w.isMetadata(path) {
			w.observeMetadata(path, announce)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path, true); err != nil {
				w.logger.Error(err, "watching new directory", "dir", path)
			}
			return
		}
		fallthrough
	case ev.Has(fsnotify.Write):
		if w.matcher.Match(w.rel(path)) {
			w.observe(path, true)
		} else if w.isMetadata(path) {
			w.observeMetadata(path, true)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.forget(path)
	}
}

// observe updates the digest of a descriptor and records what changed.
func (w *Watcher) observe(path string, announce bool) {
	sum, ok := digestOf(path)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	old, known := w.descriptors[path]
	w.descriptors[path] = sum
	if !announce {
		return
	}
	switch {
	case !known:
		w.record(path, manager.ChangeAdded)
	case old != sum:
		w.record(path, manager.ChangeContentChanged)
	}
}

// observeMetadata reports a metadata change against the owning descriptor.
// Metadata of directories without a known descriptor is tracked silently.
func (w *Watcher) observeMetadata(path string, announce bool) {
	sum, ok := digestOf(path)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	old, known := w.metadata[path]
	w.metadata[path] = sum
	if !announce || (known && old == sum) {
		return
	}
	if owner := w.owner(path); owner != "" {
		w.record(owner, manager.ChangeMetadataChanged)
	}
}

// forget handles removal of a file or directory.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	under := func(p string) bool {
		return p == path || strings.HasPrefix(p, path+string(filepath.Separator))
	}
	// Metadata first, while the owners are still known.
	for p := range w.metadata {
		if under(p) {
			delete(w.metadata, p)
			if owner := w.owner(p); owner != "" && !under(owner) {
				w.record(owner, manager.ChangeMetadataChanged)
			}
		}
	}
	for p := range w.descriptors {
		if under(p) {
			delete(w.descriptors, p)
			w.record(p, manager.ChangeRemoved)
		}
	}
}

func (w *Watcher) isMetadata(path string) bool {
	_, ok := w.metadataDir(path)
	return ok
}

// metadataDir returns the module directory a metadata file belongs to.
func (w *Watcher) metadataDir(path string) (string, bool) {
	slash := filepath.ToSlash(path)
	for _, m := range w.metadataFiles {
		if dir, ok := strings.CutSuffix(slash, "/"+m); ok && dir != "" {
			return filepath.FromSlash(dir), true
		}
	}
	return "", false
}

// owner returns the known descriptor owning a metadata file, or "". It
// must be called with mu held.
func (w *Watcher) owner(path string) string {
	dir, ok := w.metadataDir(path)
	if !ok {
		return ""
	}
	owner := ""
	for p := range w.descriptors {
		if filepath.Dir(p) == dir && (owner == "" || p < owner) {
			owner = p
		}
	}
	return owner
}

// record must be called with mu held.
func (w *Watcher) record(path string, kind manager.ChangeKind) {
	c := manager.Change{Path: path, Kind: kind}
	w.lastEvent = time.Now()
	if w.seen[c] {
		return
	}
	w.seen[c] = true
	w.pending = append(w.pending, c)
}

// flush hands the pending batch to the sink once no event arrived for the
// debounce window.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	if len(w.pending) == 0 || now.Sub(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	clear(w.seen)
	w.mu.Unlock()

	reqs := manager.RequestsFor(batch)
	w.logger.V(1).Info("workspace changed", "changes", len(batch), "requests", len(reqs))
	w.sink.Schedule(reqs...)
}

func digestOf(path string) (digest, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return digest{}, false
	}
	return blake3.Sum256(data), true
}
