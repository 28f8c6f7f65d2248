// Package watcher turns inbox directories into a stream of ingestion calls.
//
// Each watched root is an inbox. The first directory below a root names the silo of
// every file beneath it ("<root>/grants/call.pdf" lands in silo "grants"); files placed
// directly in a root take their silo from the sidecar or the default. A
// "<file>.meta.yaml" sidecar next to a document supplies its metadata.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/indexer"
	"github.com/hyperjump/kura/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives inbox changes. *indexer.Indexer satisfies it.
type Sink interface {
	IndexFile(ctx context.Context, path, siloType string, metadata models.Metadata, allowedExts []string) (string, error)
	RemoveFile(ctx context.Context, path string) (bool, error)
}

// Watcher watches inbox roots and forwards debounced file changes to a Sink.
type Watcher struct {
	sink       Sink
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	ctx       context.Context
	cancelRun context.CancelFunc
	pending   map[string]*time.Timer
	forced    map[string]bool
	rootPaths map[string][]string // root -> directories added to fsw
	done      chan struct{}
	started   bool
	work      sync.WaitGroup // event loop, debounced ingests and directory syncs
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a path must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. extensions filter which files are ingested
// (empty = all); sidecars are never ingested as documents.
func New(sink Sink, roots, extensions []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		ctx:        context.Background(),
		pending:    make(map[string]*time.Timer),
		forced:     make(map[string]bool),
		rootPaths:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SiloOf returns the silo named by the first directory between root and path, or ""
// when path sits directly in root.
func SiloOf(root, path string) string {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, rest, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found || rest == "" {
		return ""
	}
	return first
}

// Start creates missing roots, registers them with fsnotify and processes events until
// ctx is cancelled or Stop is called. A stopped watcher can be started again.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.ctx = runCtx
	w.cancelRun = cancel
	w.done = make(chan struct{})
	w.started = true
	w.logger.Debug("watcher starting",
		zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err == nil {
			err = w.addRootLocked(abs)
		}
		if err != nil {
			cancel()
			_ = fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
		w.roots[i] = abs
	}
	w.work.Add(1)
	done := w.done
	w.mu.Unlock()
	go w.run(runCtx, fsw, done)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done <-chan struct{}) {
	defer w.work.Done()
	for {
		select {
		case <-ctx.Done():
			w.halt()
			return
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.rootOf(path) == "" {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if indexer.IsSidecar(path) {
			w.sidecarChanged(path)
			return
		}
		if w.matchExtension(path) {
			w.schedule(path, false)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if indexer.IsSidecar(path) {
			w.sidecarChanged(path)
			return
		}
		w.cancel(path)
		if w.matchExtension(path) {
			w.remove(path)
		}
	}
}

// sidecarChanged re-ingests the document a sidecar describes. The document itself is
// unchanged on disk, so the stored copy is dropped first.
func (w *Watcher) sidecarChanged(sidecar string) {
	doc := strings.TrimSuffix(sidecar, indexer.SidecarSuffix)
	if !w.matchExtension(doc) {
		return
	}
	if _, err := os.Stat(doc); err != nil {
		return
	}
	w.schedule(doc, true)
}

// handleNewDirectory watches a directory that appeared under a root (created or moved
// in) and ingests the files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	recursive := w.recursive
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	w.logger.Debug("watcher handling new directory", zap.String("path", dir))
	if recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := fsw.Add(path); err != nil {
					w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	} else if err := fsw.Add(dir); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.syncDirectory(dir)
}

// rootOf returns the watched root containing path, or "".
func (w *Watcher) rootOf(path string) string {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if rootClean == clean || inDir(rootClean, clean) {
			return rootClean
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return !indexer.IsSidecar(path) && matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule ingests path once it has been quiet for the debounce interval. force is
// sticky until the timer fires.
func (w *Watcher) schedule(path string, force bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	if force {
		w.forced[path] = true
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if !w.started {
			w.mu.Unlock()
			return
		}
		w.work.Add(1)
		delete(w.pending, path)
		forced := w.forced[path]
		delete(w.forced, path)
		w.mu.Unlock()
		defer w.work.Done()
		w.ingest(path, forced)
	})
}

// track registers background work with Stop. It reports false once the watcher has
// stopped, in which case the work must not run.
func (w *Watcher) track() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return false
	}
	w.work.Add(1)
	return true
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	delete(w.forced, path)
}

func (w *Watcher) runContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

func (w *Watcher) ingest(path string, force bool) {
	if w.sink == nil {
		return
	}
	ctx := w.runContext()
	if ctx.Err() != nil {
		return
	}
	meta, err := indexer.ReadSidecar(path)
	if err != nil {
		w.logger.Warn("skipping file with unreadable sidecar", zap.String("path", path), zap.Error(err))
		return
	}
	if force {
		if _, err := w.sink.RemoveFile(ctx, path); err != nil {
			w.logger.Warn("failed to drop stale document", zap.String("path", path), zap.Error(err))
		}
	}
	silo := SiloOf(w.rootOf(path), path)
	id, err := w.sink.IndexFile(ctx, path, silo, meta, w.extensions)
	if err != nil {
		w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("file ingested", zap.String("path", path), zap.String("silo", silo), zap.String("id", id))
}

func (w *Watcher) remove(path string) {
	if w.sink == nil {
		return
	}
	if _, err := w.sink.RemoveFile(w.runContext(), path); err != nil {
		w.logger.Warn("failed to remove document", zap.String("path", path), zap.Error(err))
	}
}

// AddDirectory adds an inbox root and optionally ingests the files already in it.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		w.work.Add(1)
		go func() {
			defer w.work.Done()
			w.syncDirectory(abs)
		}()
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

func (w *Watcher) syncDirectory(dir string) {
	w.logger.Debug("watcher syncing directory", zap.String("dir", dir))
	ctx := w.runContext()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || d.IsDir() {
			return err
		}
		if w.matchExtension(path) {
			w.ingest(path, false)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Documents already ingested stay stored.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.rootPaths[abs] {
		_ = w.fsw.Remove(p)
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Debug("watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles ingests every matching file already present under each root.
// Call it after Start to pick up files dropped while the service was down; it does
// nothing on a stopped watcher and gives up as soon as the watcher stops.
func (w *Watcher) SyncExistingFiles() {
	if !w.track() {
		return
	}
	defer w.work.Done()
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop releases the fsnotify watcher, cancels pending and in-flight ingestion and
// waits for it to return. No Sink call is made once Stop returns.
func (w *Watcher) Stop() {
	w.halt()
	w.work.Wait()
}

// halt stops the watcher without waiting for running work.
func (w *Watcher) halt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.cancelRun()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	clear(w.forced)
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	close(w.done)
}
