package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/models"
)

type call struct {
	op   string
	path string
	silo string
	meta models.Metadata
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
}

func (s *recordingSink) IndexFile(_ context.Context, path, siloType string, metadata models.Metadata, _ []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "index", path: path, silo: siloType, meta: metadata})
	return "file_" + filepath.Base(path), nil
}

func (s *recordingSink) RemoveFile(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "remove", path: path})
	return true, nil
}

func (s *recordingSink) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

// find returns the last call with op for a path ending in name.
func (s *recordingSink) find(op, name string) (call, bool) {
	calls := s.snapshot()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].op == op && filepath.Base(calls[i].path) == name {
			return calls[i], true
		}
	}
	return call{}, false
}

func startWatcher(t *testing.T, sink Sink, roots []string, exts []string) *Watcher {
	t.Helper()
	w := New(sink, roots, exts, true, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestSiloOf(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/inbox", "/inbox/grants/call.pdf", "grants"},
		{"/inbox", "/inbox/grants/2024/call.pdf", "grants"},
		{"/inbox", "/inbox/notes.txt", ""},
		{"/inbox", "/inbox", ""},
		{"/inbox", "/elsewhere/grants/call.pdf", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SiloOf(tt.root, tt.path), tt.path)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{"txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchExtension(tt.path, tt.extensions), tt.path)
	}

	w := New(nil, nil, []string{".yaml", ".txt"}, true)
	assert.False(t, w.matchExtension("/a/b.txt.meta.yaml"), "sidecars are never documents")
	assert.True(t, w.matchExtension("/a/config.yaml"))
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inDir(tt.dir, tt.path), tt.path)
	}
}

func TestStartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "nested")
	startWatcher(t, &recordingSink{}, []string{root}, []string{".txt"})
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, &recordingSink{}, nil, []string{".txt"})

	require.NoError(t, w.AddDirectory(dir, false))
	require.NoError(t, w.AddDirectory(dir, false))
	assert.Equal(t, []string{filepath.Clean(dir)}, w.Directories())

	require.NoError(t, w.RemoveDirectory(dir))
	assert.Empty(t, w.Directories())
}

func TestSyncExistingFilesUsesSiloAndSidecar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "grants", "call.txt"), "open call")
	writeFile(t, filepath.Join(root, "grants", "call.txt.meta.yaml"), "success: true\nfunder: Wellcome\n")
	writeFile(t, filepath.Join(root, "loose.txt"), "no silo")
	writeFile(t, filepath.Join(root, "grants", "ignore.xyz"), "skip")

	sink := &recordingSink{}
	w := startWatcher(t, sink, []string{root}, []string{".txt"})
	w.SyncExistingFiles()

	calls := sink.snapshot()
	require.Len(t, calls, 2)

	c, ok := sink.find("index", "call.txt")
	require.True(t, ok)
	assert.Equal(t, "grants", c.silo)
	assert.Equal(t, true, c.meta["success"])
	assert.Equal(t, "Wellcome", c.meta["funder"])

	c, ok = sink.find("index", "loose.txt")
	require.True(t, ok)
	assert.Empty(t, c.silo)
}

func TestNewFileIsIngestedAfterDebounce(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, sink, []string{root}, []string{".txt"})

	writeFile(t, filepath.Join(root, "proposals", "draft.txt"), "hello")
	require.Eventually(t, func() bool {
		c, ok := sink.find("index", "draft.txt")
		return ok && c.silo == "proposals"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNewDirectoryIsWalked(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, sink, []string{root}, []string{".txt", ".md"})

	staging := t.TempDir()
	writeFile(t, filepath.Join(staging, "level2", "deep.txt"), "deep content")
	writeFile(t, filepath.Join(staging, "doc.md"), "world")
	writeFile(t, filepath.Join(staging, "ignore.xyz"), "skip")
	require.NoError(t, os.Rename(staging, filepath.Join(root, "awards")))

	require.Eventually(t, func() bool {
		_, deep := sink.find("index", "deep.txt")
		_, doc := sink.find("index", "doc.md")
		return deep && doc
	}, 3*time.Second, 20*time.Millisecond)

	_, ignored := sink.find("index", "ignore.xyz")
	assert.False(t, ignored)
	c, _ := sink.find("index", "deep.txt")
	assert.Equal(t, "awards", c.silo)
}

func TestRemovedFileIsRemoved(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.txt")
	writeFile(t, path, "temporary")

	sink := &recordingSink{}
	startWatcher(t, sink, []string{root}, []string{".txt"})
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, ok := sink.find("remove", "notes.txt")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSidecarChangeForcesReingest(t *testing.T) {
	root := t.TempDir()
	doc := filepath.Join(root, "grants", "report.txt")
	writeFile(t, doc, "final report")

	sink := &recordingSink{}
	startWatcher(t, sink, []string{root}, []string{".txt"})
	writeFile(t, doc+".meta.yaml", "approved: true\n")

	require.Eventually(t, func() bool {
		c, ok := sink.find("index", "report.txt")
		return ok && c.meta["approved"] == true
	}, 3*time.Second, 20*time.Millisecond)

	var ops []string
	for _, c := range sink.snapshot() {
		if filepath.Base(c.path) == "report.txt" {
			ops = append(ops, c.op)
		}
	}
	require.GreaterOrEqual(t, len(ops), 2)
	assert.Equal(t, "remove", ops[0])
	assert.Equal(t, "index", ops[1])
}

func TestUnreadableSidecarSkipsFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.txt"), "content")
	writeFile(t, filepath.Join(root, "bad.txt.meta.yaml"), "nested:\n  map: true\n")

	sink := &recordingSink{}
	w := startWatcher(t, sink, []string{root}, []string{".txt"})
	w.SyncExistingFiles()
	_, ok := sink.find("index", "bad.txt")
	assert.False(t, ok)
}

// blockingSink holds every IndexFile call until its context ends.
type blockingSink struct {
	entered chan string
	exited  chan error
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan string, 8), exited: make(chan error, 8)}
}

func (s *blockingSink) IndexFile(ctx context.Context, path, _ string, _ models.Metadata, _ []string) (string, error) {
	s.entered <- path
	<-ctx.Done()
	s.exited <- ctx.Err()
	return "", ctx.Err()
}

func (s *blockingSink) RemoveFile(context.Context, string) (bool, error) {
	return true, nil
}

func TestStopCancelsAndWaitsForIngestion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "grants", "call.txt"), "open call")

	sink := newBlockingSink()
	w := New(sink, []string{root}, []string{".txt"}, true, WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	go w.SyncExistingFiles()

	select {
	case <-sink.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("sync never reached the sink")
	}

	w.Stop()
	select {
	case err := <-sink.exited:
		assert.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("Stop returned while ingestion was still running")
	}

	w.SyncExistingFiles()
	assert.Empty(t, sink.entered, "a stopped watcher makes no sink calls")
}

func TestCancelledContextStopsWatcher(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	w := New(sink, []string{root}, []string{".txt"}, true, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	cancel()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.started
	}, 3*time.Second, 10*time.Millisecond)
	w.Stop()

	writeFile(t, filepath.Join(root, "late.txt"), "after shutdown")
	w.SyncExistingFiles()
	assert.Empty(t, sink.snapshot())
}

func TestRestartAfterStop(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	w := New(sink, []string{root}, []string{".txt"}, true, WithDebounce(20*time.Millisecond))

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	writeFile(t, filepath.Join(root, "reports", "q3.txt"), "quarterly")
	require.Eventually(t, func() bool {
		c, ok := sink.find("index", "q3.txt")
		return ok && c.silo == "reports"
	}, 3*time.Second, 20*time.Millisecond)
}
