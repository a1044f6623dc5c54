package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/tanya/internal/models"
)

type recordingSink struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
}

func (s *recordingSink) IngestFile(_ context.Context, path string) (*models.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested = append(s.ingested, path)
	return &models.IngestResult{DocumentID: path, Status: models.StatusIndexed, Chunks: 1}, nil
}

func (s *recordingSink) DeleteFile(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *recordingSink) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ingested...), append([]string(nil), s.deleted...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, sink Sink, roots []string, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	w := New(sink, roots, opts...)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, &recordingSink{}, nil, WithExtensions([]string{".txt"}))

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_AddDirectoryBeforeStart(t *testing.T) {
	w := New(&recordingSink{}, nil)
	if err := w.AddDirectory(t.TempDir(), false); err == nil {
		t.Error("expected error before Start")
	}
}

func TestWatcher_IngestsDebouncedWrites(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	startWatcher(t, sink, []string{dir}, WithExtensions([]string{".txt"}))

	path := filepath.Join(sub, "f.txt")
	for i := 0; i < 3; i++ {
		if err := writeFile(path, strings.Repeat("hello ", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(sub, "skip.xyz"), "x"); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, func() bool { in, _ := sink.snapshot(); return len(in) > 0 }) {
		t.Fatal("expected an ingest")
	}
	time.Sleep(200 * time.Millisecond)
	in, _ := sink.snapshot()
	if len(in) != 1 || in[0] != path {
		t.Errorf("ingested: got %v, want one ingest of %s", in, path)
	}
}

func TestWatcher_DeletesRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.md")
	if err := writeFile(path, "bye"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	startWatcher(t, sink, []string{dir})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { _, del := sink.snapshot(); return hasSuffix(del, "gone.md") }) {
		t.Error("expected gone.md to be deleted")
	}
}

func TestWatcher_DefaultExtensionsFollowExtractor(t *testing.T) {
	w := New(&recordingSink{}, nil)
	tests := []struct {
		path string
		want bool
	}{
		{"/docs/guide.pdf", true},
		{"/docs/notes.MD", true},
		{"/docs/sheet.xlsx", true},
		{"/docs/photo.png", false},
		{"/docs/.hidden.txt", false},
		{"/docs/draft.txt~", false},
	}
	for _, tt := range tests {
		if got := w.accepts(tt.path); got != tt.want {
			t.Errorf("accepts(%q) = %v, want %v", tt.path, got, tt.want)
		}
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
		{"/a/b", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "nested", "b.txt"), "world"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	w := startWatcher(t, sink, []string{dir}, WithExtensions([]string{".txt"}))
	if n := w.Sync(context.Background()); n != 2 {
		t.Errorf("Sync() = %d, want 2", n)
	}
	in, _ := sink.snapshot()
	sort.Strings(in)
	if len(in) != 2 || !strings.HasSuffix(in[0], "a.txt") || !strings.HasSuffix(in[1], "b.txt") {
		t.Errorf("ingested: got %v", in)
	}
}

func TestWatcher_SyncNonRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "nested", "b.txt"), "world"); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, &recordingSink{}, []string{dir}, WithRecursive(false))
	if n := w.Sync(context.Background()); n != 1 {
		t.Errorf("Sync() = %d, want 1", n)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, &recordingSink{}, []string{root})
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_NewDirectoryIsIngested(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, sink, []string{dir}, WithExtensions([]string{".txt", ".md"}))

	nested := filepath.Join(dir, "new-folder", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "new-folder", "doc1.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.md"), "world"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, func() bool {
		in, _ := sink.snapshot()
		return hasSuffix(in, "doc1.txt") && hasSuffix(in, "deep.md")
	})
	if !ok {
		in, _ := sink.snapshot()
		t.Errorf("expected doc1.txt and deep.md to be ingested, got %v", in)
	}
	if in, _ := sink.snapshot(); hasSuffix(in, "ignore.xyz") {
		t.Error("ignore.xyz should not be ingested")
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	w := New(sink, []string{dir}, WithDebounce(time.Hour))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.schedule(filepath.Join(dir, "late.txt"))
	w.Stop()
	w.Stop()
	if in, _ := sink.snapshot(); len(in) != 0 {
		t.Errorf("pending ingest ran after Stop: %v", in)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
