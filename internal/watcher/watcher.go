// Package watcher keeps the document registry in step with directories on disk. Files
// that appear or change are ingested after a quiet period; files that disappear are
// deleted.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives file changes. It is implemented by *ingest.Pipeline.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*models.IngestResult, error)
	DeleteFile(ctx context.Context, path string) error
}

// Watcher ingests files under a set of root directories as they change.
type Watcher struct {
	sink       Sink
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	pending   map[string]*time.Timer
	rootPaths map[string][]string // root -> directories registered with fsnotify
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithExtensions limits watching to files with these extensions. By default every
// format the extractor supports is accepted.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// WithRecursive sets whether subdirectories are watched. Default true.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots that feeds changes into sink.
func New(sink Sink, roots []string, opts ...Option) *Watcher {
	w := &Watcher{
		sink:      sink,
		roots:     append([]string(nil), roots...),
		recursive: true,
		debounce:  defaultDebounce,
		pending:   make(map[string]*time.Timer),
		rootPaths: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the roots, creating missing ones, and processes events until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			w.closeLocked()
			return err
		}
		w.roots[i] = abs
		if err := w.addRootLocked(abs); err != nil {
			w.closeLocked()
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	if w.logger != nil {
		w.logger.Info("Watching directories", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	}
	go w.run(w.ctx, fsw)
	return nil
}

func (w *Watcher) closeLocked() {
	_ = w.fsw.Close()
	w.fsw = nil
	w.rootPaths = make(map[string][]string)
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
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
			if w.logger != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.accepts(path) {
			w.spawn(func(ctx context.Context) { w.remove(ctx, path) })
		}
	}
}

// handleNewDirectory watches a directory created or moved under a root and ingests the
// files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	if w.recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			w.watchDirLocked(path)
			return nil
		})
	} else {
		w.watchDirLocked(dir)
	}
	w.mu.Unlock()
	w.spawn(func(ctx context.Context) { w.syncDir(ctx, dir) })
}

func (w *Watcher) watchDirLocked(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		if w.logger != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
		}
		return
	}
	for root := range w.rootPaths {
		if inDir(root, dir) {
			w.rootPaths[root] = append(w.rootPaths[root], dir)
			return
		}
	}
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// accepts reports whether path has a watched extension. Hidden and editor temp files
// are ignored.
func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if len(w.extensions) == 0 {
		return extract.Supported(filepath.Ext(path))
	}
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.wg.Done()
	}
	ctx := w.ctx
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

// spawn runs fn in the background while the watcher is running.
func (w *Watcher) spawn(fn func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	ctx := w.ctx
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn(ctx)
	}()
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	res, err := w.sink.IngestFile(ctx, path)
	if w.logger == nil {
		return
	}
	switch {
	case errors.Is(err, models.ErrUnsupportedFormat), errors.Is(err, models.ErrEmptyDocument):
		w.logger.Debug("watcher skipped file", zap.String("path", path), zap.Error(err))
	case err != nil:
		w.logger.Warn("watcher ingest failed", zap.String("path", path), zap.Error(err))
	default:
		w.logger.Info("watcher ingested file",
			zap.String("path", path),
			zap.String("status", res.Status),
			zap.Int("chunks", res.Chunks))
	}
}

func (w *Watcher) remove(ctx context.Context, path string) {
	// A rename or atomic save may leave the file in place.
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := w.sink.DeleteFile(ctx, path); err != nil {
		if w.logger != nil {
			w.logger.Warn("watcher delete failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("watcher removed file", zap.String("path", path))
	}
}

// AddDirectory starts watching root and, with syncExisting, ingests the files already
// in it in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return errors.New("watcher not started")
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Info("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	}
	if syncExisting {
		w.spawn(func(ctx context.Context) { w.syncDir(ctx, abs) })
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
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

// syncDir ingests every accepted file under dir. It returns the number of files ingested
// or found unchanged.
func (w *Watcher) syncDir(ctx context.Context, dir string) int {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.accepts(path) {
			files = append(files, path)
		}
		return nil
	})
	n := 0
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.sink.IngestFile(ctx, path); err != nil {
			if w.logger != nil {
				w.logger.Warn("watcher sync failed", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		n++
	}
	if w.logger != nil {
		w.logger.Debug("watcher synced directory", zap.String("root", dir), zap.Int("files", n))
	}
	return n
}

// RemoveDirectory stops watching root. Documents already ingested from it stay indexed.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.fsw != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.fsw.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	if w.logger != nil {
		w.logger.Info("watcher directory removed", zap.String("path", abs))
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Sync ingests the existing files of every root and returns how many were ingested or
// found unchanged. Call it after Start to pick up files changed while not running.
func (w *Watcher) Sync(ctx context.Context) int {
	n := 0
	for _, root := range w.Directories() {
		n += w.syncDir(ctx, root)
	}
	return n
}

// Stop stops watching, drops pending ingests and waits for running ones to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.closeLocked()
	cancel := w.cancel
	w.mu.Unlock()
	cancel()
	w.wg.Wait()
}
