// Package watcher imports project documents dropped into the inbox
// directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marriagesignal/studio/internal/catalog"
)

const (
	DefaultDebounce = 500 * time.Millisecond

	importedDir = "imported"
	failedDir   = "failed"
)

type Importer interface {
	ImportDocument(ctx context.Context, data []byte) (*catalog.Project, error)
}

// InboxWatcher imports *.json files written to its directory. Imported
// files move to imported/, rejected ones to failed/. Writes are debounced
// so a file is read once its writer has gone quiet.
type InboxWatcher struct {
	dir      string
	importer Importer
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingImport
	wg      sync.WaitGroup

	// OnImport, when set, is called after each successful import.
	OnImport func(path string, project *catalog.Project)
}

func New(dir string, importer Importer, debounce time.Duration, logger *slog.Logger) *InboxWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InboxWatcher{
		dir:      dir,
		importer: importer,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*pendingImport),
	}
}

func (w *InboxWatcher) Dir() string {
	return w.dir
}

// Watch blocks until ctx is cancelled. Files already in the inbox are
// imported first.
func (w *InboxWatcher) Watch(ctx context.Context) error {
	for _, sub := range []string{"", importedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating inbox: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("inbox watcher started", "dir", w.dir)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scanning inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isDocument(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isDocument(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "error", err)
		}
	}
}

type pendingImport struct {
	timer *time.Timer
}

func (w *InboxWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok && p.timer.Stop() {
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingImport{}
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == p {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.importFile(ctx, path)
		}
	})
	w.pending[path] = p
}

func (w *InboxWatcher) stop() {
	w.mu.Lock()
	for path, p := range w.pending {
		if p.timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *InboxWatcher) importFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("cannot read inbox file", "file", filepath.Base(path), "error", err)
		}
		return
	}

	rec, err := w.importer.ImportDocument(ctx, data)
	if err != nil {
		w.logger.Warn("inbox import failed", "file", filepath.Base(path), "error", err)
		w.move(path, failedDir)
		return
	}

	w.logger.Info("inbox document imported", "file", filepath.Base(path), "project_id", rec.ID, "title", rec.Title)
	w.move(path, importedDir)
	if w.OnImport != nil {
		w.OnImport(path, rec)
	}
}

func (w *InboxWatcher) move(path, sub string) {
	base := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		dest = filepath.Join(w.dir, sub, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		w.logger.Warn("cannot move inbox file", "file", base, "to", sub, "error", err)
	}
}

func isDocument(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}
