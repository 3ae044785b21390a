// Package watch re-ingests documents when files under watched directories change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"ragqa/internal/chunker"
	"ragqa/internal/service"
)

// DefaultDebounce is how long a path must stay quiet before it is re-ingested.
const DefaultDebounce = 300 * time.Millisecond

// Ingester is the part of the pipeline the watcher drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string, opts chunker.Options) (service.IngestResult, error)
	Accepts(path string) bool
}

// Watcher coalesces bursts of writes per path and re-ingests each changed file
// once the burst settles. Ingestion failures are logged and never stop the loop.
type Watcher struct {
	ingester Ingester
	opts     chunker.Options
	debounce time.Duration
	log      zerolog.Logger

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(ingester Ingester, opts chunker.Options, debounce time.Duration, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		ingester: ingester,
		opts:     opts,
		debounce: debounce,
		log:      log.With().Str("component", "watch").Logger(),
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Add watches root and every directory below it. Hidden directories are skipped.
func (w *Watcher) Add(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsw.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run processes events until ctx is cancelled, then waits for in-flight
// ingestions and closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	w.log.Info().Strs("dirs", w.fsw.WatchList()).Msg("watching for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && !strings.HasPrefix(filepath.Base(event.Name), ".") {
			if err := w.Add(event.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", event.Name).Msg("watch new directory")
			}
		}
		return
	}
	if !w.ingester.Accepts(event.Name) {
		return
	}
	w.schedule(ctx, event.Name)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
	w.pending[path] = t
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	res, err := w.ingester.IngestFile(ctx, path, w.opts)
	if err != nil {
		w.log.Error().Err(err).Str("path", path).Msg("re-ingest failed")
		return
	}
	w.log.Info().
		Str("path", path).
		Str("document_id", res.DocumentID).
		Int("chunks", res.Chunks).
		Msg("re-ingested")
}

func (w *Watcher) close() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			delete(w.pending, path)
			w.wg.Done()
		}
	}
	w.mu.Unlock()
	w.wg.Wait()
	_ = w.fsw.Close()
}
