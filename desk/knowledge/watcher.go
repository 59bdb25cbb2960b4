package knowledge

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
	"github.com/rs/zerolog"
)

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Reindexed int
	Removed   int
	Errors    int
}

// Watcher re-ingests markdown files under the ingester's root as they change.
// Rapid saves of the same file collapse into one ingest after the debounce period.
type Watcher struct {
	ingester *Ingester
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	stats   WatcherStats
}

// NewWatcher creates a watcher. A non-positive debounce defaults to 500ms.
func NewWatcher(ingester *Ingester, debounce time.Duration, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		ingester: ingester,
		debounce: debounce,
		logger:   logger.With().Str("component", "kb_watcher").Logger(),
		pending:  make(map[string]time.Time),
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.ingester.Root()); err != nil {
		return err
	}
	w.logger.Info().Str("dir", w.ingester.Root()).Dur("debounce", w.debounce).Msg("Watching knowledge base")

	tick := min(w.debounce/4, 100*time.Millisecond)
	ticker := time.NewTicker(max(tick, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Knowledge watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("File watcher error")
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.ingester.Root() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fsw, event.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}

	if !w.ingester.Accepts(event.Name) {
		return
	}

	w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Knowledge file event")
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush processes files whose last event is older than the debounce period.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.sync(ctx, path)
	}
}

func (w *Watcher) sync(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		n, err := w.ingester.RemoveFile(ctx, path)
		w.mu.Lock()
		defer w.mu.Unlock()
		if err != nil {
			w.stats.Errors++
			w.logger.Error().Err(err).Str("path", path).Msg("Failed to remove article")
			return
		}
		if n > 0 {
			w.stats.Removed++
		}
		return
	}

	res, err := w.ingester.IngestFile(ctx, path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Errors++
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to reindex article")
		return
	}
	w.stats.Reindexed++
	w.logger.Info().Str("source", res.Source).Str("article", res.ArticleID).Int("chunks", res.Chunks).Msg("Article reindexed")
}
