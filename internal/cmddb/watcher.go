package cmddb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var (
	watchDebounce = 100 * time.Millisecond
	pollInterval  = 5 * time.Second
)

// Watcher keeps a Database in sync with its file, reloading it when the
// file is written or replaced.
type Watcher struct {
	path     string
	mu       sync.RWMutex
	db       *Database
	onReload func(*Database)
	lastMod  time.Time
}

// NewWatcher loads path and returns a watcher holding the result.
func NewWatcher(path string) *Watcher {
	w := &Watcher{path: path, db: Load(path)}
	if stat, err := os.Stat(path); err == nil {
		w.lastMod = stat.ModTime()
	}
	return w
}

// OnReload registers a callback invoked after every reload.
func (w *Watcher) OnReload(fn func(*Database)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Current returns the most recently loaded database.
func (w *Watcher) Current() *Database {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.db
}

// Reload re-reads the file immediately.
func (w *Watcher) Reload() {
	db := Load(w.path)

	w.mu.Lock()
	w.db = db
	fn := w.onReload
	w.mu.Unlock()

	log.Info().Str("path", w.path).Int("commands", db.Len()).Msg("Reloaded command DB")
	if fn != nil {
		fn(db)
	}
}

// Run watches the file until ctx is cancelled. When the directory cannot be
// watched it falls back to polling the modification time.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Falling back to polling for command DB changes")
		w.poll(ctx)
		return nil
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch command DB directory, polling instead")
		w.poll(ctx)
		return nil
	}

	log.Info().Str("path", w.path).Msg("Watching command DB for changes")
	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Wait for the writer to finish.
			select {
			case <-time.After(watchDebounce):
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Debug().Str("event", event.Op.String()).Msg("Detected command DB change")
			w.Reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Command DB watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.path)
			if err != nil || !stat.ModTime().After(w.lastMod) {
				continue
			}
			w.lastMod = stat.ModTime()
			log.Info().Msg("Detected command DB change via polling")
			w.Reload()
		case <-ctx.Done():
			return
		}
	}
}
