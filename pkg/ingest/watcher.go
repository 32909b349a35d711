// Package ingest feeds the memory store from outside sources: watched
// directories of notes, validated JSON batch files, and web pages.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/pkg/memory"
)

// Watcher ingests note files (.txt, .md) and batch files (.json) as
// they are written into watched directories. Edits to an already
// ingested file become updates through the store's content dedup, so
// re-saving an unchanged file is a no-op.
type Watcher struct {
	watcher  *fsnotify.Watcher
	store    *memory.Store
	tenantID string
	debounce time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopCh chan struct{}
}

// WatcherConfig holds watcher construction parameters.
type WatcherConfig struct {
	Store    *memory.Store
	TenantID string
	Debounce time.Duration
	Logger   zerolog.Logger
}

// NewWatcher creates a directory watcher. Call Watch to add paths.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.TenantID == "" {
		return nil, memory.ErrMissingTenant
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		watcher:  fsw,
		store:    cfg.Store,
		tenantID: cfg.TenantID,
		debounce: debounce,
		logger:   cfg.Logger.With().Str("component", "file-watcher").Logger(),
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Watch starts watching a directory
func (w *Watcher) Watch(path string) error {
	return w.watcher.Add(path)
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !ingestible(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("File change detected")
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// schedule debounces per file so editors that write in bursts trigger
// a single ingest.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) ingest(path string) {
	ctx := context.Background()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		reqs, err := LoadBatch(path, w.tenantID)
		if err != nil {
			w.logger.Error().Err(err).Str("file", filepath.Base(path)).Msg("Failed to load batch file")
			return
		}
		results := w.store.AddBulk(ctx, reqs, false)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		w.logger.Info().
			Str("file", filepath.Base(path)).
			Int("items", len(results)).
			Int("failed", failed).
			Msg("Batch file ingested")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error().Err(err).Str("file", filepath.Base(path)).Msg("Failed to read file")
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}

	id, err := w.store.Add(ctx, memory.AddRequest{
		TenantID: w.tenantID,
		Content:  content,
		Tags:     []string{"file", filepath.Base(path)},
	})
	if err != nil {
		w.logger.Error().Err(err).Str("file", filepath.Base(path)).Msg("Failed to ingest file")
		return
	}
	w.logger.Info().
		Str("file", filepath.Base(path)).
		Str("document_id", id).
		Msg("File ingested")
}

func ingestible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".json":
		return true
	}
	return false
}
