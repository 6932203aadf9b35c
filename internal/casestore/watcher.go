package casestore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	watchDebounce = 100 * time.Millisecond
	pollInterval  = 5 * time.Second
)

// Watcher reports case records changed on disk by something other than
// this process: another investigator's session, a restore from backup, a
// hand edit. Callers get the case directory name and decide what to do.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	onChange func(caseNumber string)
	logger   zerolog.Logger

	lastModTimes map[string]time.Time // polling fallback state
}

// NewWatcher creates a watcher over the store root. onChange runs on the
// watcher goroutine; keep it short.
func NewWatcher(store *Store, logger zerolog.Logger, onChange func(caseNumber string)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:        store,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		onChange:     onChange,
		logger:       logger,
		lastModTimes: make(map[string]time.Time),
	}, nil
}

// Start begins watching. The store root and every existing case directory
// are registered; fsnotify does not recurse. If the root cannot be
// watched at all, Start falls back to polling record mod times.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.store.Root()); err != nil {
		w.logger.Warn().Err(err).Str("path", w.store.Root()).Msg("failed to watch store root, falling back to polling")
		go w.pollForChanges()
		return nil
	}

	entries, err := os.ReadDir(w.store.Root())
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(w.store.Root(), entry.Name())
			if err := w.watcher.Add(dir); err != nil {
				w.logger.Warn().Err(err).Str("path", dir).Msg("failed to watch case directory")
			}
		}
	}

	go w.watchForChanges()
	w.logger.Info().Str("root", w.store.Root()).Msg("watching case records for changes")
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stopChan:
		return
	default:
		close(w.stopChan)
	}
	w.watcher.Close()
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// A new case directory appearing under the root needs its
			// own watch before record changes inside it are visible.
			if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == w.store.Root() {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !strings.HasPrefix(filepath.Base(event.Name), ".") {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new case directory")
					}
				}
			}

			if filepath.Base(event.Name) != caseFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce: saves land as temp write plus rename.
			time.Sleep(watchDebounce)

			caseNumber := filepath.Base(filepath.Dir(event.Name))
			w.logger.Debug().
				Str("case_number", caseNumber).
				Str("event", event.Op.String()).
				Msg("case record changed on disk")
			w.onChange(caseNumber)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("case watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			entries, err := os.ReadDir(w.store.Root())
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
					continue
				}
				record := filepath.Join(w.store.Root(), entry.Name(), caseFileName)
				stat, err := os.Stat(record)
				if err != nil {
					continue
				}
				last, seen := w.lastModTimes[record]
				w.lastModTimes[record] = stat.ModTime()
				if seen && stat.ModTime().After(last) {
					w.logger.Debug().Str("case_number", entry.Name()).Msg("case record changed on disk (polling)")
					w.onChange(entry.Name())
				}
			}

		case <-w.stopChan:
			return
		}
	}
}
