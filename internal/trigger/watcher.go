// Package trigger turns files dropped into a control directory into
// sync and migration requests, so operators can poke a headless daemon
// without the status server.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Control file names.
const (
	ResyncFile = "resync"
	KickFile   = "kick"
)

// Syncer queues a sync pass.
type Syncer interface {
	RequestSync()
}

// Kickable queues an orchestrator run.
type Kickable interface {
	Kick()
}

// Resync asks every engine for a pass and kicks the orchestrator so a
// waiting migration step observes the result promptly.
func Resync(engines []Syncer, kicker Kickable) {
	for _, e := range engines {
		e.RequestSync()
	}

	kicker.Kick()
}

// Watcher handles control files in one directory.
type Watcher struct {
	dir     string
	engines []Syncer
	kicker  Kickable
	logger  *slog.Logger
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, engines []Syncer, kicker Kickable, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		dir:     dir,
		engines: engines,
		kicker:  kicker,
		logger:  logger.With(slog.String("component", "trigger")),
	}
}

// Watch blocks until ctx is cancelled. Control files present before
// the watch starts are handled first.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("creating control directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching control directory: %w", err)
	}

	for _, name := range []string{ResyncFile, KickFile} {
		w.handle(filepath.Join(w.dir, name))
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.handle(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			w.logger.Warn("control directory watch error", slog.String("error", err.Error()))
		}
	}
}

// handle consumes a control file. The file is removed before acting so
// a request written during the action is not lost.
func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	if name != ResyncFile && name != KickFile {
		return
	}

	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("removing control file", slog.String("path", path), slog.String("error", err.Error()))
		}

		return
	}

	switch name {
	case ResyncFile:
		w.logger.Info("manual resync requested")
		Resync(w.engines, w.kicker)
	case KickFile:
		w.logger.Info("migration kick requested")
		w.kicker.Kick()
	}
}
