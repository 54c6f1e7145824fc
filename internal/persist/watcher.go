package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"onairsync/internal/command"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
)

// Dispatcher is the command sink the watcher feeds.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (dispatch.Result, error)
}

// Watcher reloads the settings file after external edits and submits every
// entry the edit changed as an internal CONF command. Entries are compared
// with what the FileStore last read or wrote, never with the live state, so
// our own saves produce no commands and unsaved changes are left alone.
type Watcher struct {
	file     *FileStore
	sink     Dispatcher
	log      *logger.Log
	debounce time.Duration
}

func NewWatcher(file *FileStore, sink Dispatcher, log *logger.Log) *Watcher {
	return &Watcher{
		file:     file,
		sink:     sink,
		log:      log.Module("settings-watch"),
		debounce: 500 * time.Millisecond,
	}
}

// Run watches the directory containing the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.file.Path())
	if err != nil {
		return fmt.Errorf("failed to resolve settings path: %w", err)
	}
	dir, name := filepath.Dir(abs), filepath.Base(abs)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.log.With(logger.Fields{"path": abs}).Info("watching settings file")

	timer := stoppedTimer()
	defer timer.Stop()
	var reloadC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			resetTimer(timer, w.debounce)
			reloadC = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.With(logger.Fields{"error": err.Error()}).Warn("watcher error")
		case <-reloadC:
			reloadC = nil
			w.Reload(ctx)
		}
	}
}

// Reload reads the file and dispatches the entries changed since the last
// read or write. Invalid entries are rejected and logged by the dispatcher.
// It returns the number of commands that changed the state.
func (w *Watcher) Reload(ctx context.Context) int {
	changed, err := w.file.Changes()
	if err != nil {
		w.log.With(logger.Fields{"error": err.Error()}).Error("settings reload failed")
		return 0
	}

	applied := 0
	for _, e := range changed {
		cmd := command.Internal(command.NsConf, 0, e.Section, e.Value, true)
		cmd.Subkey = e.Key
		cmd.Raw = cmd.String()
		res, err := w.sink.Dispatch(ctx, cmd)
		if err != nil {
			continue
		}
		if res.Changed {
			applied++
		}
	}
	if applied > 0 {
		w.log.With(logger.Fields{"changed": applied}).Info("settings reloaded from file")
	}
	return applied
}
