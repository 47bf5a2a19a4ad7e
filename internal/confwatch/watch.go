// Package confwatch implements live reload of the config file and every
// --input template file, adapted from lepton's watchFile in
// cmd/lepton/watch_linux.go. lepton split that file in two
// (watch.go/watch_linux.go) only because its fsnotify.v1 dependency had
// gaps on non-Linux platforms; github.com/fsnotify/fsnotify doesn't, so
// one file covers every OS here.
package confwatch

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a fixed set of files and calls a reload callback
// whenever one of them changes on disk.
type Watcher struct {
	fsw    *fsnotify.Watcher
	reload func(path string)
}

// New starts watching every path in files. reload is invoked, once per
// change event, with the path that changed.
func New(files []string, reload func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("confwatch: %w", err)
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := fsw.Add(f); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("confwatch: watching %q: %w", f, err)
		}
	}
	return &Watcher{fsw: fsw, reload: reload}, nil
}

// Run blocks processing events until stop is closed or the underlying
// watcher errors, at which point it returns the error (nil on a clean
// stop). It is meant to be run as one of an errgroup's goroutines in
// cmd/catcierged/main.go.
func (w *Watcher) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Info("config file changed", "path", ev.Name, "op", ev.Op)
				w.reload(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("confwatch: %w", err)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
