package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// OnChange receives a freshly parsed config after a successful reload.
type OnChange func(*Config)

// Watcher watches a config file's parent directory for writes and
// reparses the file on change, per spec.md §4.11.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch binds an fsnotify watcher to path's parent directory rather than
// the file itself, since editors and deploy tooling commonly replace a
// config file via rename-over rather than an in-place write.
// onChange is invoked with the freshly parsed config on every write or
// create event for path; malformed reloads are logged and discarded,
// leaving the previously loaded config in effect.
func Watch(path string, onChange OnChange) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	cw := &Watcher{path: path, watcher: w, done: make(chan struct{})}
	go cw.loop(onChange)
	return cw, nil
}

func (w *Watcher) loop(onChange OnChange) {
	abs := w.path
	if resolved, err := filepath.Abs(w.path); err == nil {
		abs = resolved
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventAbs := event.Name
			if resolved, err := filepath.Abs(event.Name); err == nil {
				eventAbs = resolved
			}
			if eventAbs != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config: hot reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
