package simulation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/syssam/qb/dialect"
)

// ParseFixtures decodes a YAML document mapping table names to row lists:
//
//	users:
//	  - {id: 1, name: ann}
//	  - {id: 2, name: bob}
//	posts: []
func ParseFixtures(data []byte) (State, error) {
	var raw map[string][]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("simulation: parse fixtures: %w", err)
	}
	state := make(State, len(raw))
	for table, rows := range raw {
		out := make([]dialect.Row, 0, len(rows))
		for _, r := range rows {
			if r == nil {
				r = make(dialect.Row)
			}
			out = append(out, r)
		}
		state[table] = out
	}
	return state, nil
}

// LoadFixtures reads and decodes a fixtures file.
func LoadFixtures(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simulation: read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// Watcher restarts a controller with the content of a fixtures file every
// time the file changes.
type Watcher struct {
	path   string
	ctrl   Controller
	logger *slog.Logger
	fw     *fsnotify.Watcher
	done   chan struct{}
	once   sync.Once
	notify func(error)
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WatchLogger sets the logger of the watcher.
func WatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// OnReload registers fn to be called after each reload attempt.
func OnReload(fn func(error)) WatchOption {
	return func(w *Watcher) {
		w.notify = fn
	}
}

// WatchFixtures loads path into ctrl and keeps it in sync until the returned
// watcher is closed. The directory is watched rather than the file so that
// editors replacing the file are noticed.
func WatchFixtures(path string, ctrl Controller, opts ...WatchOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("simulation: watch fixtures: %w", err)
	}
	state, err := LoadFixtures(abs)
	if err != nil {
		return nil, err
	}
	ctrl.Start(state)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("simulation: watch fixtures: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("simulation: watch fixtures: %w", err)
	}
	w := &Watcher{path: abs, ctrl: ctrl, logger: slog.Default(), fw: fw, done: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("simulation: fixtures watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	state, err := LoadFixtures(w.path)
	if err == nil {
		w.ctrl.Start(state)
		w.logger.Debug("simulation: fixtures reloaded", "path", w.path, "tables", len(state))
	} else {
		w.logger.Warn("simulation: fixtures reload failed", "path", w.path, "error", err)
	}
	if w.notify != nil {
		w.notify(err)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fw.Close()
		<-w.done
	})
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}
