package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/raceboard/server/internal/telemetry/logging"
)

// Watcher hot-reloads the mutable subset of Config (read-only toggle,
// rebuild cadence, health multipliers) whenever the backing YAML file
// changes on disk, the same fsnotify-driven reload the teacher's runtime
// config manager uses, scoped down to the handful of fields this server
// considers safe to change without a restart.
type Watcher struct {
	path string
	log  logging.Logger

	mu      sync.RWMutex
	current MutableFields

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewWatcher(path string, initial MutableFields, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Noop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, log: log, current: initial, watcher: fw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) Current() MutableFields {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload: read failed", "err", err)
		return
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		w.log.Warn("config reload: parse failed, keeping previous values", "err", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn("config reload: validation failed, keeping previous values", "err", err)
		return
	}
	w.mu.Lock()
	w.current = cfg.Mutable()
	w.mu.Unlock()
	w.log.Info("config hot-reloaded", "read_only", w.current.ReadOnly)
}
