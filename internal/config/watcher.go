package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Watcher polls the config file so the hot-reloadable tunables (today:
// the log level) can change without restarting the assistant. Change
// detection is by decoded value, not file bytes: every poll re-parses the
// file and onChange fires only when the typed Config actually differs, so a
// touched-but-identical save or a formatting edit is a no-op. A file that
// fails to parse or validate keeps the previous config in force.
type Watcher struct {
	path     string
	every    time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads the config at path and starts polling it for changes on
// a background goroutine. every <= 0 selects a 5 s default. onChange
// (optional) runs outside the watcher's lock with the previous and freshly
// loaded configs whenever the decoded config changes.
func NewWatcher(path string, every time.Duration, onChange func(old, new *Config)) (*Watcher, error) {
	if every <= 0 {
		every = 5 * time.Second
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		every:    every,
		onChange: onChange,
		current:  cfg,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		// A half-saved or invalid file keeps the previous config in force.
		slog.Warn("config reload failed, keeping previous config",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	changed := !reflect.DeepEqual(*prev, *next)
	if changed {
		w.current = next
	}
	w.mu.Unlock()

	if changed && w.onChange != nil {
		w.onChange(prev, next)
	}
}
