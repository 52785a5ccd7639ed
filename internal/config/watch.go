package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the configuration file and reports edits. Security
// allow-lists are never applied live: a changed security section only logs
// that a restart is required.
type Watcher struct {
	path     string
	current  SecurityConfig
	logger   *slog.Logger
	debounce time.Duration
	onChange func(*Config, error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// WatchOption customizes a Watcher.
type WatchOption func(*Watcher)

// WithOnChange registers a callback invoked after every debounced reload.
func WithOnChange(fn func(*Config, error)) WatchOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher prepares a watcher for path. active is the configuration the
// process started with.
func NewWatcher(path string, active *Config, logger *slog.Logger, opts ...WatchOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     path,
		logger:   logger.With("component", "config-watch"),
		debounce: 250 * time.Millisecond,
	}
	if active != nil {
		w.current = active.Security
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The parent directory is watched so editors that
// replace the file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	abs, err := filepath.Abs(w.path)
	if err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.path = abs
	w.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx, watcher)
	return nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			w.reload()
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config file changed but failed to load", "path", w.path, "error", err)
	} else if !reflect.DeepEqual(cfg.Security, w.current) {
		w.logger.Warn("security settings changed on disk; restart required to apply", "path", w.path)
	} else {
		w.logger.Info("config file changed", "path", w.path)
	}
	if w.onChange != nil {
		w.onChange(cfg, err)
	}
}
