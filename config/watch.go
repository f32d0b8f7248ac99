package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig controls the hot reload watcher.
type WatchConfig struct {
	Enabled      bool
	CooldownTime time.Duration
}

// DefaultWatchConfig enables reloads with a 5s cooldown between them.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// Watcher reloads the config file on change and hands the validated
// result to the registered handler. Reloads within the cooldown window
// are coalesced; a file that fails to load or validate keeps the previous
// configuration in effect.
type Watcher struct {
	cfg        WatchConfig
	configPath string
	watcher    *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time
	onReload   func(AppConfig) error

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher builds a watcher for the config file at path.
func NewWatcher(path string, cfg WatchConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if cfg.CooldownTime <= 0 {
		cfg.CooldownTime = DefaultWatchConfig().CooldownTime
	}
	return &Watcher{
		cfg:        cfg,
		configPath: path,
		watcher:    fw,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// SetReloadHandler registers the function receiving each reloaded config.
// A handler error leaves lastReload untouched so the next event retries.
func (w *Watcher) SetReloadHandler(fn func(AppConfig) error) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Start begins watching. No-op when disabled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.Enabled {
		return nil
	}
	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.watch(ctx)
	return nil
}

// Stop terminates the watch loop and closes the underlying watcher.
func (w *Watcher) Stop() error {
	if !w.cfg.Enabled {
		return w.watcher.Close()
	}
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
	}
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.handleChange()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.cfg.CooldownTime {
		return
	}
	if w.onReload == nil {
		return
	}
	cfg, err := LoadWithEnvOverrides(w.configPath)
	if err != nil {
		return
	}
	if err := w.onReload(cfg); err != nil {
		return
	}
	w.lastReload = time.Now()
}
