package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"brisk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher reloads the config file on change and hands every valid result
// to its listener. Invalid edits are logged and ignored.
type Watcher struct {
	path string
	v    *viper.Viper
	fn   func(*Config)

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// debounce collapses the burst of events editors produce on save.
const debounce = 200 * time.Millisecond

// Watch starts watching path. Only the top-level file is watched; included
// files are re-read on each reload.
func Watch(path string, fn func(*Config)) (*Watcher, error) {
	if fn == nil {
		return nil, fmt.Errorf("config watch requires a listener")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: abs, v: v, fn: fn}
	v.OnConfigChange(w.onChange)
	v.WatchConfig()
	logger.Infof("[config] watching %s", abs)
	return w, nil
}

func (w *Watcher) onChange(evt fsnotify.Event) {
	if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("[config] reload failed (%s): %v", w.path, err)
		return
	}
	logger.Infof("[config] reloaded %s", w.path)
	w.fn(cfg)
}

// Stop silences the listener. viper offers no way to end its watch
// goroutine, so events after Stop are dropped here.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
