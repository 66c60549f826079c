package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher loads configuration once and re-decodes it whenever the config
// file changes.
type Watcher struct {
	v  *viper.Viper
	mu sync.RWMutex
	c  *Config
}

// NewWatcher loads configPath like Load and keeps the viper instance for
// watching.
func NewWatcher(configPath string) (*Watcher, error) {
	v := newViper(configPath)
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	return &Watcher{v: v, c: cfg}, nil
}

// Current returns the last successfully decoded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.c
}

// File returns the config file in use, or "" when running on defaults.
func (w *Watcher) File() string {
	return w.v.ConfigFileUsed()
}

// Settings returns every resolved key, for display.
func (w *Watcher) Settings() map[string]any {
	return w.v.AllSettings()
}

// OnChange starts watching the config file. fn receives the new
// configuration, or the decode error; a failed reload keeps the previous
// configuration current. Without a config file this is a no-op.
func (w *Watcher) OnChange(fn func(fsnotify.Event, *Config, error)) {
	if w.File() == "" {
		return
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(w.v)
		if err == nil {
			w.mu.Lock()
			w.c = cfg
			w.mu.Unlock()
		}
		fn(e, cfg, err)
	})
	w.v.WatchConfig()
}
