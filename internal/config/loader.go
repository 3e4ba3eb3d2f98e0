package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. Only the rule set is expected to change at runtime; pool sizing
// is boot-time. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := l.load()
					if err != nil {
						// Keep serving the old config.
						continue
					}
					l.swap(cfg)
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.swap(cfg)
	return cfg, nil
}

func (l *Loader) swap(cfg *Config) {
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills zero values with operational defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	s := &cfg.Stream
	if s.MinWorkers == 0 {
		s.MinWorkers = 2
	}
	if s.MaxWorkers == 0 {
		s.MaxWorkers = 16
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = 1000
	}
	if s.ScaleUpThreshold == 0 {
		s.ScaleUpThreshold = 8
	}
	if s.ScaleDownThreshold == 0 {
		s.ScaleDownThreshold = 1
	}
	if s.ScaleIntervalMs == 0 {
		s.ScaleIntervalMs = 500
	}
	if s.CriticalAmount == "" {
		s.CriticalAmount = "10000"
	}
	if s.HighAmount == "" {
		s.HighAmount = "2500"
	}
	if s.LowAmount == "" {
		s.LowAmount = "100"
	}
	if s.HomeCurrency == "" {
		s.HomeCurrency = "USD"
	}
	if s.MetricsWindowSec == 0 {
		s.MetricsWindowSec = 60
	}

	r := &cfg.Response
	if r.QueueCapacity == 0 {
		r.QueueCapacity = 5000
	}
	if r.CorrelationWindowSec == 0 {
		r.CorrelationWindowSec = 120
	}
	if r.CorrelationMinEvents == 0 {
		r.CorrelationMinEvents = 4
	}
	if r.CorrelationIntervalMs == 0 {
		r.CorrelationIntervalMs = 1000
	}
	if r.ExecutionHistoryLimit == 0 {
		r.ExecutionHistoryLimit = 1000
	}

	d := &cfg.Dispatch
	if d.QueueCapacity == 0 {
		d.QueueCapacity = 2000
	}
	if d.Strategy == "" {
		d.Strategy = "hybrid"
	}
	if d.SweepIntervalMs == 0 {
		d.SweepIntervalMs = 1000
	}

	a := &cfg.Audit
	if a.Dir == "" {
		a.Dir = "audit-data"
	}
	if a.SegmentMaxEntries == 0 {
		a.SegmentMaxEntries = 10000
	}
}
