package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opposj/pdbp/internal/logging"
	"github.com/opposj/pdbp/internal/metrics"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Subscriber receives every successfully reloaded configuration.
type Subscriber func(*Config)

// Watcher reloads the configuration file when it changes. It watches the
// parent directory since editors often replace the file instead of
// writing it.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *logging.Logger
	metrics  *metrics.Metrics
	fsw      *fsnotify.Watcher

	mu     sync.Mutex
	subs   map[int]Subscriber
	nextID int
	last   *Config
}

// NewWatcher watches path. current is the configuration in effect.
func NewWatcher(path string, current *Config, log *logging.Logger, m *metrics.Metrics) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		log:      log.WithComponent("config"),
		metrics:  m,
		fsw:      fsw,
		subs:     make(map[int]Subscriber),
		last:     current,
	}, nil
}

// Subscribe registers fn and returns a function that removes it.
func (w *Watcher) Subscribe(fn Subscriber) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Current returns the last configuration that loaded cleanly.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watching config", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	w.metrics.RecordReload(err)
	if err != nil {
		w.log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path)

	w.mu.Lock()
	w.last = cfg
	subs := make([]Subscriber, 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}
