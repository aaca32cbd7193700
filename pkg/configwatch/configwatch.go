// Package configwatch adds a disk-backed variant of runtime reconfiguration
// on top of client.Client.Configure: a debounced fsnotify watcher reloads a
// YAML file of client defaults and applies it on change. It is entirely
// optional; client.New never requires it.
package configwatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cexll/schemafetch-go/pkg/client"
)

// Defaults is the YAML document shape: {headers, retry, timeoutMs, cacheTTL}.
type Defaults struct {
	Headers    map[string]string `yaml:"headers"`
	TimeoutMs  int64             `yaml:"timeoutMs"`
	CacheTTLMs int64             `yaml:"cacheTTL"`
	Retry      *RetrySpec        `yaml:"retry"`
}

// RetrySpec mirrors client.RetryPolicy in YAML-friendly form.
type RetrySpec struct {
	MaxAttempts       int   `yaml:"maxAttempts"`
	DelayMs           int64 `yaml:"delayMs"`
	StatusCodes       []int `yaml:"statusCodes"`
	IgnoreStatusCodes []int `yaml:"ignoreStatusCodes"`
}

func (d Defaults) toPatch() client.ConfigPatch {
	patch := client.ConfigPatch{
		MergeHeaders: d.Headers,
		CacheTTL:     time.Duration(d.CacheTTLMs) * time.Millisecond,
	}
	if d.TimeoutMs > 0 {
		timeout := time.Duration(d.TimeoutMs) * time.Millisecond
		patch.DefaultTimeout = &timeout
	}
	if d.Retry != nil {
		policy := client.RetryPolicy{
			MaxAttempts:       d.Retry.MaxAttempts,
			Delay:             time.Duration(d.Retry.DelayMs) * time.Millisecond,
			StatusCodes:       d.Retry.StatusCodes,
			IgnoreStatusCodes: d.Retry.IgnoreStatusCodes,
		}
		patch.DefaultRetry = &policy
	}
	return patch
}

// Load reads and parses a defaults file without starting a watch.
func Load(path string) (Defaults, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("error reading client defaults %q: %w", path, err)
	}
	var d Defaults
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Defaults{}, fmt.Errorf("error parsing client defaults %q: %w", path, err)
	}
	return d, nil
}

// Watcher applies path's defaults to target on every debounced change.
type Watcher struct {
	path     string
	target   *client.Client
	debounce time.Duration

	fsw *fsnotify.Watcher

	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	watched map[string]struct{}

	onChange func(Defaults)
	onError  func(error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the default 150ms debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// OnChange registers a callback fired after every successful reload.
func OnChange(fn func(Defaults)) Option {
	return func(w *Watcher) { w.onChange = fn }
}

// OnError registers a callback for reload failures; a missing or malformed
// file never disposes the watcher, it just skips the reload.
func OnError(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// New wires a file watcher around path that applies reloaded defaults to
// target via target.Configure.
func New(path string, target *client.Client, opts ...Option) (*Watcher, error) {
	if target == nil {
		return nil, errors.New("configwatch: target client is nil")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating file watcher: %w", err)
	}
	w := &Watcher{
		path:     path,
		target:   target,
		debounce: 150 * time.Millisecond,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		watched:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounce <= 0 {
		w.debounce = 150 * time.Millisecond
	}
	return w, nil
}

// Start loads the initial defaults, applies them, and begins watching.
func (w *Watcher) Start() (Defaults, error) {
	d, err := Load(w.path)
	if err != nil {
		return Defaults{}, err
	}
	w.target.Configure(d.toPatch())
	if err := w.addWatch(filepath.Dir(w.path)); err != nil {
		return Defaults{}, err
	}
	if w.onChange != nil {
		w.onChange(d)
	}
	go w.loop()
	return d, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.stop)
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher) addWatch(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[path]; ok {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.watched[path] = struct{}{}
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	var timer *time.Timer
	schedule := func() {
		if timer == nil {
			timer = time.AfterFunc(w.debounce, w.reload)
			return
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case err := <-w.fsw.Errors:
			if err != nil && w.onError != nil {
				w.onError(err)
			}
		case evt := <-w.fsw.Events:
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		}
	}
}

func (w *Watcher) reload() {
	d, err := Load(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.target.Configure(d.toPatch())
	if w.onChange != nil {
		w.onChange(d)
	}
}
