package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period used when none is set.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one revision of the config file.
type fileState struct {
	mod  time.Time
	size int64
	sum  [sha256.Size]byte
}

// Watcher keeps a config file in sync with the running daemon. It polls the
// file's modification time and size and only parses it when they move; a
// content hash then filters out touches and atomic rewrites with identical
// bytes. Invalid revisions are logged and skipped.
type Watcher struct {
	path  string
	every time.Duration
	apply func(old, new *Config)
	log   *slog.Logger

	// reloadMu serialises Reload against the polling loop.
	reloadMu sync.Mutex

	mu    sync.Mutex
	cfg   *Config
	state fileState

	// seen is the last stat result observed by the polling loop.
	seenMod  time.Time
	seenSize int64

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and returns a watcher holding it. apply, if non-nil,
// is called with the previous and the new config after every accepted
// change. Polling starts with [Watcher.Run].
func NewWatcher(path string, apply func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:  path,
		every: DefaultWatchInterval,
		apply: apply,
		log:   slog.Default(),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.cfg, w.state = cfg, st
	w.seenMod, w.seenSize = st.mod, st.size
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Run polls until ctx ends or [Watcher.Stop] is called, and always returns
// nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		case <-t.C:
			w.poll(false)
		case <-w.kick:
			w.poll(true)
		}
	}
}

// Trigger asks a running watcher to re-read the file on its next iteration
// regardless of the modification time. It never blocks.
func (w *Watcher) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Reload re-reads the file now. It reports whether a new config was
// accepted; an invalid file returns the parse error and keeps the current
// config.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		w.state = st
		w.mu.Unlock()
		return false, nil
	}
	old := w.cfg
	w.cfg, w.state = cfg, st
	w.mu.Unlock()

	w.log.Info("config reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(old, cfg)
	}
	return true, nil
}

// Stop ends Run. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) poll(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			w.log.Warn("config watcher: stat failed", "path", w.path, "err", err)
			return
		}
		if info.ModTime().Equal(w.seenMod) && info.Size() == w.seenSize {
			return
		}
		w.seenMod, w.seenSize = info.ModTime(), info.Size()
	}
	if _, err := w.Reload(); err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

// read parses and validates the file and returns its state.
func (w *Watcher) read() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mod: info.ModTime(), size: info.Size(), sum: sha256.Sum256(buf.Bytes())}, nil
}
