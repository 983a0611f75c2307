// Package app wires the gapless subsystems into a running daemon.
//
// New builds every subsystem from the config, Run drives them until the
// context ends, and Shutdown releases what New acquired. Tests inject
// doubles through functional options (WithDecoder, WithRegistry, ...); any
// subsystem not injected is built from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gapless/internal/config"
	"github.com/MrWong99/gapless/internal/control"
	"github.com/MrWong99/gapless/internal/health"
	"github.com/MrWong99/gapless/internal/library"
	"github.com/MrWong99/gapless/internal/observe"
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/decode"
	"github.com/MrWong99/gapless/pkg/playback"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// App owns every subsystem lifetime.
type App struct {
	cfg        *config.Config
	configPath string
	watchEvery time.Duration
	log        *slog.Logger
	level      *slog.LevelVar

	registry       *config.Registry
	dec            audio.Decoder
	device         audio.Device
	metrics        *observe.Metrics
	metricsHandler http.Handler

	sched   *playback.Scheduler
	player  *playback.Player
	lib     *library.Library
	health  *health.Handler
	server  *http.Server
	ln      net.Listener
	watcher *config.Watcher

	running atomic.Bool

	// cfgMu guards cfg against the watcher callback.
	cfgMu sync.Mutex

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDecoder injects a decoder instead of [decode.Default].
func WithDecoder(d audio.Decoder) Option {
	return func(a *App) { a.dec = d }
}

// WithRegistry injects the output-driver registry instead of
// [DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDevice injects an output device, bypassing the registry.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level of the handler
// behind the logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigPath enables hot reload by watching path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithWatchInterval sets how often the config file is polled.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchEvery = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the daemon. It opens the output device, scans the library and
// binds the listen address; Run starts everything.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Decoder ───────────────────────────────────────────────────────
	if a.dec == nil {
		a.dec = decode.Default(cfg.Playback.ChunkFrames)
	}

	// ── 2. Output device ─────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init output: %w", err)
	}

	// ── 3. Scheduler + player ────────────────────────────────────────────
	a.sched = playback.New(a.device, a.dec,
		playback.WithLogger(a.log),
		playback.WithMetrics(a.metrics),
		playback.WithPriming(cfg.Playback.Priming),
		playback.WithReportInterval(cfg.Playback.ReportInterval),
		playback.WithVolume(cfg.Playback.InitialVolume()),
	)
	a.player = playback.NewPlayer(a.sched, a.log)

	// ── 4. Library ───────────────────────────────────────────────────────
	a.lib = library.New(a.dec,
		library.WithExtensions(cfg.Library.Extensions...),
		library.WithLogger(a.log),
		library.WithFailureRecorder(a.metrics),
	)
	if len(cfg.Library.Paths) > 0 {
		if err := a.lib.Scan(ctx, cfg.Library.Paths); err != nil {
			if ctx.Err() != nil {
				a.closeAll()
				return nil, fmt.Errorf("app: scan library: %w", err)
			}
			a.log.Warn("library scan incomplete", "err", err)
		}
	}

	// ── 5. Control surface ───────────────────────────────────────────────
	a.health = health.New(
		health.Flag("output", a.running.Load),
		health.Scheduler(a.sched),
	)
	if len(cfg.Library.Paths) > 0 {
		a.health.Add(health.Library(a.lib.Status))
	}
	if err := a.initServer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	// ── 6. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig,
			config.WithWatcherLogger(a.log),
			config.WithInterval(a.watchEvery),
		)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDevice() error {
	if a.device == nil {
		if a.registry == nil {
			a.registry = DefaultRegistry(a.log)
		}
		dev, err := a.registry.Create(a.cfg.Output, a.cfg.Playback)
		if err != nil {
			return err
		}
		a.device = dev
	}
	a.closers = append(a.closers, a.device.Close)
	a.log.Info("output ready", "driver", a.cfg.Output.Driver, "format", a.device.Format())
	return nil
}

func (a *App) initServer() error {
	opts := []control.Option{
		control.WithLogger(a.log),
		control.WithMetrics(a.metrics),
		control.WithRoutes(a.health.Register),
	}
	if a.metricsHandler != nil {
		h := a.metricsHandler
		opts = append(opts, control.WithRoutes(func(mux *http.ServeMux) {
			mux.Handle("GET /metrics", h)
		}))
	}
	srv := control.New(a.player, a.lib, opts...)

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.server = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	a.closers = append(a.closers, func() error {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the scheduler, the output, the HTTP server and the config
// watcher until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.cfgMu.Lock()
	tls := a.cfg.Server.TLS
	a.cfgMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sched.Run(gctx) })
	g.Go(func() error {
		a.running.Store(true)
		defer a.running.Store(false)
		return a.device.Run(gctx)
	})
	g.Go(func() error {
		var err error
		if tls != nil {
			err = a.server.ServeTLS(a.ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	a.log.Info("gapless running", "addr", a.Addr())
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Addr returns the bound listen address.
func (a *App) Addr() string {
	return a.ln.Addr().String()
}

// Player returns the player, for embedding callers and tests.
func (a *App) Player() *playback.Player { return a.player }

// Library returns the track library.
func (a *App) Library() *library.Library { return a.lib }

// Reload asks the config watcher to re-read the file now. It is a no-op
// without [WithConfigPath].
func (a *App) Reload() {
	if a.watcher != nil {
		a.watcher.Trigger()
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// applyConfig applies the hot-reloadable subset of a changed config.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VolumeChanged {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.player.SetVolume(ctx, d.NewVolume); err != nil {
			a.log.Warn("apply volume failed", "err", err)
		}
		cancel()
	}
	if d.LibraryChanged {
		a.lib.SetExtensions(new.Library.Extensions...)
		if err := a.lib.Scan(context.Background(), d.NewLibraryPaths); err != nil {
			a.log.Warn("library rescan incomplete", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the output device and listener. Call it after Run has
// returned. If ctx expires first the remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		if a.watcher != nil {
			a.watcher.Stop()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers after a failed New.
func (a *App) closeAll() {
	_ = a.Shutdown(context.Background())
}
