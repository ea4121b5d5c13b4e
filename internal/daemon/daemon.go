package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"retrievald/internal/config"
	"retrievald/internal/filestore"
	"retrievald/internal/logging"
	"retrievald/internal/power"
	"retrievald/internal/retrieval"
)

const shutdownTimeout = 5 * time.Second

// MonitorFactory builds the power monitor started with the daemon.
type MonitorFactory func(logger *slog.Logger, onSleep, onWake power.Callback) power.Monitor

// Option customizes a Daemon.
type Option func(*Daemon)

// WithMonitorFactory replaces the platform power monitor.
func WithMonitorFactory(factory MonitorFactory) Option {
	return func(d *Daemon) {
		if factory != nil {
			d.newMonitor = factory
		}
	}
}

// Daemon owns the service lifecycle and the HTTP surface.
type Daemon struct {
	cfg        *config.Config
	settings   *config.Settings
	logger     *slog.Logger
	service    retrieval.Service
	files      *filestore.Store
	newMonitor MonitorFactory

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running bool
	monitor power.Monitor
}

// New constructs a daemon. Settings are passed explicitly and never read
// from global state.
func New(cfg *config.Config, settings *config.Settings, service retrieval.Service, files *filestore.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || settings == nil || service == nil || files == nil {
		return nil, errors.New("daemon requires config, settings, retrieval service and file store")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		settings:   settings,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		service:    service,
		files:      files,
		newMonitor: power.New,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the instance lock, starts the power monitor with callbacks
// bound to the facade's Pause/Resume, then starts the facade.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another retrievald instance is already running")
	}

	if err := d.files.EnsureDirectories(); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("prepare file store: %w", err)
	}

	monitor := d.newMonitor(d.logger, d.service.Pause, d.service.Resume)
	if err := monitor.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start power monitor: %w", err)
	}
	if err := d.service.Start(ctx); err != nil {
		monitor.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start retrieval service: %w", err)
	}

	d.monitor = monitor
	d.running = true
	d.logger.Info("retrievald daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("power_events", monitor.Running()),
	)
	return nil
}

// Stop stops the power monitor, then the facade, and releases the lock.
// Both steps always run; the facade's stop error is returned.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}

	if d.monitor != nil {
		d.monitor.Stop()
		d.monitor = nil
	}
	stopErr := d.service.Stop()
	if stopErr != nil {
		stopErr = fmt.Errorf("stop retrieval service: %w", stopErr)
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start reports a running instance"),
		)
	}
	d.running = false
	d.logger.Info("retrievald daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return stopErr
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Handler returns the authenticated HTTP handler.
func (d *Daemon) Handler() http.Handler {
	return newAPIServer(d).routes()
}

// Serve answers HTTP requests on listener until ctx is cancelled or the
// server fails. Cancellation is a clean exit; a server failure is returned.
func (d *Daemon) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	d.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Debug("api server shutdown", logging.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
