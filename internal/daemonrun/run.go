package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"retrievald/internal/config"
	"retrievald/internal/daemon"
	"retrievald/internal/filestore"
	"retrievald/internal/logging"
	"retrievald/internal/preflight"
	"retrievald/internal/retrieval"
	"retrievald/internal/retrieval/engine"
)

// ServiceFactory builds the retrieval facade fronted by the daemon.
type ServiceFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (retrieval.Service, error)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool

	// Listener replaces binding cfg.API.Bind. Run closes it on exit.
	Listener net.Listener
	// NewService replaces the local retrieval engine.
	NewService ServiceFactory
	// MonitorFactory replaces the platform power monitor.
	MonitorFactory daemon.MonitorFactory
	// Ready is called with the listener address once requests are served.
	Ready func(addr string)
}

// Run starts the retrievald runtime and blocks until ctx is cancelled, a
// termination signal arrives, or the API server fails. Shutdown always stops
// both the power monitor and the retrieval service; a serve failure is
// returned alongside any stop failure.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (err error) {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	settings, created, err := config.LoadOrCreateSettings(cfg.Paths.SettingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("retrievald-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update retrievald.log link: %v\n", err)
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, "retrievald-*.log", cfg.Logging.RetentionDays, logPath)

	if created {
		logger.Info("generated daemon settings",
			logging.String(logging.FieldEventType, "settings_created"),
			logging.String("path", cfg.Paths.SettingsPath),
			logging.Int("allowlist_roots", len(settings.Allowlist)),
		)
	}

	preflight.LogResults(logger, preflight.RunAll(signalCtx, cfg, settings))

	listener := opts.Listener
	if listener == nil {
		var lc net.ListenConfig
		listener, err = lc.Listen(signalCtx, "tcp", cfg.API.Bind)
		if err != nil {
			return fmt.Errorf("bind %s: %w", cfg.API.Bind, err)
		}
	}
	defer listener.Close()

	newService := opts.NewService
	if newService == nil {
		newService = newEngine
	}
	service, err := newService(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create retrieval service: %w", err)
	}

	files, err := filestore.New(cfg.Paths.BaseDir, logger)
	if err != nil {
		_ = service.Stop()
		return err
	}

	var daemonOpts []daemon.Option
	if opts.MonitorFactory != nil {
		daemonOpts = append(daemonOpts, daemon.WithMonitorFactory(opts.MonitorFactory))
	}
	d, err := daemon.New(cfg, settings, service, files, logger, daemonOpts...)
	if err != nil {
		_ = service.Stop()
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		_ = service.Stop()
		return err
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "retrievald.pid")
	if err := writePIDFile(pidPath); err != nil {
		logger.Debug("write pid file", logging.Error(err))
	}
	defer os.Remove(pidPath)

	defer func() {
		logger.Info("retrievald shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
		if stopErr := d.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}()

	if opts.Ready != nil {
		opts.Ready(listener.Addr().String())
	}
	return d.Serve(signalCtx, listener)
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (retrieval.Service, error) {
	e, err := engine.New(ctx, engine.Options{
		DBPath:       cfg.EngineDBPath(),
		Workers:      cfg.Engine.Workers,
		PreviewBytes: cfg.Engine.PreviewBytes,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "retrievald.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
