package testsupport

import (
	"path/filepath"
	"testing"

	"retrievald/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It binds to an ephemeral loopback port and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = base
	cfgVal.Paths.BaseDir = filepath.Join(base, "files")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SettingsPath = filepath.Join(base, "settings.json")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Engine.Workers = 1
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxBodyBytes lowers the request body limit on the test config.
func WithMaxBodyBytes(limit int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.MaxBodyBytes = limit
	}
}

// WithLogDir overrides the log directory on the test config.
func WithLogDir(dir string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.LogDir = dir
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.DataDir
}

// Settings returns settings carrying token whose allowlist covers the test
// config's temp directory.
func Settings(cfg *config.Config, token string) *config.Settings {
	return &config.Settings{Token: token, Allowlist: []string{BaseDir(cfg)}}
}
