package config

const (
	defaultConfigPath       = "~/.config/retrievald/config.toml"
	defaultAPIBind          = "127.0.0.1:7611"
	defaultMaxBodyBytes     = 5 << 20
	defaultEngineWorkers    = 2
	defaultPreviewBytes     = 4096
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
	settingsFileName        = "settings.json"
	filesDirName            = "files"
	logsDirName             = "logs"
)

// Default returns a Config populated with repository defaults. Paths are left
// unexpanded; Load normalizes them.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir(),
		},
		API: API{
			Bind:         defaultAPIBind,
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Engine: Engine{
			Workers:      defaultEngineWorkers,
			PreviewBytes: defaultPreviewBytes,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
