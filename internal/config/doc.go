// Package config loads, normalizes, and validates retrievald configuration.
//
// Two files are involved. The optional TOML config holds operator settings
// (paths, API bind address, engine and logging knobs) and may be overridden by
// RETRIEVALD_* environment variables, including ones loaded from a .env file.
// The JSON settings file holds the shared API token and the filesystem
// allowlist; it is generated exactly once on first start and only read
// afterwards.
//
// Always obtain settings through this package so downstream code receives
// expanded absolute paths and clear validation errors.
package config
