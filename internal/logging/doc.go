// Package logging assembles structured slog loggers and formatting helpers used
// across retrievald.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes component loggers plus a no-op logger for tests and
// wiring code that cannot fail. WARN lines go through WarnWithContext so they
// always carry an event type, a hint, and an impact.
package logging
