// Package preflight provides startup readiness checks for the filesystem
// paths and listener address retrievald depends on.
//
// The daemon runs RunAll once at startup and logs each result; failures are
// warnings, because the operator may fix a path while the daemon runs.
package preflight
