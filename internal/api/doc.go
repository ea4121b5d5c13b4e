// Package api defines the wire-format types shared by the daemon's HTTP
// handlers and the client used by the CLI.
//
// Retrieval payloads reuse the retrieval package types directly; this
// package adds the envelopes around them and the task-file payloads.
//
// DTOs use camelCase JSON tags. Empty collections encode as [] rather than
// null so consumers never special-case a missing list.
package api
