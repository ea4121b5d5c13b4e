// Package daemon coordinates the long-running retrievald process.
//
// It binds the task File Store and the retrieval facade to an authenticated
// HTTP surface, ties the power monitor's sleep/wake callbacks to the
// facade's Pause/Resume, and holds a flock-based instance lock so only one
// daemon serves a data directory.
//
// Keep orchestration here: handlers stay thin adapters that decode, delegate
// and encode, while file semantics live in filestore and indexing in the
// retrieval engine.
package daemon
