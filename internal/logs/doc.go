// Package logs reads the daemon's log files from disk.
//
// Last returns the final lines of a log together with the byte offset where
// reading stopped; Follow resumes from such an offset and polls for appended
// lines until its context is cancelled. The CLI uses both for
// `retrievald logs`.
package logs
