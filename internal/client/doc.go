// Package client is the CLI's view of a running daemon: a thin HTTP client
// that attaches the shared token and turns error envelopes into StatusError.
package client
