// Command retrievald runs the local retrieval control-plane daemon and talks
// to it over its authenticated HTTP API.
//
// `retrievald serve` starts the daemon in the foreground. Every other
// subcommand is a client: it reads the API token from the generated settings
// file (or RETRIEVALD_TOKEN / --token) and calls the daemon at the configured
// bind address (or --addr).
package main
