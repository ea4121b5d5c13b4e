// Package filestore keeps task-scoped input and output files under a single
// base directory.
//
// Layout is base/Uploads/<taskID>/<name> for inputs and
// base/Output/<taskID>/<name> for outputs. Names pass through
// SanitizeFilename on both the write and the read path, and task identifiers
// are validated before they are joined into a path, so no caller-supplied
// value can address a location outside base. All operations on one Store are
// serialized.
package filestore
