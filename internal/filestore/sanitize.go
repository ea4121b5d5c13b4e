package filestore

import (
	"fmt"
	"strings"
)

const (
	fallbackFilename = "file"
	maxTaskIDLength  = 128
)

// SanitizeFilename reduces a caller-supplied name to a safe final path
// segment: anything up to the last '/' or '\' is dropped, leading dots are
// stripped, and an empty result becomes "file". The result is used verbatim.
func SanitizeFilename(name string) string {
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return fallbackFilename
	}
	return name
}

// ValidateTaskID accepts 1-128 characters of [A-Za-z0-9_-].
func ValidateTaskID(taskID string) error {
	if taskID == "" || len(taskID) > maxTaskIDLength {
		return fmt.Errorf("%w: length must be 1-%d", ErrInvalidTaskID, maxTaskIDLength)
	}
	for _, c := range taskID {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
		}
	}
	return nil
}
