package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"retrievald/internal/retrieval"
)

var titleCaser = cases.Title(language.Und)

// jobStatusLabel renders a job status for humans, e.g. "Running".
func jobStatusLabel(status retrieval.JobStatus) string {
	value := strings.TrimSpace(string(status))
	if value == "" {
		return "Unknown"
	}
	return titleCaser.String(value)
}

// kindLabel turns an activity kind such as "job_completed" into "Job Completed".
func kindLabel(kind string) string {
	return titleCaser.String(strings.ReplaceAll(strings.TrimSpace(kind), "_", " "))
}

func jobStatusKind(status retrieval.JobStatus) statusKind {
	switch status {
	case retrieval.JobCompleted:
		return statusOK
	case retrieval.JobFailed:
		return statusError
	case retrieval.JobPaused:
		return statusWarn
	default:
		return statusInfo
	}
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
