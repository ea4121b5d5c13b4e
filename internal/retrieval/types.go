package retrieval

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a backfill job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ParseJobStatus normalizes a stored status string.
func ParseJobStatus(value string) (JobStatus, bool) {
	switch status := JobStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case JobQueued, JobRunning, JobPaused, JobCompleted, JobFailed:
		return status, true
	default:
		return "", false
	}
}

// Scope is a filesystem root the engine indexes.
type Scope struct {
	Root    string `json:"root"`
	Enabled bool   `json:"enabled"`
}

type SuggestRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type Suggestion struct {
	ItemID   string  `json:"itemId"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	MimeType string  `json:"mimeType"`
	Score    float64 `json:"score"`
}

type ContextPackRequest struct {
	Query   string   `json:"query,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	ItemIDs []string `json:"itemIds,omitempty"`
}

// ContextPack bundles item excerpts for a query.
type ContextPack struct {
	ID        string        `json:"id"`
	Query     string        `json:"query,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Items     []ContextItem `json:"items"`
}

type ContextItem struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	Excerpt   string `json:"excerpt,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

type Preview struct {
	ItemID     string    `json:"itemId"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Text       string    `json:"text,omitempty"`
	Truncated  bool      `json:"truncated,omitempty"`
}

// State is a point-in-time snapshot of the service.
type State struct {
	Running    bool    `json:"running"`
	Paused     bool    `json:"paused"`
	Scopes     []Scope `json:"scopes"`
	ActiveJobs int     `json:"activeJobs"`
}

type Progress struct {
	TotalJobs     int     `json:"totalJobs"`
	QueuedJobs    int     `json:"queuedJobs"`
	RunningJobs   int     `json:"runningJobs"`
	PausedJobs    int     `json:"pausedJobs"`
	CompletedJobs int     `json:"completedJobs"`
	FailedJobs    int     `json:"failedJobs"`
	// HeldJobs counts queued or running jobs stalled by a global pause.
	HeldJobs      int     `json:"heldJobs"`
	Paused        bool    `json:"paused"`
	ItemsIndexed  int64   `json:"itemsIndexed"`
	Percent       float64 `json:"percent"`
}

type IndexStats struct {
	Items         int64            `json:"items"`
	TotalBytes    int64            `json:"totalBytes"`
	Scopes        int              `json:"scopes"`
	LastIndexedAt *time.Time       `json:"lastIndexedAt,omitempty"`
	ByMimeType    map[string]int64 `json:"byMimeType"`
}

type ActivityEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"jobId,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type BackfillJob struct {
	ID           string     `json:"id"`
	Root         string     `json:"root"`
	Status       JobStatus  `json:"status"`
	// Held marks a queued or running job that is waiting on a global pause.
	Held         bool       `json:"held,omitempty"`
	ItemsIndexed int64      `json:"itemsIndexed"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}
