package api

import (
	"retrievald/internal/filestore"
	"retrievald/internal/retrieval"
)

// TokenHeader carries the shared secret on every authenticated request.
// "Authorization: Bearer <token>" is accepted as well.
const TokenHeader = "X-Retrievald-Token"

// RequestIDHeader echoes the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// Route paths.
const (
	PathHealth          = "/health"
	PathSuggest         = "/api/v1/retrieval/suggest"
	PathContextPack     = "/api/v1/retrieval/context-pack"
	PathPreview         = "/api/v1/retrieval/preview"
	PathState           = "/api/v1/retrieval/state"
	PathProgress        = "/api/v1/retrieval/progress"
	PathIndexStats      = "/api/v1/retrieval/index-stats"
	PathActivity        = "/api/v1/retrieval/activity"
	PathBackfillJobs    = "/api/v1/retrieval/backfill/jobs"
	PathBackfillPause   = "/api/v1/retrieval/backfill/pause"
	PathBackfillResume  = "/api/v1/retrieval/backfill/resume"
	PathBackfillTrigger = "/api/v1/retrieval/backfill/trigger"
	PathScopes          = "/api/v1/retrieval/scopes"
	PathTasks           = "/api/v1/tasks/"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EmptyResponse encodes as {}.
type EmptyResponse struct{}

// HealthResponse reports liveness without requiring the token.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Paused  bool   `json:"paused"`
}

type SuggestResponse struct {
	Suggestions []retrieval.Suggestion `json:"suggestions"`
}

type PreviewRequest struct {
	ItemID string `json:"itemId"`
}

type ActivityResponse struct {
	Entries []retrieval.ActivityEntry `json:"entries"`
}

type JobsResponse struct {
	Jobs []retrieval.BackfillJob `json:"jobs"`
}

// JobRequest names a backfill job to pause or resume.
type JobRequest struct {
	JobID string `json:"jobId"`
}

type ScopesRequest struct {
	Scopes []retrieval.Scope `json:"scopes"`
}

// UploadResponse reports where an upload was stored.
type UploadResponse struct {
	Path string `json:"path"`
}

type FilesResponse struct {
	Files []filestore.StoredFile `json:"files"`
}

type PathsResponse struct {
	Paths []string `json:"paths"`
}

// CollectRequest names the outbox directory to copy into a task's outputs.
type CollectRequest struct {
	Outbox string `json:"outbox"`
}

// CollectResponse lists the task's outputs after collection.
type CollectResponse struct {
	Copied int                    `json:"copied"`
	Files  []filestore.StoredFile `json:"files"`
}
