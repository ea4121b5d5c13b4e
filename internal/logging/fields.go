package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType is a stable machine-readable identifier for the logged event.
	FieldEventType = "event_type"
	// FieldErrorHint tells an operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldRequestID correlates log lines belonging to one HTTP request.
	FieldRequestID = "request_id"
	// FieldTaskID identifies the task namespace of a file operation.
	FieldTaskID = "task_id"
	// FieldJobID identifies a backfill job.
	FieldJobID = "job_id"
)
