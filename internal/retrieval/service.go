package retrieval

import "context"

// Service is the retrieval facade. Pause and Resume must be idempotent and
// safe to call concurrently or out of order; power transitions may overlap.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error)
	CreateContextPack(ctx context.Context, req ContextPackRequest) (*ContextPack, error)
	Preview(ctx context.Context, itemID string) (*Preview, error)

	State(ctx context.Context) (*State, error)
	Progress(ctx context.Context) (*Progress, error)
	IndexStats(ctx context.Context) (*IndexStats, error)
	Activity(ctx context.Context) ([]ActivityEntry, error)

	BackfillJobs(ctx context.Context) ([]BackfillJob, error)
	PauseJob(ctx context.Context, jobID string) error
	ResumeJob(ctx context.Context, jobID string) error
	TriggerBackfill(ctx context.Context) error
	ConfigureScopes(ctx context.Context, scopes []Scope) error
}
