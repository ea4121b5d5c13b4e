package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"retrievald/internal/logging"
	"retrievald/internal/retrieval"
)

// Activity kinds recorded by the engine.
const (
	activityStarted     = "engine_started"
	activityStopped     = "engine_stopped"
	activityPaused      = "engine_paused"
	activityResumed     = "engine_resumed"
	activityScopes      = "scopes_configured"
	activityTriggered   = "backfill_triggered"
	activityJobStarted  = "job_started"
	activityJobPaused   = "job_paused"
	activityJobResumed  = "job_resumed"
	activityJobComplete = "job_completed"
	activityJobFailed   = "job_failed"
)

// DaemonStopReason is recorded on jobs cut short by shutdown.
const DaemonStopReason = "daemon stopped"

var errNotRunning = errors.New("retrieval engine is not running")

// Options configures an Engine.
type Options struct {
	DBPath       string
	Workers      int
	PreviewBytes int
	Logger       *slog.Logger
}

// Engine is the local retrieval service: it walks configured scopes into a
// SQLite index and answers queries from it.
type Engine struct {
	store        *store
	logger       *slog.Logger
	workers      int
	previewBytes int

	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	stopped bool
	paused  bool
	active  map[string]*jobControl
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type jobControl struct {
	root    string
	paused  bool
	started bool
}

var _ retrieval.Service = (*Engine)(nil)

// New opens the engine database. The engine does no work until Start.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.DBPath) == "" {
		return nil, errors.New("engine: database path is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = 4096
	}
	st, err := openStore(ctx, opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		store:        st,
		logger:       logging.NewComponentLogger(opts.Logger, "retrieval-engine"),
		workers:      opts.Workers,
		previewBytes: opts.PreviewBytes,
		active:       make(map[string]*jobControl),
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// Start readies the engine. Jobs left unfinished by a previous process are
// marked failed. Calling Start again is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errors.New("engine: start after stop")
	}
	if e.running {
		return nil
	}

	interrupted, err := e.store.failInterruptedJobs(ctx, DaemonStopReason)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if interrupted > 0 {
		logging.WarnWithContext(e.logger, "backfill jobs interrupted by previous shutdown", "jobs_interrupted",
			logging.Int64("jobs", interrupted),
			logging.String(logging.FieldErrorHint, "trigger a new backfill to finish indexing"),
			logging.String(logging.FieldImpact, "index may be incomplete"),
		)
	}

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.running = true
	e.note(ctx, "", activityStarted, "engine started")
	e.logger.Info("retrieval engine started",
		logging.String(logging.FieldEventType, "engine_started"),
		logging.Int("workers", e.workers),
	)
	return nil
}

// Stop cancels running jobs, waits for them and closes the database. It is
// idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	wasRunning := e.running
	e.running = false
	if e.cancel != nil {
		e.cancel()
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	e.wg.Wait()
	if wasRunning {
		e.note(context.Background(), "", activityStopped, "engine stopped")
	}
	e.logger.Info("retrieval engine stopped",
		logging.String(logging.FieldEventType, "engine_stopped"),
	)
	return e.store.Close()
}

// Pause halts every walker at its next file boundary. Pausing a paused
// engine is a no-op.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = true
	e.mu.Unlock()

	e.note(ctx, "", activityPaused, "indexing paused")
	e.logger.Info("retrieval engine paused", logging.String(logging.FieldEventType, "engine_paused"))
	return nil
}

// Resume releases a Pause. Resuming a running engine is a no-op.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = false
	e.cond.Broadcast()
	e.mu.Unlock()

	e.note(ctx, "", activityResumed, "indexing resumed")
	e.logger.Info("retrieval engine resumed", logging.String(logging.FieldEventType, "engine_resumed"))
	return nil
}

// Paused reports whether a global pause is in effect.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Running reports whether the engine has been started and not stopped.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ConfigureScopes replaces the scope set. Roots must be absolute and unique.
// Items under removed roots leave the index.
func (e *Engine) ConfigureScopes(ctx context.Context, scopes []retrieval.Scope) error {
	normalized, err := normalizeScopes(scopes)
	if err != nil {
		return err
	}
	if err := e.store.replaceScopes(ctx, normalized); err != nil {
		return err
	}
	e.note(ctx, "", activityScopes, fmt.Sprintf("%d scope(s) configured", len(normalized)))
	e.logger.Info("scopes configured",
		logging.String(logging.FieldEventType, "scopes_configured"),
		logging.Int("scopes", len(normalized)),
	)
	return nil
}

// State returns a snapshot of the engine.
func (e *Engine) State(ctx context.Context) (*retrieval.State, error) {
	scopes, err := e.store.listScopes(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return &retrieval.State{
		Running:    e.running,
		Paused:     e.paused,
		Scopes:     scopes,
		ActiveJobs: len(e.active),
	}, nil
}

// Progress summarizes backfill jobs.
func (e *Engine) Progress(ctx context.Context) (*retrieval.Progress, error) {
	jobs, err := e.store.listJobs(ctx)
	if err != nil {
		return nil, err
	}
	progress := &retrieval.Progress{TotalJobs: len(jobs), Paused: e.Paused()}
	for _, job := range jobs {
		progress.ItemsIndexed += job.ItemsIndexed
		if progress.Paused && isActive(job.Status) {
			progress.HeldJobs++
		}
		switch job.Status {
		case retrieval.JobQueued:
			progress.QueuedJobs++
		case retrieval.JobRunning:
			progress.RunningJobs++
		case retrieval.JobPaused:
			progress.PausedJobs++
		case retrieval.JobCompleted:
			progress.CompletedJobs++
		case retrieval.JobFailed:
			progress.FailedJobs++
		}
	}
	if progress.TotalJobs > 0 {
		done := progress.CompletedJobs + progress.FailedJobs
		progress.Percent = float64(done) * 100 / float64(progress.TotalJobs)
	}
	return progress, nil
}

// IndexStats reports index size.
func (e *Engine) IndexStats(ctx context.Context) (*retrieval.IndexStats, error) {
	totals, err := e.store.totals(ctx)
	if err != nil {
		return nil, err
	}
	scopes, err := e.store.listScopes(ctx)
	if err != nil {
		return nil, err
	}
	return &retrieval.IndexStats{
		Items:         totals.items,
		TotalBytes:    totals.bytes,
		Scopes:        len(scopes),
		LastIndexedAt: totals.lastIndexedAt,
		ByMimeType:    totals.byMimeType,
	}, nil
}

// Activity returns recent engine activity, newest first.
func (e *Engine) Activity(ctx context.Context) ([]retrieval.ActivityEntry, error) {
	return e.store.listActivity(ctx, activityLimit)
}

// note records an activity entry; failures are logged only.
func (e *Engine) note(ctx context.Context, jobID, kind, message string) {
	if err := e.store.recordActivity(context.WithoutCancel(ctx), jobID, kind, message); err != nil {
		e.logger.Debug("record activity failed",
			logging.String("kind", kind),
			logging.Error(err),
		)
	}
}
