package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"retrievald/internal/filestore"
	"retrievald/internal/logging"
	"retrievald/internal/retrieval"
)

// progressEvery controls how often a walker persists its item count.
const progressEvery = 100

// BackfillJobs lists jobs, newest first.
func (e *Engine) BackfillJobs(ctx context.Context) ([]retrieval.BackfillJob, error) {
	jobs, err := e.store.listJobs(ctx)
	if err != nil {
		return nil, err
	}
	if e.Paused() {
		for i := range jobs {
			jobs[i].Held = isActive(jobs[i].Status)
		}
	}
	return jobs, nil
}

func isActive(status retrieval.JobStatus) bool {
	return status == retrieval.JobQueued || status == retrieval.JobRunning
}

// TriggerBackfill queues one job per enabled scope and starts walking them,
// at most Workers at a time. Scopes that already have an active job are
// skipped.
func (e *Engine) TriggerBackfill(ctx context.Context) error {
	scopes, err := e.store.listScopes(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errNotRunning
	}

	busy := make(map[string]struct{}, len(e.active))
	for _, ctl := range e.active {
		busy[ctl.root] = struct{}{}
	}

	var jobs []*retrieval.BackfillJob
	for _, scope := range scopes {
		if !scope.Enabled {
			continue
		}
		if _, ok := busy[scope.Root]; ok {
			e.logger.Debug("scope already being indexed", logging.String("root", scope.Root))
			continue
		}
		job, err := e.store.insertJob(ctx, uuid.NewString(), scope.Root)
		if err != nil {
			return err
		}
		e.active[job.ID] = &jobControl{root: job.Root}
		jobs = append(jobs, job)
	}

	e.note(ctx, "", activityTriggered, fmt.Sprintf("%d job(s) queued", len(jobs)))
	e.logger.Info("backfill triggered",
		logging.String(logging.FieldEventType, "backfill_triggered"),
		logging.Int("jobs", len(jobs)),
	)
	if len(jobs) == 0 {
		return nil
	}

	runCtx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runBatch(runCtx, jobs)
	}()
	return nil
}

// PauseJob holds an active job at its next file boundary.
func (e *Engine) PauseJob(ctx context.Context, jobID string) error {
	return e.setJobPaused(ctx, jobID, true)
}

// ResumeJob releases a paused job.
func (e *Engine) ResumeJob(ctx context.Context, jobID string) error {
	return e.setJobPaused(ctx, jobID, false)
}

func (e *Engine) setJobPaused(ctx context.Context, jobID string, paused bool) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("%w: jobId is required", retrieval.ErrInvalidRequest)
	}
	job, err := e.store.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", retrieval.ErrInvalidRequest, jobID, job.Status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctl, ok := e.active[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s is not active", retrieval.ErrInvalidRequest, jobID)
	}
	if ctl.paused == paused {
		return nil
	}
	ctl.paused = paused

	status := retrieval.JobPaused
	kind, message := activityJobPaused, "job paused"
	if !paused {
		status = retrieval.JobQueued
		if ctl.started {
			status = retrieval.JobRunning
		}
		kind, message = activityJobResumed, "job resumed"
		e.cond.Broadcast()
	}
	if err := e.store.setJobStatus(ctx, jobID, status, ""); err != nil {
		return err
	}
	e.note(ctx, jobID, kind, message)
	e.logger.Info(message,
		logging.String(logging.FieldEventType, kind),
		logging.String(logging.FieldJobID, jobID),
	)
	return nil
}

func (e *Engine) runBatch(ctx context.Context, jobs []*retrieval.BackfillJob) {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, job := range jobs {
		g.Go(func() error {
			e.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) runJob(ctx context.Context, job *retrieval.BackfillJob) {
	logger := e.logger.With(logging.String(logging.FieldJobID, job.ID))

	var indexed int64
	err := e.waitRunnable(ctx, job.ID)
	if err == nil {
		e.markStarted(ctx, job.ID)
		logger.Info("backfill job started",
			logging.String(logging.FieldEventType, "job_started"),
			logging.String("root", job.Root),
		)
		indexed, err = e.walk(ctx, job)
	}

	// Final writes must land even when shutdown cancelled ctx.
	final := context.WithoutCancel(ctx)
	if perr := e.store.setJobItems(final, job.ID, indexed); perr != nil {
		logger.Debug("persist job progress failed", logging.Error(perr))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, job.ID)

	switch {
	case err == nil:
		if serr := e.store.setJobStatus(final, job.ID, retrieval.JobCompleted, ""); serr != nil {
			logger.Debug("persist job status failed", logging.Error(serr))
		}
		e.note(final, job.ID, activityJobComplete, fmt.Sprintf("indexed %d item(s) under %s", indexed, job.Root))
		logger.Info("backfill job completed",
			logging.String(logging.FieldEventType, "job_completed"),
			logging.Int64("items", indexed),
		)
	default:
		reason := err.Error()
		if errors.Is(err, context.Canceled) {
			reason = DaemonStopReason
		}
		if serr := e.store.setJobStatus(final, job.ID, retrieval.JobFailed, reason); serr != nil {
			logger.Debug("persist job status failed", logging.Error(serr))
		}
		e.note(final, job.ID, activityJobFailed, reason)
		logging.WarnWithContext(logger, "backfill job failed", "job_failed",
			logging.String("root", job.Root),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "check that the scope root exists and is readable"),
			logging.String(logging.FieldImpact, "items under this scope may be missing from the index"),
		)
	}
}

func (e *Engine) markStarted(ctx context.Context, jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctl, ok := e.active[jobID]
	if !ok {
		return
	}
	ctl.started = true
	status := retrieval.JobRunning
	if ctl.paused {
		status = retrieval.JobPaused
	}
	if err := e.store.setJobStatus(ctx, jobID, status, ""); err != nil {
		e.logger.Debug("persist job status failed", logging.Error(err))
	}
	e.note(ctx, jobID, activityJobStarted, "job started")
}

// waitRunnable blocks while the engine or the job is paused.
func (e *Engine) waitRunnable(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ctl := e.active[jobID]
		if !e.paused && (ctl == nil || !ctl.paused) {
			return nil
		}
		e.cond.Wait()
	}
}

// walk indexes every regular file below the job root. Unreadable
// subdirectories are skipped; an unreadable root fails the job.
func (e *Engine) walk(ctx context.Context, job *retrieval.BackfillJob) (int64, error) {
	var indexed int64
	err := filepath.WalkDir(job.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == job.Root {
				return walkErr
			}
			e.logger.Debug("skipping unreadable path",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("path", path),
				logging.Error(walkErr),
			)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := e.waitRunnable(ctx, job.ID); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		name := d.Name()
		if err := e.store.upsertItem(ctx, item{
			ID:         itemID(path),
			Path:       path,
			Name:       name,
			ScopeRoot:  job.Root,
			Size:       info.Size(),
			MimeType:   filestore.MimeType(name),
			ModifiedAt: info.ModTime(),
			IndexedAt:  time.Now(),
		}); err != nil {
			return err
		}
		indexed++
		if indexed%progressEvery == 0 {
			if err := e.store.setJobItems(ctx, job.ID, indexed); err != nil {
				return err
			}
		}
		return nil
	})
	return indexed, err
}

// itemID is stable for a path so re-indexing updates rather than duplicates.
func itemID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

func normalizeScopes(scopes []retrieval.Scope) ([]retrieval.Scope, error) {
	seen := make(map[string]struct{}, len(scopes))
	normalized := make([]retrieval.Scope, 0, len(scopes))
	for _, scope := range scopes {
		root := strings.TrimSpace(scope.Root)
		if root == "" {
			return nil, fmt.Errorf("%w: scope root is required", retrieval.ErrInvalidRequest)
		}
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("%w: scope root %q must be absolute", retrieval.ErrInvalidRequest, root)
		}
		root = filepath.Clean(root)
		if _, dup := seen[root]; dup {
			return nil, fmt.Errorf("%w: duplicate scope root %q", retrieval.ErrInvalidRequest, root)
		}
		seen[root] = struct{}{}
		normalized = append(normalized, retrieval.Scope{Root: root, Enabled: scope.Enabled})
	}
	return normalized, nil
}
