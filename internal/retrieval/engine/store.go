package engine

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"retrievald/internal/retrieval"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. An engine database at
// another version must be deleted; it only holds rebuildable index state.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, root, status, items_indexed, error_message, created_at, updated_at, started_at, finished_at"

const itemColumns = "id, path, name, scope_root, size, mime_type, modified_at, indexed_at"

// store persists scopes, jobs, indexed items and activity in SQLite.
type store struct {
	db   *sql.DB
	path string
}

type item struct {
	ID         string
	Path       string
	Name       string
	ScopeRoot  string
	Size       int64
	MimeType   string
	ModifiedAt time.Time
	IndexedAt  time.Time
}

func openStore(ctx context.Context, path string) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create engine directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to rebuild the index)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Scopes

func (s *store) replaceScopes(ctx context.Context, scopes []retrieval.Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scopes tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM scopes"); err != nil {
		return fmt.Errorf("clear scopes: %w", err)
	}
	now := formatTime(time.Now())
	for _, scope := range scopes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO scopes (root, enabled, updated_at) VALUES (?, ?, ?)",
			scope.Root, boolToInt(scope.Enabled), now,
		); err != nil {
			return fmt.Errorf("insert scope %s: %w", scope.Root, err)
		}
	}
	// Items from roots that are no longer configured are dropped from the index.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM items WHERE scope_root NOT IN (SELECT root FROM scopes)",
	); err != nil {
		return fmt.Errorf("prune items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scopes: %w", err)
	}
	return nil
}

func (s *store) listScopes(ctx context.Context) ([]retrieval.Scope, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT root, enabled FROM scopes ORDER BY root")
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	scopes := []retrieval.Scope{}
	for rows.Next() {
		var (
			scope   retrieval.Scope
			enabled int
		)
		if err := rows.Scan(&scope.Root, &enabled); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scope.Enabled = enabled != 0
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// Jobs

func (s *store) insertJob(ctx context.Context, id, root string) (*retrieval.BackfillJob, error) {
	now := time.Now().UTC()
	if _, err := s.exec(ctx,
		`INSERT INTO backfill_jobs (id, root, status, items_indexed, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?)`,
		id, root, retrieval.JobQueued, formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.getJob(ctx, id)
}

func (s *store) getJob(ctx context.Context, id string) (*retrieval.BackfillJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM backfill_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: backfill job %s", retrieval.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *store) listJobs(ctx context.Context) ([]retrieval.BackfillJob, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM backfill_jobs ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []retrieval.BackfillJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *store) setJobStatus(ctx context.Context, id string, status retrieval.JobStatus, errMsg string) error {
	now := formatTime(time.Now())
	query := "UPDATE backfill_jobs SET status = ?, error_message = ?, updated_at = ?"
	args := []any{status, nullableString(errMsg), now}
	switch {
	case status == retrieval.JobRunning:
		query += ", started_at = COALESCE(started_at, ?)"
		args = append(args, now)
	case status.Terminal():
		query += ", finished_at = ?"
		args = append(args, now)
	}
	query += " WHERE id = ?"
	args = append(args, id)
	if _, err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

func (s *store) setJobItems(ctx context.Context, id string, indexed int64) error {
	if _, err := s.exec(ctx,
		"UPDATE backfill_jobs SET items_indexed = ?, updated_at = ? WHERE id = ?",
		indexed, formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// failInterruptedJobs marks jobs left unfinished by a previous process.
func (s *store) failInterruptedJobs(ctx context.Context, reason string) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.exec(ctx,
		`UPDATE backfill_jobs SET status = ?, error_message = ?, updated_at = ?, finished_at = ?
         WHERE status IN (?, ?, ?)`,
		retrieval.JobFailed, reason, now, now,
		retrieval.JobQueued, retrieval.JobRunning, retrieval.JobPaused,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*retrieval.BackfillJob, error) {
	var (
		job        retrieval.BackfillJob
		status     string
		errMsg     sql.NullString
		createdRaw string
		updatedRaw string
		startedRaw sql.NullString
		finished   sql.NullString
	)
	if err := scanner.Scan(&job.ID, &job.Root, &status, &job.ItemsIndexed, &errMsg,
		&createdRaw, &updatedRaw, &startedRaw, &finished); err != nil {
		return nil, err
	}
	parsed, ok := retrieval.ParseJobStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	job.Status = parsed
	job.Error = errMsg.String
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.FinishedAt = parseNullableTime(finished)
	return &job, nil
}

// Items

func (s *store) upsertItem(ctx context.Context, it item) error {
	if _, err := s.exec(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET
             name = excluded.name, scope_root = excluded.scope_root, size = excluded.size,
             mime_type = excluded.mime_type, modified_at = excluded.modified_at,
             indexed_at = excluded.indexed_at`,
		it.ID, it.Path, it.Name, it.ScopeRoot, it.Size, it.MimeType,
		formatTime(it.ModifiedAt), formatTime(it.IndexedAt),
	); err != nil {
		return fmt.Errorf("upsert item %s: %w", it.Path, err)
	}
	return nil
}

func (s *store) getItem(ctx context.Context, id string) (*item, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", retrieval.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// searchItems returns items whose name contains query, case-insensitively,
// most recently modified first.
func (s *store) searchItems(ctx context.Context, query string, limit int) ([]item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+` FROM items
         WHERE name LIKE ? ESCAPE '\'
         ORDER BY modified_at DESC, name
         LIMIT ?`,
		"%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	var items []item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

type indexTotals struct {
	items         int64
	bytes         int64
	lastIndexedAt *time.Time
	byMimeType    map[string]int64
}

func (s *store) totals(ctx context.Context) (*indexTotals, error) {
	var (
		totals   indexTotals
		lastRaw  sql.NullString
		bytesSum sql.NullInt64
	)
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), SUM(size), MAX(indexed_at) FROM items",
	).Scan(&totals.items, &bytesSum, &lastRaw); err != nil {
		return nil, fmt.Errorf("item totals: %w", err)
	}
	totals.bytes = bytesSum.Int64
	totals.lastIndexedAt = parseNullableTime(lastRaw)

	rows, err := s.db.QueryContext(ctx, "SELECT mime_type, COUNT(1) FROM items GROUP BY mime_type")
	if err != nil {
		return nil, fmt.Errorf("item mime totals: %w", err)
	}
	defer rows.Close()
	totals.byMimeType = map[string]int64{}
	for rows.Next() {
		var (
			mimeType string
			count    int64
		)
		if err := rows.Scan(&mimeType, &count); err != nil {
			return nil, fmt.Errorf("scan mime totals: %w", err)
		}
		totals.byMimeType[mimeType] = count
	}
	return &totals, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*item, error) {
	var (
		it          item
		modifiedRaw string
		indexedRaw  string
	)
	if err := scanner.Scan(&it.ID, &it.Path, &it.Name, &it.ScopeRoot, &it.Size, &it.MimeType,
		&modifiedRaw, &indexedRaw); err != nil {
		return nil, err
	}
	it.ModifiedAt = parseTime(modifiedRaw)
	it.IndexedAt = parseTime(indexedRaw)
	return &it, nil
}

// Activity

const activityLimit = 100

func (s *store) recordActivity(ctx context.Context, jobID, kind, message string) error {
	if _, err := s.exec(ctx,
		"INSERT INTO activity (job_id, kind, message, created_at) VALUES (?, ?, ?, ?)",
		nullableString(jobID), kind, message, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (s *store) listActivity(ctx context.Context, limit int) ([]retrieval.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, kind, message, created_at FROM activity ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := []retrieval.ActivityEntry{}
	for rows.Next() {
		var (
			entry      retrieval.ActivityEntry
			jobID      sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &jobID, &entry.Kind, &entry.Message, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.JobID = jobID.String
		entry.CreatedAt = parseTime(createdRaw)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
