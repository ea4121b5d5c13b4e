package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"retrievald/internal/fileutil"
	"retrievald/internal/logging"
)

const (
	uploadsDirName = "Uploads"
	outputDirName  = "Output"
)

// Direction selects the input (upload) or output side of a task.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// ParseDirection converts a wire value into a Direction.
func ParseDirection(value string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(value))) {
	case DirectionInput:
		return DirectionInput, nil
	case DirectionOutput:
		return DirectionOutput, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, value)
	}
}

// StoredFile describes one file of a task. Exactly one of UploadedAt (inputs)
// and CreatedAt (outputs) is set.
type StoredFile struct {
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	MimeType   string     `json:"mimeType"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// FileData is the content of a stored file plus its derived MIME type.
type FileData struct {
	Name     string
	MimeType string
	Data     []byte
}

// Store manages task files below a base directory. It is safe for concurrent
// use; operations never run in parallel.
type Store struct {
	mu     sync.Mutex
	base   string
	logger *slog.Logger
}

// New returns a Store rooted at base. Directories are created lazily.
func New(base string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("filestore: base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve base directory: %w", err)
	}
	return &Store{
		base:   abs,
		logger: logging.NewComponentLogger(logger, "filestore"),
	}, nil
}

// Base returns the absolute base directory.
func (s *Store) Base() string {
	return s.base
}

// EnsureDirectories creates the Uploads and Output roots. Calling it again is a no-op.
func (s *Store) EnsureDirectories() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range []string{s.uploadsRoot(), s.outputRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// SaveUpload writes data under the sanitized filename in the task's upload
// directory, replacing any file of the same name, and returns its path.
func (s *Store) SaveUpload(ctx context.Context, data []byte, filename, taskID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := s.taskDir(DirectionInput, taskID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	name := SanitizeFilename(filename)
	path := filepath.Join(dir, name)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save upload %s: %w", name, err)
	}
	s.logger.Debug("upload saved",
		logging.String(logging.FieldTaskID, taskID),
		logging.String("name", name),
		logging.Int("bytes", len(data)),
	)
	return path, nil
}

// ListUploads describes the task's uploaded files. A task without uploads
// yields an empty slice.
func (s *Store) ListUploads(ctx context.Context, taskID string) ([]StoredFile, error) {
	return s.list(ctx, DirectionInput, taskID)
}

// ListOutputs describes the task's output files. A task without outputs
// yields an empty slice.
func (s *Store) ListOutputs(ctx context.Context, taskID string) ([]StoredFile, error) {
	return s.list(ctx, DirectionOutput, taskID)
}

// UploadPaths returns the absolute paths of the task's uploaded files.
func (s *Store) UploadPaths(ctx context.Context, taskID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.taskDir(DirectionInput, taskID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _, err := readDirIfExists(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !visible(entry) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

// StoreOutputs copies every regular file in outboxDir into the task's output
// directory. Existing files of the same name are removed before the copy; the
// outbox is left untouched. A missing outbox is not an error. It returns the
// number of files copied.
func (s *Store) StoreOutputs(ctx context.Context, outboxDir, taskID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir, err := s.taskDir(DirectionOutput, taskID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	entries, exists, err := readDirIfExists(outboxDir)
	if err != nil {
		return 0, err
	}
	if !exists {
		s.logger.Debug("outbox missing; nothing to collect",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("outbox", outboxDir),
		)
		return 0, nil
	}

	copied := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		// Only names that are already sanitized are collected, so distinct
		// outbox entries never map onto the same output.
		name := entry.Name()
		if SanitizeFilename(name) != name {
			s.logger.Debug("skipping outbox entry with unsafe name",
				logging.String(logging.FieldTaskID, taskID),
				logging.String("name", name),
			)
			continue
		}
		dst := filepath.Join(dir, name)
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return copied, fmt.Errorf("replace output %s: %w", name, err)
		}
		if err := fileutil.CopyFile(filepath.Join(outboxDir, name), dst); err != nil {
			return copied, fmt.Errorf("copy output %s: %w", name, err)
		}
		copied++
	}
	s.logger.Info("outputs collected",
		logging.String(logging.FieldTaskID, taskID),
		logging.String("outbox", outboxDir),
		logging.Int("files", copied),
	)
	return copied, nil
}

// FileData reads a file of the task. The name goes through the same
// sanitization used when saving, so a file saved as N is read back as N.
func (s *Store) FileData(ctx context.Context, taskID, filename string, direction Direction) (FileData, error) {
	if err := ctx.Err(); err != nil {
		return FileData{}, err
	}
	dir, err := s.taskDir(direction, taskID)
	if err != nil {
		return FileData{}, err
	}
	name := SanitizeFilename(filename)
	path := filepath.Join(dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileData{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return FileData{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return FileData{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileData{}, fmt.Errorf("read %s: %w", name, err)
	}
	return FileData{Name: name, MimeType: MimeType(name), Data: data}, nil
}

// DeleteTask removes the task's upload and output directories. Missing
// directories are not an error.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uploads, err := s.taskDir(DirectionInput, taskID)
	if err != nil {
		return err
	}
	outputs, err := s.taskDir(DirectionOutput, taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range []string{uploads, outputs} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	s.logger.Info("task files deleted", logging.String(logging.FieldTaskID, taskID))
	return nil
}

func (s *Store) list(ctx context.Context, direction Direction, taskID string) ([]StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.taskDir(direction, taskID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _, err := readDirIfExists(dir)
	if err != nil {
		return nil, err
	}
	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		if !visible(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		modified := info.ModTime().UTC()
		file := StoredFile{
			Name:     entry.Name(),
			Size:     info.Size(),
			MimeType: MimeType(entry.Name()),
		}
		if direction == DirectionInput {
			file.UploadedAt = &modified
		} else {
			file.CreatedAt = &modified
		}
		files = append(files, file)
	}
	return files, nil
}

func (s *Store) taskDir(direction Direction, taskID string) (string, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", err
	}
	switch direction {
	case DirectionInput:
		return filepath.Join(s.uploadsRoot(), taskID), nil
	case DirectionOutput:
		return filepath.Join(s.outputRoot(), taskID), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
}

func (s *Store) uploadsRoot() string {
	return filepath.Join(s.base, uploadsDirName)
}

func (s *Store) outputRoot() string {
	return filepath.Join(s.base, outputDirName)
}

// readDirIfExists lists dir; a missing dir yields exists=false and no error.
func readDirIfExists(dir string) (entries []os.DirEntry, exists bool, err error) {
	entries, err = os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", dir, err)
	}
	return entries, true, nil
}

// visible reports whether a directory entry is a stored file. Sanitized names
// never start with a dot, so dot-files are temporaries or foreign.
func visible(entry os.DirEntry) bool {
	return entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".")
}
