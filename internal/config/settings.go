package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"retrievald/internal/fileutil"
)

// Settings is the generated, persisted state shared by the daemon and its
// clients: the API token and the roots the engine and outbox collection may
// touch. It is immutable after load.
type Settings struct {
	Token     string   `json:"token"`
	Allowlist []string `json:"allowlist"`
}

// ErrOutsideAllowlist reports a path that is not below any allowlisted root.
var ErrOutsideAllowlist = errors.New("path outside allowlist")

// LoadOrCreateSettings reads the settings file at path. When the file does not
// exist, a fresh token and the default allowlist are generated and written
// atomically; created reports whether that happened. Generation is guarded by
// a file lock so concurrent first starts produce a single token.
func LoadOrCreateSettings(path string) (settings *Settings, created bool, err error) {
	if strings.TrimSpace(path) == "" {
		return nil, false, errors.New("settings path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("create settings directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, false, fmt.Errorf("lock settings: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	settings, err = ReadSettings(path)
	if err == nil {
		return settings, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	settings, err = defaultSettings()
	if err != nil {
		return nil, false, err
	}
	if err := writeSettingsAtomic(path, settings); err != nil {
		return nil, false, err
	}
	return settings, true, nil
}

// ReadSettings parses an existing settings file.
func ReadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if strings.TrimSpace(settings.Token) == "" {
		return nil, fmt.Errorf("parse settings %s: token is empty", path)
	}
	roots := make([]string, 0, len(settings.Allowlist))
	for _, root := range settings.Allowlist {
		expanded, err := expandPath(strings.TrimSpace(root))
		if err != nil || expanded == "" {
			continue
		}
		roots = append(roots, expanded)
	}
	settings.Allowlist = roots
	return &settings, nil
}

// Allows reports whether target, with symlinks resolved, lies at or below one
// of the allowlisted roots.
func (s *Settings) Allows(target string) bool {
	_, err := s.Resolve(target)
	return err == nil
}

// CheckAllowed returns ErrOutsideAllowlist when target is not allowlisted.
func (s *Settings) CheckAllowed(target string) error {
	_, err := s.Resolve(target)
	return err
}

// Resolve returns target with symlinks evaluated, or ErrOutsideAllowlist when
// the resolved path is not below an allowlisted root (roots are resolved the
// same way). Callers should use the returned path rather than target so the
// checked location is the one they touch. Components that do not exist yet
// are kept as written below their deepest existing ancestor.
func (s *Settings) Resolve(target string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideAllowlist, target)
	}
	resolved, err := resolvePath(target)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideAllowlist, target)
	}
	for _, root := range s.Allowlist {
		resolvedRoot, err := resolvePath(root)
		if err != nil {
			continue
		}
		if within(resolvedRoot, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideAllowlist, target)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolvePath makes path absolute and evaluates symlinks in its longest
// existing prefix.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	var missing []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

func defaultSettings() (*Settings, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Settings{
		Token: token,
		Allowlist: []string{
			filepath.Join(home, "Documents"),
			filepath.Join(home, "Desktop"),
		},
	}, nil
}

// GenerateToken returns a random 256-bit token encoded as hex.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func writeSettingsAtomic(path string, settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
