package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Workspace directory naming and cleanup defaults.
const (
	workspacePrefix = "trimflow_"

	// DefaultCleanupAttempts is how many times removal is tried.
	DefaultCleanupAttempts = 3
	// DefaultCleanupBackoff is the pause between removal attempts.
	DefaultCleanupBackoff = 500 * time.Millisecond
)

// ErrOutsideRoot is returned when asked to remove a directory that is not a
// workspace under the storage root.
var ErrOutsideRoot = errors.New("path is not a workspace under the storage root")

// LocalStorage creates and removes run workspaces under a root directory.
type LocalStorage struct {
	root     string
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// LocalOption configures a LocalStorage.
type LocalOption func(*LocalStorage)

// WithCleanupRetry sets how many removal attempts are made and how long to
// wait between them. Non-positive values keep the defaults.
func WithCleanupRetry(attempts int, backoff time.Duration) LocalOption {
	return func(s *LocalStorage) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// WithLogger sets the logger used for workspace removal. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) LocalOption {
	return func(s *LocalStorage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewLocalStorage creates a new LocalStorage instance.
// If root is empty, a "trimflow" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string, opts ...LocalOption) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "trimflow")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	s := &LocalStorage{
		root:     root,
		attempts: DefaultCleanupAttempts,
		backoff:  DefaultCleanupBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the directory that holds workspaces.
func (s *LocalStorage) Root() string {
	return s.root
}

// CreateWorkspace makes a new uniquely named directory for one run.
func (s *LocalStorage) CreateWorkspace(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	dir := filepath.Join(s.root, workspacePrefix+strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// RemoveWorkspace deletes dir and its contents. Removal is retried with a
// pause in between, since clip handles of a process that just exited may
// still be held briefly on some platforms. Once ctx is done the pauses are
// skipped, but every attempt is still made.
func (s *LocalStorage) RemoveWorkspace(ctx context.Context, dir string) error {
	if !s.owns(dir) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, dir)
	}

	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = os.RemoveAll(dir); err == nil {
			s.logger.Debug("workspace removed",
				slog.String("workspace", dir),
				slog.Int("attempt", attempt),
			)
			return nil
		}
		s.logger.Debug("workspace removal failed",
			slog.String("workspace", dir),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < s.attempts {
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
			}
		}
	}
	return fmt.Errorf("remove workspace after %d attempts: %w", s.attempts, err)
}

// owns reports whether dir is a workspace directly under the root.
func (s *LocalStorage) owns(dir string) bool {
	rel, err := filepath.Rel(s.root, dir)
	if err != nil {
		return false
	}
	return !strings.Contains(rel, string(filepath.Separator)) &&
		strings.HasPrefix(rel, workspacePrefix)
}
