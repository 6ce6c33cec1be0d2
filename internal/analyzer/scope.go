package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Scope owns the temporary resources of one analyzer execution. Close
// releases all of them and is safe to call more than once, so callers defer
// it right after creation.
type Scope struct {
	mu      sync.Mutex
	dirs    []string
	closers []func() error
	closed  bool
}

// NewScope returns an empty scope.
func NewScope() *Scope { return &Scope{} }

// TempDir creates a temporary directory removed when the scope closes.
func (s *Scope) TempDir(pattern string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.New("scope is closed")
	}
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	s.dirs = append(s.dirs, dir)
	return dir, nil
}

// Defer registers fn to run on Close, in reverse registration order.
func (s *Scope) Defer(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close runs registered closers and removes temporary directories.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	for _, dir := range s.dirs {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove temp dir", "dir", dir, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
