// Package store persists finished audit runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID          string           `json:"id"`
	RepoLocator string           `json:"repo_locator"`
	DocLocator  string           `json:"doc_locator"`
	Status      domain.RunStatus `json:"status"`
	ExitCode    int              `json:"exit_code"`
	Passed      int              `json:"passed"`
	Failed      int              `json:"failed"`
	Unassessed  int              `json:"unassessed"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Store defines the persistence operations for audit runs.
type Store interface {
	SaveRun(ctx context.Context, out *audit.Outcome) error
	GetRun(ctx context.Context, id string) (*audit.Outcome, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, int, error)
	Close() error
}
