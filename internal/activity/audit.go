// Package activity implements the Temporal activity that runs an audit.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
	base "github.com/EstifanosTeklay/automaton-auditor/pkg/activity"
	"github.com/EstifanosTeklay/automaton-auditor/pkg/events"
)

// RunAuditName is the registered activity name.
const RunAuditName = "RunAudit"

const eventSource = "audit-activity"

// HeartbeatInterval is how often RunAudit heartbeats while the graph runs.
// Workflows set a heartbeat timeout comfortably above it.
var HeartbeatInterval = 10 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

// AuditInput is the RunAudit argument.
type AuditInput struct {
	// RunID names the run. Workflows pass their workflow id so that retried
	// attempts overwrite the same stored run.
	RunID  string           `json:"run_id" validate:"required"`
	Inputs domain.RunInputs `json:"inputs"`
	Rubric domain.Rubric    `json:"rubric"`
}

// CompletedPayload is the audit.completed event body.
type CompletedPayload struct {
	Status     domain.RunStatus  `json:"status"`
	ExitCode   int               `json:"exit_code"`
	Passed     []string          `json:"passed"`
	Failed     []string          `json:"failed"`
	Unassessed []string          `json:"unassessed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Activities runs audits on behalf of workflows.
type Activities struct {
	base.BaseActivities
	runner *audit.Runner
	store  store.Store
}

// NewActivities returns the audit activities. st may be nil to skip
// persistence.
func NewActivities(b base.BaseActivities, runner *audit.Runner, st store.Store) *Activities {
	return &Activities{BaseActivities: b, runner: runner, store: st}
}

// RunAudit executes one audit graph and returns its outcome. Partial runs
// succeed; the workflow inspects the status. A deadlocked run is persisted and
// its outcome is returned together with a non-retryable Executor error, so
// in-process callers can still report which nodes failed or were skipped.
func (a *Activities) RunAudit(ctx context.Context, in AuditInput) (*audit.Outcome, error) {
	if a.runner == nil {
		return nil, nonRetryable(ErrorValidation, ErrActivityValidation, "no audit runner configured")
	}
	if err := validate.Struct(in); err != nil {
		return nil, nonRetryable(ErrorValidation, fmt.Errorf("%w: %w", ErrActivityValidation, err), "invalid audit input")
	}

	wf := a.GetWorkflowContext(ctx)
	base.SafeLog(ctx, "audit activity started",
		"run_id", in.RunID,
		"workflow_id", wf.WorkflowID,
		"repo", in.Inputs.RepoLocator,
		"doc", in.Inputs.DocLocator)

	stop := a.heartbeat(ctx, in.RunID)
	out, err := a.runner.Run(ctx, audit.Request{RunID: in.RunID, Inputs: in.Inputs, Rubric: in.Rubric})
	stop()

	if out == nil {
		base.SafeLogError(ctx, "audit did not run", "run_id", in.RunID, "error", err)
		return nil, classify(err)
	}
	if err != nil && !errors.Is(err, domain.ErrDeadlock) {
		// Cancelled mid-run: let Temporal decide whether to retry.
		return nil, classify(err)
	}

	a.emitCompleted(ctx, wf, out)

	if a.store != nil {
		if serr := a.store.SaveRun(ctx, out); serr != nil {
			return nil, fmt.Errorf("persist run %s: %w", out.RunID, serr)
		}
	}
	if err != nil {
		return out, classify(err)
	}
	return out, nil
}

// heartbeat records a heartbeat every HeartbeatInterval until the returned
// stop function is called.
func (a *Activities) heartbeat(ctx context.Context, runID string) (stop func()) {
	done := make(chan struct{})
	ticker := time.NewTicker(HeartbeatInterval)
	a.RecordHeartbeat(ctx, runID)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.RecordHeartbeat(ctx, runID)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

func (a *Activities) emitCompleted(ctx context.Context, wf base.WorkflowContext, out *audit.Outcome) {
	sum := out.Summary()
	env, err := events.New(events.TypeAuditCompleted, eventSource, wf.WorkflowID, out.RunID, CompletedPayload{
		Status:     out.Status,
		ExitCode:   audit.ExitCode(out, nil),
		Passed:     sum.Passed,
		Failed:     sum.Failed,
		Unassessed: sum.Unassessed,
		Errors:     out.Errors,
	})
	if err != nil {
		base.SafeLogError(ctx, "build completion event", "run_id", out.RunID, "error", err)
		return
	}
	a.EmitEventSafe(ctx, env)
}
