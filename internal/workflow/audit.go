package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/EstifanosTeklay/automaton-auditor/internal/activity"
	"github.com/EstifanosTeklay/automaton-auditor/internal/aggregation"
	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

// DefaultAuditTimeout bounds one RunAudit attempt when the request sets none.
const DefaultAuditTimeout = 30 * time.Minute

// DefaultMaxAttempts caps RunAudit attempts when the request sets none.
const DefaultMaxAttempts = 3

// AuditRequest is the workflow input.
type AuditRequest struct {
	RepoLocator string        `json:"repo_locator"`
	DocLocator  string        `json:"doc_locator"`
	Rubric      domain.Rubric `json:"rubric"`
	// Timeout bounds each activity attempt. Zero selects DefaultAuditTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MaxAttempts caps RunAudit attempts. Zero selects DefaultMaxAttempts.
	MaxAttempts int32 `json:"max_attempts,omitempty"`
}

// Validate checks the request before any activity is scheduled.
func (r AuditRequest) Validate() error {
	var errs []error
	if r.RepoLocator == "" {
		errs = append(errs, errors.New("repo locator is required"))
	}
	if r.DocLocator == "" {
		errs = append(errs, errors.New("doc locator is required"))
	}
	if r.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, errors.New("max attempts must not be negative"))
	}
	if err := domain.ValidateRubric(r.Rubric); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AuditResult is the workflow output.
type AuditResult struct {
	RunID    string              `json:"run_id"`
	Status   domain.RunStatus    `json:"status"`
	ExitCode int                 `json:"exit_code"`
	Summary  aggregation.Summary `json:"summary"`
	Outcome  *audit.Outcome      `json:"outcome"`
}

// AuditWorkflow runs one audit through the RunAudit activity. The workflow id
// doubles as the run id, so retried attempts update the same stored run.
func AuditWorkflow(ctx workflow.Context, req AuditRequest) (*AuditResult, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "audit.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid audit request", activity.ErrorValidation, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultAuditTimeout
	}
	attempts := req.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        attempts,
			NonRetryableErrorTypes: activity.NonRetryableTypes,
		},
	})

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger := workflow.GetLogger(ctx)
	logger.Info("audit workflow started", "run_id", runID, "repo", req.RepoLocator, "doc", req.DocLocator)

	var out audit.Outcome
	err := workflow.ExecuteActivity(ctx, activity.RunAuditName, activity.AuditInput{
		RunID:  runID,
		Inputs: domain.RunInputs{RepoLocator: req.RepoLocator, DocLocator: req.DocLocator},
		Rubric: req.Rubric,
	}).Get(ctx, &out)
	if err != nil {
		logger.Error("audit activity failed", "run_id", runID, "error", err)
		return nil, err
	}

	res := &AuditResult{
		RunID:    out.RunID,
		Status:   out.Status,
		ExitCode: audit.ExitCode(&out, nil),
		Summary:  out.Summary(),
		Outcome:  &out,
	}
	logger.Info("audit workflow finished", "run_id", runID, "status", res.Status)
	return res, nil
}
