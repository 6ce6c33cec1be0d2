//nolint:testpackage // classify is unexported
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/EstifanosTeklay/automaton-auditor/internal/aggregation"
	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
	base "github.com/EstifanosTeklay/automaton-auditor/pkg/activity"
	"github.com/EstifanosTeklay/automaton-auditor/pkg/events"
)

type repoStub struct{}

func (repoStub) ID() string        { return "repo_investigator" }
func (repoStub) Targets() []string { return []string{domain.TargetRepository} }
func (repoStub) Analyze(context.Context, domain.Snapshot) ([]domain.EvidenceItem, error) {
	return []domain.EvidenceItem{{
		DimensionID: "git_forensics", Verdict: true, Confidence: 0.8,
		Location: "git log", Rationale: "atomic history", SourceNode: "repo_investigator",
	}}, nil
}

type recordingSink struct {
	mu  sync.Mutex
	got []events.Envelope
}

func (s *recordingSink) Append(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return nil
}

func testRubric(t *testing.T) domain.Rubric {
	t.Helper()
	r, err := domain.NewRubric(
		domain.RubricDimension{ID: "git_forensics", Title: "Git", Weight: 1, TargetArtifact: domain.TargetRepository},
		domain.RubricDimension{ID: "diagrams", Title: "Diagrams", Weight: 1, TargetArtifact: domain.TargetImages},
	)
	require.NoError(t, err)
	return r
}

func newTestActivities(t *testing.T) (*Activities, *recordingSink, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	sink := &recordingSink{}
	runner := audit.NewRunner(engine.Config{NodeTimeout: 5 * time.Second}, aggregation.DefaultPolicy(), repoStub{})
	return NewActivities(base.NewBaseActivities(sink), runner, st), sink, st
}

func executeRunAudit(t *testing.T, a *Activities, in AuditInput) (*audit.Outcome, error) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivityWithOptions(a.RunAudit, sdkactivity.RegisterOptions{Name: RunAuditName})

	val, err := env.ExecuteActivity(RunAuditName, in)
	if err != nil {
		return nil, err
	}
	var out audit.Outcome
	require.NoError(t, val.Get(&out))
	return &out, nil
}

func TestRunAudit(t *testing.T) {
	a, sink, st := newTestActivities(t)
	in := AuditInput{
		RunID:  "audit-wf-1",
		Inputs: domain.RunInputs{RepoLocator: "https://github.com/org/repo", DocLocator: "report.md"},
		Rubric: testRubric(t),
	}

	out, err := executeRunAudit(t, a, in)
	require.NoError(t, err)
	assert.Equal(t, "audit-wf-1", out.RunID)
	assert.Equal(t, domain.RunComplete, out.Status)

	git, ok := out.Report.Dimension("git_forensics")
	require.True(t, ok)
	assert.Equal(t, domain.RollupPass, git.Rollup)
	diagrams, ok := out.Report.Dimension("diagrams")
	require.True(t, ok)
	assert.Equal(t, domain.RollupUnassessed, diagrams.Rollup)

	stored, err := st.GetRun(context.Background(), "audit-wf-1")
	require.NoError(t, err)
	assert.Equal(t, out.Status, stored.Status)

	require.Len(t, sink.got, 1)
	env := sink.got[0]
	assert.Equal(t, events.TypeAuditCompleted, env.Type)
	assert.Equal(t, "audit.completed:audit-wf-1", env.IdempotencyKey)
	assert.NotEmpty(t, env.WorkflowID)

	var payload CompletedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, []string{"git_forensics"}, payload.Passed)
	assert.Equal(t, []string{"diagrams"}, payload.Unassessed)
	assert.Equal(t, audit.ExitComplete, payload.ExitCode)
}

func TestRunAudit_NonRetryable(t *testing.T) {
	tests := []struct {
		name     string
		in       AuditInput
		wantType string
	}{
		{name: "missing run id", in: AuditInput{Rubric: domain.Rubric{}}, wantType: ErrorValidation},
		{name: "empty rubric", in: AuditInput{RunID: "r1"}, wantType: ErrorSchema},
		{
			name: "duplicate dimension",
			in: AuditInput{RunID: "r2", Rubric: domain.Rubric{Dimensions: []domain.RubricDimension{
				{ID: "a", Weight: 1}, {ID: "a", Weight: 1},
			}}},
			wantType: ErrorSchema,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sink, _ := newTestActivities(t)
			_, err := executeRunAudit(t, a, tt.in)
			require.Error(t, err)

			var appErr *temporal.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantType, appErr.Type())
			assert.True(t, appErr.NonRetryable())
			assert.Empty(t, sink.got, "no event for a run that never started")
		})
	}
}

func TestRunAudit_NoRunner(t *testing.T) {
	a := NewActivities(base.NewBaseActivities(nil), nil, nil)
	_, err := a.RunAudit(context.Background(), AuditInput{RunID: "r"})

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrorValidation, appErr.Type())
}

func TestRunAudit_OutsideWorker(t *testing.T) {
	runner := audit.NewRunner(engine.Config{}, aggregation.DefaultPolicy(), repoStub{})
	sink := &recordingSink{}
	a := NewActivities(base.NewBaseActivities(sink), runner, nil)

	out, err := a.RunAudit(context.Background(), AuditInput{RunID: "cli-1", Rubric: testRubric(t)})
	require.NoError(t, err)
	assert.Equal(t, domain.RunComplete, out.Status)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "local", sink.got[0].WorkflowID)
}

func TestRunAudit_Cancelled(t *testing.T) {
	blocking := audit.NewRunner(engine.Config{}, aggregation.DefaultPolicy(), blockingStub{})
	a := NewActivities(base.NewBaseActivities(nil), blocking, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.RunAudit(ctx, AuditInput{RunID: "r", Rubric: testRubric(t)})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	assert.False(t, errors.As(err, &appErr), "cancellation stays retryable")
}

type blockingStub struct{ repoStub }

func (blockingStub) Analyze(ctx context.Context, _ domain.Snapshot) ([]domain.EvidenceItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fatalDocStub struct{}

func (fatalDocStub) ID() string        { return "doc_analyst" }
func (fatalDocStub) Targets() []string { return []string{domain.TargetDocument} }
func (fatalDocStub) Analyze(context.Context, domain.Snapshot) ([]domain.EvidenceItem, error) {
	return nil, engine.Fatal(errors.New("document store corrupted"))
}

func TestRunAudit_DeadlockKeepsOutcome(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	runner := audit.NewRunner(engine.Config{}, aggregation.DefaultPolicy(), repoStub{}, fatalDocStub{})
	a := NewActivities(base.NewBaseActivities(nil), runner, st)

	out, err := a.RunAudit(context.Background(), AuditInput{RunID: "stuck-1", Rubric: testRubric(t)})

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrorExecutor, appErr.Type())
	assert.True(t, appErr.NonRetryable())
	assert.ErrorIs(t, err, domain.ErrDeadlock)

	require.NotNil(t, out)
	assert.Equal(t, domain.RunDeadlocked, out.Status)
	assert.Nil(t, out.Report)
	require.Len(t, out.Evidence, 1)
	assert.Equal(t, "repo_investigator", out.Evidence[0].SourceNode)
	assert.Contains(t, out.Errors["doc_analyst"], "document store corrupted")
	assert.Contains(t, out.Errors, aggregation.NodeID)
	assert.Equal(t, audit.ExitFatal, audit.ExitCode(out, err))

	stored, err := st.GetRun(context.Background(), "stuck-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunDeadlocked, stored.Status)
	assert.Len(t, stored.Evidence, 1)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
	}{
		{name: "schema", err: domain.NewSchemaError("rubric", "", "", "bad"), wantType: ErrorSchema},
		{name: "executor", err: &domain.ExecutorError{Node: "n", Reason: "cycle"}, wantType: ErrorExecutor},
		{name: "deadlock", err: &domain.DeadlockError{Blocking: "n"}, wantType: ErrorExecutor},
		{name: "cancelled", err: context.Canceled},
		{name: "other", err: errors.New("disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			require.Error(t, got)
			var appErr *temporal.ApplicationError
			if tt.wantType == "" {
				assert.False(t, errors.As(got, &appErr))
				assert.ErrorIs(t, got, tt.err)
				return
			}
			require.ErrorAs(t, got, &appErr)
			assert.Equal(t, tt.wantType, appErr.Type())
			assert.True(t, appErr.NonRetryable())
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, classify(nil))
}
