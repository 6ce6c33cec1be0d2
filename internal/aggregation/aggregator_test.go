package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
)

func scenarioRubric(t *testing.T) domain.Rubric {
	t.Helper()
	r, err := domain.NewRubric(
		domain.RubricDimension{ID: "git_forensics", Title: "Git Forensics", Weight: 1, TargetArtifact: domain.TargetRepository},
		domain.RubricDimension{ID: "state_rigor", Title: "State Rigor", Weight: 1, TargetArtifact: domain.TargetDocument},
	)
	require.NoError(t, err)
	return r
}

func ev(dim string, verdict bool, conf float64, loc string) domain.EvidenceItem {
	return domain.EvidenceItem{DimensionID: dim, Verdict: verdict, Confidence: conf, Location: loc, Rationale: "observed"}
}

// auditGraph wires two analyzers behind a fan-in aggregator.
func auditGraph(t *testing.T, a, b engine.Node) *engine.Graph {
	t.Helper()
	agg, err := New(Policy{
		Threshold: DefaultThreshold,
		Sources:   map[string][]string{"A": {domain.TargetRepository}, "B": {domain.TargetDocument}},
	})
	require.NoError(t, err)

	g := engine.NewGraph()
	require.NoError(t, g.Register(a, nil))
	require.NoError(t, g.Register(b, nil))
	require.NoError(t, g.Register(agg, []string{"A", "B"}))
	return g
}

func emitter(id string, items ...domain.EvidenceItem) engine.Node {
	return engine.NewNode(id, func(context.Context, domain.Snapshot) (domain.Patch, error) {
		return domain.Patch{Evidence: items}, nil
	})
}

func TestEndToEnd_DistinctSourcesAreKept(t *testing.T) {
	g := auditGraph(t,
		emitter("A", ev("git_forensics", true, 0.9, "git log")),
		emitter("B", ev("state_rigor", false, 0.6, "report.md"), ev("git_forensics", true, 0.4, "git log")),
	)

	res, err := engine.NewExecutor(g, engine.Config{}).Run(context.Background(), domain.NewRunState(domain.RunInputs{}, scenarioRubric(t)))
	require.NoError(t, err)
	require.NotNil(t, res.State.Report)
	assert.Equal(t, domain.RunComplete, res.Status)

	git, ok := res.State.Report.Dimension("git_forensics")
	require.True(t, ok)
	require.Len(t, git.Items, 2, "same location from different nodes is not collapsed")
	assert.Equal(t, "A", git.Items[0].SourceNode, "ordered by descending confidence")
	assert.Equal(t, domain.RollupPass, git.Rollup)

	state, ok := res.State.Report.Dimension("state_rigor")
	require.True(t, ok)
	assert.Len(t, state.Items, 1)
	assert.Equal(t, domain.RollupFail, state.Rollup)

	assert.Equal(t, []string{"git_forensics", "state_rigor"},
		[]string{res.State.Report.Dimensions[0].Dimension.ID, res.State.Report.Dimensions[1].Dimension.ID})
}

func TestEndToEnd_SameKeyCollapses(t *testing.T) {
	g := auditGraph(t,
		emitter("A", ev("git_forensics", true, 0.9, "git log"), ev("git_forensics", true, 0.7, "git log")),
		emitter("B", ev("state_rigor", false, 0.6, "report.md")),
	)

	res, err := engine.NewExecutor(g, engine.Config{}).Run(context.Background(), domain.NewRunState(domain.RunInputs{}, scenarioRubric(t)))
	require.NoError(t, err)

	git, _ := res.State.Report.Dimension("git_forensics")
	require.Len(t, git.Items, 1)
	assert.InDelta(t, 0.9, git.Items[0].Confidence, 1e-9, "higher confidence wins the key")
}

func TestEndToEnd_TimeoutLeavesDimensionUnassessed(t *testing.T) {
	slow := engine.NewNode("B", func(ctx context.Context, _ domain.Snapshot) (domain.Patch, error) {
		<-ctx.Done()
		return domain.Patch{}, ctx.Err()
	})
	g := auditGraph(t, emitter("A", ev("git_forensics", true, 0.9, "git log")), slow)

	res, err := engine.NewExecutor(g, engine.Config{NodeTimeout: 30 * time.Millisecond}).
		Run(context.Background(), domain.NewRunState(domain.RunInputs{}, scenarioRubric(t)))
	require.NoError(t, err)

	assert.Equal(t, domain.RunPartial, res.Status)
	assert.False(t, res.Status.Fatal())
	require.NotNil(t, res.State.Report)

	state, _ := res.State.Report.Dimension("state_rigor")
	assert.Equal(t, domain.RollupUnassessed, state.Rollup)
	assert.Equal(t, []string{"B"}, state.BlockedBy)
	assert.Empty(t, state.Items)

	git, _ := res.State.Report.Dimension("git_forensics")
	assert.Equal(t, domain.RollupPass, git.Rollup)
	assert.Empty(t, git.BlockedBy)
}

func TestBuild(t *testing.T) {
	rubric := scenarioRubric(t)
	items := []domain.EvidenceItem{
		{DimensionID: "git_forensics", Verdict: false, Confidence: 0.8, Location: "b", SourceNode: "B"},
		{DimensionID: "git_forensics", Verdict: true, Confidence: 0.8, Location: "a", SourceNode: "A"},
		{DimensionID: "git_forensics", Verdict: true, Confidence: 0.5, Location: "z", SourceNode: "A"},
	}

	got := Build(rubric, items, map[string]domain.NodeError{
		"B":   {Node: "B", Status: domain.NodeFailedSoft, Kind: domain.KindTimeout},
		"agg": {Node: "agg", Status: domain.NodeSucceeded},
	}, Policy{Threshold: 0.5})

	want := &domain.Report{
		Threshold: 0.5,
		Dimensions: []domain.DimensionReport{
			{
				Dimension: rubric.Dimensions[0],
				Items:     []domain.EvidenceItem{items[1], items[0], items[2]},
				Rollup:    domain.RollupPass,
			},
			{
				Dimension: rubric.Dimensions[1],
				Items:     []domain.EvidenceItem{},
				Rollup:    domain.RollupUnassessed,
				BlockedBy: []string{"B"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestRollup(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.EvidenceItem
		want  domain.Rollup
	}{
		{name: "no evidence", want: domain.RollupUnassessed},
		{name: "affirmative above threshold", items: []domain.EvidenceItem{ev("d", true, 0.51, "x")}, want: domain.RollupPass},
		{name: "affirmative at threshold", items: []domain.EvidenceItem{ev("d", true, 0.5, "x")}, want: domain.RollupFail},
		{name: "negative high confidence", items: []domain.EvidenceItem{ev("d", false, 1, "x")}, want: domain.RollupFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rollup(tt.items, 0.5))
		})
	}
}

func TestNew_RejectsBadThreshold(t *testing.T) {
	_, err := New(Policy{Threshold: 1.5})
	require.Error(t, err)

	a, err := New(DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, NodeID, a.ID())
}

func TestSummarize(t *testing.T) {
	report := &domain.Report{Dimensions: []domain.DimensionReport{
		{Dimension: domain.RubricDimension{ID: "a"}, Rollup: domain.RollupPass, Items: make([]domain.EvidenceItem, 2)},
		{Dimension: domain.RubricDimension{ID: "b"}, Rollup: domain.RollupFail, Items: make([]domain.EvidenceItem, 1)},
		{Dimension: domain.RubricDimension{ID: "c"}, Rollup: domain.RollupUnassessed},
	}}

	s := Summarize(report)
	assert.Equal(t, []string{"a"}, s.Passed)
	assert.Equal(t, []string{"b"}, s.Failed)
	assert.Equal(t, []string{"c"}, s.Unassessed)
	assert.Equal(t, 3, s.Items)

	empty := Summarize(nil)
	assert.Empty(t, empty.Passed)
	assert.Zero(t, empty.Items)
}
