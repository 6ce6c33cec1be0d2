package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
)

func partialOutcome() *audit.Outcome {
	return &audit.Outcome{
		RunID:  "run-7",
		Inputs: domain.RunInputs{RepoLocator: "https://github.com/org/repo", DocLocator: "report.md"},
		Status: domain.RunPartial,
		Report: &domain.Report{Threshold: 0.5, Dimensions: []domain.DimensionReport{
			{
				Dimension: domain.RubricDimension{ID: "git_forensics"},
				Rollup:    domain.RollupPass,
				Items: []domain.EvidenceItem{{
					DimensionID: "git_forensics", Verdict: true, Confidence: 0.9,
					Location: "git log", Rationale: "atomic history", SourceNode: "repo_investigator",
				}},
			},
			{
				Dimension: domain.RubricDimension{ID: "theoretical_depth"},
				Rollup:    domain.RollupUnassessed,
				BlockedBy: []string{"doc_analyst"},
			},
		}},
		Errors: map[string]string{"doc_analyst": "timeout: node exceeded 5m0s"},
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ASCII, "table": ASCII, "MD": Markdown, "markdown": Markdown} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("yaml")
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	got := Outcome(partialOutcome(), ASCII)

	assert.Contains(t, got, "Status: partial")
	assert.Contains(t, got, "git_forensics")
	assert.Contains(t, got, "0.90")
	assert.Contains(t, got, "git log: atomic history")
	assert.Contains(t, got, "1 pass / 0 fail / 1 unassessed")
	assert.Contains(t, got, "doc_analyst")
	assert.Contains(t, got, "timeout: node exceeded 5m0s")
	assert.Less(t, strings.Index(got, "git_forensics"), strings.Index(got, "theoretical_depth"), "rubric order")
}

func TestOutcome_Markdown(t *testing.T) {
	got := Outcome(partialOutcome(), Markdown)
	assert.Contains(t, got, "| Dimension |")
	assert.Contains(t, got, "| --- |")
}

func TestOutcome_NoReport(t *testing.T) {
	out := &audit.Outcome{RunID: "r", Status: domain.RunFailed, Errors: map[string]string{}}
	assert.Contains(t, Outcome(out, ASCII), "0 pass / 0 fail / 0 unassessed")
}

func TestOutcome_DeadlockedShowsMergedEvidence(t *testing.T) {
	out := &audit.Outcome{
		RunID:  "r",
		Status: domain.RunDeadlocked,
		Evidence: []domain.EvidenceItem{{
			DimensionID: "git_forensics", Verdict: true, Confidence: 0.8,
			Location: "git log", Rationale: "atomic history", SourceNode: "repo_investigator",
		}},
		Errors: map[string]string{
			"doc_analyst":         "failed-fatal: node panicked: boom",
			"evidence_aggregator": "skipped: skipped due to upstream failure of 'doc_analyst'",
		},
	}
	got := Outcome(out, ASCII)
	assert.Contains(t, got, "Status: deadlocked")
	assert.Contains(t, got, "Evidence merged before the run stopped")
	assert.Contains(t, got, "repo_investigator")
	assert.Contains(t, got, "failed-fatal: node panicked: boom")
	assert.Contains(t, got, "evidence_aggregator")
}

func TestRuns(t *testing.T) {
	runs := []store.RunSummary{{
		ID: "run-1", Status: domain.RunComplete, Passed: 5, Failed: 2, Unassessed: 1,
		StartedAt: time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC), RepoLocator: "https://github.com/org/repo",
	}}
	got := Runs(runs, 12, ASCII)
	assert.Contains(t, got, "run-1")
	assert.Contains(t, got, "2026-10-01 09:30:00")
	assert.Contains(t, got, "1 of 12")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, partialOutcome()))

	var decoded audit.Outcome
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-7", decoded.RunID)
	assert.Contains(t, buf.String(), "\n  \"run_id\"")
}

func TestStatusLine(t *testing.T) {
	out := partialOutcome()
	assert.Equal(t, "audit run-7 partial: 1 node(s) failed (exit 2)", StatusLine(out))
	out.Status = domain.RunComplete
	assert.Equal(t, "audit run-7 complete (exit 0)", StatusLine(out))
	out.Status = domain.RunFailed
	assert.Equal(t, "audit run-7 failed (exit 1)", StatusLine(out))
}
