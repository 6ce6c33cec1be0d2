// Package audit assembles the audit graph and runs it:
//
//	context_builder -> repo_investigator | doc_analyst -> evidence_aggregator
//
// The context builder re-validates the seeded rubric, the analyzers fan out
// concurrently and the aggregator waits behind the fan-in barrier.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EstifanosTeklay/automaton-auditor/internal/aggregation"
	"github.com/EstifanosTeklay/automaton-auditor/internal/analyzer"
	"github.com/EstifanosTeklay/automaton-auditor/internal/analyzer/doc"
	"github.com/EstifanosTeklay/automaton-auditor/internal/analyzer/repo"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// Request starts one audit.
type Request struct {
	// RunID identifies the run. A random id is generated when empty.
	RunID  string
	Inputs domain.RunInputs
	Rubric domain.Rubric
}

// Outcome is the finished run as reported to callers and persisted. Evidence
// carries the merged items only when the run ended without a report.
type Outcome struct {
	RunID      string                       `json:"run_id"`
	Inputs     domain.RunInputs             `json:"inputs"`
	Status     domain.RunStatus             `json:"status"`
	Report     *domain.Report               `json:"report,omitempty"`
	Evidence   []domain.EvidenceItem        `json:"evidence,omitempty"`
	Errors     map[string]string            `json:"errors"`
	Nodes      map[string]domain.NodeStatus `json:"nodes"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// Summary groups the report's dimensions by rollup.
func (o *Outcome) Summary() aggregation.Summary { return aggregation.Summarize(o.Report) }

// Runner builds and executes audit graphs. It is safe for concurrent use;
// each Run builds its own graph and state.
type Runner struct {
	cfg       engine.Config
	policy    aggregation.Policy
	analyzers []analyzer.Analyzer
}

// NewRunner returns a runner over the given analyzers. The policy's Sources
// are derived from the analyzers.
func NewRunner(cfg engine.Config, policy aggregation.Policy, analyzers ...analyzer.Analyzer) *Runner {
	policy.Sources = analyzer.Sources(analyzers...)
	return &Runner{cfg: cfg, policy: policy, analyzers: analyzers}
}

// Analyzers returns the bundled repository and document analyzers. A nil
// completer selects heuristic assessment.
func Analyzers(completer llm.Completer, repoOpts ...repo.Option) []analyzer.Analyzer {
	var repoAssessor, docAssessor *analyzer.Assessor
	if completer != nil {
		repoAssessor = analyzer.NewAssessor(completer, repo.Role)
		docAssessor = analyzer.NewAssessor(completer, doc.Role)
	}
	return []analyzer.Analyzer{
		repo.New(repoAssessor, repoOpts...),
		doc.New(docAssessor),
	}
}

// Graph builds the audit topology: the context builder fans out to every
// analyzer, and the aggregator waits on all of them.
func (r *Runner) Graph() (*engine.Graph, error) {
	agg, err := aggregation.New(r.policy)
	if err != nil {
		return nil, err
	}
	g := engine.NewGraph()
	if err := g.Register(ContextBuilder(), nil); err != nil {
		return nil, err
	}
	for _, a := range r.analyzers {
		if err := g.Register(analyzer.Node(a), []string{ContextNodeID}); err != nil {
			return nil, err
		}
	}
	if err := g.Register(agg, []string{ContextNodeID}); err != nil {
		return nil, err
	}
	for _, a := range r.analyzers {
		if err := g.Connect(a.ID(), aggregation.NodeID); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Run executes one audit. A malformed rubric fails with a *domain.SchemaError
// before any node runs. Otherwise an outcome is always returned, alongside a
// *domain.DeadlockError or a cancellation error when the run could not finish.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := domain.ValidateRubric(req.Rubric); err != nil {
		return nil, err
	}
	g, err := r.Graph()
	if err != nil {
		return nil, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := logging.FromContext(ctx).With("run_id", runID)
	ctx = logging.WithLogger(ctx, logger)
	logger.Info("audit started",
		"repo", req.Inputs.RepoLocator,
		"doc", req.Inputs.DocLocator,
		"dimensions", req.Rubric.Len())

	started := time.Now().UTC()
	res, runErr := engine.NewExecutor(g, r.cfg).Run(ctx, domain.NewRunState(req.Inputs, req.Rubric))
	if res == nil {
		return nil, runErr
	}

	nodes := make(map[string]domain.NodeStatus, len(res.Nodes))
	for id, nr := range res.Nodes {
		nodes[id] = nr.Status
	}
	out := &Outcome{
		RunID:      runID,
		Inputs:     req.Inputs,
		Status:     res.Status,
		Report:     res.State.Report,
		Errors:     res.State.ErrorSummary(),
		Nodes:      nodes,
		StartedAt:  started,
		FinishedAt: started.Add(res.Elapsed),
	}
	if out.Report == nil {
		out.Evidence = res.State.Evidence.Items()
	}
	sum := out.Summary()
	logger.Info("audit finished",
		"status", out.Status,
		"passed", len(sum.Passed),
		"failed", len(sum.Failed),
		"unassessed", len(sum.Unassessed))
	return out, runErr
}
