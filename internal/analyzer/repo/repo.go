// Package repo implements the repository investigator: it obtains the
// submitted source tree (a shallow clone of an allowed remote or a local
// directory), extracts commit history, file listing and structural signals,
// and assesses the repository-targeted rubric dimensions.
package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/EstifanosTeklay/automaton-auditor/internal/analyzer"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// NodeID is the graph id of the repository investigator.
const NodeID = "repo_investigator"

// Role is the persona of the model prompt.
const Role = "You are a forensic code investigator. Your job is to interpret technical " +
	"evidence from a repository analysis and produce a structured JSON Evidence object."

const (
	maxPromptFiles   = 60
	maxPromptCommits = 10
	maxPromptEdges   = 20
)

// Facts is everything the investigator learned about a repository.
type Facts struct {
	Locator  string            `json:"repo_url"`
	Files    []string          `json:"files"`
	History  History           `json:"git_history"`
	Signals  Signals           `json:"graph_analysis"`
	Snippets map[string]string `json:"key_snippets"`
}

// Summary is the compact view of Facts sent to the model.
func (f Facts) Summary() map[string]any {
	return map[string]any{
		"commit_count":   f.History.Count,
		"commit_pattern": f.History.Pattern,
		"commits":        head(f.History.Commits, maxPromptCommits),
		"files":          head(f.Files, maxPromptFiles),
		"signals":        f.Signals,
		"add_edge_calls": head(f.Signals.EdgeCalls, maxPromptEdges),
		"key_snippets":   f.Snippets,
		"history_error":  f.History.Error,
	}
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Analyzer is the repository investigator.
type Analyzer struct {
	git        Git
	assessor   *analyzer.Assessor
	allowLocal bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithGit overrides the git runner.
func WithGit(g Git) Option { return func(a *Analyzer) { a.git = g } }

// WithLocalRepos lets the locator name a local directory, which is inspected
// in place.
func WithLocalRepos() Option { return func(a *Analyzer) { a.allowLocal = true } }

// New returns an investigator. A nil assessor selects heuristic assessment.
func New(assessor *analyzer.Assessor, opts ...Option) *Analyzer {
	a := &Analyzer{assessor: assessor}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID implements analyzer.Analyzer.
func (a *Analyzer) ID() string { return NodeID }

// Targets implements analyzer.Analyzer.
func (a *Analyzer) Targets() []string { return []string{domain.TargetRepository} }

// Analyze implements analyzer.Analyzer. A cloned tree lives in a scoped
// temporary directory that is removed before Analyze returns.
func (a *Analyzer) Analyze(ctx context.Context, snap domain.Snapshot) ([]domain.EvidenceItem, error) {
	dims := analyzer.Dimensions(snap.Rubric(), a.Targets())
	if len(dims) == 0 {
		return nil, nil
	}
	locator := snap.Inputs().RepoLocator

	scope := analyzer.NewScope()
	defer func() { _ = scope.Close() }()

	root, err := a.Checkout(ctx, scope, locator)
	if err != nil {
		return nil, err
	}

	facts, err := a.Inspect(ctx, root, locator)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("repository inspected",
		"files", len(facts.Files),
		"commits", facts.History.Count,
		"pattern", facts.History.Pattern)

	summary := facts.Summary()
	return analyzer.AssessAll(ctx, a.assessor, dims,
		func(domain.RubricDimension) any { return summary },
		func(dim domain.RubricDimension) analyzer.Finding { return Heuristic(dim, facts) },
		NodeID, locator)
}

// Checkout returns a directory holding the tree named by locator, cloning
// remote locators into scope.
func (a *Analyzer) Checkout(ctx context.Context, scope *analyzer.Scope, locator string) (string, error) {
	remote, err := Resolve(locator, a.allowLocal)
	if err != nil {
		return "", &domain.CollaboratorError{Collaborator: "git", Op: "resolve locator", Err: err}
	}
	if !remote {
		return locator, nil
	}
	dir, err := scope.TempDir("auditor-repo-")
	if err != nil {
		return "", &domain.CollaboratorError{Collaborator: "filesystem", Op: "create clone dir", Err: err}
	}
	root := filepath.Join(dir, "repo")
	if err := a.git.Clone(ctx, locator, root); err != nil {
		return "", err
	}
	return root, nil
}

// Inspect collects facts about the tree at root.
func (a *Analyzer) Inspect(ctx context.Context, root, locator string) (Facts, error) {
	files, err := ListFiles(root, Extensions)
	if err != nil {
		return Facts{}, &domain.CollaboratorError{Collaborator: "filesystem", Op: "list files", Err: err}
	}
	if files == nil {
		files = []string{}
	}
	return Facts{
		Locator:  locator,
		Files:    files,
		History:  a.git.Log(ctx, root),
		Signals:  DetectSignals(root),
		Snippets: Snippets(root),
	}, nil
}

type rule struct {
	name     string
	keywords []string
	location string
	holds    func(Facts) bool
}

var rules = []rule{
	{"atomic commit history", []string{"commit", "history", "git "}, "git log",
		func(f Facts) bool { return f.History.Pattern == PatternAtomic }},
	{"parallel fan-out", []string{"parallel", "fan-out", "fan out", "concurren"}, "src/graph.py",
		func(f Facts) bool { return f.Signals.ParallelFanOut }},
	{"evidence aggregator", []string{"aggregat", "fan-in", "fan in", "barrier"}, "src/graph.py",
		func(f Facts) bool { return f.Signals.AggregatorNode }},
	{"state graph", []string{"graph", "orchestrat"}, "src/graph.py",
		func(f Facts) bool { return f.Signals.StateGraph }},
	{"typed state", []string{"state", "schema", "pydantic", "typed"}, "src/state.py",
		func(f Facts) bool { return f.Signals.TypedModels || f.Signals.TypedDict }},
	{"state reducers", []string{"reducer", "merge"}, "src/state.py",
		func(f Facts) bool { return f.Signals.Reducers }},
	{"sandboxed tooling", []string{"sandbox", "tempfile", "clone", "security"}, "src/tools/repo_tools.py",
		func(f Facts) bool { return f.Signals.Sandboxing }},
	{"structured output", []string{"structured", "judge", "output"}, "src/nodes/judges.py",
		func(f Facts) bool { return f.Signals.StructuredOutput }},
}

// Heuristic judges dim from the structural signals its text mentions.
// Confidence ranges from 0.4 to 0.7, and is 0.2 when no signal applies.
func Heuristic(dim domain.RubricDimension, facts Facts) analyzer.Finding {
	text := strings.ToLower(strings.Join([]string{dim.ID, dim.Title, dim.ForensicInstruction, dim.SuccessPattern}, " "))

	var matched, held []string
	location := ""
	for _, r := range rules {
		if !containsAny(text, r.keywords) {
			continue
		}
		matched = append(matched, r.name)
		if location == "" {
			location = r.location
		}
		if r.holds(facts) {
			held = append(held, r.name)
		}
	}

	if len(matched) == 0 {
		return analyzer.Finding{
			Goal:       dim.Title,
			Location:   facts.Locator,
			Rationale:  "no structural signal covers this dimension",
			Confidence: 0.2,
		}
	}
	ratio := float64(len(held)) / float64(len(matched))
	return analyzer.Finding{
		Goal:       dim.Title,
		Found:      len(held) == len(matched),
		Location:   location,
		Rationale:  fmt.Sprintf("signals checked: %s; present: %s", strings.Join(matched, ", "), orNone(held)),
		Confidence: 0.4 + 0.3*ratio,
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func orNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
