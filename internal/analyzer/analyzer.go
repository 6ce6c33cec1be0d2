// Package analyzer defines the contract of the producer nodes of the audit
// graph and the helpers they share: scoped temporary resources, model-backed
// dimension assessment and conversion of findings into evidence.
//
// An analyzer never fails fatally because its collaborator returned poor
// data. Unusable model output degrades to a zero-confidence finding, and
// collaborator transport failures are returned as *domain.CollaboratorError
// so the executor records them as fail-soft outcomes.
package analyzer

import (
	"context"
	"slices"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
)

// Analyzer inspects one artifact of a submission and reports evidence for the
// rubric dimensions it is responsible for.
type Analyzer interface {
	// ID is the graph node id and the SourceNode stamped on every item.
	ID() string

	// Targets lists the TargetArtifact values the analyzer assesses.
	Targets() []string

	// Analyze produces evidence from a read-only snapshot. Any temporary
	// resource it acquires is released before it returns.
	Analyze(ctx context.Context, snap domain.Snapshot) ([]domain.EvidenceItem, error)
}

// Node adapts an analyzer to the engine.
func Node(a Analyzer) engine.Node {
	return engine.NewNode(a.ID(), func(ctx context.Context, snap domain.Snapshot) (domain.Patch, error) {
		items, err := a.Analyze(ctx, snap)
		if err != nil {
			return domain.Patch{}, err
		}
		return domain.Patch{Evidence: items}, nil
	})
}

// Dimensions returns the rubric dimensions routed to an analyzer with the
// given targets. Dimensions without a target artifact are routed to every
// analyzer.
func Dimensions(r domain.Rubric, targets []string) []domain.RubricDimension {
	return r.Targeting(append(slices.Clone(targets), "")...)
}

// Sources maps each analyzer id to its targets, in the shape the aggregation
// policy expects.
func Sources(analyzers ...Analyzer) map[string][]string {
	out := make(map[string][]string, len(analyzers))
	for _, a := range analyzers {
		out[a.ID()] = slices.Clone(a.Targets())
	}
	return out
}
