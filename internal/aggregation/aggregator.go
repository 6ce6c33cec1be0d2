// Package aggregation builds the final evidence report from a fully merged
// run state. The Aggregator is the fan-in node of the audit graph.
package aggregation

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

// NodeID is the graph id of the aggregator node.
const NodeID = "evidence_aggregator"

// DefaultThreshold is the confidence an affirmative item must exceed for its
// dimension to pass.
const DefaultThreshold = 0.5

var validate = validator.New(validator.WithRequiredStructEnabled())

// Policy configures report construction.
type Policy struct {
	// Threshold is the exclusive lower bound on confidence for a passing item.
	Threshold float64 `validate:"min=0,max=1"`

	// Sources maps producer node ids to the target artifacts they inspect.
	// A failed node is listed as blocking a dimension only when it targets
	// the dimension's artifact. Nodes absent from the map block every dimension.
	Sources map[string][]string
}

// DefaultPolicy returns a policy using DefaultThreshold.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold}
}

// Aggregator consumes the merged evidence and emits a report patch.
type Aggregator struct {
	policy Policy
}

// New creates an aggregator, validating the policy.
func New(policy Policy) (*Aggregator, error) {
	if err := validate.Struct(policy); err != nil {
		return nil, fmt.Errorf("invalid aggregation policy: %w", err)
	}
	return &Aggregator{policy: policy}, nil
}

// ID implements engine.Node.
func (a *Aggregator) ID() string { return NodeID }

// Run implements engine.Node. The snapshot is guaranteed by the executor's
// barrier to contain the contributions of every completed upstream node.
func (a *Aggregator) Run(_ context.Context, snap domain.Snapshot) (domain.Patch, error) {
	report := Build(snap.Rubric(), snap.Evidence(), snap.NodeErrors(), a.policy)
	return domain.Patch{Report: report}, nil
}

// Build produces one DimensionReport per rubric dimension, in rubric order.
// Dimensions without evidence are emitted as unassessed together with the
// failed or skipped nodes that could have produced their evidence.
func Build(
	rubric domain.Rubric,
	items []domain.EvidenceItem,
	nodeErrors map[string]domain.NodeError,
	policy Policy,
) *domain.Report {
	byDim := make(map[string][]domain.EvidenceItem, rubric.Len())
	for _, it := range items {
		byDim[it.DimensionID] = append(byDim[it.DimensionID], it)
	}

	report := &domain.Report{
		Dimensions: make([]domain.DimensionReport, 0, rubric.Len()),
		Threshold:  policy.Threshold,
	}
	for _, dim := range rubric.Dimensions {
		dimItems := slices.Clone(byDim[dim.ID])
		SortItems(dimItems)
		if dimItems == nil {
			dimItems = []domain.EvidenceItem{}
		}
		dr := domain.DimensionReport{
			Dimension: dim,
			Items:     dimItems,
			Rollup:    Rollup(dimItems, policy.Threshold),
		}
		if dr.Rollup == domain.RollupUnassessed {
			dr.BlockedBy = blockedBy(dim, nodeErrors, policy.Sources)
		}
		report.Dimensions = append(report.Dimensions, dr)
	}
	return report
}

// SortItems orders items by descending confidence, then source node, then location.
func SortItems(items []domain.EvidenceItem) {
	slices.SortStableFunc(items, func(a, b domain.EvidenceItem) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SourceNode, b.SourceNode); c != 0 {
			return c
		}
		return cmp.Compare(a.Location, b.Location)
	})
}

// Rollup returns pass when any item is affirmative with confidence above
// threshold, unassessed when there are no items, and fail otherwise.
func Rollup(items []domain.EvidenceItem, threshold float64) domain.Rollup {
	if len(items) == 0 {
		return domain.RollupUnassessed
	}
	for _, it := range items {
		if it.Verdict && it.Confidence > threshold {
			return domain.RollupPass
		}
	}
	return domain.RollupFail
}

func blockedBy(dim domain.RubricDimension, nodeErrors map[string]domain.NodeError, sources map[string][]string) []string {
	var out []string
	for node, ne := range nodeErrors {
		if ne.Status == domain.NodeSucceeded && ne.Dropped == 0 {
			continue
		}
		if targets, ok := sources[node]; ok && dim.TargetArtifact != "" &&
			!slices.Contains(targets, dim.TargetArtifact) {
			continue
		}
		out = append(out, node)
	}
	slices.Sort(out)
	return out
}
