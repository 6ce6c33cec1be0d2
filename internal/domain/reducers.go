package domain

import (
	"fmt"
	"maps"
	"slices"
)

// StateKey names a RunState field that patches may touch.
type StateKey string

// Declared state keys.
const (
	KeyEvidence       StateKey = "evidence"
	KeyCompletedNodes StateKey = "completed_nodes"
	KeyNodeErrors     StateKey = "node_errors"
	KeyReport         StateKey = "report"
)

// Reducer folds one key of a patch into the run state.
type Reducer func(dst *RunState, p Patch) error

// reducers is the declared reducer per key, applied in this order.
var reducers = []struct {
	key StateKey
	fn  Reducer
}{
	{KeyEvidence, func(dst *RunState, p Patch) error {
		dst.Evidence = UnionEvidence(dst.Evidence, NewEvidenceSet(p.Evidence...))
		return nil
	}},
	{KeyCompletedNodes, func(dst *RunState, p Patch) error {
		for _, n := range p.CompletedNodes {
			dst.CompletedNodes[n] = struct{}{}
		}
		return nil
	}},
	{KeyNodeErrors, func(dst *RunState, p Patch) error {
		dst.NodeErrors = UnionNodeErrors(dst.NodeErrors, p.NodeErrors)
		return nil
	}},
	{KeyReport, func(dst *RunState, p Patch) error {
		r, err := MergeReport(dst.Report, p.Report)
		if err != nil {
			return err
		}
		dst.Report = r
		return nil
	}},
}

// Keys returns the declared state keys in application order.
func Keys() []StateKey {
	keys := make([]StateKey, len(reducers))
	for i, r := range reducers {
		keys[i] = r.key
	}
	return keys
}

// Apply merges p into s using the declared reducer for each key.
// The patch is expected to be sanitized already; see SanitizePatch.
// Apply is all-or-nothing: when any reducer fails, s is left unchanged.
func (s *RunState) Apply(p Patch) error {
	if s.frozen {
		return ErrStateFrozen
	}
	next := s.Clone()
	for _, r := range reducers {
		if err := r.fn(next, p); err != nil {
			return fmt.Errorf("reduce %s: %w", r.key, err)
		}
	}
	*s = *next
	return nil
}

// UnionEvidence returns the set union of a and b. Items with the same key
// collapse to a single deterministic winner, so the operation is associative,
// commutative and idempotent.
func UnionEvidence(a, b EvidenceSet) EvidenceSet {
	out := a.Clone()
	for _, it := range b.items {
		out.add(it)
	}
	return out
}

// UnionNodeErrors returns the map union of a and b. When both hold a record
// for the same node, the more severe record wins; ties break on message.
func UnionNodeErrors(a, b map[string]NodeError) map[string]NodeError {
	out := make(map[string]NodeError, len(a)+len(b))
	maps.Copy(out, a)
	for id, ne := range b {
		cur, ok := out[id]
		if !ok || outranks(ne, cur) {
			out[id] = ne
		}
	}
	return out
}

func outranks(a, b NodeError) bool {
	if sa, sb := a.Status.severity(), b.Status.severity(); sa != sb {
		return sa > sb
	}
	if a.Message != b.Message {
		return a.Message < b.Message
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Cause != b.Cause {
		return a.Cause < b.Cause
	}
	return a.Dropped > b.Dropped
}

// MergeReport sets the report once. Merging an identical report is a no-op;
// merging a different one is a conflict.
func MergeReport(a, b *Report) (*Report, error) {
	switch {
	case b == nil:
		return a, nil
	case a == nil:
		return b, nil
	case a.Equal(b):
		return a, nil
	default:
		return nil, ErrReportConflict
	}
}

// MergePatches combines two patches with the same reducers used for RunState,
// so that folding patches in any grouping yields the same result. The
// executor applies patches one at a time with Apply; MergePatches serves
// callers that combine patches before they reach a state.
func MergePatches(a, b Patch) (Patch, error) {
	r, err := MergeReport(a.Report, b.Report)
	if err != nil {
		return Patch{}, err
	}
	nodes := make(map[string]struct{}, len(a.CompletedNodes)+len(b.CompletedNodes))
	for _, n := range a.CompletedNodes {
		nodes[n] = struct{}{}
	}
	for _, n := range b.CompletedNodes {
		nodes[n] = struct{}{}
	}
	completed := slices.Sorted(maps.Keys(nodes))
	return Patch{
		Evidence:       UnionEvidence(NewEvidenceSet(a.Evidence...), NewEvidenceSet(b.Evidence...)).Items(),
		NodeErrors:     UnionNodeErrors(a.NodeErrors, b.NodeErrors),
		CompletedNodes: completed,
		Report:         r,
	}, nil
}
