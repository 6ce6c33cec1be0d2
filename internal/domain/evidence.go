package domain

import (
	"cmp"
	"maps"
	"slices"
)

// EvidenceItem is a single analyzer-produced finding tied to one rubric dimension.
// Items are immutable once created; the executor merges them and the aggregator
// only reads them.
type EvidenceItem struct {
	// DimensionID references the rubric dimension the finding is about.
	DimensionID string `json:"dimension_id" validate:"required"`

	// Verdict reports whether the dimension's success pattern was observed.
	Verdict bool `json:"verdict"`

	// Confidence is the analyzer's certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	// Location is free-form provenance such as a file path or commit hash.
	Location string `json:"location"`

	// Rationale explains how the verdict was reached.
	Rationale string `json:"rationale"`

	// SourceNode is the id of the node that produced the finding.
	SourceNode string `json:"source_node" validate:"required"`
}

// EvidenceKey is the identity of an evidence item inside an EvidenceSet.
type EvidenceKey struct {
	DimensionID string
	SourceNode  string
	Location    string
}

// Key returns the identity used for set-union deduplication.
func (e EvidenceItem) Key() EvidenceKey {
	return EvidenceKey{DimensionID: e.DimensionID, SourceNode: e.SourceNode, Location: e.Location}
}

// preferred reports whether a should win over b when both share a key.
// The ordering is total so that unions stay commutative.
func preferred(a, b EvidenceItem) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Verdict != b.Verdict {
		return a.Verdict
	}
	return a.Rationale < b.Rationale
}

// EvidenceSet is a set of evidence items keyed by (dimension, source node, location).
// The zero value is an empty set ready to use.
type EvidenceSet struct {
	items map[EvidenceKey]EvidenceItem
}

// NewEvidenceSet builds a set from items, collapsing duplicates.
func NewEvidenceSet(items ...EvidenceItem) EvidenceSet {
	var s EvidenceSet
	for _, it := range items {
		s.add(it)
	}
	return s
}

func (s *EvidenceSet) add(it EvidenceItem) {
	if s.items == nil {
		s.items = make(map[EvidenceKey]EvidenceItem)
	}
	k := it.Key()
	if cur, ok := s.items[k]; ok && !preferred(it, cur) {
		return
	}
	s.items[k] = it
}

// Len returns the number of distinct items.
func (s EvidenceSet) Len() int { return len(s.items) }

// Contains reports whether an item with the same key is present.
func (s EvidenceSet) Contains(k EvidenceKey) bool {
	_, ok := s.items[k]
	return ok
}

// Items returns the items sorted by dimension, source node and location.
func (s EvidenceSet) Items() []EvidenceItem {
	out := slices.Collect(maps.Values(s.items))
	slices.SortFunc(out, func(a, b EvidenceItem) int {
		return cmp.Or(
			cmp.Compare(a.DimensionID, b.DimensionID),
			cmp.Compare(a.SourceNode, b.SourceNode),
			cmp.Compare(a.Location, b.Location),
		)
	})
	return out
}

// ForDimension returns the items referencing the dimension, in Items order.
func (s EvidenceSet) ForDimension(id string) []EvidenceItem {
	var out []EvidenceItem
	for _, it := range s.Items() {
		if it.DimensionID == id {
			out = append(out, it)
		}
	}
	return out
}

// Clone returns an independent copy of the set.
func (s EvidenceSet) Clone() EvidenceSet {
	if s.items == nil {
		return EvidenceSet{}
	}
	return EvidenceSet{items: maps.Clone(s.items)}
}

// Equal reports whether both sets hold the same items.
func (s EvidenceSet) Equal(o EvidenceSet) bool {
	return maps.Equal(s.items, o.items)
}
