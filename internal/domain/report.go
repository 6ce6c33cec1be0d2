package domain

import "reflect"

// Rollup is the dimension-level outcome of aggregation.
type Rollup string

// Rollup values.
const (
	RollupPass       Rollup = "pass"
	RollupFail       Rollup = "fail"
	RollupUnassessed Rollup = "unassessed"
)

// DimensionReport lists every evidence item referencing one dimension.
type DimensionReport struct {
	Dimension RubricDimension `json:"dimension"`
	// Items are ordered by descending confidence, then source node, then location.
	Items  []EvidenceItem `json:"items"`
	Rollup Rollup         `json:"rollup"`
	// BlockedBy names the failed or skipped nodes that may explain missing evidence.
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// Report is the final evidence report: one entry per rubric dimension, in rubric order.
type Report struct {
	Dimensions []DimensionReport `json:"dimensions"`
	Threshold  float64           `json:"threshold"`
}

// Equal reports whether two reports are identical.
func (r *Report) Equal(o *Report) bool {
	return reflect.DeepEqual(r, o)
}

// Dimension returns the entry for id.
func (r *Report) Dimension(id string) (DimensionReport, bool) {
	for _, d := range r.Dimensions {
		if d.Dimension.ID == id {
			return d, true
		}
	}
	return DimensionReport{}, false
}

// Unassessed returns the ids of dimensions with no evidence.
func (r *Report) Unassessed() []string {
	var out []string
	for _, d := range r.Dimensions {
		if d.Rollup == RollupUnassessed {
			out = append(out, d.Dimension.ID)
		}
	}
	return out
}

// ItemCount returns the number of items across all dimensions.
func (r *Report) ItemCount() int {
	n := 0
	for _, d := range r.Dimensions {
		n += len(d.Items)
	}
	return n
}
