package aggregation

import "github.com/EstifanosTeklay/automaton-auditor/internal/domain"

// Summary condenses a report into dimension ids grouped by rollup.
type Summary struct {
	Passed     []string `json:"passed"`
	Failed     []string `json:"failed"`
	Unassessed []string `json:"unassessed"`
	Items      int      `json:"items"`
}

// Summarize groups the report's dimensions by rollup, preserving rubric order.
// A nil report yields an empty summary.
func Summarize(r *domain.Report) Summary {
	s := Summary{Passed: []string{}, Failed: []string{}, Unassessed: []string{}}
	if r == nil {
		return s
	}
	for _, d := range r.Dimensions {
		switch d.Rollup {
		case domain.RollupPass:
			s.Passed = append(s.Passed, d.Dimension.ID)
		case domain.RollupFail:
			s.Failed = append(s.Failed, d.Dimension.ID)
		default:
			s.Unassessed = append(s.Unassessed, d.Dimension.ID)
		}
		s.Items += len(d.Items)
	}
	return s
}
