package domain

// Target artifact values understood by the bundled analyzers. Rubrics may use
// any other string; dimensions nobody targets end up unassessed.
const (
	TargetRepository = "github_repo"
	TargetDocument   = "pdf_report"
	TargetImages     = "pdf_images"
)

// RubricDimension is one evaluation criterion of a rubric.
// Dimensions are loaded once at run start and never mutated afterwards.
type RubricDimension struct {
	// ID uniquely identifies the dimension within a run.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Title is the short human readable name.
	Title string `json:"title" yaml:"title"`

	// Description explains what the dimension measures.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Weight is the relative importance of the dimension (non-negative).
	Weight float64 `json:"weight" yaml:"weight" validate:"min=0"`

	// TargetArtifact routes the dimension to the analyzer responsible for it.
	TargetArtifact string `json:"target_artifact,omitempty" yaml:"target_artifact,omitempty"`

	// ForensicInstruction tells the analyzer what to look for.
	ForensicInstruction string `json:"forensic_instruction,omitempty" yaml:"forensic_instruction,omitempty"`

	// SuccessPattern describes what a passing finding looks like.
	SuccessPattern string `json:"success_pattern,omitempty" yaml:"success_pattern,omitempty"`

	// FailurePattern describes what a failing finding looks like.
	FailurePattern string `json:"failure_pattern,omitempty" yaml:"failure_pattern,omitempty"`
}

// Rubric is the ordered set of dimensions a run is evaluated against.
type Rubric struct {
	Dimensions []RubricDimension `json:"dimensions" yaml:"dimensions"`
}

// NewRubric builds a rubric from dimensions and validates it.
func NewRubric(dims ...RubricDimension) (Rubric, error) {
	r := Rubric{Dimensions: append([]RubricDimension(nil), dims...)}
	if err := ValidateRubric(r); err != nil {
		return Rubric{}, err
	}
	return r, nil
}

// Dimension looks a dimension up by id.
func (r Rubric) Dimension(id string) (RubricDimension, bool) {
	for _, d := range r.Dimensions {
		if d.ID == id {
			return d, true
		}
	}
	return RubricDimension{}, false
}

// Has reports whether the rubric contains a dimension with the given id.
func (r Rubric) Has(id string) bool {
	_, ok := r.Dimension(id)
	return ok
}

// IDs returns the dimension ids in rubric order.
func (r Rubric) IDs() []string {
	ids := make([]string, len(r.Dimensions))
	for i, d := range r.Dimensions {
		ids[i] = d.ID
	}
	return ids
}

// Targeting returns the dimensions whose TargetArtifact is one of targets.
func (r Rubric) Targeting(targets ...string) []RubricDimension {
	var out []RubricDimension
	for _, d := range r.Dimensions {
		for _, t := range targets {
			if d.TargetArtifact == t {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Len returns the number of dimensions.
func (r Rubric) Len() int { return len(r.Dimensions) }

func (r Rubric) clone() Rubric {
	return Rubric{Dimensions: append([]RubricDimension(nil), r.Dimensions...)}
}
