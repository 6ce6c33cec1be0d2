package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// fieldError converts the first validator failure into a SchemaError.
func fieldError(subject, ref string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewSchemaError(subject, ref, "", err.Error())
	}
	fe := verrs[0]
	msg := fmt.Sprintf("failed '%s' constraint", fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("failed '%s=%s' constraint (got %v)", fe.Tag(), fe.Param(), fe.Value())
	}
	return NewSchemaError(subject, ref, fe.Field(), msg)
}

// ValidateRubric checks that the rubric is non-empty, that every id is non-empty
// and unique, and that no weight is negative.
func ValidateRubric(r Rubric) error {
	if len(r.Dimensions) == 0 {
		return NewSchemaError("rubric", "", "dimensions", "rubric has no dimensions")
	}
	seen := make(map[string]struct{}, len(r.Dimensions))
	for i, d := range r.Dimensions {
		if strings.TrimSpace(d.ID) == "" {
			return NewSchemaError("rubric dimension", fmt.Sprintf("#%d", i), "id", "id is empty")
		}
		if math.IsNaN(d.Weight) {
			return NewSchemaError("rubric dimension", d.ID, "weight", "weight is not a number")
		}
		if err := validate.Struct(d); err != nil {
			return fieldError("rubric dimension", d.ID, err)
		}
		if _, dup := seen[d.ID]; dup {
			return NewSchemaError("rubric dimension", d.ID, "id", "duplicate dimension id")
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// ValidateEvidence checks that item references a dimension of rubric and that
// its confidence lies in [0, 1].
func ValidateEvidence(item EvidenceItem, rubric Rubric) error {
	ref := item.DimensionID + "@" + item.Location
	if err := validate.Struct(item); err != nil {
		return fieldError("evidence", ref, err)
	}
	if math.IsNaN(item.Confidence) || item.Confidence < 0 || item.Confidence > 1 {
		return NewSchemaError("evidence", ref, "confidence",
			fmt.Sprintf("confidence %v outside [0, 1]", item.Confidence))
	}
	if !rubric.Has(item.DimensionID) {
		return NewSchemaError("evidence", ref, "dimension_id",
			fmt.Sprintf("unknown dimension '%s'", item.DimensionID))
	}
	return nil
}

// SanitizePatch validates every evidence item of p against rubric. Invalid items
// are dropped and returned as errors; the remaining patch is safe to merge.
func SanitizePatch(p Patch, rubric Rubric) (Patch, []error) {
	var errs []error
	kept := make([]EvidenceItem, 0, len(p.Evidence))
	for _, it := range p.Evidence {
		if err := ValidateEvidence(it, rubric); err != nil {
			errs = append(errs, err)
			continue
		}
		kept = append(kept, it)
	}
	p.Evidence = kept
	return p, errs
}
