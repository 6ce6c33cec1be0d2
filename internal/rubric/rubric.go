// Package rubric loads audit rubrics from JSON or YAML documents of the form
// {"dimensions": [...]}.
package rubric

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

//go:embed default.yaml
var defaultRubric []byte

// DefaultWeight is applied to dimensions that omit a weight.
const DefaultWeight = 1.0

type document struct {
	Dimensions []dimension `json:"dimensions" yaml:"dimensions"`
}

// dimension is the on-disk form. Name is accepted as an alias for Title and a
// missing weight is distinguished from an explicit zero.
type dimension struct {
	ID                  string   `json:"id" yaml:"id"`
	Title               string   `json:"title" yaml:"title"`
	Name                string   `json:"name" yaml:"name"`
	Description         string   `json:"description" yaml:"description"`
	Weight              *float64 `json:"weight" yaml:"weight"`
	TargetArtifact      string   `json:"target_artifact" yaml:"target_artifact"`
	ForensicInstruction string   `json:"forensic_instruction" yaml:"forensic_instruction"`
	SuccessPattern      string   `json:"success_pattern" yaml:"success_pattern"`
	FailurePattern      string   `json:"failure_pattern" yaml:"failure_pattern"`
}

func (d dimension) toDomain() domain.RubricDimension {
	title := d.Title
	if title == "" {
		title = d.Name
	}
	weight := DefaultWeight
	if d.Weight != nil {
		weight = *d.Weight
	}
	return domain.RubricDimension{
		ID:                  strings.TrimSpace(d.ID),
		Title:               title,
		Description:         d.Description,
		Weight:              weight,
		TargetArtifact:      d.TargetArtifact,
		ForensicInstruction: d.ForensicInstruction,
		SuccessPattern:      d.SuccessPattern,
		FailurePattern:      d.FailurePattern,
	}
}

// Load reads and parses the rubric at path. An empty path selects the
// built-in default rubric.
func Load(path string) (domain.Rubric, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("read rubric: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Default returns the built-in rubric.
func Default() (domain.Rubric, error) {
	return Parse(defaultRubric, ".yaml")
}

// Parse decodes and validates a rubric. ext selects the format (".json",
// ".yaml", ".yml"); any other value detects JSON by a leading '{'.
// Every failure is a *domain.SchemaError.
func Parse(data []byte, ext string) (domain.Rubric, error) {
	var doc document
	if err := decode(data, strings.ToLower(ext), &doc); err != nil {
		return domain.Rubric{}, domain.NewSchemaError("rubric", "", "", err.Error())
	}
	dims := make([]domain.RubricDimension, len(doc.Dimensions))
	for i, d := range doc.Dimensions {
		dims[i] = d.toDomain()
	}
	return domain.NewRubric(dims...)
}

func decode(data []byte, ext string, doc *document) error {
	switch ext {
	case ".json":
		return decodeJSON(data, doc)
	case ".yaml", ".yml":
		return decodeYAML(data, doc)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return decodeJSON(data, doc)
	}
	return decodeYAML(data, doc)
}

func decodeJSON(data []byte, doc *document) error {
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("parse rubric json: %w", err)
	}
	return nil
}

func decodeYAML(data []byte, doc *document) error {
	if err := yaml.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("parse rubric yaml: %w", err)
	}
	return nil
}
