package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// ParseErrorLocation marks findings whose model output could not be parsed.
const ParseErrorLocation = "parse_error"

const findingSchema = `{"goal": str, "found": bool, "content": str|null, "location": str, "rationale": str, "confidence": float}`

// Finding is the structured answer a model gives for one dimension.
type Finding struct {
	Goal       string  `json:"goal"`
	Found      bool    `json:"found"`
	Content    *string `json:"content"`
	Location   string  `json:"location"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Assessor asks a model to judge one rubric dimension against collected facts.
type Assessor struct {
	client llm.Completer
	system string
}

// NewAssessor returns an assessor using role as the investigator persona of
// the system prompt.
func NewAssessor(client llm.Completer, role string) *Assessor {
	system := role + " Be precise, cite concrete locations and do NOT invent findings. " +
		"Respond ONLY with valid JSON matching this schema:\n" + findingSchema
	return &Assessor{client: client, system: system}
}

// Prompt renders the user turn for dim. facts is embedded as indented JSON.
func Prompt(dim domain.RubricDimension, facts any) (string, error) {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode facts: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dimension: %s\n", dim.Title)
	fmt.Fprintf(&b, "Forensic Instruction: %s\n\n", dim.ForensicInstruction)
	fmt.Fprintf(&b, "Analysis Data:\n%s\n\n", data)
	b.WriteString("Produce the Evidence JSON object for this dimension. ")
	b.WriteString("Set 'found' to true only if the success pattern is clearly met.\n")
	fmt.Fprintf(&b, "Success pattern: %s\n", orNA(dim.SuccessPattern))
	fmt.Fprintf(&b, "Failure pattern: %s", orNA(dim.FailurePattern))
	return b.String(), nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// Assess returns the model's finding for dim. Unparseable output degrades to
// a zero-confidence finding at ParseErrorLocation; a failed model call is
// returned as a *domain.CollaboratorError.
func (a *Assessor) Assess(ctx context.Context, dim domain.RubricDimension, facts any) (Finding, error) {
	prompt, err := Prompt(dim, facts)
	if err != nil {
		return Finding{}, err
	}

	resp, err := a.client.Complete(ctx, &transport.Request{
		SystemPrompt: a.system,
		Prompt:       prompt,
		Metadata:     map[string]string{"dimension": dim.ID},
	})
	if err != nil {
		return Finding{}, &domain.CollaboratorError{
			Collaborator: "llm",
			Op:           "assess " + dim.ID,
			Timeout:      errors.Is(err, context.DeadlineExceeded),
			Err:          err,
		}
	}

	f, err := ParseFinding(resp.Content)
	if err != nil {
		logging.FromContext(ctx).Warn("model response unparseable", "dimension", dim.ID, "error", err)
		return Finding{
			Goal:      dim.Title,
			Location:  ParseErrorLocation,
			Rationale: fmt.Sprintf("model response parse failed: %v", err),
		}, nil
	}
	return f, nil
}

// ParseFinding extracts a Finding from raw model output, tolerating markdown
// code fences. Confidence is clamped into [0, 1].
func ParseFinding(raw string) (Finding, error) {
	var f Finding
	if err := json.Unmarshal([]byte(StripFences(raw)), &f); err != nil {
		return Finding{}, err
	}
	f.Confidence = Clamp(f.Confidence)
	return f, nil
}

// StripFences removes a surrounding ``` or ```json fence.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Clamp bounds a confidence to [0, 1]. NaN becomes 0.
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Evidence converts a finding into an evidence item. An empty location falls
// back to fallback.
func (f Finding) Evidence(dimensionID, source, fallback string) domain.EvidenceItem {
	loc := strings.TrimSpace(f.Location)
	if loc == "" {
		loc = fallback
	}
	rationale := f.Rationale
	if f.Content != nil && *f.Content != "" {
		rationale = strings.TrimSpace(rationale + "\n" + *f.Content)
	}
	return domain.EvidenceItem{
		DimensionID: dimensionID,
		Verdict:     f.Found,
		Confidence:  Clamp(f.Confidence),
		Location:    loc,
		Rationale:   rationale,
		SourceNode:  source,
	}
}

// AssessAll assesses every dimension with the model when one is configured,
// and with heuristic otherwise. Dimensions whose model call failed are left
// out; if every call failed the first collaborator error is returned.
func AssessAll(
	ctx context.Context,
	assessor *Assessor,
	dims []domain.RubricDimension,
	facts func(domain.RubricDimension) any,
	heuristic func(domain.RubricDimension) Finding,
	source, fallback string,
) ([]domain.EvidenceItem, error) {
	logger := logging.FromContext(ctx)
	items := make([]domain.EvidenceItem, 0, len(dims))
	var firstErr error

	for _, dim := range dims {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var f Finding
		if assessor == nil {
			f = heuristic(dim)
		} else {
			var err error
			f, err = assessor.Assess(ctx, dim, facts(dim))
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				logger.Warn("dimension assessment failed", "dimension", dim.ID, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		items = append(items, f.Evidence(dim.ID, source, fallback))
	}

	if len(items) == 0 && firstErr != nil {
		return nil, firstErr
	}
	if firstErr != nil {
		logger.Info("partial assessment",
			"source", source, "assessed", len(items), "requested", len(dims))
	}
	return items, nil
}
