// Package doc implements the document analyst: it reads the submitted
// report, chunks it for keyword retrieval, extracts file references and
// measures how deeply key concepts are explained, then assesses the
// document-targeted rubric dimensions.
package doc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/EstifanosTeklay/automaton-auditor/internal/analyzer"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// NodeID is the graph id of the document analyst.
const NodeID = "doc_analyst"

// Role is the persona of the model prompt.
const Role = "You are a forensic document analyst. Your job is to interpret a submitted report " +
	"and produce a structured Evidence JSON object. Cite exact passages."

// ErrUnsupportedFormat is returned for documents that cannot be read as text.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is the ingested report.
type Document struct {
	Locator   string                  `json:"path"`
	Text      string                  `json:"-"`
	Chunks    []string                `json:"-"`
	FilePaths []string                `json:"file_paths_mentioned"`
	Concepts  map[string]ConceptDepth `json:"concept_depth"`
}

// Load reads the document at path. Only UTF-8 text formats are supported;
// PDF text extraction is not available.
func Load(path string) (*Document, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, &domain.CollaboratorError{
			Collaborator: "document",
			Op:           "extract text",
			Err:          fmt.Errorf("%w: PDF text extraction is not available, supply a text or markdown export", ErrUnsupportedFormat),
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.CollaboratorError{Collaborator: "document", Op: "read", Err: err}
	}
	if !utf8.Valid(data) {
		return nil, &domain.CollaboratorError{
			Collaborator: "document",
			Op:           "decode",
			Err:          fmt.Errorf("%w: document is not UTF-8 text", ErrUnsupportedFormat),
		}
	}
	return Ingest(path, string(data)), nil
}

// Ingest analyzes text already in memory.
func Ingest(locator, text string) *Document {
	paths := FilePaths(text)
	if paths == nil {
		paths = []string{}
	}
	return &Document{
		Locator:   locator,
		Text:      text,
		Chunks:    Chunk(text, ChunkWords, ChunkOverlap),
		FilePaths: paths,
		Concepts:  AnalyzeConcepts(text),
	}
}

// Facts is the view of the document sent to the model for one dimension.
func (d *Document) Facts(dim domain.RubricDimension) map[string]any {
	depth := make(map[string]ConceptDepth, len(d.Concepts))
	for k, v := range d.Concepts {
		depth[k] = ConceptDepth{Found: v.Found, Depth: v.Depth}
	}
	return map[string]any{
		"concept_depth":        depth,
		"file_paths_mentioned": d.FilePaths,
		"relevant_excerpts":    Excerpts(Query(d.Chunks, query(dim), TopK)),
	}
}

func query(dim domain.RubricDimension) string {
	if strings.TrimSpace(dim.ForensicInstruction) != "" {
		return dim.ForensicInstruction
	}
	return dim.Title + " " + dim.Description
}

// Analyzer is the document analyst.
type Analyzer struct {
	assessor *analyzer.Assessor
}

// New returns a document analyst. A nil assessor selects heuristic assessment.
func New(assessor *analyzer.Assessor) *Analyzer {
	return &Analyzer{assessor: assessor}
}

// ID implements analyzer.Analyzer.
func (a *Analyzer) ID() string { return NodeID }

// Targets implements analyzer.Analyzer.
func (a *Analyzer) Targets() []string {
	return []string{domain.TargetDocument, domain.TargetImages}
}

// Analyze implements analyzer.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, snap domain.Snapshot) ([]domain.EvidenceItem, error) {
	dims := analyzer.Dimensions(snap.Rubric(), a.Targets())
	if len(dims) == 0 {
		return nil, nil
	}
	locator := snap.Inputs().DocLocator

	doc, err := Load(locator)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("document ingested",
		"chunks", len(doc.Chunks),
		"file_paths", len(doc.FilePaths))

	return analyzer.AssessAll(ctx, a.assessor, dims,
		func(dim domain.RubricDimension) any { return doc.Facts(dim) },
		func(dim domain.RubricDimension) analyzer.Finding { return Heuristic(dim, doc) },
		NodeID, locator)
}

// Heuristic judges dim by retrieval relevance and concept depth. A dimension
// passes when a relevant passage exists and at least two concepts are
// explained in depth.
func Heuristic(dim domain.RubricDimension, doc *Document) analyzer.Finding {
	var deep []string
	for c, d := range doc.Concepts {
		if d.Depth == DepthDeep {
			deep = append(deep, c)
		}
	}
	slices.Sort(deep)

	best := Query(doc.Chunks, query(dim), 1)
	if len(best) == 0 || best[0].Score == 0 {
		return analyzer.Finding{
			Goal:       dim.Title,
			Location:   doc.Locator,
			Rationale:  "no passage of the document addresses this dimension",
			Confidence: 0.3,
		}
	}

	found := len(deep) >= 2
	confidence := min(0.4+0.1*float64(len(deep)), 0.8)
	return analyzer.Finding{
		Goal:       dim.Title,
		Found:      found,
		Location:   fmt.Sprintf("%s#chunk-%d", doc.Locator, best[0].Index),
		Rationale:  fmt.Sprintf("most relevant passage is chunk %d; concepts explained in depth: %s", best[0].Index, orNone(deep)),
		Confidence: confidence,
	}
}

func orNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
