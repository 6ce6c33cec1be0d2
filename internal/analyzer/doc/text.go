package doc

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Chunking and retrieval parameters.
const (
	ChunkWords   = 800
	ChunkOverlap = 100
	TopK         = 3

	depthWindow    = 200
	deepMinWords   = 50
	excerptLimit   = 3000
	excerptDivider = "\n---\n"
)

// Concept depth labels.
const (
	DepthDeep    = "deep"
	DepthShallow = "shallow"
	DepthAbsent  = "absent"
)

// Concepts are the architectural terms whose explanation depth is measured.
var Concepts = []string{
	"Dialectical Synthesis",
	"Fan-In",
	"Fan-Out",
	"Metacognition",
	"State Synchronization",
	"parallel",
	"LangGraph",
	"StateGraph",
	"reducer",
	"operator.add",
	"operator.ior",
}

var (
	wordToken = regexp.MustCompile(`\w+`)
	filePath  = regexp.MustCompile(`(?:src/|\./)?\w[\w/]*\.(?:py|md|json|toml|txt|yaml|yml)`)
)

// Chunk splits text into windows of size words that overlap by overlap words.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	step := size - overlap
	if size <= 0 || step <= 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

func tokens(s string) []string {
	return wordToken.FindAllString(strings.ToLower(s), -1)
}

// Passage is a retrieved chunk with its score and position.
type Passage struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// Query ranks chunks by the number of distinct query tokens they contain
// divided by their token count, and returns the best k. Ties keep document
// order.
func Query(chunks []string, query string, k int) []Passage {
	want := map[string]struct{}{}
	for _, t := range tokens(query) {
		want[t] = struct{}{}
	}

	scored := make([]Passage, 0, len(chunks))
	for i, c := range chunks {
		toks := tokens(c)
		if len(toks) == 0 {
			continue
		}
		seen := map[string]struct{}{}
		for _, t := range toks {
			if _, ok := want[t]; ok {
				seen[t] = struct{}{}
			}
		}
		scored = append(scored, Passage{Index: i, Score: float64(len(seen)) / float64(len(toks)), Text: c})
	}
	slices.SortStableFunc(scored, func(a, b Passage) int { return cmp.Compare(b.Score, a.Score) })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// FilePaths returns the distinct file references in text, sorted.
func FilePaths(text string) []string {
	paths := filePath.FindAllString(text, -1)
	slices.Sort(paths)
	return slices.Compact(paths)
}

// ConceptDepth reports whether a concept is explained or merely mentioned.
type ConceptDepth struct {
	Found   bool   `json:"found"`
	Depth   string `json:"depth"`
	Excerpt string `json:"excerpt,omitempty"`
}

// AnalyzeConcepts measures each of Concepts at its first occurrence: more
// than 50 words within 200 characters either side counts as deep.
func AnalyzeConcepts(text string) map[string]ConceptDepth {
	lower := strings.ToLower(text)
	src := text
	if len(lower) != len(text) {
		src = lower
	}
	out := make(map[string]ConceptDepth, len(Concepts))
	for _, c := range Concepts {
		idx := strings.Index(lower, strings.ToLower(c))
		if idx < 0 {
			out[c] = ConceptDepth{Depth: DepthAbsent}
			continue
		}
		end := min(len(src), idx+depthWindow)
		start := min(max(0, idx-depthWindow), end)
		excerpt := strings.TrimSpace(strings.ToValidUTF8(src[start:end], ""))
		depth := DepthShallow
		if len(strings.Fields(excerpt)) > deepMinWords {
			depth = DepthDeep
		}
		out[c] = ConceptDepth{Found: true, Depth: depth, Excerpt: excerpt}
	}
	return out
}

// Excerpts joins passages for a prompt, bounded to 3000 bytes.
func Excerpts(passages []Passage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Text
	}
	s := strings.Join(parts, excerptDivider)
	if len(s) > excerptLimit {
		s = s[:excerptLimit]
	}
	return s
}
