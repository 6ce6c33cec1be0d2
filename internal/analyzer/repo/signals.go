package repo

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Extensions are the file types listed in the facts handed to the model.
var Extensions = []string{".py", ".md", ".toml", ".json"}

// KeyFiles are captured verbatim, truncated to snippetLimit bytes.
var KeyFiles = []string{
	"src/state.py",
	"src/graph.py",
	"src/tools/repo_tools.py",
	"src/nodes/detectives.py",
	"src/nodes/judges.py",
	"src/nodes/justice.py",
}

const (
	snippetLimit   = 3000
	fanOutMinEdges = 4
)

var edgeCall = regexp.MustCompile(`\.add_(?:conditional_)?edges?\([^)\n]*\)?`)

// Signals are structural properties detected by scanning well-known files.
type Signals struct {
	StateGraph       bool     `json:"state_graph_found"`
	ParallelFanOut   bool     `json:"parallel_fan_out"`
	AggregatorNode   bool     `json:"evidence_aggregator_node"`
	TypedModels      bool     `json:"pydantic_basemodel"`
	TypedDict        bool     `json:"typeddict_used"`
	Reducers         bool     `json:"operator_reducers"`
	Sandboxing       bool     `json:"tempfile_sandboxing"`
	StructuredOutput bool     `json:"structured_output_enforcement"`
	EdgeCalls        []string `json:"add_edge_calls"`
	ScannedFiles     []string `json:"scanned_files"`
}

// ListFiles walks root and returns slash-separated relative paths with one of
// exts, sorted. Directories whose name starts with "." or "__" are skipped.
// An empty exts lists every file.
func ListFiles(root string, exts []string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__")) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if len(exts) == 0 || slices.ContainsFunc(exts, func(ext string) bool { return strings.HasSuffix(rel, ext) }) {
			out = append(out, rel)
		}
		return nil
	})
	slices.Sort(out)
	return out, err
}

func readFirst(root string, candidates ...string) (string, string, bool) {
	for _, rel := range candidates {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err == nil {
			return rel, string(data), true
		}
	}
	return "", "", false
}

// DetectSignals scans the graph, state, tooling and judging sources of the
// audited repository.
func DetectSignals(root string) Signals {
	s := Signals{EdgeCalls: []string{}, ScannedFiles: []string{}}

	if rel, src, ok := readFirst(root, "src/graph.py", "graph.py"); ok {
		s.ScannedFiles = append(s.ScannedFiles, rel)
		s.StateGraph = strings.Contains(src, "StateGraph")
		s.EdgeCalls = edgeCall.FindAllString(src, -1)
		s.ParallelFanOut = len(s.EdgeCalls) >= fanOutMinEdges
		s.AggregatorNode = strings.Contains(strings.ToLower(src), "aggregator")
	}
	if rel, src, ok := readFirst(root, "src/state.py", "state.py"); ok {
		s.ScannedFiles = append(s.ScannedFiles, rel)
		s.TypedModels = strings.Contains(src, "BaseModel")
		s.TypedDict = strings.Contains(src, "TypedDict")
		s.Reducers = strings.Contains(src, "operator.add") || strings.Contains(src, "operator.ior")
	}
	if rel, src, ok := readFirst(root, "src/tools/repo_tools.py"); ok {
		s.ScannedFiles = append(s.ScannedFiles, rel)
		s.Sandboxing = strings.Contains(src, "tempfile")
	}
	if rel, src, ok := readFirst(root, "src/nodes/judges.py"); ok {
		s.ScannedFiles = append(s.ScannedFiles, rel)
		s.StructuredOutput = strings.Contains(src, "with_structured_output") || strings.Contains(src, "bind_tools")
	}
	return s
}

// Snippets returns the leading bytes of every key file present under root.
func Snippets(root string) map[string]string {
	out := map[string]string{}
	for _, rel := range KeyFiles {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil || len(data) == 0 {
			continue
		}
		if len(data) > snippetLimit {
			data = data[:snippetLimit]
		}
		out[rel] = string(data)
	}
	return out
}
