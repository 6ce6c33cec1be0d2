package domain

import (
	"maps"
	"slices"
)

// NodeStatus is the lifecycle state of a graph node.
// Transitions follow: pending -> running -> (succeeded|failed-soft|failed-fatal),
// or pending -> skipped when an upstream node failed fatally.
type NodeStatus string

// NodeStatus values.
const (
	NodePending     NodeStatus = "pending"
	NodeRunning     NodeStatus = "running"
	NodeSucceeded   NodeStatus = "succeeded"
	NodeFailedSoft  NodeStatus = "failed-soft"
	NodeFailedFatal NodeStatus = "failed-fatal"
	NodeSkipped     NodeStatus = "skipped"
)

// Satisfies reports whether the status releases downstream dependency barriers.
func (s NodeStatus) Satisfies() bool {
	return s == NodeSucceeded || s == NodeFailedSoft
}

// Terminal reports whether the node will not change state again.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSucceeded, NodeFailedSoft, NodeFailedFatal, NodeSkipped:
		return true
	default:
		return false
	}
}

// severity orders statuses for deterministic node error merging.
func (s NodeStatus) severity() int {
	switch s {
	case NodeFailedFatal:
		return 3
	case NodeSkipped:
		return 2
	case NodeFailedSoft:
		return 1
	default:
		return 0
	}
}

// ErrorKind classifies a node error record.
type ErrorKind string

// ErrorKind values.
const (
	KindSchema       ErrorKind = "schema"
	KindCollaborator ErrorKind = "collaborator"
	KindTimeout      ErrorKind = "timeout"
	KindSkipped      ErrorKind = "skipped"
	KindPanic        ErrorKind = "panic"
	KindFailure      ErrorKind = "failure"
)

// NodeError is the error record kept in RunState for a node that did not
// fully succeed.
type NodeError struct {
	Node    string     `json:"node"`
	Status  NodeStatus `json:"status"`
	Kind    ErrorKind  `json:"kind"`
	Message string     `json:"message"`
	// Cause names the upstream node responsible, for skipped nodes.
	Cause string `json:"cause,omitempty"`
	// Dropped counts evidence items rejected by validation.
	Dropped int `json:"dropped,omitempty"`
}

// RunInputs holds the opaque locators the run was started with.
type RunInputs struct {
	RepoLocator string `json:"repo_locator"`
	DocLocator  string `json:"doc_locator"`
}

// RunStatus is the overall outcome of a run.
type RunStatus string

// RunStatus values.
const (
	RunComplete   RunStatus = "complete"
	RunPartial    RunStatus = "partial"
	RunFailed     RunStatus = "failed"
	RunDeadlocked RunStatus = "deadlocked"
)

// Fatal reports whether the status should be surfaced as a fatal exit.
func (s RunStatus) Fatal() bool { return s == RunFailed || s == RunDeadlocked }

// RunState is the shared object threaded through the graph. Only the executor
// mutates it, through Apply; nodes see it through a Snapshot.
type RunState struct {
	Inputs         RunInputs
	Rubric         Rubric
	Evidence       EvidenceSet
	NodeErrors     map[string]NodeError
	CompletedNodes map[string]struct{}
	Report         *Report

	frozen bool
}

// NewRunState creates an empty run state seeded with inputs and rubric.
func NewRunState(inputs RunInputs, rubric Rubric) *RunState {
	return &RunState{
		Inputs:         inputs,
		Rubric:         rubric.clone(),
		NodeErrors:     make(map[string]NodeError),
		CompletedNodes: make(map[string]struct{}),
	}
}

// Freeze marks the state final. Later calls to Apply fail with ErrStateFrozen.
func (s *RunState) Freeze() { s.frozen = true }

// Frozen reports whether the state has been frozen.
func (s *RunState) Frozen() bool { return s.frozen }

// Completed reports whether node is in completed_nodes.
func (s *RunState) Completed(node string) bool {
	_, ok := s.CompletedNodes[node]
	return ok
}

// CompletedList returns completed node ids, sorted.
func (s *RunState) CompletedList() []string {
	return slices.Sorted(maps.Keys(s.CompletedNodes))
}

// ErrorSummary maps each errored node to a one-line description.
func (s *RunState) ErrorSummary() map[string]string {
	out := make(map[string]string, len(s.NodeErrors))
	for id, ne := range s.NodeErrors {
		out[id] = string(ne.Status) + ": " + ne.Message
	}
	return out
}

// Snapshot returns a read-only deep copy for handing to a node.
func (s *RunState) Snapshot() Snapshot {
	return Snapshot{
		inputs:    s.Inputs,
		rubric:    s.Rubric.clone(),
		evidence:  s.Evidence.Clone(),
		errors:    maps.Clone(s.NodeErrors),
		completed: maps.Clone(s.CompletedNodes),
	}
}

// Clone returns an independent copy of the state, including the frozen flag.
func (s *RunState) Clone() *RunState {
	c := &RunState{
		Inputs:         s.Inputs,
		Rubric:         s.Rubric.clone(),
		Evidence:       s.Evidence.Clone(),
		NodeErrors:     maps.Clone(s.NodeErrors),
		CompletedNodes: maps.Clone(s.CompletedNodes),
		Report:         s.Report,
		frozen:         s.frozen,
	}
	if c.NodeErrors == nil {
		c.NodeErrors = make(map[string]NodeError)
	}
	if c.CompletedNodes == nil {
		c.CompletedNodes = make(map[string]struct{})
	}
	return c
}

// Snapshot is an immutable view of a RunState handed to nodes.
type Snapshot struct {
	inputs    RunInputs
	rubric    Rubric
	evidence  EvidenceSet
	errors    map[string]NodeError
	completed map[string]struct{}
}

// Inputs returns the run locators.
func (s Snapshot) Inputs() RunInputs { return s.inputs }

// Rubric returns a copy of the rubric.
func (s Snapshot) Rubric() Rubric { return s.rubric.clone() }

// Evidence returns the merged evidence, sorted.
func (s Snapshot) Evidence() []EvidenceItem { return s.evidence.Items() }

// EvidenceSet returns a copy of the merged evidence set.
func (s Snapshot) EvidenceSet() EvidenceSet { return s.evidence.Clone() }

// NodeErrors returns a copy of the node error records.
func (s Snapshot) NodeErrors() map[string]NodeError { return maps.Clone(s.errors) }

// Completed reports whether node had completed when the snapshot was taken.
func (s Snapshot) Completed(node string) bool {
	_, ok := s.completed[node]
	return ok
}

// CompletedNodes returns the completed node ids, sorted.
func (s Snapshot) CompletedNodes() []string {
	return slices.Sorted(maps.Keys(s.completed))
}

// Patch is the standalone partial state a node returns. The executor merges it
// into the canonical RunState; nodes never mutate shared state directly.
type Patch struct {
	Evidence       []EvidenceItem
	NodeErrors     map[string]NodeError
	CompletedNodes []string
	Report         *Report
}

// IsEmpty reports whether the patch carries nothing to merge.
func (p Patch) IsEmpty() bool {
	return len(p.Evidence) == 0 && len(p.NodeErrors) == 0 &&
		len(p.CompletedNodes) == 0 && p.Report == nil
}
