package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

// Node is a unit of work in the graph. Run receives a read-only snapshot of the
// run state and returns a patch; it must not retain or share mutable memory
// with other nodes.
type Node interface {
	ID() string
	Run(ctx context.Context, snap domain.Snapshot) (domain.Patch, error)
}

// RunFunc is the signature of a node body.
type RunFunc func(ctx context.Context, snap domain.Snapshot) (domain.Patch, error)

type funcNode struct {
	id string
	fn RunFunc
}

func (n funcNode) ID() string { return n.id }

func (n funcNode) Run(ctx context.Context, snap domain.Snapshot) (domain.Patch, error) {
	return n.fn(ctx, snap)
}

// NewNode adapts a function to the Node interface.
func NewNode(id string, fn RunFunc) Node {
	return funcNode{id: id, fn: fn}
}

// fatalError marks an error as fatal regardless of the classifier in use.
type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// Fatal marks err as a fatal node failure. Dependents of a node returning a
// fatal error are skipped.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe fatalError
	return errors.As(err, &fe)
}

// PanicError is the error recorded for a node that panicked. It goes through
// the classifier like any other node error.
type PanicError struct {
	Node  string
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("node panicked: %v", e.Value) }

// Classifier decides whether a node error is failed-soft or failed-fatal.
// It must return domain.NodeFailedSoft or domain.NodeFailedFatal.
type Classifier func(err error) domain.NodeStatus

// DefaultClassifier treats errors, panics included, as fail-soft unless they
// were marked with Fatal or are schema errors.
func DefaultClassifier(err error) domain.NodeStatus {
	if IsFatal(err) || errors.Is(err, domain.ErrSchema) {
		return domain.NodeFailedFatal
	}
	return domain.NodeFailedSoft
}

// StrictClassifier treats every error except collaborator failures as fatal,
// panics included.
func StrictClassifier(err error) domain.NodeStatus {
	if errors.Is(err, domain.ErrCollaborator) && !IsFatal(err) {
		return domain.NodeFailedSoft
	}
	return domain.NodeFailedFatal
}

// NodeOption customizes a single registered node.
type NodeOption func(*vertex)

// WithTimeout overrides the executor's default deadline for the node.
func WithTimeout(d time.Duration) NodeOption {
	return func(v *vertex) { v.timeout = d }
}

// WithClassifier overrides the executor's failure policy for the node.
func WithClassifier(c Classifier) NodeOption {
	return func(v *vertex) { v.classify = c }
}
