package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every typed error below matches exactly one of these via errors.Is.
var (
	// ErrSchema indicates a malformed rubric or evidence item.
	ErrSchema = errors.New("schema violation")

	// ErrCollaborator indicates an external tool, network or model failure inside an analyzer.
	ErrCollaborator = errors.New("collaborator failure")

	// ErrExecutor indicates a malformed graph topology.
	ErrExecutor = errors.New("invalid graph topology")

	// ErrDeadlock indicates that a required dependency never completed.
	ErrDeadlock = errors.New("graph deadlocked")
)

// State lifecycle errors.
var (
	// ErrStateFrozen is returned when a patch is applied after the run state was frozen.
	ErrStateFrozen = errors.New("run state is frozen")

	// ErrReportConflict is returned when two different reports are merged into one state.
	ErrReportConflict = errors.New("conflicting evidence reports")
)

// SchemaError describes a single validation failure on a rubric dimension or evidence item.
type SchemaError struct {
	Subject string // What was being validated, e.g. "rubric" or "evidence".
	Ref     string // Identifier of the offending element, if any.
	Field   string // Field that failed validation.
	Message string // Human readable reason.
}

// Error returns a formatted error message for the schema error.
func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema error: ")
	b.WriteString(e.Subject)
	if e.Ref != "" {
		b.WriteString(" '" + e.Ref + "'")
	}
	if e.Field != "" {
		b.WriteString(" field '" + e.Field + "'")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Is reports whether target is the ErrSchema category.
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// NewSchemaError creates a schema error with the specified details.
func NewSchemaError(subject, ref, field, message string) *SchemaError {
	return &SchemaError{Subject: subject, Ref: ref, Field: field, Message: message}
}

// CollaboratorError wraps a failure of an analyzer's external dependency.
// It is always recorded as a fail-soft outcome by the executor.
type CollaboratorError struct {
	Collaborator string // e.g. "git", "llm", "document"
	Op           string // Operation that failed.
	Timeout      bool   // Whether the failure was a deadline expiry.
	Err          error
}

// Error returns a formatted error message for the collaborator error.
func (e *CollaboratorError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	if e.Err == nil {
		return fmt.Sprintf("collaborator %s %s during %s", e.Collaborator, kind, e.Op)
	}
	return fmt.Sprintf("collaborator %s %s during %s: %v", e.Collaborator, kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CollaboratorError) Unwrap() error { return e.Err }

// Is reports whether target is the ErrCollaborator category.
func (e *CollaboratorError) Is(target error) bool { return target == ErrCollaborator }

// ExecutorError reports a topology problem detected while building a graph.
type ExecutorError struct {
	Node   string
	Reason string
}

// Error returns a formatted error message for the executor error.
func (e *ExecutorError) Error() string {
	if e.Node == "" {
		return "executor error: " + e.Reason
	}
	return "executor error: node '" + e.Node + "': " + e.Reason
}

// Is reports whether target is the ErrExecutor category.
func (e *ExecutorError) Is(target error) bool { return target == ErrExecutor }

// DeadlockError reports nodes that could never become runnable.
type DeadlockError struct {
	Blocking string   // First node whose dependencies can never be satisfied.
	Waiting  []string // Every node left pending, sorted.
}

// Error returns a formatted error message for the deadlock error.
func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: node '%s' blocked (%d nodes never ran: %s)",
		e.Blocking, len(e.Waiting), strings.Join(e.Waiting, ", "))
}

// Is reports whether target is the ErrDeadlock category.
func (e *DeadlockError) Is(target error) bool { return target == ErrDeadlock }
