// Package worker wires the audit workflow and activity into a Temporal
// worker.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"

	"github.com/EstifanosTeklay/automaton-auditor/internal/activity"
	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
	"github.com/EstifanosTeklay/automaton-auditor/internal/workflow"
	base "github.com/EstifanosTeklay/automaton-auditor/pkg/activity"
	"github.com/EstifanosTeklay/automaton-auditor/pkg/events"
)

// Registry is the part of a Temporal worker RegisterAll needs. Both
// worker.Worker and the SDK test environments satisfy it.
type Registry interface {
	RegisterWorkflow(w any)
	RegisterActivityWithOptions(a any, options sdkactivity.RegisterOptions)
}

// Deps are the collaborators of the audit activity.
type Deps struct {
	Runner *audit.Runner
	// Store is optional; runs are not persisted when nil.
	Store store.Store
	// Sink defaults to a no-op sink.
	Sink events.EventSink
}

// RegisterAll registers AuditWorkflow and the RunAudit activity on w. Call it
// once, before the worker starts.
func RegisterAll(w Registry, deps Deps) {
	sink := deps.Sink
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	acts := activity.NewActivities(base.NewBaseActivities(sink), deps.Runner, deps.Store)

	w.RegisterWorkflow(workflow.AuditWorkflow)
	w.RegisterActivityWithOptions(acts.RunAudit, sdkactivity.RegisterOptions{Name: activity.RunAuditName})
}
