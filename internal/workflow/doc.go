// Package workflow defines the Temporal workflow that runs an audit
// durably on a worker.
//
// Workflow code stays deterministic: the audit graph, git, the model client
// and the run store are only touched from the RunAudit activity.
package workflow
