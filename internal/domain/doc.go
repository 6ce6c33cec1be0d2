// Package domain defines the audit's core types: rubric dimensions, evidence
// items, the shared run state with its merge rules, and the final report.
//
// The run state is only mutated through patches merged by the executor;
// nodes receive read-only snapshots.
package domain
