// Package engine executes a directed acyclic graph of analysis nodes over a
// shared domain.RunState.
//
// Nodes with no unsatisfied upstream dependencies run concurrently, each on a
// read-only snapshot of the state taken at launch. Their patches are merged by
// a single loop through the domain reducers, so the final state does not depend
// on the order in which nodes finish. A node with several upstream nodes starts
// only after every one of them has succeeded or failed soft.
//
// Failures are classified per node. Soft failures (timeouts, collaborator
// errors) are recorded and release dependents. Fatal failures skip every
// transitive dependent, or abort the whole run when Config.AbortOnFatal is set.
package engine
