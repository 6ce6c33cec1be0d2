package audit

import "github.com/EstifanosTeklay/automaton-auditor/internal/domain"

// Process exit codes.
const (
	ExitComplete = 0
	ExitFatal    = 1
	ExitPartial  = 2
)

// ExitCode maps a run outcome to a process exit status: 0 when every node
// succeeded, 2 when the run finished with soft failures, and 1 for schema,
// topology or deadlock failures and cancelled runs.
func ExitCode(out *Outcome, err error) int {
	if out == nil || out.Status.Fatal() || err != nil {
		return ExitFatal
	}
	if out.Status == domain.RunPartial {
		return ExitPartial
	}
	return ExitComplete
}
