// auditor evaluates a code repository and its accompanying report against a
// rubric and prints an evidence report.
//
// Usage:
//
//	auditor run <repo> <doc> [--json] [--format=table|markdown]
//	auditor runs [--limit=N] | runs show <id> | runs prune --older-than=720h
//	auditor worker
//	auditor submit <repo> <doc> [--wait]
//
// Exit status is 0 for a complete run, 2 for a partial run and 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitStatus(err))
}

// exitError carries a non-zero exit status without an error message.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
