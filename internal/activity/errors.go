package activity

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

// ErrActivityValidation is returned when activity input is unusable.
var ErrActivityValidation = errors.New("activity input validation failed")

// Application error types reported to the workflow. Workflows list them as
// non-retryable so a deterministic failure is not re-run.
const (
	ErrorValidation = "Validation"
	ErrorSchema     = "Schema"
	ErrorExecutor   = "Executor"
)

// NonRetryableTypes lists every error type above.
var NonRetryableTypes = []string{ErrorValidation, ErrorSchema, ErrorExecutor}

func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// classify maps an audit error onto the Temporal retry model. Schema and
// executor failures repeat on every attempt; cancellation and anything
// unknown is returned as is and left to the retry policy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrSchema):
		return nonRetryable(ErrorSchema, err, "audit input failed schema validation")
	case errors.Is(err, domain.ErrExecutor), errors.Is(err, domain.ErrDeadlock):
		return nonRetryable(ErrorExecutor, err, "audit graph could not run")
	default:
		return err
	}
}
