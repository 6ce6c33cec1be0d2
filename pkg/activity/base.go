// Package activity holds helpers shared by Temporal activities: workflow
// metadata lookup, best-effort event emission and logging that also works
// when an activity function is called directly, as tests and the CLI do.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
	"github.com/EstifanosTeklay/automaton-auditor/pkg/events"
)

// Emission retry settings.
const (
	emitAttempts   = 2
	emitRetryDelay = 200 * time.Millisecond
)

// WorkflowContext identifies the execution an activity runs under.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
	// Local is true when the activity runs outside a Temporal worker.
	Local bool
}

// BaseActivities is embedded by activity structs.
type BaseActivities struct {
	sink events.EventSink
}

// NewBaseActivities returns a base emitting to sink. A nil sink disables
// emission.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{sink: sink}
}

// GetWorkflowContext reads the execution ids from ctx. Outside an activity
// it returns a local workflow id and a random run id.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	if !activity.IsActivity(ctx) {
		return WorkflowContext{
			WorkflowID: "local",
			RunID:      "local-" + uuid.NewString()[:8],
			ActivityID: "local",
			Local:      true,
		}
	}
	info := activity.GetInfo(ctx)
	return WorkflowContext{
		WorkflowID: info.WorkflowExecution.ID,
		RunID:      info.WorkflowExecution.RunID,
		ActivityID: info.ActivityID,
	}
}

// EmitEventSafe appends env to the sink, retrying once. Failures are logged
// and never returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, env events.Envelope) {
	if b.sink == nil {
		return
	}

	var lastErr error
	for attempt := range emitAttempts {
		if attempt > 0 {
			select {
			case <-time.After(emitRetryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, "event emission cancelled", "event_type", env.Type, "error", ctx.Err())
				return
			}
		}
		if lastErr = b.sink.Append(ctx, env); lastErr == nil {
			SafeLog(ctx, "event emitted", "event_type", env.Type, "idempotency_key", env.IdempotencyKey)
			return
		}
	}
	SafeLogError(ctx, "event emission failed",
		"event_type", env.Type,
		"attempts", emitAttempts,
		"error", lastErr)
}

// RecordHeartbeat records a heartbeat when ctx belongs to an activity.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info through the activity logger, or through the context
// slog logger outside an activity.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	if activity.IsActivity(ctx) {
		activity.GetLogger(ctx).Info(msg, keyvals...)
		return
	}
	fallback(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	if activity.IsActivity(ctx) {
		activity.GetLogger(ctx).Error(msg, keyvals...)
		return
	}
	fallback(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat is a no-op outside an activity.
func RecordHeartbeat(ctx context.Context, details ...any) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}

func fallback(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}
