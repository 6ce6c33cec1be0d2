// Package events defines the envelope audit activities publish and the sinks
// that receive them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeAuditStarted   = "audit.started"
	TypeAuditCompleted = "audit.completed"
)

// SchemaVersion is stamped on every envelope built by New.
const SchemaVersion = "1.0.0"

// Envelope carries one event and the metadata needed to route and
// de-duplicate it.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Source  string `json:"source"`
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across activity retries so consumers can
	// drop duplicates.
	IdempotencyKey string `json:"idempotency_key"`

	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id"`

	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope with a fresh id and the payload encoded as JSON.
// The idempotency key is derived from the event type and run id.
func New(eventType, source, workflowID, runID string, payload any) (Envelope, error) {
	if eventType == "" || runID == "" {
		return Envelope{}, errors.New("event type and run id are required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        SchemaVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: eventType + ":" + runID,
		WorkflowID:     workflowID,
		RunID:          runID,
		Payload:        raw,
	}, nil
}

// EventSink receives envelopes. Delivery is best effort: callers log Append
// failures and carry on.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (NoOpEventSink) Append(context.Context, Envelope) error { return nil }

// NewNoOpEventSink returns a sink that discards events.
func NewNoOpEventSink() EventSink { return NoOpEventSink{} }

// LogEventSink writes each envelope as a structured log record.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink returns a sink that logs to logger, or to slog.Default
// when logger is nil.
func NewLogEventSink(logger *slog.Logger) *LogEventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

// Append implements EventSink.
func (s *LogEventSink) Append(ctx context.Context, env Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"id", env.ID,
		"type", env.Type,
		"source", env.Source,
		"version", env.Version,
		"idempotency_key", env.IdempotencyKey,
		"workflow_id", env.WorkflowID,
		"run_id", env.RunID,
		"payload", string(env.Payload))
	return nil
}
