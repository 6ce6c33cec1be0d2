package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	llmerrors "github.com/EstifanosTeklay/automaton-auditor/internal/llm/errors"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

// NewLoggingMiddleware logs one line per request and one per outcome. When
// redact is set only prompt lengths are logged.
func NewLoggingMiddleware(logger *slog.Logger, redact bool) transport.Middleware {
	if logger == nil {
		logger = slog.Default().With("component", "llm")
	}
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if req.TraceID == "" {
				req.TraceID = uuid.New().String()
			}

			fields := []any{
				"request_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"max_tokens", req.MaxTokens,
			}
			if redact {
				fields = append(fields, "system_length", len(req.SystemPrompt), "prompt_length", len(req.Prompt))
			} else {
				fields = append(fields, "system", req.SystemPrompt, "prompt", req.Prompt)
			}
			logger.DebugContext(ctx, "llm request", fields...)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			elapsed := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "llm request failed",
					"request_id", req.TraceID,
					"model", req.Model,
					"duration_ms", elapsed.Milliseconds(),
					"error_type", llmerrors.Classify(err),
					"error", err)
				return nil, err
			}

			logger.InfoContext(ctx, "llm request completed",
				"request_id", req.TraceID,
				"model", resp.Model,
				"cached", resp.Cached,
				"finish_reason", resp.FinishReason,
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"duration_ms", elapsed.Milliseconds())
			return resp, nil
		})
	}
}
