package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
	"github.com/EstifanosTeklay/automaton-auditor/internal/metrics"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
	"github.com/EstifanosTeklay/automaton-auditor/internal/worker"
)

// newRunner is replaced in tests.
var newRunner = buildRunner

// buildRunner assembles the runner with metrics and, when an API key is
// configured, the model client. Metrics are served in the background when
// an address is configured.
func buildRunner(ctx context.Context) (*audit.Runner, error) {
	m := metrics.New()
	client, err := worker.InitializeLLMClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client != nil {
		if err := m.RegisterLLM(client.Stats()); err != nil {
			return nil, err
		}
	} else {
		logging.New("cli").Info("no model api key configured, using heuristic assessment")
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.New("metrics").Error("metrics server stopped", "error", err)
			}
		}()
	}
	return worker.NewRunner(cfg, client, m), nil
}

// openStore opens the run history, or returns nil when disabled.
func openStore(disabled bool) (store.Store, error) {
	if disabled || cfg.DBPath == "" {
		return nil, nil
	}
	return store.NewSQLiteStore(cfg.DBPath)
}
