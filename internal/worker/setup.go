package worker

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/EstifanosTeklay/automaton-auditor/internal/analyzer/repo"
	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/config"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// InitializeLLMClient builds the model client from cfg. It returns nil and
// no error when the client is disabled.
func InitializeLLMClient(ctx context.Context, cfg *config.Config) (*llm.Client, error) {
	if !cfg.LLMEnabled {
		return nil, nil
	}
	c, err := llm.New(ctx, cfg.LLM, llm.WithLogger(logging.New("llm")))
	if err != nil {
		return nil, fmt.Errorf("initialize llm client: %w", err)
	}
	return c, nil
}

// NewRunner builds the audit runner with the bundled analyzers. client may
// be nil for heuristic assessment; observer may be nil.
func NewRunner(cfg *config.Config, client *llm.Client, observer engine.Observer) *audit.Runner {
	var completer llm.Completer
	if client != nil {
		completer = client
	}
	var repoOpts []repo.Option
	if cfg.AllowLocalRepos {
		repoOpts = append(repoOpts, repo.WithLocalRepos())
	}
	return audit.NewRunner(cfg.Engine(observer), cfg.Policy(), audit.Analyzers(completer, repoOpts...)...)
}

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logging.New("temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// New returns a worker on cfg's task queue with everything registered.
func New(c client.Client, cfg config.TemporalConfig, deps Deps) sdkworker.Worker {
	w := sdkworker.New(c, cfg.TaskQueue, sdkworker.Options{})
	RegisterAll(w, deps)
	return w
}
