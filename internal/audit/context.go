package audit

import (
	"context"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// ContextNodeID is the graph id of the context builder.
const ContextNodeID = "context_builder"

// ContextBuilder returns the root node of the audit graph. It re-validates the
// rubric the state was seeded with; a failure is fatal and skips every
// downstream node.
func ContextBuilder() engine.Node {
	return engine.NewNode(ContextNodeID, func(ctx context.Context, snap domain.Snapshot) (domain.Patch, error) {
		rubric := snap.Rubric()
		if err := domain.ValidateRubric(rubric); err != nil {
			return domain.Patch{}, engine.Fatal(err)
		}
		in := snap.Inputs()
		logging.FromContext(ctx).Info("context built",
			"dimensions", rubric.Len(),
			"repo", in.RepoLocator,
			"doc", in.DocLocator)
		return domain.Patch{}, nil
	})
}
