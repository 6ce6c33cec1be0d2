package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

func noop(id string) Node {
	return NewNode(id, func(context.Context, domain.Snapshot) (domain.Patch, error) {
		return domain.Patch{}, nil
	})
}

func TestGraph_Register(t *testing.T) {
	tests := []struct {
		name     string
		setup    []string
		node     Node
		upstream []string
		wantErr  string
	}{
		{name: "root node", node: noop("a")},
		{name: "known dependency", setup: []string{"a"}, node: noop("b"), upstream: []string{"a"}},
		{name: "nil node", node: nil, wantErr: "nil node"},
		{name: "empty id", node: noop(" "), wantErr: "node id is empty"},
		{name: "duplicate", setup: []string{"a"}, node: noop("a"), wantErr: "duplicate node id"},
		{name: "self dependency", node: noop("a"), upstream: []string{"a"}, wantErr: "depends on itself"},
		{name: "unknown dependency", node: noop("b"), upstream: []string{"ghost"}, wantErr: "unknown dependency 'ghost'"},
		{name: "repeated dependency", setup: []string{"a"}, node: noop("b"), upstream: []string{"a", "a"}, wantErr: "listed twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			for _, id := range tt.setup {
				require.NoError(t, g.Register(noop(id), nil))
			}
			err := g.Register(tt.node, tt.upstream)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrExecutor)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGraph_ConnectRejectsCycle(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Register(noop("a"), nil))
	require.NoError(t, g.Register(noop("b"), []string{"a"}))
	require.NoError(t, g.Register(noop("c"), []string{"b"}))

	err := g.Connect("c", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExecutor)
	assert.Contains(t, err.Error(), "cycle detected")

	// The rejected edge is rolled back.
	assert.Empty(t, g.Upstream("a"))
	assert.Equal(t, []string{"b"}, g.Upstream("c"))

	assert.ErrorIs(t, g.Connect("a", "a"), domain.ErrExecutor)
	assert.ErrorIs(t, g.Connect("ghost", "a"), domain.ErrExecutor)
	assert.ErrorIs(t, g.Connect("a", "ghost"), domain.ErrExecutor)
	require.NoError(t, g.Connect("a", "c"))
	require.NoError(t, g.Connect("a", "c"), "existing edge is a no-op")
	assert.Equal(t, []string{"b", "a"}, g.Upstream("c"))
}

func TestGraph_Topology(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Register(noop("context"), nil))
	require.NoError(t, g.Register(noop("repo"), []string{"context"}))
	require.NoError(t, g.Register(noop("doc"), []string{"context"}))
	require.NoError(t, g.Register(noop("aggregate"), []string{"repo", "doc"}))

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"context", "repo", "doc", "aggregate"}, g.Nodes())
	assert.Equal(t, []string{"repo", "doc"}, g.Downstream("context"))
	assert.True(t, g.IsFanIn("aggregate"))
	assert.False(t, g.IsFanIn("repo"))
	assert.Nil(t, g.Upstream("ghost"))
	assert.Equal(t, []string{"context", "repo", "doc", "aggregate"}, g.TopologicalOrder())
}

func TestClassifiers(t *testing.T) {
	collab := &domain.CollaboratorError{Collaborator: "llm", Op: "assess", Err: context.DeadlineExceeded}
	schema := domain.NewSchemaError("evidence", "d1", "confidence", "out of range")
	plain := assert.AnError

	assert.Equal(t, domain.NodeFailedSoft, DefaultClassifier(collab))
	assert.Equal(t, domain.NodeFailedSoft, DefaultClassifier(plain))
	assert.Equal(t, domain.NodeFailedFatal, DefaultClassifier(schema))
	assert.Equal(t, domain.NodeFailedFatal, DefaultClassifier(Fatal(collab)))

	assert.Equal(t, domain.NodeFailedSoft, StrictClassifier(collab))
	assert.Equal(t, domain.NodeFailedFatal, StrictClassifier(plain))
	assert.Equal(t, domain.NodeFailedFatal, StrictClassifier(Fatal(collab)))

	assert.Nil(t, Fatal(nil))
	assert.True(t, IsFatal(Fatal(plain)))
	assert.ErrorIs(t, Fatal(plain), plain)
}
