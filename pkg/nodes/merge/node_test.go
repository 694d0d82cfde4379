package merge

import (
	"context"
	"testing"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinContext() protocol.ExecutionContext {
	return protocol.ExecutionContext{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "a"},
			{ID: "e2", Source: "start", Target: "b"},
			{ID: "e3", Source: "b", Target: "join"},
			{ID: "e4", Source: "a", Target: "join"},
		},
		Results: map[string]models.NodeResult{
			"start": {NodeID: "start", Status: models.ResultStatusSuccess, Data: map[string]any{"x": 0}},
			"a":     {NodeID: "a", Status: models.ResultStatusSuccess, Data: map[string]any{"x": 1, "a": true}},
			"b":     {NodeID: "b", Status: models.ResultStatusSuccess, Data: map[string]any{"x": 2, "b": true}},
		},
	}
}

func TestMergeNode_Execute(t *testing.T) {
	node := NewMergeNode("join", nil)

	result, err := node.Execute(context.Background(), protocol.ExecuteRequest{
		Node:    &models.WorkflowNode{ID: "join", Type: NodeType},
		Context: joinContext(),
	})
	require.NoError(t, err)

	assert.Equal(t, models.ResultStatusSuccess, result.Status)
	assert.Equal(t, []any{"a", "b"}, result.Output["sources"])
	assert.Equal(t, map[string]any{
		"a": map[string]any{"x": 1, "a": true},
		"b": map[string]any{"x": 2, "b": true},
	}, result.Output["merged"])
	assert.NotContains(t, result.Output, "x")
}

func TestMergeNode_ExecuteFlatten(t *testing.T) {
	node, err := NewMergeNodeFactory().Create(context.Background(), "join", map[string]any{"flatten": true})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), protocol.ExecuteRequest{
		Node:    &models.WorkflowNode{ID: "join", Type: NodeType},
		Context: joinContext(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Output["x"])
	assert.Equal(t, true, result.Output["a"])
	assert.Equal(t, true, result.Output["b"])
}

func TestMergeNode_ExecuteSkipsMissingSources(t *testing.T) {
	execCtx := joinContext()
	delete(execCtx.Results, "b")

	result, err := NewMergeNode("join", nil).Execute(context.Background(), protocol.ExecuteRequest{
		Node:    &models.WorkflowNode{ID: "join", Type: NodeType},
		Context: execCtx,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, result.Output["sources"])
}
