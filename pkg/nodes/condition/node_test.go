package condition

import (
	"context"
	"testing"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(input map[string]any) protocol.ExecuteRequest {
	return protocol.ExecuteRequest{
		Node:  &models.WorkflowNode{ID: "2", Type: NodeType},
		Input: input,
		Context: protocol.ExecutionContext{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			Variables:   map[string]any{"threshold": 10},
		},
	}
}

func TestNewConditionNode(t *testing.T) {
	_, err := NewConditionNode("2", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field 'condition'")

	node, err := NewConditionNode("2", map[string]any{"condition": true})
	require.NoError(t, err)
	assert.Equal(t, "true", node.condition)
}

func TestConditionNode_Execute(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		input     map[string]any
		expected  bool
	}{
		{"matching source", `{{ eq .input.utm_source "ppc" }}`, map[string]any{"utm_source": "ppc"}, true},
		{"other source", `{{ eq .input.utm_source "ppc" }}`, map[string]any{"utm_source": "organic"}, false},
		{"literal true", "true", nil, true},
		{"literal false", "false", nil, false},
		{"variables", `{{ gt .input.count .vars.threshold }}`, map[string]any{"count": 11}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := NewConditionNode("2", map[string]any{"condition": tt.condition})
			require.NoError(t, err)

			result, err := node.Execute(context.Background(), request(tt.input))
			require.NoError(t, err)

			assert.Equal(t, models.ResultStatusSuccess, result.Status)
			assert.Equal(t, tt.expected, result.Output[ResultKey])
		})
	}
}

func TestConditionNode_ExecuteTemplateError(t *testing.T) {
	node, err := NewConditionNode("2", map[string]any{"condition": "{{ .input.x "})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), request(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition evaluation failed")
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy("yes"))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("false"))
	assert.True(t, Truthy(2.5))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(nil))
	assert.True(t, Truthy([]any{1}))
	assert.False(t, Truthy(map[string]any{}))
}
