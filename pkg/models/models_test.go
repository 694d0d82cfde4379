package models

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-1",
		Name: "lead capture",
		Nodes: []*WorkflowNode{
			{ID: "1", Type: "start"},
			{ID: "2", Type: "condition", Data: map[string]any{"condition": "true"}},
			{ID: "3", Type: "form", Environment: EnvironmentEngine},
			{ID: "6", Type: "log"},
		},
		Edges: []*Edge{
			{Source: "1", Target: "2"},
			{Source: "2", Target: "3", Condition: "true"},
			{Source: "2", Target: "6", Condition: "false"},
		},
	}
}

func TestWorkflow_RootNodes(t *testing.T) {
	workflow := formWorkflow()

	roots := workflow.RootNodes()

	require.Len(t, roots, 1)
	assert.Equal(t, "1", roots[0].ID)
}

func TestWorkflow_RootNodes_Parallel(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []*Edge{{Source: "a", Target: "c"}, {Source: "b", Target: "c"}},
	}

	roots := workflow.RootNodes()

	require.Len(t, roots, 2)
	assert.Equal(t, "a", roots[0].ID)
	assert.Equal(t, "b", roots[1].ID)
}

func TestWorkflow_Edges(t *testing.T) {
	workflow := formWorkflow()

	outgoing := workflow.OutgoingEdges("2")
	require.Len(t, outgoing, 2)
	assert.True(t, outgoing[0].HasCondition())

	incoming := workflow.IncomingEdges("3")
	require.Len(t, incoming, 1)
	assert.Equal(t, "2", incoming[0].Source)

	assert.Empty(t, workflow.OutgoingEdges("6"))
}

func TestWorkflow_Node(t *testing.T) {
	workflow := formWorkflow()

	node, ok := workflow.Node("3")
	require.True(t, ok)
	assert.Equal(t, "form", node.Type)
	assert.False(t, node.IsExternal())

	_, ok = workflow.Node("missing")
	assert.False(t, ok)
}

func TestWorkflow_CheckGraph(t *testing.T) {
	workflow := formWorkflow()
	require.NoError(t, workflow.CheckGraph())

	workflow.Edges = append(workflow.Edges, &Edge{Source: "6", Target: "99"})
	require.ErrorIs(t, workflow.CheckGraph(), ErrDanglingEdge)

	duplicated := formWorkflow()
	duplicated.Nodes = append(duplicated.Nodes, &WorkflowNode{ID: "1", Type: "log"})
	require.ErrorIs(t, duplicated.CheckGraph(), ErrDuplicateNodeID)
}

func TestWorkflow_StructValidation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := formWorkflow()
	require.NoError(t, validate.Struct(workflow))

	workflow.Edges[1].Condition = "maybe"
	require.Error(t, validate.Struct(workflow))

	workflow = formWorkflow()
	workflow.Nodes[0].Environment = "cloud"
	require.Error(t, validate.Struct(workflow))
}

func TestExecutionState_MergedOutputs(t *testing.T) {
	state := NewExecutionState("exec-1", "wf-1", time.Now())
	state.Steps = []Step{
		{NodeID: "1", Output: map[string]any{"utm_source": "ppc", "stage": "start"}},
		{NodeID: "2", Output: map[string]any{"result": true, "stage": "condition"}},
	}

	merged := state.MergedOutputs()

	assert.Equal(t, map[string]any{"utm_source": "ppc", "stage": "condition", "result": true}, merged)
}

func TestNewNodeResult(t *testing.T) {
	completedAt := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		step     Step
		expected ResultStatus
	}{
		{"completed maps to success", Step{NodeID: "1", Status: StepStatusCompleted, CompletedAt: &completedAt}, ResultStatusSuccess},
		{"suspended stays suspended", Step{NodeID: "1", Status: StepStatusSuspended}, ResultStatusSuspended},
		{"failed stays failed", Step{NodeID: "1", Status: StepStatusFailed, Error: &StepError{Message: "boom"}}, ResultStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewNodeResult(tt.step)

			assert.Equal(t, tt.expected, result.Status)
			assert.NotNil(t, result.Data)
		})
	}

	result := NewNodeResult(Step{NodeID: "x", Status: StepStatusFailed, Error: &StepError{Message: "boom"}})
	assert.Equal(t, "boom", result.Error)
}

func TestExecution_ApplyState(t *testing.T) {
	now := time.Now().UTC()
	state := NewExecutionState("exec-1", "wf-1", now)
	state.Status = ExecutionStatusFailed
	state.CompletedNodes = []string{"1"}
	state.Steps = []Step{
		{NodeID: "1", Status: StepStatusCompleted},
		{NodeID: "2", Status: StepStatusFailed, Error: &StepError{Message: "exhausted"}},
	}

	execution := &Execution{ID: "exec-1", WorkflowID: "wf-1"}
	execution.ApplyState(state)

	assert.Equal(t, ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "exhausted", execution.ErrorMessage)
	assert.NotNil(t, execution.CompletedAt)
	assert.Len(t, execution.Steps, 2)
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.False(t, ExecutionStatusSuspended.IsTerminal())
}
