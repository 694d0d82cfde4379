// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a log node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:   uuid.New().String(),
		Type: "log",
		Data: map[string]any{"message": "test", "level": "info"},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WithType sets the node type and clears the default data.
func WithType(nodeType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
		n.Data = nil
	}
}

// WithData sets the node configuration.
func WithData(data map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Data = data
	}
}

// WithExternal hands the node to an outside system.
func WithExternal() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Environment = models.EnvironmentExternal
	}
}

// CreateTestWorkflow creates an empty test workflow.
func CreateTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Owner:       "test-user",
		Variables:   map[string]any{"env": "test"},
		Nodes:       []*models.WorkflowNode{},
		Edges:       []*models.Edge{},
	}
}

// CreateTestWorkflowWithNodes creates a start node feeding a log node.
func CreateTestWorkflowWithNodes() *models.Workflow {
	workflow := CreateTestWorkflow()

	workflow.Nodes = []*models.WorkflowNode{
		CreateTestNode(WithID("start-1"), WithType("start")),
		CreateTestNode(WithID("log-1")),
	}
	workflow.Edges = []*models.Edge{CreateTestEdge("start-1", "log-1")}

	return workflow
}

// CreateTestEdge creates an unconditional edge between two nodes.
func CreateTestEdge(sourceNodeID, targetNodeID string) *models.Edge {
	return &models.Edge{
		ID:     uuid.New().String(),
		Source: sourceNodeID,
		Target: targetNodeID,
	}
}

// CreateConditionalEdge creates an edge taken when the source result matches branch.
func CreateConditionalEdge(sourceNodeID, targetNodeID string, branch bool) *models.Edge {
	edge := CreateTestEdge(sourceNodeID, targetNodeID)
	if branch {
		edge.Condition = "true"
	} else {
		edge.Condition = "false"
	}

	return edge
}
