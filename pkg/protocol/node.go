// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/dukex/operion-engine/pkg/models"
)

// ResumeAfterKey in a suspended result's output asks the engine to continue
// the run after a delay instead of waiting for an external resume.
const ResumeAfterKey = "resumeAfter"

// Node is the business logic of one node type.
type Node interface {
	Execute(ctx context.Context, req ExecuteRequest) (Result, error)
}

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance with the given configuration
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the unique identifier for this node type
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// ExecuteRequest is everything a node gets to compute its result.
type ExecuteRequest struct {
	Node    *models.WorkflowNode
	Input   map[string]any
	Context ExecutionContext
}

// ExecutionContext is a read-only view of the run built from its live state.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	// Results holds the normalized result of every prior step, keyed by node id.
	Results   map[string]models.NodeResult
	Steps     []models.Step
	Nodes     []*models.WorkflowNode
	Edges     []*models.Edge
	Variables map[string]any
}

// IncomingEdges returns the edges targeting nodeID. Fan-in aware nodes use it
// to find the branches they join.
func (c ExecutionContext) IncomingEdges(nodeID string) []*models.Edge {
	edges := make([]*models.Edge, 0)

	for _, edge := range c.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Result is what a node execution produced.
type Result struct {
	Status models.ResultStatus
	Output map[string]any
	Error  string
}

func Success(output map[string]any) Result {
	return Result{Status: models.ResultStatusSuccess, Output: output}
}

func Failed(message string) Result {
	return Result{Status: models.ResultStatusFailed, Error: message, Output: map[string]any{}}
}

// Suspended pauses the run until an external resume supplies data.
func Suspended(output map[string]any) Result {
	return Result{Status: models.ResultStatusSuspended, Output: output}
}

// SuspendedFor pauses the run and continues it by itself after the delay.
func SuspendedFor(duration float64, unit string, output map[string]any) Result {
	if output == nil {
		output = make(map[string]any)
	}

	output[ResumeAfterKey] = map[string]any{
		"duration": duration,
		"unit":     unit,
	}

	return Suspended(output)
}
