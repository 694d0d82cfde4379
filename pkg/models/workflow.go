// Package models defines the core domain models for graph-based workflow execution
package models

import (
	"errors"
	"fmt"
	"time"
)

// Environment declares where a node's business logic runs.
type Environment string

const (
	EnvironmentEngine   Environment = "engine"   // Executed by a worker through the node registry
	EnvironmentExternal Environment = "external" // Handed off to an outside system, run suspends
)

// Workflow is an immutable graph definition. The engine only reads it.
type Workflow struct {
	ID          string          `json:"id"                    validate:"required"`
	Name        string          `json:"name"                  validate:"required,min=3"`
	Description string          `json:"description,omitempty"`
	Nodes       []*WorkflowNode `json:"nodes"                 validate:"required,min=1,dive"`
	Edges       []*Edge         `json:"edges"                 validate:"dive"`
	Variables   map[string]any  `json:"variables,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WorkflowNode is one step of the graph.
type WorkflowNode struct {
	ID          string         `json:"id"                    validate:"required"`
	Type        string         `json:"type"                  validate:"required"`
	Data        map[string]any `json:"data,omitempty"`
	Environment Environment    `json:"environment,omitempty" validate:"omitempty,oneof=engine external"`
}

// IsExternal reports whether the node runs outside the engine.
func (n *WorkflowNode) IsExternal() bool {
	return n.Environment == EnvironmentExternal
}

// Edge connects two nodes. A non-empty Condition makes the edge traversable only
// when the source node's boolean result has the same textual value.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"                  validate:"required"`
	Target       string `json:"target"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"     validate:"omitempty,oneof=true false"`
}

// HasCondition reports whether the edge carries a routing condition.
func (e *Edge) HasCondition() bool {
	return e.Condition != ""
}

var (
	ErrDuplicateNodeID = errors.New("duplicate node id")
	ErrDanglingEdge    = errors.New("edge references unknown node")
)

// CheckGraph verifies references inside the graph. Struct tag validation is
// done separately by the caller's validator instance.
func (w *Workflow) CheckGraph() error {
	seen := make(map[string]struct{}, len(w.Nodes))

	for _, node := range w.Nodes {
		if _, ok := seen[node.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		seen[node.ID] = struct{}{}
	}

	for _, edge := range w.Edges {
		if _, ok := seen[edge.Source]; !ok {
			return fmt.Errorf("%w: source %s", ErrDanglingEdge, edge.Source)
		}

		if _, ok := seen[edge.Target]; !ok {
			return fmt.Errorf("%w: target %s", ErrDanglingEdge, edge.Target)
		}
	}

	return nil
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*WorkflowNode, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// RootNodes returns the nodes that are not the target of any edge, in definition order.
func (w *Workflow) RootNodes() []*WorkflowNode {
	targets := make(map[string]struct{}, len(w.Edges))
	for _, edge := range w.Edges {
		targets[edge.Target] = struct{}{}
	}

	roots := make([]*WorkflowNode, 0)

	for _, node := range w.Nodes {
		if _, isTarget := targets[node.ID]; !isTarget {
			roots = append(roots, node)
		}
	}

	return roots
}

// OutgoingEdges returns the edges whose source is nodeID.
func (w *Workflow) OutgoingEdges(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges whose target is nodeID.
func (w *Workflow) IncomingEdges(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range w.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
