// Package web provides HTTP request and response types for the execution API.
package web

import "github.com/dukex/operion-engine/pkg/models"

// StartExecutionRequest represents the request body for starting a run.
type StartExecutionRequest struct {
	Input  map[string]any `json:"input"`
	UserID string         `json:"user_id,omitempty"`
}

// ResumeExecutionRequest represents the request body for resuming a suspended run.
type ResumeExecutionRequest struct {
	NodeID string         `json:"node_id,omitempty"`
	Data   map[string]any `json:"data"              validate:"required"`
}

// SaveWorkflowRequest represents the request body for creating or replacing a workflow.
type SaveWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	Nodes       []*models.WorkflowNode `json:"nodes"       validate:"required,min=1"`
	Edges       []*models.Edge         `json:"edges"`
	Variables   map[string]any         `json:"variables"`
	Owner       string                 `json:"owner"`
}

// NodeTypeResponse describes a registered node type.
type NodeTypeResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}
