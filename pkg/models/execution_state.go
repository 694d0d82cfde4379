package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the lifecycle state of a run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending" // Durable record only, before graph entry
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further node work is expected.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// StepStatus is the state of one node inside a run.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSuspended StepStatus = "suspended"
)

// StepError is the failure surface of a step.
type StepError struct {
	Message  string `json:"message"`
	Retrying bool   `json:"retrying,omitempty"`
}

// Step records one node execution.
type Step struct {
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Status      StepStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    int64          `json:"duration_ms,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
}

// ExecutionState is the live record of an in-flight run. It is only ever
// mutated through the state store's patch operation.
type ExecutionState struct {
	ExecutionID    string          `json:"execution_id"`
	WorkflowID     string          `json:"workflow_id"`
	Status         ExecutionStatus `json:"status"`
	CompletedNodes []string        `json:"completed_nodes"`
	ActiveNodes    []string        `json:"active_nodes"`
	Steps          []Step          `json:"steps"`
	StepsByNodeID  map[string]Step `json:"steps_by_node_id"`
	Variables      map[string]any  `json:"variables"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewExecutionState returns an empty running record.
func NewExecutionState(executionID, workflowID string, now time.Time) *ExecutionState {
	return &ExecutionState{
		ExecutionID:    executionID,
		WorkflowID:     workflowID,
		Status:         ExecutionStatusRunning,
		CompletedNodes: []string{},
		ActiveNodes:    []string{},
		Steps:          []Step{},
		StepsByNodeID:  make(map[string]Step),
		Variables:      make(map[string]any),
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// IsCompleted reports whether nodeID is resolved.
func (s *ExecutionState) IsCompleted(nodeID string) bool {
	return slices.Contains(s.CompletedNodes, nodeID)
}

// IsActive reports whether nodeID is executing or awaiting input.
func (s *ExecutionState) IsActive(nodeID string) bool {
	return slices.Contains(s.ActiveNodes, nodeID)
}

// Step returns the latest step recorded for nodeID.
func (s *ExecutionState) Step(nodeID string) (Step, bool) {
	step, ok := s.StepsByNodeID[nodeID]

	return step, ok
}

// MergedOutputs folds every step output in chronological order, later keys win.
func (s *ExecutionState) MergedOutputs() map[string]any {
	merged := make(map[string]any)

	for _, step := range s.Steps {
		for key, value := range step.Output {
			merged[key] = value
		}
	}

	return merged
}
