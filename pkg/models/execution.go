package models

import "time"

// Execution is the durable record of a run. It outlives the TTL-backed live
// state and is what status queries fall back to.
type Execution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	UserID         string          `json:"user_id,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Input          map[string]any  `json:"input,omitempty"`
	CompletedNodes []string        `json:"completed_nodes,omitempty"`
	ActiveNodes    []string        `json:"active_nodes,omitempty"`
	Steps          []Step          `json:"steps,omitempty"`
	Variables      map[string]any  `json:"variables,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// ApplyState copies the live state onto the durable record.
func (e *Execution) ApplyState(state *ExecutionState) {
	e.Status = state.Status
	e.CompletedNodes = append([]string(nil), state.CompletedNodes...)
	e.ActiveNodes = append([]string(nil), state.ActiveNodes...)
	e.Steps = append([]Step(nil), state.Steps...)
	e.Variables = state.Variables
	e.UpdatedAt = state.UpdatedAt

	startedAt := state.StartedAt
	e.StartedAt = &startedAt

	if state.Status.IsTerminal() {
		completedAt := state.UpdatedAt
		e.CompletedAt = &completedAt
	}

	for i := len(state.Steps) - 1; i >= 0; i-- {
		if state.Steps[i].Status == StepStatusFailed && state.Steps[i].Error != nil {
			e.ErrorMessage = state.Steps[i].Error.Message

			break
		}
	}
}
