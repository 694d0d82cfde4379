package models

import "time"

// ResultStatus is the uniform shape prior node results are exposed with to executors.
type ResultStatus string

const (
	ResultStatusSuccess   ResultStatus = "success"
	ResultStatusFailed    ResultStatus = "failed"
	ResultStatusSuspended ResultStatus = "suspended"
)

// NodeResult is a normalized view of a step for downstream nodes.
type NodeResult struct {
	NodeID    string         `json:"node_id"`
	Status    ResultStatus   `json:"status"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// NewNodeResult normalizes a step record.
func NewNodeResult(step Step) NodeResult {
	result := NodeResult{
		NodeID:    step.NodeID,
		Data:      step.Output,
		Timestamp: step.StartedAt,
	}

	if result.Data == nil {
		result.Data = make(map[string]any)
	}

	if step.CompletedAt != nil {
		result.Timestamp = *step.CompletedAt
	}

	switch step.Status {
	case StepStatusCompleted:
		result.Status = ResultStatusSuccess
	case StepStatusSuspended:
		result.Status = ResultStatusSuspended
	default:
		result.Status = ResultStatusFailed
	}

	if step.Error != nil {
		result.Error = step.Error.Message
	}

	return result
}
