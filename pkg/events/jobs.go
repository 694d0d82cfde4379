// Package events defines the typed job payloads exchanged between the
// orchestration façade and the engine processors.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type JobType string

const (
	GraphEntryJob      JobType = "graph.entry"
	NodeExecutionJob   JobType = "node.execution"
	ScheduledResumeJob JobType = "scheduled.resume"
)

// Topics, one queue per processor.
const (
	GraphEntryTopic      = "operion.engine.graph-entry"
	NodeExecutionTopic   = "operion.engine.node-execution"
	ScheduledResumeTopic = "operion.engine.scheduled-resume"
)

const (
	JobIDMetadataKey       = "job_id"
	JobTypeMetadataKey     = "job_type"
	ExecutionIDMetadataKey = "execution_id"
	AttemptMetadataKey     = "attempt"
)

var (
	ErrUnknownJobType = errors.New("unknown job type")
	ErrInvalidJob     = errors.New("invalid job payload")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Job is the closed set of payloads the queue carries.
type Job interface {
	GetType() JobType
	GetExecutionID() string
}

// GraphEntry starts a run.
type GraphEntry struct {
	WorkflowID  string         `json:"workflow_id"       validate:"required"`
	ExecutionID string         `json:"execution_id"      validate:"required"`
	Input       map[string]any `json:"input,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
}

func (GraphEntry) GetType() JobType { return GraphEntryJob }

func (g GraphEntry) GetExecutionID() string { return g.ExecutionID }

// NodeExecution runs one node of a run.
type NodeExecution struct {
	ExecutionID string         `json:"execution_id" validate:"required"`
	NodeID      string         `json:"node_id"      validate:"required"`
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	Input       map[string]any `json:"input,omitempty"`
	Attempt     int            `json:"attempt"      validate:"min=1"`
}

func (NodeExecution) GetType() JobType { return NodeExecutionJob }

func (n NodeExecution) GetExecutionID() string { return n.ExecutionID }

// SetAttempt lets the queue stamp redelivery attempts onto the payload.
func (n *NodeExecution) SetAttempt(attempt int) {
	n.Attempt = attempt
}

// NextNode is a child to seed once a delay elapses.
type NextNode struct {
	NodeID     string         `json:"node_id"         validate:"required"`
	WorkflowID string         `json:"workflow_id"     validate:"required"`
	Input      map[string]any `json:"input,omitempty"`
}

// ScheduledResume is delivered after a time-based suspension.
type ScheduledResume struct {
	ExecutionID string     `json:"execution_id" validate:"required"`
	NodeID      string     `json:"node_id"      validate:"required"`
	NextNodes   []NextNode `json:"next_nodes"   validate:"dive"`
}

func (ScheduledResume) GetType() JobType { return ScheduledResumeJob }

func (s ScheduledResume) GetExecutionID() string { return s.ExecutionID }

// Topic returns the queue topic for a job type.
func Topic(jobType JobType) (string, error) {
	switch jobType {
	case GraphEntryJob:
		return GraphEntryTopic, nil
	case NodeExecutionJob:
		return NodeExecutionTopic, nil
	case ScheduledResumeJob:
		return ScheduledResumeTopic, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
}

// Validate checks a job at the queue boundary.
func Validate(job Job) error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidJob, job.GetType(), err)
	}

	return nil
}

// Decode parses and validates a payload of the given type.
func Decode(jobType JobType, payload []byte) (Job, error) {
	var job Job

	switch jobType {
	case GraphEntryJob:
		job = &GraphEntry{}
	case NodeExecutionJob:
		job = &NodeExecution{}
	case ScheduledResumeJob:
		job = &ScheduledResume{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	if err := json.Unmarshal(payload, job); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidJob, jobType, err)
	}

	if err := Validate(job); err != nil {
		return nil, err
	}

	return job, nil
}
