package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/operion-engine/pkg/engine"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence"
	"github.com/dukex/operion-engine/pkg/state"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CancelledMessage is recorded as the error of a cancelled run.
const CancelledMessage = "execution cancelled"

// JobQueue is the part of the queue the façade needs.
type JobQueue interface {
	eventbus.Enqueuer
	RemoveExecutionJobs(ctx context.Context, executionID string) error
}

// Orchestrator is the only entry point that creates, resumes and cancels runs
// from outside the engine.
type Orchestrator struct {
	persistence persistence.Persistence
	states      state.Store
	queue       JobQueue
	recorder    *engine.Recorder
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

func NewOrchestrator(p persistence.Persistence, states state.Store, queue JobQueue, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		persistence: p,
		states:      states,
		queue:       queue,
		recorder:    engine.NewRecorder(p.ExecutionRepository(), states),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "orchestrator"),
		now:         func() time.Time { return time.Now().UTC() },
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
}

// HealthCheck checks the health of the persistence layer.
func (o *Orchestrator) HealthCheck(ctx context.Context) (string, bool) {
	if err := o.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartWorkflowRequest contains the input of a new run.
type StartWorkflowRequest struct {
	WorkflowID string         `validate:"required"`
	Input      map[string]any
	UserID     string
}

// StartWorkflow records a pending run and hands it to the graph-entry processor.
func (o *Orchestrator) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (*models.Execution, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, NewValidationError("StartWorkflow", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	workflow, err := o.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if err := o.checkWorkflow(workflow); err != nil {
		return nil, err
	}

	input := req.Input
	if input == nil {
		input = make(map[string]any)
	}

	now := o.now()
	execution := &models.Execution{
		ID:         o.newID(),
		WorkflowID: workflow.ID,
		UserID:     req.UserID,
		Status:     models.ExecutionStatusPending,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := o.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	_, err = o.queue.Enqueue(ctx, &events.GraphEntry{
		WorkflowID:  workflow.ID,
		ExecutionID: execution.ID,
		Input:       input,
		UserID:      req.UserID,
	}, eventbus.EnqueueOptions{JobID: events.GraphJobID(execution.ID)})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue graph entry: %w", err)
	}

	o.logger.InfoContext(ctx, "Workflow execution requested",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
	)

	return execution, nil
}

func (o *Orchestrator) checkWorkflow(workflow *models.Workflow) error {
	if err := o.validate.Struct(workflow); err != nil {
		return NewValidationError("StartWorkflow", "invalid_workflow", err.Error(), ErrInvalidWorkflow)
	}

	if err := workflow.CheckGraph(); err != nil {
		return NewValidationError("StartWorkflow", "invalid_workflow", err.Error(), ErrInvalidWorkflow)
	}

	return nil
}

// ResumeExecutionRequest carries the data that completes a suspended node.
type ResumeExecutionRequest struct {
	ExecutionID string `validate:"required"`
	// NodeID selects the suspended node; empty means the first active node.
	NodeID string
	Data   map[string]any
}

// ResumeExecution completes a suspended node with client data and enqueues its
// children directly.
func (o *Orchestrator) ResumeExecution(ctx context.Context, req ResumeExecutionRequest) (*models.Execution, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, NewValidationError("ResumeExecution", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	logger := o.logger.With("execution_id", req.ExecutionID)

	st, err := o.states.GetState(ctx, req.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution state: %w", err)
	}

	if st == nil {
		return nil, o.missingStateError(ctx, req.ExecutionID)
	}

	if st.Status.IsTerminal() {
		return nil, ErrExecutionFinished
	}

	if st.Status != models.ExecutionStatusSuspended {
		return nil, ErrExecutionNotSuspended
	}

	nodeID := req.NodeID
	if nodeID == "" && len(st.ActiveNodes) > 0 {
		nodeID = st.ActiveNodes[0]
	}

	step, ok := st.Step(nodeID)
	if !ok || step.Status != models.StepStatusSuspended || !st.IsActive(nodeID) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotSuspended, nodeID)
	}

	workflow, err := o.persistence.WorkflowRepository().GetByID(ctx, st.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	now := o.now()
	resumedAt := now.Format(time.RFC3339Nano)

	output := make(map[string]any, len(step.Output)+len(req.Data)+1)
	maps.Copy(output, step.Output)
	maps.Copy(output, req.Data)
	output[engine.ResumedAtKey] = resumedAt

	step.Status = models.StepStatusCompleted
	step.Output = output
	step.CompletedAt = &now
	step.Duration = now.Sub(step.StartedAt).Milliseconds()

	// The suspension check above is repeated by the store under its write
	// lock, so only one of two racing resumes of a node lands.
	st, err = o.states.UpdateState(ctx, req.ExecutionID, state.Patch{
		RemoveActive:     nodeID,
		AddCompleted:     nodeID,
		Step:             &step,
		Variables:        map[string]any{engine.ResumeMarker(nodeID): resumedAt},
		RequireSuspended: nodeID,
		SettleStatus:     true,
	})
	if errors.Is(err, state.ErrNodeNotSuspended) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotSuspended, nodeID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update execution state: %w", err)
	}

	next := engine.NextNodes(workflow, st, nodeID, output)
	if err := engine.EnqueueNodes(ctx, o.queue, req.ExecutionID, next); err != nil {
		return nil, err
	}

	done, err := o.recorder.CompleteIfDone(ctx, workflow, st)
	if err != nil {
		return nil, err
	}

	if !done {
		if err := o.recorder.Flush(ctx, st, false); err != nil {
			return nil, err
		}
	}

	logger.InfoContext(ctx, "Execution resumed", "node_id", nodeID, "next_nodes", len(next), "completed", done)

	return o.persistence.ExecutionRepository().GetByID(ctx, req.ExecutionID)
}

// missingStateError explains why a run has no live state.
func (o *Orchestrator) missingStateError(ctx context.Context, executionID string) error {
	execution, err := o.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return ErrExecutionFinished
	}

	return ErrExecutionNotSuspended
}

// GetExecutionStatus returns the run as the live state sees it, falling back
// to the durable record once the run finished.
func (o *Orchestrator) GetExecutionStatus(ctx context.Context, executionID string) (*models.Execution, error) {
	st, err := o.states.GetState(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution state: %w", err)
	}

	execution, err := o.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		if st == nil || !persistence.IsExecutionNotFound(err) {
			return nil, fmt.Errorf("failed to load execution: %w", err)
		}

		execution = &models.Execution{
			ID:         st.ExecutionID,
			WorkflowID: st.WorkflowID,
			CreatedAt:  st.StartedAt,
		}
	}

	if st != nil {
		execution.ApplyState(st)
	}

	return execution, nil
}

// ListExecutions returns the durable records of a workflow's runs.
func (o *Orchestrator) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	if _, err := o.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	executions, err := o.persistence.ExecutionRepository().GetByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// CancelExecution fails the run and asks the queue to drop its pending jobs.
// A node already running is not interrupted; the terminal status stops it
// from routing further.
func (o *Orchestrator) CancelExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	logger := o.logger.With("execution_id", executionID)

	execution, err := o.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return nil, ErrExecutionFinished
	}

	if err := o.queue.RemoveExecutionJobs(ctx, executionID); err != nil {
		logger.WarnContext(ctx, "Failed to remove queued jobs", "error", err)
	}

	st, err := o.states.UpdateState(ctx, executionID, state.Patch{
		Status:        models.ExecutionStatusFailed,
		ReplaceActive: true,
	})
	if err != nil && !errors.Is(err, state.ErrStateNotFound) {
		return nil, fmt.Errorf("failed to update execution state: %w", err)
	}

	now := o.now()

	if st != nil {
		execution.ApplyState(st)
	}

	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = CancelledMessage
	execution.UpdatedAt = now
	execution.CompletedAt = &now

	if err := o.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	if st != nil {
		if err := o.states.DeleteState(ctx, executionID); err != nil {
			return nil, fmt.Errorf("failed to delete execution state: %w", err)
		}
	}

	logger.InfoContext(ctx, "Execution cancelled")

	return execution, nil
}
