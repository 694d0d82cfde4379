package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/otelhelper"
	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/dukex/operion-engine/pkg/registry"
	"github.com/dukex/operion-engine/pkg/state"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// ResumedAtKey is stamped on the output of a node completed by a resume.
	ResumedAtKey = "_resumedAt"
	// ResumeMarkerPrefix namespaces the run variable recording when a node was
	// resumed. A resumed node is in completedNodes, so a redelivered job for it
	// stops at the idempotency gate and never reads the marker.
	ResumeMarkerPrefix = "_resumed."
)

// ResumeMarker is the variable under which a resume of nodeID is recorded.
func ResumeMarker(nodeID string) string {
	return ResumeMarkerPrefix + nodeID
}

// NodeProcessor executes one node of a run and routes to its children.
type NodeProcessor struct {
	cfg      Config
	logger   *slog.Logger
	recorder *Recorder
}

func NewNodeProcessor(cfg Config) *NodeProcessor {
	cfg = cfg.withDefaults()

	return &NodeProcessor{
		cfg:      cfg,
		logger:   cfg.Logger.With("module", "node_processor"),
		recorder: NewRecorder(cfg.Executions, cfg.States),
	}
}

// Handle adapts Process to eventbus.Handler.
func (p *NodeProcessor) Handle(ctx context.Context, job events.Job) error {
	nodeJob, ok := job.(*events.NodeExecution)
	if !ok {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedJob, job.GetType()))
	}

	return p.Process(ctx, nodeJob)
}

// Process runs the node named by job. A nil return acks the job; an error
// asks the queue to redeliver it with the next attempt number.
func (p *NodeProcessor) Process(ctx context.Context, job *events.NodeExecution) error {
	ctx, span := otelhelper.StartSpan(ctx, p.cfg.Tracer, "engine.node",
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.NodeIDKey, job.NodeID),
		attribute.Int(otelhelper.AttemptKey, job.Attempt),
	)
	defer span.End()

	logger := p.logger.With(
		"workflow_id", job.WorkflowID,
		"execution_id", job.ExecutionID,
		"node_id", job.NodeID,
		"attempt", job.Attempt,
	)

	st, err := p.cfg.States.GetState(ctx, job.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to read execution state: %w", err)
	}

	if st == nil {
		logger.WarnContext(ctx, "Execution state not found, dropping job")

		return backoff.Permanent(fmt.Errorf("%w: %s", state.ErrStateNotFound, job.ExecutionID))
	}

	if st.Status.IsTerminal() {
		logger.InfoContext(ctx, "Execution already finished, dropping job", "status", st.Status)

		// A previous terminal flush may have failed before the live state was deleted
		return p.recorder.Flush(ctx, st, true)
	}

	if st.IsCompleted(job.NodeID) {
		logger.InfoContext(ctx, "Node already completed, skipping")

		return nil
	}

	if step, ok := st.Step(job.NodeID); ok && step.Status == models.StepStatusSuspended {
		logger.InfoContext(ctx, "Node is awaiting resume, skipping")

		return nil
	}

	workflow, err := loadWorkflow(ctx, p.cfg.Workflows, job.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	node, ok := workflow.Node(job.NodeID)
	if !ok {
		logger.ErrorContext(ctx, "Node not found in workflow")

		return p.failRun(ctx, job.ExecutionID, models.Step{
			NodeID:    job.NodeID,
			Status:    models.StepStatusFailed,
			StartedAt: p.cfg.Now(),
			Error:     &models.StepError{Message: fmt.Sprintf("%s: %s", ErrNodeNotFound, job.NodeID)},
		})
	}

	span.SetAttributes(attribute.String(otelhelper.NodeTypeKey, node.Type))

	startedAt := p.cfg.Now()

	st, err = updateState(ctx, p.cfg.States, job.ExecutionID, state.Patch{
		AddActive: node.ID,
		Step: &models.Step{
			NodeID:    node.ID,
			NodeType:  node.Type,
			Status:    models.StepStatusRunning,
			StartedAt: startedAt,
		},
	})
	if err != nil {
		return err
	}

	result, execErr := p.execute(ctx, workflow, node, st, job)
	if execErr != nil && isConfigurationError(execErr) {
		logger.ErrorContext(ctx, "Node configuration error", "error", execErr)
		otelhelper.SetError(span, execErr)

		return p.failRun(ctx, job.ExecutionID, p.finishedStep(node, startedAt, models.StepStatusFailed, nil, &models.StepError{
			Message: execErr.Error(),
		}))
	}

	finished, err := p.runFinished(ctx, job.ExecutionID)
	if err != nil {
		return err
	}

	if finished {
		logger.InfoContext(ctx, "Execution finished while node ran, discarding result")

		return nil
	}

	if execErr == nil && result.Status == models.ResultStatusFailed {
		execErr = errors.New(result.Error)
	}

	if execErr != nil {
		otelhelper.SetError(span, execErr)

		return p.handleFailure(ctx, logger, job, node, startedAt, execErr)
	}

	if result.Status == models.ResultStatusSuspended {
		if delay, ok := ResumeDelay(result.Output); ok {
			return p.scheduleResume(ctx, logger, job.ExecutionID, workflow, node, startedAt, result.Output, delay)
		}

		return p.suspend(ctx, logger, job.ExecutionID, node, startedAt, result.Output)
	}

	return p.complete(ctx, logger, job.ExecutionID, workflow, node, startedAt, result.Output)
}

func (p *NodeProcessor) execute(
	ctx context.Context,
	workflow *models.Workflow,
	node *models.WorkflowNode,
	st *models.ExecutionState,
	job *events.NodeExecution,
) (protocol.Result, error) {
	if node.IsExternal() {
		return protocol.Suspended(map[string]any{
			"handoff": map[string]any{
				"nodeId":      node.ID,
				"executionId": job.ExecutionID,
				"input":       job.Input,
			},
		}), nil
	}

	executor, err := p.cfg.Registry.CreateNode(ctx, node)
	if err != nil {
		return protocol.Result{}, err
	}

	results := make(map[string]models.NodeResult, len(st.Steps))

	for _, step := range st.Steps {
		if step.NodeID != node.ID {
			results[step.NodeID] = models.NewNodeResult(step)
		}
	}

	variables := make(map[string]any, len(workflow.Variables)+len(st.Variables))
	maps.Copy(variables, workflow.Variables)
	maps.Copy(variables, st.Variables)

	input := job.Input
	if input == nil {
		input = make(map[string]any)
	}

	return executor.Execute(ctx, protocol.ExecuteRequest{
		Node:  node,
		Input: input,
		Context: protocol.ExecutionContext{
			ExecutionID: job.ExecutionID,
			WorkflowID:  workflow.ID,
			Results:     results,
			Steps:       st.Steps,
			Nodes:       workflow.Nodes,
			Edges:       workflow.Edges,
			Variables:   variables,
		},
	})
}

// runFinished reports whether the run was cancelled or failed elsewhere while
// the node executed.
func (p *NodeProcessor) runFinished(ctx context.Context, executionID string) (bool, error) {
	st, err := p.cfg.States.GetState(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to read execution state: %w", err)
	}

	return st == nil || st.Status.IsTerminal(), nil
}

func isConfigurationError(err error) bool {
	return errors.Is(err, registry.ErrUnknownNodeType) || errors.Is(err, registry.ErrInvalidNodeConfig)
}

func (p *NodeProcessor) finishedStep(
	node *models.WorkflowNode,
	startedAt time.Time,
	status models.StepStatus,
	output map[string]any,
	stepErr *models.StepError,
) models.Step {
	completedAt := p.cfg.Now()

	return models.Step{
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      status,
		Output:      output,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		Duration:    completedAt.Sub(startedAt).Milliseconds(),
		Error:       stepErr,
	}
}

// handleFailure records a retrying error while attempts remain and fails the
// run on the last one.
func (p *NodeProcessor) handleFailure(
	ctx context.Context,
	logger *slog.Logger,
	job *events.NodeExecution,
	node *models.WorkflowNode,
	startedAt time.Time,
	execErr error,
) error {
	if job.Attempt < p.cfg.MaxAttempts {
		logger.WarnContext(ctx, "Node execution failed, will retry", "error", execErr)

		step := p.finishedStep(node, startedAt, models.StepStatusFailed, nil, &models.StepError{
			Message:  execErr.Error(),
			Retrying: true,
		})

		if _, err := updateState(ctx, p.cfg.States, job.ExecutionID, state.Patch{Step: &step}); err != nil {
			return err
		}

		return fmt.Errorf("%w: node %s attempt %d: %w", ErrNodeFailed, node.ID, job.Attempt, execErr)
	}

	logger.ErrorContext(ctx, "Node execution failed, attempts exhausted", "error", execErr)

	return p.failRun(ctx, job.ExecutionID,
		p.finishedStep(node, startedAt, models.StepStatusFailed, nil, &models.StepError{Message: execErr.Error()}))
}

// failRun marks step and run failed and writes the terminal record.
func (p *NodeProcessor) failRun(ctx context.Context, executionID string, step models.Step) error {
	st, err := updateState(ctx, p.cfg.States, executionID, state.Patch{
		Status:       models.ExecutionStatusFailed,
		RemoveActive: step.NodeID,
		Step:         &step,
	})
	if err != nil {
		return err
	}

	return p.recorder.Flush(ctx, st, true)
}

// suspend parks the run until an external resume supplies data. The node
// stays active.
func (p *NodeProcessor) suspend(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	node *models.WorkflowNode,
	startedAt time.Time,
	output map[string]any,
) error {
	step := p.finishedStep(node, startedAt, models.StepStatusSuspended, output, nil)
	step.CompletedAt = nil
	step.Duration = 0

	st, err := updateState(ctx, p.cfg.States, executionID, state.Patch{
		Status: models.ExecutionStatusSuspended,
		Step:   &step,
	})
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Execution suspended awaiting input")

	return p.recorder.Flush(ctx, st, false)
}

// scheduleResume completes a timed suspension now and delivers its children
// after the delay.
func (p *NodeProcessor) scheduleResume(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	workflow *models.Workflow,
	node *models.WorkflowNode,
	startedAt time.Time,
	output map[string]any,
	delay time.Duration,
) error {
	st, err := p.recordCompleted(ctx, executionID, node, startedAt, output)
	if err != nil {
		return err
	}

	next := NextNodes(workflow, st, node.ID, output)
	if len(next) == 0 {
		return p.checkCompletion(ctx, logger, workflow, st)
	}

	job := &events.ScheduledResume{
		ExecutionID: executionID,
		NodeID:      node.ID,
		NextNodes:   next,
	}

	_, err = p.cfg.Queue.Enqueue(ctx, job, eventbus.EnqueueOptions{
		JobID: events.ResumeJobID(executionID, node.ID),
		Delay: delay,
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resume of node %s: %w", node.ID, err)
	}

	logger.InfoContext(ctx, "Scheduled delayed resume", "delay", delay, "next_nodes", len(next))

	return nil
}

func (p *NodeProcessor) complete(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	workflow *models.Workflow,
	node *models.WorkflowNode,
	startedAt time.Time,
	output map[string]any,
) error {
	st, err := p.recordCompleted(ctx, executionID, node, startedAt, output)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Node completed")

	if err := EnqueueNodes(ctx, p.cfg.Queue, executionID, NextNodes(workflow, st, node.ID, output)); err != nil {
		return err
	}

	return p.checkCompletion(ctx, logger, workflow, st)
}

func (p *NodeProcessor) recordCompleted(
	ctx context.Context,
	executionID string,
	node *models.WorkflowNode,
	startedAt time.Time,
	output map[string]any,
) (*models.ExecutionState, error) {
	step := p.finishedStep(node, startedAt, models.StepStatusCompleted, output, nil)

	return updateState(ctx, p.cfg.States, executionID, state.Patch{
		RemoveActive: node.ID,
		AddCompleted: node.ID,
		Step:         &step,
	})
}

func (p *NodeProcessor) checkCompletion(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	st *models.ExecutionState,
) error {
	done, err := p.recorder.CompleteIfDone(ctx, workflow, st)
	if err != nil {
		return err
	}

	if done {
		logger.InfoContext(ctx, "Workflow execution completed", "steps", len(st.Steps))
	}

	return nil
}
