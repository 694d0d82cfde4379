// Package engine implements the processors that drive a workflow run: graph
// entry, node execution and delayed resume. Processors communicate only
// through the job queue and the execution state store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/otelhelper"
	"github.com/dukex/operion-engine/pkg/persistence"
	"github.com/dukex/operion-engine/pkg/registry"
	"github.com/dukex/operion-engine/pkg/state"
	"go.opentelemetry.io/otel/trace"
)

// Config wires processors to their collaborators. Tracer, Logger, Now and
// MaxAttempts have defaults.
type Config struct {
	Workflows   persistence.WorkflowRepository
	Executions  persistence.ExecutionRepository
	States      state.Store
	Queue       eventbus.Enqueuer
	Registry    *registry.Registry
	Tracer      trace.Tracer
	Logger      *slog.Logger
	MaxAttempts int
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Tracer == nil {
		c.Tracer = otelhelper.NewNoopTracer()
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = MaxAttempts
	}

	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}

	return c
}

// Recorder copies live state onto the durable execution record.
type Recorder struct {
	executions persistence.ExecutionRepository
	states     state.Store
}

func NewRecorder(executions persistence.ExecutionRepository, states state.Store) *Recorder {
	return &Recorder{executions: executions, states: states}
}

// Flush saves st as the durable record. A terminal flush also deletes the
// live state, so it must be the last write of a run.
func (r *Recorder) Flush(ctx context.Context, st *models.ExecutionState, terminal bool) error {
	execution, err := r.executions.GetByID(ctx, st.ExecutionID)
	if err != nil {
		if !persistence.IsExecutionNotFound(err) {
			return fmt.Errorf("failed to load execution record: %w", err)
		}

		execution = &models.Execution{
			ID:         st.ExecutionID,
			WorkflowID: st.WorkflowID,
			CreatedAt:  st.StartedAt,
		}
	}

	execution.ApplyState(st)

	if err := r.executions.Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}

	if terminal {
		if err := r.states.DeleteState(ctx, st.ExecutionID); err != nil {
			return fmt.Errorf("failed to delete execution state: %w", err)
		}
	}

	return nil
}

// CompleteIfDone marks the run completed and writes the terminal record when
// IsWorkflowComplete holds for st.
func (r *Recorder) CompleteIfDone(ctx context.Context, workflow *models.Workflow, st *models.ExecutionState) (bool, error) {
	if !IsWorkflowComplete(workflow, st) {
		return false, nil
	}

	st, err := updateState(ctx, r.states, st.ExecutionID, state.Patch{
		Status:        models.ExecutionStatusCompleted,
		ReplaceActive: true,
	})
	if err != nil {
		return false, err
	}

	return true, r.Flush(ctx, st, true)
}

// loadWorkflow treats a missing workflow as permanent so the queue drops the job.
func loadWorkflow(ctx context.Context, workflows persistence.WorkflowRepository, workflowID string) (*models.Workflow, error) {
	workflow, err := workflows.GetByID(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, backoff.Permanent(err)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	return workflow, nil
}

// updateState applies a patch. A vanished record means the run already
// finished, which no retry can fix.
func updateState(ctx context.Context, states state.Store, executionID string, patch state.Patch) (*models.ExecutionState, error) {
	st, err := states.UpdateState(ctx, executionID, patch)
	if err != nil {
		if errors.Is(err, state.ErrStateNotFound) {
			return nil, backoff.Permanent(err)
		}

		return nil, fmt.Errorf("failed to update execution state: %w", err)
	}

	return st, nil
}
