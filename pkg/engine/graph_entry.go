package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/otelhelper"
	"github.com/dukex/operion-engine/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// GraphEntryProcessor starts a run: it creates the live state and seeds one
// node job per root.
type GraphEntryProcessor struct {
	cfg    Config
	logger *slog.Logger
}

func NewGraphEntryProcessor(cfg Config) *GraphEntryProcessor {
	cfg = cfg.withDefaults()

	return &GraphEntryProcessor{
		cfg:    cfg,
		logger: cfg.Logger.With("module", "graph_entry_processor"),
	}
}

// Handle adapts Process to eventbus.Handler.
func (p *GraphEntryProcessor) Handle(ctx context.Context, job events.Job) error {
	entry, ok := job.(*events.GraphEntry)
	if !ok {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedJob, job.GetType()))
	}

	return p.Process(ctx, entry)
}

func (p *GraphEntryProcessor) Process(ctx context.Context, job *events.GraphEntry) error {
	ctx, span := otelhelper.StartSpan(ctx, p.cfg.Tracer, "engine.graph_entry",
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
	)
	defer span.End()

	logger := p.logger.With(
		"workflow_id", job.WorkflowID,
		"execution_id", job.ExecutionID,
	)

	workflow, err := loadWorkflow(ctx, p.cfg.Workflows, job.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to load workflow", "error", err)

		return err
	}

	roots := workflow.RootNodes()
	if len(roots) == 0 {
		logger.WarnContext(ctx, "Workflow has no root nodes, nothing to execute")

		return nil
	}

	st, err := p.cfg.States.GetState(ctx, job.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to read execution state: %w", err)
	}

	// A redelivered entry job keeps the existing state; root jobs are deduplicated
	if st == nil {
		if _, err := p.cfg.States.InitState(ctx, job.ExecutionID, job.WorkflowID); err != nil {
			return fmt.Errorf("failed to init execution state: %w", err)
		}
	}

	if err := p.markRunning(ctx, job); err != nil {
		return err
	}

	next := make([]events.NextNode, 0, len(roots))
	for _, root := range roots {
		next = append(next, events.NextNode{
			NodeID:     root.ID,
			WorkflowID: workflow.ID,
			Input:      job.Input,
		})
	}

	if err := EnqueueNodes(ctx, p.cfg.Queue, job.ExecutionID, next); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	logger.InfoContext(ctx, "Workflow execution started", "roots", len(roots))

	return nil
}

func (p *GraphEntryProcessor) markRunning(ctx context.Context, job *events.GraphEntry) error {
	now := p.cfg.Now()

	execution, err := p.cfg.Executions.GetByID(ctx, job.ExecutionID)
	if err != nil {
		if !persistence.IsExecutionNotFound(err) {
			return fmt.Errorf("failed to load execution record: %w", err)
		}

		execution = &models.Execution{
			ID:         job.ExecutionID,
			WorkflowID: job.WorkflowID,
			UserID:     job.UserID,
			Input:      job.Input,
			CreatedAt:  now,
		}
	}

	// Only a fresh record moves to running; a redelivered entry must not
	// overwrite a suspended or finished run
	if execution.Status != "" && execution.Status != models.ExecutionStatusPending {
		return nil
	}

	execution.Status = models.ExecutionStatusRunning
	execution.UpdatedAt = now

	if execution.StartedAt == nil {
		execution.StartedAt = &now
	}

	if err := p.cfg.Executions.Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}

	return nil
}
