package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// DelayedResumeProcessor seeds the children of a timed suspension once its
// delay elapsed. It never touches run state.
type DelayedResumeProcessor struct {
	cfg    Config
	logger *slog.Logger
}

func NewDelayedResumeProcessor(cfg Config) *DelayedResumeProcessor {
	cfg = cfg.withDefaults()

	return &DelayedResumeProcessor{
		cfg:    cfg,
		logger: cfg.Logger.With("module", "delayed_resume_processor"),
	}
}

// Handle adapts Process to eventbus.Handler.
func (p *DelayedResumeProcessor) Handle(ctx context.Context, job events.Job) error {
	resume, ok := job.(*events.ScheduledResume)
	if !ok {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedJob, job.GetType()))
	}

	return p.Process(ctx, resume)
}

func (p *DelayedResumeProcessor) Process(ctx context.Context, job *events.ScheduledResume) error {
	ctx, span := otelhelper.StartSpan(ctx, p.cfg.Tracer, "engine.delayed_resume",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.NodeIDKey, job.NodeID),
	)
	defer span.End()

	if err := EnqueueNodes(ctx, p.cfg.Queue, job.ExecutionID, job.NextNodes); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	p.logger.InfoContext(ctx, "Delayed resume released",
		"execution_id", job.ExecutionID,
		"node_id", job.NodeID,
		"next_nodes", len(job.NextNodes),
	)

	return nil
}
