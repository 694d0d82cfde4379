package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/operion-engine/pkg/engine"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
)

const (
	GraphEntryProcessor    = "graph-entry"
	NodeProcessor          = "node"
	DelayedResumeProcessor = "delayed-resume"
)

var (
	AllProcessors = []string{GraphEntryProcessor, NodeProcessor, DelayedResumeProcessor}

	ErrUnknownProcessor = errors.New("unknown processor")
	ErrNoProcessors     = errors.New("no processors selected")
)

// WorkerManager runs a subset of the engine processors against one queue.
type WorkerManager struct {
	id         string
	logger     *slog.Logger
	config     engine.Config
	queue      eventbus.Queue
	processors []string
}

func NewWorkerManager(
	id string,
	config engine.Config,
	queue eventbus.Queue,
	logger *slog.Logger,
	processors []string,
) *WorkerManager {
	logger = logger.With("module", "operion-worker", "worker_id", id)
	config.Logger = logger

	return &WorkerManager{
		id:         id,
		logger:     logger,
		config:     config,
		queue:      queue,
		processors: processors,
	}
}

// Register binds the selected processors to their job types.
func (w *WorkerManager) Register() error {
	if len(w.processors) == 0 {
		return ErrNoProcessors
	}

	for _, name := range w.processors {
		var (
			jobType events.JobType
			handler eventbus.Handler
		)

		switch name {
		case GraphEntryProcessor:
			jobType, handler = events.GraphEntryJob, engine.NewGraphEntryProcessor(w.config).Handle
		case NodeProcessor:
			jobType, handler = events.NodeExecutionJob, engine.NewNodeProcessor(w.config).Handle
		case DelayedResumeProcessor:
			jobType, handler = events.ScheduledResumeJob, engine.NewDelayedResumeProcessor(w.config).Handle
		default:
			return fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
		}

		if err := w.queue.Handle(jobType, handler); err != nil {
			return err
		}

		w.logger.Info("Processor registered", "processor", name, "job_type", jobType)
	}

	return nil
}

// Start subscribes to the queue and blocks until ctx ends or the process is
// signalled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "processors", w.processors)

	if err := w.Register(); err != nil {
		return err
	}

	err := w.queue.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to job queue", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}
