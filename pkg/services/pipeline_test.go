package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukex/operion-engine/pkg/engine"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence/file"
	"github.com/dukex/operion-engine/pkg/registry"
	"github.com/dukex/operion-engine/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineQueue hands jobs straight to the engine processors in enqueue order.
type inlineQueue struct {
	mu        sync.Mutex
	claimed   map[string]bool
	pending   []events.Job
	cancelled map[string]bool
	handlers  map[events.JobType]eventbus.Handler
}

func newInlineQueue() *inlineQueue {
	return &inlineQueue{
		claimed:   make(map[string]bool),
		cancelled: make(map[string]bool),
		handlers:  make(map[events.JobType]eventbus.Handler),
	}
}

func (q *inlineQueue) Enqueue(_ context.Context, job events.Job, opts eventbus.EnqueueOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.claimed[opts.JobID] {
		return false, nil
	}

	q.claimed[opts.JobID] = true
	q.pending = append(q.pending, job)

	return true, nil
}

func (q *inlineQueue) RemoveExecutionJobs(_ context.Context, executionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cancelled[executionID] = true

	return nil
}

func (q *inlineQueue) drain(t *testing.T) {
	t.Helper()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()

			return
		}

		job := q.pending[0]
		q.pending = q.pending[1:]
		skip := q.cancelled[job.GetExecutionID()]
		q.mu.Unlock()

		if skip {
			continue
		}

		require.NoError(t, q.handlers[job.GetType()](context.Background(), job))
	}
}

func newPipeline(t *testing.T) (*Orchestrator, *inlineQueue) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())
	states := state.NewMemoryStore()
	queue := newInlineQueue()

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(logger)

	cfg := engine.Config{
		Workflows:  store.WorkflowRepository(),
		Executions: store.ExecutionRepository(),
		States:     states,
		Queue:      queue,
		Registry:   reg,
		Logger:     logger,
	}

	queue.handlers[events.GraphEntryJob] = engine.NewGraphEntryProcessor(cfg).Handle
	queue.handlers[events.NodeExecutionJob] = engine.NewNodeProcessor(cfg).Handle
	queue.handlers[events.ScheduledResumeJob] = engine.NewDelayedResumeProcessor(cfg).Handle

	workflow := &models.Workflow{
		ID:   "lead-capture",
		Name: "Lead capture",
		Nodes: []*models.WorkflowNode{
			{ID: "1", Type: "start"},
			{ID: "2", Type: "condition", Data: map[string]any{"condition": `{{ eq .input.utm_source "ppc" }}`}},
			{ID: "3", Type: "form", Data: map[string]any{"fields": []any{map[string]any{"name": "email", "type": "email"}}}},
			{ID: "4", Type: "transform", Data: map[string]any{"expression": "{{ .input.email }}"}},
			{ID: "6", Type: "log", Data: map[string]any{"message": "organic visit"}},
		},
		Edges: []*models.Edge{
			{Source: "1", Target: "2"},
			{Source: "2", Target: "3", Condition: "true"},
			{Source: "2", Target: "6", Condition: "false"},
			{Source: "3", Target: "4"},
		},
	}
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	return NewOrchestrator(store, states, queue, logger), queue
}

func TestPipeline_SuspendAndResumeRoundTrip(t *testing.T) {
	orchestrator, queue := newPipeline(t)
	ctx := context.Background()

	execution, err := orchestrator.StartWorkflow(ctx, StartWorkflowRequest{
		WorkflowID: "lead-capture",
		Input:      map[string]any{"utm_source": "ppc"},
	})
	require.NoError(t, err)

	queue.drain(t)

	status, err := orchestrator.GetExecutionStatus(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuspended, status.Status)
	assert.Equal(t, []string{"3"}, status.ActiveNodes)

	_, err = orchestrator.ResumeExecution(ctx, ResumeExecutionRequest{
		ExecutionID: execution.ID,
		Data:        map[string]any{"email": "a@b.com"},
	})
	require.NoError(t, err)

	queue.drain(t)

	status, err = orchestrator.GetExecutionStatus(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, status.Status)
	assert.ElementsMatch(t, []string{"1", "2", "3", "4"}, status.CompletedNodes)

	for _, step := range status.Steps {
		if step.NodeID == "4" {
			assert.Equal(t, "a@b.com", step.Output["result"])
		}

		assert.NotEqual(t, "6", step.NodeID)
	}
}

func TestPipeline_CancelSuspendedRun(t *testing.T) {
	orchestrator, queue := newPipeline(t)
	ctx := context.Background()

	execution, err := orchestrator.StartWorkflow(ctx, StartWorkflowRequest{
		WorkflowID: "lead-capture",
		Input:      map[string]any{"utm_source": "ppc"},
	})
	require.NoError(t, err)

	queue.drain(t)

	_, err = orchestrator.CancelExecution(ctx, execution.ID)
	require.NoError(t, err)

	_, err = orchestrator.ResumeExecution(ctx, ResumeExecutionRequest{ExecutionID: execution.ID})
	require.ErrorIs(t, err, ErrExecutionFinished)

	status, err := orchestrator.GetExecutionStatus(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, status.Status)
	assert.Equal(t, CancelledMessage, status.ErrorMessage)
}
