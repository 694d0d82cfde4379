package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/operion-engine/pkg/engine"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence/file"
	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/dukex/operion-engine/pkg/registry"
	"github.com/dukex/operion-engine/pkg/state"
	"github.com/stretchr/testify/require"
)

type queued struct {
	job  events.Job
	opts eventbus.EnqueueOptions
}

// fakeQueue records jobs and deduplicates on job id like the real queue.
type fakeQueue struct {
	mu      sync.Mutex
	claimed map[string]bool
	pending []queued
	history []queued
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{claimed: make(map[string]bool)}
}

func (q *fakeQueue) Enqueue(_ context.Context, job events.Job, opts eventbus.EnqueueOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.JobID != "" {
		if q.claimed[opts.JobID] {
			return false, nil
		}

		q.claimed[opts.JobID] = true
	}

	q.pending = append(q.pending, queued{job: job, opts: opts})
	q.history = append(q.history, queued{job: job, opts: opts})

	return true, nil
}

func (q *fakeQueue) pop() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return queued{}, false
	}

	next := q.pending[0]
	q.pending = q.pending[1:]

	return next, true
}

func (q *fakeQueue) redeliver(item queued) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, item)
}

// nodeJobs counts node execution jobs ever enqueued for nodeID.
func (q *fakeQueue) nodeJobs(nodeID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0

	for _, item := range q.history {
		if job, ok := item.job.(*events.NodeExecution); ok && job.NodeID == nodeID && job.Attempt == 1 {
			count++
		}
	}

	return count
}

func (q *fakeQueue) resumes() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()

	resumes := make([]queued, 0)

	for _, item := range q.history {
		if _, ok := item.job.(*events.ScheduledResume); ok {
			resumes = append(resumes, item)
		}
	}

	return resumes
}

// flakyFactory builds nodes that fail the first failures executions.
type flakyFactory struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyFactory) Create(_ context.Context, _ string, _ map[string]any) (protocol.Node, error) {
	return f, nil
}

func (f *flakyFactory) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return protocol.Result{}, errors.New("upstream unavailable")
	}

	return protocol.Success(map[string]any{"flaky": "ok", "seen": req.Input["utm_source"]}), nil
}

func (f *flakyFactory) ID() string             { return "flaky" }
func (f *flakyFactory) Name() string           { return "Flaky" }
func (f *flakyFactory) Description() string    { return "Fails a fixed number of times" }
func (f *flakyFactory) Schema() map[string]any { return map[string]any{"type": "object"} }

func (f *flakyFactory) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type harness struct {
	t           *testing.T
	queue       *fakeQueue
	states      *state.MemoryStore
	persistence *file.Persistence
	registry    *registry.Registry
	flaky       *flakyFactory

	graph  *engine.GraphEntryProcessor
	node   *engine.NodeProcessor
	resume *engine.DelayedResumeProcessor

	errs []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(logger)

	flaky := &flakyFactory{}
	reg.RegisterNode(flaky)

	h := &harness{
		t:           t,
		queue:       newFakeQueue(),
		states:      state.NewMemoryStore(),
		persistence: file.NewPersistence(t.TempDir()),
		registry:    reg,
		flaky:       flaky,
	}

	cfg := engine.Config{
		Workflows:  h.persistence.WorkflowRepository(),
		Executions: h.persistence.ExecutionRepository(),
		States:     h.states,
		Queue:      h.queue,
		Registry:   reg,
		Logger:     logger,
	}

	h.graph = engine.NewGraphEntryProcessor(cfg)
	h.node = engine.NewNodeProcessor(cfg)
	h.resume = engine.NewDelayedResumeProcessor(cfg)

	return h
}

func (h *harness) saveWorkflow(workflow *models.Workflow) {
	h.t.Helper()

	require.NoError(h.t, h.persistence.WorkflowRepository().Save(context.Background(), workflow))
}

func (h *harness) start(workflowID, executionID string, input map[string]any) {
	h.t.Helper()

	_, err := h.queue.Enqueue(context.Background(), &events.GraphEntry{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Input:       input,
	}, eventbus.EnqueueOptions{JobID: events.GraphJobID(executionID)})
	require.NoError(h.t, err)
}

// drain delivers jobs until the queue is empty, redelivering failed node jobs
// with the next attempt like the real queue does. Delays are not awaited.
func (h *harness) drain() {
	h.t.Helper()

	ctx := context.Background()

	for range 200 {
		item, ok := h.queue.pop()
		if !ok {
			return
		}

		var err error

		switch item.job.GetType() {
		case events.GraphEntryJob:
			err = h.graph.Handle(ctx, item.job)
		case events.NodeExecutionJob:
			err = h.node.Handle(ctx, item.job)
		case events.ScheduledResumeJob:
			err = h.resume.Handle(ctx, item.job)
		}

		if err == nil {
			continue
		}

		h.errs = append(h.errs, err)

		if eventbus.IsPermanent(err) {
			continue
		}

		if job, ok := item.job.(*events.NodeExecution); ok && job.Attempt < engine.MaxAttempts {
			retry := *job
			retry.SetAttempt(job.Attempt + 1)
			h.queue.redeliver(queued{job: &retry, opts: item.opts})
		}
	}

	h.t.Fatal("queue did not drain")
}

func (h *harness) execution(executionID string) *models.Execution {
	h.t.Helper()

	execution, err := h.persistence.ExecutionRepository().GetByID(context.Background(), executionID)
	require.NoError(h.t, err)

	return execution
}

func (h *harness) liveState(executionID string) *models.ExecutionState {
	h.t.Helper()

	st, err := h.states.GetState(context.Background(), executionID)
	require.NoError(h.t, err)

	return st
}

func stepOf(t *testing.T, steps []models.Step, nodeID string) models.Step {
	t.Helper()

	for _, step := range steps {
		if step.NodeID == nodeID {
			return step
		}
	}

	t.Fatalf("no step for node %s", nodeID)

	return models.Step{}
}

func workflowOf(id string, nodes []*models.WorkflowNode, edges []*models.Edge) *models.Workflow {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	return &models.Workflow{
		ID:        id,
		Name:      "workflow " + id,
		Nodes:     nodes,
		Edges:     edges,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func logNode(id string) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: "log", Data: map[string]any{"message": "reached " + id}}
}
