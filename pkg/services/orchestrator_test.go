package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/operion-engine/pkg/engine"
	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/mocks"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence/file"
	"github.com/dukex/operion-engine/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	persistence  *file.Persistence
	states       *state.MemoryStore
	queue        *mocks.MockQueue
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		persistence: file.NewPersistence(t.TempDir()),
		states:      state.NewMemoryStore(),
		queue:       &mocks.MockQueue{},
	}

	f.orchestrator = NewOrchestrator(f.persistence, f.states, f.queue, slog.New(slog.DiscardHandler))
	f.orchestrator.now = func() time.Time { return fixedNow }
	f.orchestrator.newID = func() string { return "exec-1" }

	return f
}

// formWorkflow collects an email and thanks the lead afterwards.
func formWorkflow(withFollowUp bool) *models.Workflow {
	workflow := &models.Workflow{
		ID:   "lead-form",
		Name: "Lead form",
		Nodes: []*models.WorkflowNode{
			{ID: "1", Type: "start"},
			{ID: "3", Type: "form", Data: map[string]any{"fields": []any{map[string]any{"name": "email"}}}},
		},
		Edges: []*models.Edge{{Source: "1", Target: "3"}},
	}

	if withFollowUp {
		workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{ID: "4", Type: "log", Data: map[string]any{"message": "thanks"}})
		workflow.Edges = append(workflow.Edges, &models.Edge{Source: "3", Target: "4"})
	}

	return workflow
}

func (f *fixture) save(t *testing.T, workflow *models.Workflow) {
	t.Helper()

	require.NoError(t, f.persistence.WorkflowRepository().Save(context.Background(), workflow))
}

// suspendAt builds the live state of a run parked on the given nodes.
func (f *fixture) suspendAt(t *testing.T, workflowID string, completed []string, suspended ...string) {
	t.Helper()

	ctx := context.Background()

	_, err := f.states.InitState(ctx, "exec-1", workflowID)
	require.NoError(t, err)

	for _, nodeID := range completed {
		_, err = f.states.UpdateState(ctx, "exec-1", state.Patch{
			AddCompleted: nodeID,
			Step: &models.Step{
				NodeID: nodeID,
				Status: models.StepStatusCompleted,
				Output: map[string]any{"utm_source": "ppc"},
			},
		})
		require.NoError(t, err)
	}

	for _, nodeID := range suspended {
		_, err = f.states.UpdateState(ctx, "exec-1", state.Patch{
			Status:    models.ExecutionStatusSuspended,
			AddActive: nodeID,
			Step: &models.Step{
				NodeID:    nodeID,
				NodeType:  "form",
				Status:    models.StepStatusSuspended,
				StartedAt: fixedNow.Add(-time.Minute),
				Output:    map[string]any{"form": map[string]any{"title": "Contact"}},
			},
		})
		require.NoError(t, err)
	}

	require.NoError(t, f.persistence.ExecutionRepository().Save(ctx, &models.Execution{
		ID:         "exec-1",
		WorkflowID: workflowID,
		Status:     models.ExecutionStatusSuspended,
		CreatedAt:  fixedNow,
	}))
}

func TestOrchestrator_StartWorkflow(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))

	f.queue.On("Enqueue", mock.Anything, &events.GraphEntry{
		WorkflowID:  "lead-form",
		ExecutionID: "exec-1",
		Input:       map[string]any{"utm_source": "ppc"},
		UserID:      "user-1",
	}, eventbus.EnqueueOptions{JobID: events.GraphJobID("exec-1")}).Return(true, nil)

	execution, err := f.orchestrator.StartWorkflow(context.Background(), StartWorkflowRequest{
		WorkflowID: "lead-form",
		Input:      map[string]any{"utm_source": "ppc"},
		UserID:     "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "exec-1", execution.ID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	stored, err := f.persistence.ExecutionRepository().GetByID(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, stored.Status)
	assert.Equal(t, "user-1", stored.UserID)

	f.queue.AssertExpectations(t)
}

func TestOrchestrator_StartWorkflowErrors(t *testing.T) {
	f := newFixture(t)

	invalid := formWorkflow(false)
	invalid.ID = "dangling"
	invalid.Edges = append(invalid.Edges, &models.Edge{Source: "3", Target: "missing"})
	f.save(t, invalid)

	_, err := f.orchestrator.StartWorkflow(context.Background(), StartWorkflowRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.True(t, IsValidationError(err))

	_, err = f.orchestrator.StartWorkflow(context.Background(), StartWorkflowRequest{WorkflowID: "unknown"})
	require.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.True(t, IsNotFoundError(err))

	_, err = f.orchestrator.StartWorkflow(context.Background(), StartWorkflowRequest{WorkflowID: "dangling"})
	require.ErrorIs(t, err, ErrInvalidWorkflow)
	assert.True(t, IsValidationError(err))

	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_ResumeEnqueuesChildren(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))
	f.suspendAt(t, "lead-form", []string{"1"}, "3")

	var enqueued *events.NodeExecution

	f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("*events.NodeExecution"),
		eventbus.EnqueueOptions{JobID: events.NodeJobID("exec-1", "4")}).
		Run(func(args mock.Arguments) {
			enqueued = args.Get(1).(*events.NodeExecution)
		}).
		Return(true, nil)

	execution, err := f.orchestrator.ResumeExecution(context.Background(), ResumeExecutionRequest{
		ExecutionID: "exec-1",
		Data:        map[string]any{"email": "a@b.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)

	require.NotNil(t, enqueued)
	assert.Equal(t, "4", enqueued.NodeID)
	assert.Equal(t, 1, enqueued.Attempt)
	assert.Equal(t, "a@b.com", enqueued.Input["email"])
	assert.Equal(t, "ppc", enqueued.Input["utm_source"])

	st, err := f.states.GetState(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, st.Status)
	assert.Empty(t, st.ActiveNodes)
	assert.ElementsMatch(t, []string{"1", "3"}, st.CompletedNodes)

	step, ok := st.Step("3")
	require.True(t, ok)
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, "a@b.com", step.Output["email"])
	assert.Contains(t, step.Output, "form")

	resumedAt := fixedNow.Format(time.RFC3339Nano)
	assert.Equal(t, resumedAt, step.Output[engine.ResumedAtKey])
	assert.Equal(t, resumedAt, st.Variables[engine.ResumeMarker("3")])

	f.queue.AssertExpectations(t)
}

func TestOrchestrator_ResumeLeafCompletesRun(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(false))
	f.suspendAt(t, "lead-form", []string{"1"}, "3")

	execution, err := f.orchestrator.ResumeExecution(context.Background(), ResumeExecutionRequest{
		ExecutionID: "exec-1",
		Data:        map[string]any{"email": "a@b.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.NotNil(t, execution.CompletedAt)

	st, err := f.states.GetState(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Nil(t, st)

	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_ResumeSelectsExplicitNode(t *testing.T) {
	f := newFixture(t)

	workflow := &models.Workflow{
		ID:   "two-forms",
		Name: "Two forms",
		Nodes: []*models.WorkflowNode{
			{ID: "1", Type: "start"},
			{ID: "a", Type: "form"},
			{ID: "b", Type: "form"},
		},
		Edges: []*models.Edge{{Source: "1", Target: "a"}, {Source: "1", Target: "b"}},
	}
	f.save(t, workflow)
	f.suspendAt(t, "two-forms", []string{"1"}, "a", "b")

	_, err := f.orchestrator.ResumeExecution(context.Background(), ResumeExecutionRequest{
		ExecutionID: "exec-1",
		NodeID:      "1",
	})
	require.ErrorIs(t, err, ErrNodeNotSuspended)
	assert.True(t, IsConflictError(err))

	execution, err := f.orchestrator.ResumeExecution(context.Background(), ResumeExecutionRequest{
		ExecutionID: "exec-1",
		NodeID:      "b",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuspended, execution.Status, "node a still waits")

	st, err := f.states.GetState(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, st.ActiveNodes)

	execution, err = f.orchestrator.ResumeExecution(context.Background(), ResumeExecutionRequest{ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

// lockstepStore holds the first two state reads until both happened, so two
// resumes decide on the same snapshot before either writes.
type lockstepStore struct {
	state.Store
	reads   atomic.Int32
	waiting sync.WaitGroup
}

func newLockstepStore(inner state.Store) *lockstepStore {
	s := &lockstepStore{Store: inner}
	s.waiting.Add(2)

	return s
}

func (s *lockstepStore) GetState(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	st, err := s.Store.GetState(ctx, executionID)

	if s.reads.Add(1) <= 2 {
		s.waiting.Done()
		s.waiting.Wait()
	}

	return st, err
}

func TestOrchestrator_ConcurrentResumesOfOneNode(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))
	f.suspendAt(t, "lead-form", []string{"1"}, "3")
	f.orchestrator.states = newLockstepStore(f.states)

	f.queue.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()

	emails := []string{"first@b.com", "second@b.com"}
	errs := make([]error, len(emails))

	var wg sync.WaitGroup

	for i, email := range emails {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = f.orchestrator.ResumeExecution(context.Background(), ResumeExecutionRequest{
				ExecutionID: "exec-1",
				NodeID:      "3",
				Data:        map[string]any{"email": email},
			})
		}()
	}

	wg.Wait()

	winner := -1

	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both resumes succeeded")
			winner = i

			continue
		}

		require.ErrorIs(t, err, ErrNodeNotSuspended)
		assert.True(t, IsConflictError(err))
	}

	require.NotEqual(t, -1, winner, "no resume succeeded")

	st, err := f.states.GetState(context.Background(), "exec-1")
	require.NoError(t, err)

	step, ok := st.Step("3")
	require.True(t, ok)
	assert.Equal(t, emails[winner], step.Output["email"])
	assert.Equal(t, models.ExecutionStatusRunning, st.Status)

	f.queue.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestOrchestrator_ResumeRejectsRunsThatAreNotSuspended(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))

	ctx := context.Background()

	_, err := f.orchestrator.ResumeExecution(ctx, ResumeExecutionRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.orchestrator.ResumeExecution(ctx, ResumeExecutionRequest{ExecutionID: "exec-1"})
	require.ErrorIs(t, err, ErrExecutionNotFound)

	_, err = f.states.InitState(ctx, "exec-1", "lead-form")
	require.NoError(t, err)

	_, err = f.orchestrator.ResumeExecution(ctx, ResumeExecutionRequest{ExecutionID: "exec-1"})
	require.ErrorIs(t, err, ErrExecutionNotSuspended)

	require.NoError(t, f.states.DeleteState(ctx, "exec-1"))
	require.NoError(t, f.persistence.ExecutionRepository().Save(ctx, &models.Execution{
		ID:         "exec-1",
		WorkflowID: "lead-form",
		Status:     models.ExecutionStatusCompleted,
	}))

	_, err = f.orchestrator.ResumeExecution(ctx, ResumeExecutionRequest{ExecutionID: "exec-1"})
	require.ErrorIs(t, err, ErrExecutionFinished)
}

func TestOrchestrator_GetExecutionStatus(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))

	_, err := f.orchestrator.GetExecutionStatus(context.Background(), "exec-1")
	require.ErrorIs(t, err, ErrExecutionNotFound)

	f.suspendAt(t, "lead-form", []string{"1"}, "3")

	execution, err := f.orchestrator.GetExecutionStatus(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuspended, execution.Status)
	assert.Equal(t, []string{"3"}, execution.ActiveNodes)
	assert.Len(t, execution.Steps, 2)
}

func TestOrchestrator_CancelExecution(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))
	f.suspendAt(t, "lead-form", []string{"1"}, "3")

	f.queue.On("RemoveExecutionJobs", mock.Anything, "exec-1").Return(errors.New("redis down"))

	execution, err := f.orchestrator.CancelExecution(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, CancelledMessage, execution.ErrorMessage)
	assert.Empty(t, execution.ActiveNodes)
	assert.NotNil(t, execution.CompletedAt)

	st, err := f.states.GetState(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Nil(t, st)

	stored, err := f.persistence.ExecutionRepository().GetByID(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)

	_, err = f.orchestrator.CancelExecution(context.Background(), "exec-1")
	require.ErrorIs(t, err, ErrExecutionFinished)

	_, err = f.orchestrator.CancelExecution(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrExecutionNotFound)

	f.queue.AssertNumberOfCalls(t, "RemoveExecutionJobs", 1)
}

func TestOrchestrator_ListExecutions(t *testing.T) {
	f := newFixture(t)
	f.save(t, formWorkflow(true))
	f.suspendAt(t, "lead-form", []string{"1"}, "3")

	executions, err := f.orchestrator.ListExecutions(context.Background(), "lead-form")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "exec-1", executions[0].ID)

	_, err = f.orchestrator.ListExecutions(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}
