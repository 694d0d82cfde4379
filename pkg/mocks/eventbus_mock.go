package mocks

import (
	"context"

	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of eventbus.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job events.Job, opts eventbus.EnqueueOptions) (bool, error) {
	args := m.Called(ctx, job, opts)

	return args.Bool(0), args.Error(1)
}

func (m *MockQueue) Handle(jobType events.JobType, handler eventbus.Handler) error {
	args := m.Called(jobType, handler)

	return args.Error(0)
}

func (m *MockQueue) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockQueue) RemoveExecutionJobs(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
