package mocks

import (
	"context"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/state"
	"github.com/stretchr/testify/mock"
)

// MockStateStore is a mock implementation of state.Store interface.
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) InitState(ctx context.Context, executionID, workflowID string) (*models.ExecutionState, error) {
	args := m.Called(ctx, executionID, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionState), args.Error(1)
}

func (m *MockStateStore) GetState(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionState), args.Error(1)
}

func (m *MockStateStore) UpdateState(ctx context.Context, executionID string, patch state.Patch) (*models.ExecutionState, error) {
	args := m.Called(ctx, executionID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionState), args.Error(1)
}

func (m *MockStateStore) DeleteState(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}
