package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/operion-engine/pkg/models"
)

// MemoryStore keeps records in process. Reads return deep copies so callers
// can never mutate a stored record outside UpdateState.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) InitState(_ context.Context, executionID, workflowID string) (*models.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.get(executionID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return existing, nil
	}

	record := models.NewExecutionState(executionID, workflowID, m.now())

	if err := m.put(record); err != nil {
		return nil, err
	}

	return record, nil
}

func (m *MemoryStore) GetState(_ context.Context, executionID string) (*models.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.get(executionID)
}

func (m *MemoryStore) UpdateState(_ context.Context, executionID string, patch Patch) (*models.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.get(executionID)
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, executionID)
	}

	if err := CheckPatch(record, patch); err != nil {
		return nil, err
	}

	ApplyPatch(record, patch, m.now())

	if err := m.put(record); err != nil {
		return nil, err
	}

	return record, nil
}

func (m *MemoryStore) DeleteState(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, executionID)

	return nil
}

func (m *MemoryStore) get(executionID string) (*models.ExecutionState, error) {
	data, ok := m.records[executionID]
	if !ok {
		return nil, nil
	}

	var record models.ExecutionState
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode execution state: %w", err)
	}

	return &record, nil
}

func (m *MemoryStore) put(record *models.ExecutionState) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode execution state: %w", err)
	}

	m.records[record.ExecutionID] = data

	return nil
}
