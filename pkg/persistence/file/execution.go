package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence"
)

// ExecutionRepository keeps one JSON document per run.
type ExecutionRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	return writeJSON(er.dir, execution.ID, execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.Execution, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("GetByID", executionID, err)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.load(executionID)
}

func (er *ExecutionRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	return er.filter(func(execution *models.Execution) bool {
		return execution.WorkflowID == workflowID
	})
}

func (er *ExecutionRepository) GetByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return er.filter(func(execution *models.Execution) bool {
		return execution.Status == status
	})
}

func (er *ExecutionRepository) load(executionID string) (*models.Execution, error) {
	var execution models.Execution

	if err := readJSON(er.dir, executionID, &execution); err != nil {
		if isNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) filter(match func(*models.Execution) bool) ([]*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	ids, err := listIDs(er.dir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		execution, err := er.load(id)
		if err != nil {
			// Skip invalid files
			continue
		}

		if match(execution) {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}
