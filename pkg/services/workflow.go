package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// Workflow manages the definitions the engine runs. Definitions are replaced
// whole; the engine never mutates them.
type Workflow struct {
	persistence persistence.Persistence
	validator   *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (w *Workflow) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow: %w", err)
	}

	return workflow, nil
}

// Save validates the definition and its graph, then stores it. CreatedAt is
// kept from an existing definition with the same id.
func (w *Workflow) Save(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("Save", "invalid_workflow", "workflow cannot be nil", ErrInvalidWorkflow)
	}

	if err := w.validator.Struct(workflow); err != nil {
		return nil, NewValidationError("Save", "invalid_workflow", err.Error(), ErrInvalidWorkflow)
	}

	if err := workflow.CheckGraph(); err != nil {
		return nil, NewValidationError("Save", "invalid_workflow", err.Error(), ErrInvalidWorkflow)
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflow.ID)

	switch {
	case err == nil:
		workflow.CreatedAt = existing.CreatedAt
	case persistence.IsWorkflowNotFound(err):
		workflow.CreatedAt = time.Now().UTC()
	default:
		return nil, fmt.Errorf("failed to fetch workflow: %w", err)
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

func (w *Workflow) Delete(ctx context.Context, id string) error {
	if _, err := w.FetchByID(ctx, id); err != nil {
		return err
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}
