// Package persistence provides the durable storage contract for workflow
// definitions and execution records.
package persistence

import (
	"context"

	"github.com/dukex/operion-engine/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. The engine only reads them.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	// GetByID returns ErrWorkflowNotFound when no workflow has the id.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores the durable record of every run.
type ExecutionRepository interface {
	// Save inserts or replaces the record.
	Save(ctx context.Context, execution *models.Execution) error
	// GetByID returns ErrExecutionNotFound when no run has the id.
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
	GetByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error)
}
