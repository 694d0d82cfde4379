package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/persistence"
)

// ExecutionRepository stores durable run records.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , user_id
  , status
  , input
  , completed_nodes
  , active_nodes
  , steps
  , variables
  , error_message
  , created_at
  , started_at
  , updated_at
  , completed_at
`

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	input, err := jsonColumn(execution.Input, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	completedNodes, err := jsonColumn(execution.CompletedNodes, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal completed nodes: %w", err)
	}

	activeNodes, err := jsonColumn(execution.ActiveNodes, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal active nodes: %w", err)
	}

	steps, err := jsonColumn(execution.Steps, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	variables, err := jsonColumn(execution.Variables, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_nodes = EXCLUDED.completed_nodes,
			active_nodes = EXCLUDED.active_nodes,
			steps = EXCLUDED.steps,
			variables = EXCLUDED.variables,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		sql.NullString{String: execution.UserID, Valid: execution.UserID != ""},
		execution.Status,
		input,
		completedNodes,
		activeNodes,
		steps,
		variables,
		sql.NullString{String: execution.ErrorMessage, Valid: execution.ErrorMessage != ""},
		execution.CreatedAt,
		execution.StartedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.query(ctx, `SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY created_at`, workflowID)
}

func (r *ExecutionRepository) GetByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return r.query(ctx, `SELECT `+executionColumns+` FROM executions WHERE status = $1 ORDER BY created_at`, string(status))
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func jsonColumn(value any, empty string) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	if string(data) == "null" {
		return []byte(empty), nil
	}

	return data, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution                                 models.Execution
		userID, errorMessage                      sql.NullString
		input, completedNodes, activeNodes, steps []byte
		variables                                 []byte
		startedAt, completedAt                    sql.NullTime
		status                                    string
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&userID,
		&status,
		&input,
		&completedNodes,
		&activeNodes,
		&steps,
		&variables,
		&errorMessage,
		&execution.CreatedAt,
		&startedAt,
		&execution.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.UserID = userID.String
	execution.ErrorMessage = errorMessage.String
	execution.Status = models.ExecutionStatus(status)

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	columns := []struct {
		data   []byte
		target any
	}{
		{input, &execution.Input},
		{completedNodes, &execution.CompletedNodes},
		{activeNodes, &execution.ActiveNodes},
		{steps, &execution.Steps},
		{variables, &execution.Variables},
	}

	for _, column := range columns {
		if err := json.Unmarshal(column.data, column.target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution column: %w", err)
		}
	}

	return &execution, nil
}
