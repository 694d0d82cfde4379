// Package state holds the live execution record of in-flight runs. It is the
// single source of truth for where a run currently is.
package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dukex/operion-engine/pkg/models"
)

// TTL bounds how long a live record survives without being flushed.
const TTL = 30 * 24 * time.Hour

var (
	ErrStateNotFound = errors.New("execution state not found")
	// ErrNodeNotSuspended rejects a conditional patch whose node was already
	// resumed or never suspended.
	ErrNodeNotSuspended = errors.New("node is not suspended")
)

// Store is the execution state store contract. Every successful UpdateState
// is durably written before it returns.
type Store interface {
	// InitState creates the record if absent and otherwise returns the stored
	// one unchanged.
	InitState(ctx context.Context, executionID, workflowID string) (*models.ExecutionState, error)
	// GetState returns nil, nil when no record exists.
	GetState(ctx context.Context, executionID string) (*models.ExecutionState, error)
	UpdateState(ctx context.Context, executionID string, patch Patch) (*models.ExecutionState, error)
	DeleteState(ctx context.Context, executionID string) error
}

// Patch is the fixed vocabulary of partial updates. Zero fields are ignored.
type Patch struct {
	Status models.ExecutionStatus

	// ActiveNodes replaces the active set wholesale when ReplaceActive is set.
	ReplaceActive bool
	ActiveNodes   []string

	AddActive    string
	RemoveActive string
	AddCompleted string

	// Step is inserted, or replaces the existing step with the same node id.
	Step *models.Step

	// Variables are merged key by key into the run variables.
	Variables map[string]any

	// RequireSuspended makes the patch conditional on this node being active
	// with a suspended step at write time.
	RequireSuspended string

	// SettleStatus derives the status from the patched record: suspended while
	// any active node still has a suspended step, running otherwise. It wins
	// over Status.
	SettleStatus bool
}

// CheckPatch reports whether patch may be applied to s. Stores call it under
// the same lock or transaction as ApplyPatch.
func CheckPatch(s *models.ExecutionState, patch Patch) error {
	if patch.RequireSuspended == "" {
		return nil
	}

	step, ok := s.StepsByNodeID[patch.RequireSuspended]
	if !ok || step.Status != models.StepStatusSuspended || !slices.Contains(s.ActiveNodes, patch.RequireSuspended) {
		return fmt.Errorf("%w: %s", ErrNodeNotSuspended, patch.RequireSuspended)
	}

	return nil
}

// ApplyPatch mutates s in place. Active set edits run replace, remove, add in
// that order so a single patch can move a node between sets.
func ApplyPatch(s *models.ExecutionState, patch Patch, now time.Time) {
	if patch.ReplaceActive {
		s.ActiveNodes = append([]string{}, patch.ActiveNodes...)
	}

	if patch.RemoveActive != "" {
		s.ActiveNodes = slices.DeleteFunc(s.ActiveNodes, func(id string) bool {
			return id == patch.RemoveActive
		})
	}

	if patch.AddActive != "" && !slices.Contains(s.ActiveNodes, patch.AddActive) {
		s.ActiveNodes = append(s.ActiveNodes, patch.AddActive)
	}

	if patch.AddCompleted != "" && !slices.Contains(s.CompletedNodes, patch.AddCompleted) {
		s.CompletedNodes = append(s.CompletedNodes, patch.AddCompleted)
	}

	if patch.Step != nil {
		upsertStep(s, *patch.Step)
	}

	if len(patch.Variables) > 0 {
		if s.Variables == nil {
			s.Variables = make(map[string]any, len(patch.Variables))
		}

		maps.Copy(s.Variables, patch.Variables)
	}

	if patch.Status != "" {
		s.Status = patch.Status
	}

	if patch.SettleStatus {
		s.Status = settledStatus(s)
	}

	s.UpdatedAt = now
}

func settledStatus(s *models.ExecutionState) models.ExecutionStatus {
	waiting := slices.ContainsFunc(s.ActiveNodes, func(nodeID string) bool {
		step, ok := s.StepsByNodeID[nodeID]

		return ok && step.Status == models.StepStatusSuspended
	})
	if waiting {
		return models.ExecutionStatusSuspended
	}

	return models.ExecutionStatusRunning
}

func upsertStep(s *models.ExecutionState, step models.Step) {
	if s.StepsByNodeID == nil {
		s.StepsByNodeID = make(map[string]models.Step)
	}

	s.StepsByNodeID[step.NodeID] = step

	index := slices.IndexFunc(s.Steps, func(existing models.Step) bool {
		return existing.NodeID == step.NodeID
	})
	if index >= 0 {
		s.Steps[index] = step

		return
	}

	s.Steps = append(s.Steps, step)
}
