// Package redis provides the Redis-backed execution state store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/state"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "operion:execution:"
	maxTxRetries    = 10
	retryBackoffMin = 5 * time.Millisecond
)

// Store serializes each record as JSON under one key. Updates run inside a
// WATCH/MULTI transaction so concurrent patches merge instead of overwrite.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(client redis.UniversalClient, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		ttl:    state.TTL,
		logger: logger.With("module", "redis_state_store"),
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func key(executionID string) string {
	return keyPrefix + executionID
}

func (s *Store) InitState(ctx context.Context, executionID, workflowID string) (*models.ExecutionState, error) {
	record := models.NewExecutionState(executionID, workflowID, time.Now().UTC())

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution state: %w", err)
	}

	created, err := s.client.SetNX(ctx, key(executionID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save execution state: %w", err)
	}

	if created {
		return record, nil
	}

	existing, err := s.load(ctx, s.client, executionID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return nil, fmt.Errorf("%w: %s", state.ErrStateNotFound, executionID)
	}

	return existing, nil
}

func (s *Store) GetState(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	return s.load(ctx, s.client, executionID)
}

func (s *Store) UpdateState(ctx context.Context, executionID string, patch state.Patch) (*models.ExecutionState, error) {
	k := key(executionID)

	var updated *models.ExecutionState

	txf := func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, executionID)
		if err != nil {
			return err
		}

		if record == nil {
			return fmt.Errorf("%w: %s", state.ErrStateNotFound, executionID)
		}

		if err := state.CheckPatch(record, patch); err != nil {
			return err
		}

		state.ApplyPatch(record, patch, time.Now().UTC())

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode execution state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, s.ttl)

			return nil
		})
		if err != nil {
			return err
		}

		updated = record

		return nil
	}

	for attempt := range maxTxRetries {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return updated, nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}

		s.logger.DebugContext(ctx, "execution state changed during update, retrying",
			"execution_id", executionID,
			"attempt", attempt+1,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoffMin * time.Duration(attempt+1)):
		}
	}

	return nil, fmt.Errorf("failed to update execution state %s: too many concurrent writers", executionID)
}

func (s *Store) DeleteState(ctx context.Context, executionID string) error {
	if err := s.client.Del(ctx, key(executionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete execution state: %w", err)
	}

	return nil
}

func (s *Store) load(ctx context.Context, cmd getter, executionID string) (*models.ExecutionState, error) {
	data, err := cmd.Get(ctx, key(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load execution state: %w", err)
	}

	var record models.ExecutionState
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode execution state: %w", err)
	}

	return &record, nil
}
