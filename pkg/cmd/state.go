package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/operion-engine/pkg/state"
	redisstate "github.com/dukex/operion-engine/pkg/state/redis"
	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL returns a nil client and
// callers fall back to in-process stores.
//
// nolint:ireturn // go-redis exposes the universal client as an interface
func NewRedisClient(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewStateStore returns the Redis store when a client is available and the
// in-memory store otherwise.
//
// nolint:ireturn // callers only need the contract
func NewStateStore(client redis.UniversalClient, logger *slog.Logger) state.Store {
	if client == nil {
		logger.Warn("No redis configured, execution state lives in process memory")

		return state.NewMemoryStore()
	}

	return redisstate.NewStore(client, logger)
}
