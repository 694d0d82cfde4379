// Package redis provides Redis-backed job identity claims, cancellation
// tombstones and delayed delivery for the job queue.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	claimPrefix     = "operion:job:"
	cancelledPrefix = "operion:cancelled:"
)

// Ledger is shared by every worker, which makes job id deduplication hold
// across processes.
type Ledger struct {
	client redis.UniversalClient
}

func NewLedger(client redis.UniversalClient) *Ledger {
	return &Ledger{client: client}
}

func (l *Ledger) Claim(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	claimed, err := l.client.SetNX(ctx, claimPrefix+jobID, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}

	return claimed, nil
}

func (l *Ledger) Release(ctx context.Context, jobID string) error {
	return l.client.Del(ctx, claimPrefix+jobID).Err()
}

func (l *Ledger) Extend(ctx context.Context, jobID string, ttl time.Duration) error {
	if err := l.client.Expire(ctx, claimPrefix+jobID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to extend claim of job %s: %w", jobID, err)
	}

	return nil
}

func (l *Ledger) Cancel(ctx context.Context, executionID string, ttl time.Duration) error {
	return l.client.Set(ctx, cancelledPrefix+executionID, time.Now().UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (l *Ledger) IsCancelled(ctx context.Context, executionID string) (bool, error) {
	if executionID == "" {
		return false, nil
	}

	count, err := l.client.Exists(ctx, cancelledPrefix+executionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation of %s: %w", executionID, err)
	}

	return count > 0, nil
}
