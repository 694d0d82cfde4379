package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/operion-engine/pkg/eventbus"
	redis "github.com/redis/go-redis/v9"
)

const scheduleKey = "operion:scheduled"

// Scheduler keeps delayed envelopes in a sorted set scored by due time in
// milliseconds. Pollers claim an entry by removing it, so only the poller
// whose ZREM succeeds delivers it.
type Scheduler struct {
	client redis.UniversalClient
	key    string
}

func NewScheduler(client redis.UniversalClient) *Scheduler {
	return &Scheduler{client: client, key: scheduleKey}
}

func (s *Scheduler) Schedule(ctx context.Context, envelope eventbus.Envelope, at time.Time) error {
	member, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode scheduled job: %w", err)
	}

	return s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: member,
	}).Err()
}

func (s *Scheduler) Due(ctx context.Context, now time.Time, limit int) ([]eventbus.Envelope, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduled jobs: %w", err)
	}

	due := make([]eventbus.Envelope, 0, len(members))

	var errs []error

	for _, member := range members {
		removed, err := s.client.ZRem(ctx, s.key, member).Result()
		if err != nil {
			// Entries claimed so far are already out of the set and must
			// still reach the caller.
			errs = append(errs, fmt.Errorf("failed to claim scheduled job: %w", err))

			break
		}

		if removed == 0 {
			continue
		}

		var envelope eventbus.Envelope
		if err := json.Unmarshal([]byte(member), &envelope); err != nil {
			errs = append(errs, fmt.Errorf("dropped undecodable scheduled job: %w", err))

			continue
		}

		due = append(due, envelope)
	}

	return due, errors.Join(errs...)
}
