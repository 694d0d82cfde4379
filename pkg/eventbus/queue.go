// Package eventbus provides the durable job queue the engine processors
// communicate through.
package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/operion-engine/pkg/events"
)

// DefaultClaimTTL keeps job identities claimed for as long as a run may live.
const DefaultClaimTTL = 30 * 24 * time.Hour

// PendingClaimTTL bounds a claim whose job has not reached the transport yet.
// A producer that dies between claim and publish blocks the job id for at
// most this long; its own redelivery then enqueues the job again.
const PendingClaimTTL = time.Minute

var ErrQueueClosed = errors.New("queue closed")

// EnqueueOptions controls delivery of a single job.
type EnqueueOptions struct {
	// JobID deduplicates enqueues. Empty disables deduplication.
	JobID string
	// Delay postpones delivery.
	Delay time.Duration
}

// Handler processes one job. Returning an error schedules a retry unless the
// error is permanent (backoff.Permanent) or attempts are exhausted.
type Handler func(ctx context.Context, job events.Job) error

// Enqueuer is the producer side of the queue.
type Enqueuer interface {
	// Enqueue reports false when a job with the same id was already enqueued.
	Enqueue(ctx context.Context, job events.Job, opts EnqueueOptions) (bool, error)
}

type Queue interface {
	Enqueuer
	Handle(jobType events.JobType, handler Handler) error
	Subscribe(ctx context.Context) error
	// RemoveExecutionJobs drops every job of the run that has not been
	// dispatched yet. In-flight handlers are not interrupted.
	RemoveExecutionJobs(ctx context.Context, executionID string) error
	Close() error
}

// Ledger records job identity claims and cancelled runs.
type Ledger interface {
	Claim(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	// Release drops a claim whose job never reached the transport.
	Release(ctx context.Context, jobID string) error
	// Extend sets the remaining lifetime of an existing claim.
	Extend(ctx context.Context, jobID string, ttl time.Duration) error
	Cancel(ctx context.Context, executionID string, ttl time.Duration) error
	IsCancelled(ctx context.Context, executionID string) (bool, error)
}

// Envelope is a serialized message waiting for its delivery time.
type Envelope struct {
	Topic    string            `json:"topic"`
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
}

// Scheduler holds delayed envelopes. Due claims and removes the entries whose
// time has come, so concurrent pollers never deliver the same envelope twice.
type Scheduler interface {
	Schedule(ctx context.Context, envelope Envelope, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int) ([]Envelope, error)
}
