package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const dueBatchSize = 100

// Options configures a WatermillQueue. Zero values fall back to defaults.
type Options struct {
	Ledger       Ledger
	Scheduler    Scheduler
	Retry        RetryPolicy
	Concurrency  int
	PollInterval time.Duration
	ClaimTTL     time.Duration
	Tracer       trace.Tracer
	Logger       *slog.Logger
}

// WatermillQueue is a Queue on top of any watermill publisher/subscriber pair.
// Deduplication, delayed delivery and retries are layered on top of the
// transport through the Ledger and Scheduler.
type WatermillQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   map[events.JobType]Handler

	ledger       Ledger
	scheduler    Scheduler
	retry        RetryPolicy
	concurrency  int
	pollInterval time.Duration
	claimTTL     time.Duration
	tracer       trace.Tracer
	logger       *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWatermillQueue(pub message.Publisher, sub message.Subscriber, opts Options) *WatermillQueue {
	q := &WatermillQueue{
		publisher:    pub,
		subscriber:   sub,
		handlers:     make(map[events.JobType]Handler),
		ledger:       opts.Ledger,
		scheduler:    opts.Scheduler,
		retry:        opts.Retry,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
		claimTTL:     opts.ClaimTTL,
		tracer:       opts.Tracer,
		logger:       opts.Logger,
	}

	if q.ledger == nil {
		q.ledger = NewMemoryLedger()
	}

	if q.scheduler == nil {
		q.scheduler = NewMemoryScheduler()
	}

	if q.retry.MaxAttempts == 0 {
		q.retry = DefaultRetryPolicy()
	}

	if q.concurrency < 1 {
		q.concurrency = 1
	}

	if q.pollInterval == 0 {
		q.pollInterval = 500 * time.Millisecond
	}

	if q.claimTTL == 0 {
		q.claimTTL = DefaultClaimTTL
	}

	if q.tracer == nil {
		q.tracer = otelhelper.NewNoopTracer()
	}

	if q.logger == nil {
		q.logger = slog.Default()
	}

	q.logger = q.logger.With("module", "job_queue")

	return q
}

func (q *WatermillQueue) Enqueue(ctx context.Context, job events.Job, opts EnqueueOptions) (bool, error) {
	if err := events.Validate(job); err != nil {
		return false, err
	}

	topic, err := events.Topic(job.GetType())
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job: %w", err)
	}

	if opts.JobID != "" {
		claimed, err := q.ledger.Claim(ctx, opts.JobID, min(PendingClaimTTL, q.claimTTL))
		if err != nil {
			return false, fmt.Errorf("failed to claim job id %s: %w", opts.JobID, err)
		}

		if !claimed {
			q.logger.DebugContext(ctx, "job already enqueued, skipping", "job_id", opts.JobID)

			return false, nil
		}
	}

	metadata := map[string]string{
		events.JobIDMetadataKey:       opts.JobID,
		events.JobTypeMetadataKey:     string(job.GetType()),
		events.ExecutionIDMetadataKey: job.GetExecutionID(),
		events.AttemptMetadataKey:     strconv.Itoa(attemptOf(job)),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(metadata))

	envelope := Envelope{
		Topic:    topic,
		UUID:     watermill.NewULID(),
		Metadata: metadata,
		Payload:  payload,
	}

	if opts.Delay > 0 {
		err = q.scheduler.Schedule(ctx, envelope, time.Now().Add(opts.Delay))
	} else {
		err = q.publish(envelope)
	}

	if err != nil {
		if opts.JobID != "" {
			if releaseErr := q.ledger.Release(ctx, opts.JobID); releaseErr != nil {
				q.logger.ErrorContext(ctx, "failed to release job id", "job_id", opts.JobID, "error", releaseErr)
			}
		}

		return false, fmt.Errorf("failed to enqueue %s job: %w", job.GetType(), err)
	}

	if opts.JobID != "" {
		if err := q.ledger.Extend(ctx, opts.JobID, q.claimTTL); err != nil {
			q.logger.ErrorContext(ctx, "failed to extend job id claim", "job_id", opts.JobID, "error", err)
		}
	}

	q.logger.DebugContext(ctx, "job enqueued",
		"job_id", opts.JobID,
		"job_type", job.GetType(),
		"execution_id", job.GetExecutionID(),
		"delay", opts.Delay,
	)

	return true, nil
}

func (q *WatermillQueue) Handle(jobType events.JobType, handler Handler) error {
	if _, err := events.Topic(jobType); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobType] = handler

	return nil
}

// Subscribe starts one consumer per handled job type plus the delayed
// delivery poller. It returns once the subscriptions are established.
func (q *WatermillQueue) Subscribe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	q.cancel = cancel
	handlers := maps.Clone(q.handlers)
	q.mu.Unlock()

	for jobType, handler := range handlers {
		topic, _ := events.Topic(jobType)

		messages, err := q.subscriber.Subscribe(ctx, topic)
		if err != nil {
			cancel()

			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		q.wg.Add(1)

		go q.consume(ctx, jobType, handler, messages)
	}

	q.wg.Add(1)

	go q.pollScheduled(ctx)

	return nil
}

func (q *WatermillQueue) RemoveExecutionJobs(ctx context.Context, executionID string) error {
	if err := q.ledger.Cancel(ctx, executionID, q.claimTTL); err != nil {
		return fmt.Errorf("failed to cancel jobs of execution %s: %w", executionID, err)
	}

	return nil
}

func (q *WatermillQueue) Close() error {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	err := q.publisher.Close()
	if err != nil {
		return err
	}

	err = q.subscriber.Close()

	q.wg.Wait()

	return err
}

func (q *WatermillQueue) consume(ctx context.Context, jobType events.JobType, handler Handler, messages <-chan *message.Message) {
	defer q.wg.Done()

	var group errgroup.Group

	group.SetLimit(q.concurrency)

	for msg := range messages {
		group.Go(func() error {
			q.dispatch(ctx, jobType, handler, msg)

			return nil
		})
	}

	_ = group.Wait()
}

func (q *WatermillQueue) dispatch(ctx context.Context, jobType events.JobType, handler Handler, msg *message.Message) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))

	jobID := msg.Metadata.Get(events.JobIDMetadataKey)
	executionID := msg.Metadata.Get(events.ExecutionIDMetadataKey)

	attempt, err := strconv.Atoi(msg.Metadata.Get(events.AttemptMetadataKey))
	if err != nil || attempt < 1 {
		attempt = 1
	}

	logger := q.logger.With(
		"job_id", jobID,
		"job_type", jobType,
		"execution_id", executionID,
		"attempt", attempt,
	)

	traceCtx, span := otelhelper.StartSpan(msgCtx, q.tracer, "queue.dispatch "+string(jobType),
		attribute.String(otelhelper.JobIDKey, jobID),
		attribute.String(otelhelper.JobTypeKey, string(jobType)),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	cancelled, err := q.ledger.IsCancelled(traceCtx, executionID)
	if err != nil {
		logger.ErrorContext(traceCtx, "failed to check cancellation", "error", err)
		otelhelper.SetError(span, err)
		msg.Nack()

		return
	}

	if cancelled {
		logger.InfoContext(traceCtx, "dropping job of cancelled execution")
		msg.Ack()

		return
	}

	job, err := events.Decode(jobType, msg.Payload)
	if err != nil {
		logger.ErrorContext(traceCtx, "failed to decode job, dropping", "error", err)
		otelhelper.SetError(span, err)
		msg.Ack()

		return
	}

	if stamped, ok := job.(interface{ SetAttempt(attempt int) }); ok {
		stamped.SetAttempt(attempt)
	}

	handlerErr := handler(traceCtx, job)
	if handlerErr == nil {
		msg.Ack()

		return
	}

	otelhelper.SetError(span, handlerErr)

	delay, retry := q.retry.Next(attempt, handlerErr)
	if !retry {
		logger.ErrorContext(traceCtx, "job failed, not retrying", "error", handlerErr)
		msg.Ack()

		return
	}

	metadata := maps.Clone(map[string]string(msg.Metadata))
	metadata[events.AttemptMetadataKey] = strconv.Itoa(attempt + 1)

	topic, _ := events.Topic(jobType)
	envelope := Envelope{
		Topic:    topic,
		UUID:     watermill.NewULID(),
		Metadata: metadata,
		Payload:  msg.Payload,
	}

	if err := q.scheduler.Schedule(traceCtx, envelope, time.Now().Add(delay)); err != nil {
		logger.ErrorContext(traceCtx, "failed to schedule retry", "error", err)
		msg.Nack()

		return
	}

	logger.WarnContext(traceCtx, "job failed, retry scheduled", "error", handlerErr, "delay", delay)
	msg.Ack()
}

func (q *WatermillQueue) pollScheduled(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.releaseDue(ctx)
		}
	}
}

func (q *WatermillQueue) releaseDue(ctx context.Context) {
	// Envelopes returned next to an error are already out of the scheduler
	// and still have to be delivered.
	due, err := q.scheduler.Due(ctx, time.Now(), dueBatchSize)
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to read scheduled jobs", "claimed", len(due), "error", err)
	}

	for _, envelope := range due {
		if err := q.publish(envelope); err != nil {
			q.logger.ErrorContext(ctx, "failed to publish scheduled job, rescheduling",
				"job_id", envelope.Metadata[events.JobIDMetadataKey],
				"error", err,
			)

			if err := q.scheduler.Schedule(ctx, envelope, time.Now().Add(q.pollInterval)); err != nil {
				q.logger.ErrorContext(ctx, "failed to reschedule job", "error", err)
			}
		}
	}
}

func (q *WatermillQueue) publish(envelope Envelope) error {
	msg := message.NewMessage(envelope.UUID, envelope.Payload)
	maps.Copy(msg.Metadata, envelope.Metadata)

	return q.publisher.Publish(envelope.Topic, msg)
}

func attemptOf(job events.Job) int {
	attempt := 1

	switch j := job.(type) {
	case events.NodeExecution:
		attempt = j.Attempt
	case *events.NodeExecution:
		attempt = j.Attempt
	}

	return max(attempt, 1)
}
