package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/operion-engine/pkg/channels/gochannel"
	"github.com/dukex/operion-engine/pkg/channels/kafka"
	"github.com/dukex/operion-engine/pkg/eventbus"
	redisqueue "github.com/dukex/operion-engine/pkg/eventbus/redis"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const consumerGroup = "operion-engine"

// QueueConfig selects the transport and the stores behind the job queue.
type QueueConfig struct {
	// Provider is "kafka" or "gochannel".
	Provider     string
	KafkaBrokers []string
	// Redis backs the dedup ledger and the delay scheduler. Nil keeps both in
	// memory, which only works when producers and consumers share a process.
	Redis       redis.UniversalClient
	Concurrency int
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

func NewQueue(cfg QueueConfig) (*eventbus.WatermillQueue, error) {
	wmLogger := watermill.NewSlogLogger(cfg.Logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch cfg.Provider {
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, cfg.KafkaBrokers, consumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create GoChannel pub/sub: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", cfg.Provider)
	}

	opts := eventbus.Options{
		Concurrency: cfg.Concurrency,
		Tracer:      cfg.Tracer,
		Logger:      cfg.Logger,
	}

	if cfg.Redis != nil {
		opts.Ledger = redisqueue.NewLedger(cfg.Redis)
		opts.Scheduler = redisqueue.NewScheduler(cfg.Redis)
	}

	return eventbus.NewWatermillQueue(pub, sub, opts), nil
}
