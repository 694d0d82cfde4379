package main

import (
	"context"
	"os"

	"github.com/dukex/operion-engine/pkg/cmd"
	"github.com/dukex/operion-engine/pkg/engine"
	"github.com/dukex/operion-engine/pkg/log"
	"github.com/dukex/operion-engine/pkg/otelhelper"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const defaultConcurrency = 10

func main() {
	command := &cli.Command{
		Name:                  "operion-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflow graphs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringSliceFlag{
				Name:    "processors",
				Usage:   "Processors to run (graph-entry, node, delayed-resume)",
				Value:   AllProcessors,
				Sources: cli.EnvVars("PROCESSORS"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Jobs handled in parallel per job type",
				Value:   defaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for execution state, job deduplication and delays",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Job transport (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("operion-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Operion Worker")

			tracer := otelhelper.NewNoopTracer()
			if command.Bool("tracing") {
				var err error

				tracer, err = otelhelper.NewTracer(ctx, "operion-worker")
				if err != nil {
					return err
				}
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			queue, err := cmd.NewQueue(cmd.QueueConfig{
				Provider:     command.String("event-bus"),
				KafkaBrokers: command.StringSlice("kafka-brokers"),
				Redis:        redisClient,
				Concurrency:  command.Int("concurrency"),
				Tracer:       tracer,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			defer func() {
				err := queue.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close job queue", "error", err)
				}
			}()

			worker := NewWorkerManager(
				workerID,
				engine.Config{
					Workflows:  persistence.WorkflowRepository(),
					Executions: persistence.ExecutionRepository(),
					States:     cmd.NewStateStore(redisClient, logger),
					Queue:      queue,
					Registry:   cmd.NewRegistry(logger),
					Tracer:     tracer,
				},
				queue,
				logger,
				command.StringSlice("processors"),
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
