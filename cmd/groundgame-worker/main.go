package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/groundgame/groundgame/pkg/cmd"
	"github.com/groundgame/groundgame/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "groundgame-worker",
		Usage:                 "Start a worker to execute due enrollment steps",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (empty for in-memory)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the contact and budget ledger (empty for in-memory)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll for due enrollment steps",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum due steps claimed per poll",
				Value:   100,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "definitions",
				Usage:   "Path to a JSON definitions file to load at startup",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing groundgame worker")

			services, err := cmd.NewServices(ctx, logger, cmd.Options{
				ServiceName:     "groundgame-worker",
				DatabaseURL:     command.String("database-url"),
				RedisURL:        command.String("redis-url"),
				EventBus:        command.String("event-bus"),
				WorkerID:        workerID,
				DefinitionsPath: command.String("definitions"),
			})
			if err != nil {
				return err
			}

			defer services.Close(ctx, logger)

			worker := NewWorker(workerID, services, logger,
				command.Duration("poll-interval"), command.Int("batch-size"))

			return worker.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
