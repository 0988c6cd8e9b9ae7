package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/groundgame/groundgame/pkg/cmd"
	"github.com/groundgame/groundgame/pkg/log"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "groundgame-api",
		Usage:                 "Serve the outreach decision engine HTTP API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.StringFlag{
				Name:    "definitions",
				Usage:   "Path to a JSON definitions file to load at startup",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.Int64Flag{
				Name:    "fatigue-limit",
				Usage:   "Fatigue score at which contacts are held",
				Sources: cli.EnvVars("FATIGUE_LIMIT"),
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

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing groundgame API")

			services, err := cmd.NewServices(ctx, logger, cmd.Options{
				ServiceName:     "groundgame-api",
				DatabaseURL:     command.String("database-url"),
				RedisURL:        command.String("redis-url"),
				EventBus:        command.String("event-bus"),
				DefinitionsPath: command.String("definitions"),
				FatigueLimit:    command.Int64("fatigue-limit"),
			})
			if err != nil {
				return err
			}

			defer services.Close(ctx, logger)

			api := NewAPI(logger, services)

			return api.Start(ctx, command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
