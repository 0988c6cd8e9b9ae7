// The sweeper runs the engine's periodic maintenance: control timer
// reconciliation and budget allotment refresh. It is deployed as a
// single instance alongside any number of workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/groundgame/groundgame/pkg/cmd"
	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/log"
	"github.com/groundgame/groundgame/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "groundgame-sweeper",
		Usage:                 "Run the periodic control and budget maintenance sweeps",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Usage:   "Path to a JSON definitions file holding the budget allotments",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "reconcile-schedule",
				Usage:   "Cron schedule for control timer reconciliation",
				Value:   scheduler.DefaultReconcileSchedule,
				Sources: cli.EnvVars("RECONCILE_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "allotment-schedule",
				Usage:   "Cron schedule for budget allotment refresh",
				Value:   scheduler.DefaultAllotmentSchedule,
				Sources: cli.EnvVars("ALLOTMENT_SCHEDULE"),
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

			logger := log.WithModule("sweeper")
			logger.InfoContext(ctx, "Initializing groundgame sweeper")

			services, err := cmd.NewServices(ctx, logger, cmd.Options{
				ServiceName:     "groundgame-sweeper",
				DatabaseURL:     command.String("database-url"),
				RedisURL:        command.String("redis-url"),
				EventBus:        command.String("event-bus"),
				DefinitionsPath: command.String("definitions"),
			})
			if err != nil {
				return err
			}

			defer services.Close(ctx, logger)

			var allotments []ledger.Allotment
			if services.Definitions != nil {
				allotments = services.Definitions.Allotments
			}

			sweeper := scheduler.NewSweeper(services.Plane, services.Ledger, allotments, logger,
				scheduler.WithReconcileSchedule(command.String("reconcile-schedule")),
				scheduler.WithAllotmentSchedule(command.String("allotment-schedule")),
				scheduler.WithSuspensionResumer(services.Engine))

			if err := sweeper.Start(ctx); err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-sigCtx.Done()

			logger.InfoContext(ctx, "Shutting down sweeper")
			sweeper.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
