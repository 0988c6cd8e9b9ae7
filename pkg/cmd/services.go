package cmd

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/config"
	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/dispatch"
	"github.com/groundgame/groundgame/pkg/engine"
	"github.com/groundgame/groundgame/pkg/evaluator"
	"github.com/groundgame/groundgame/pkg/eventbus"
	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/otelhelper"
	"github.com/groundgame/groundgame/pkg/persistence"
	"github.com/groundgame/groundgame/pkg/template"
)

// Options is the common configuration shared by the engine binaries.
type Options struct {
	ServiceName     string
	DatabaseURL     string
	RedisURL        string
	EventBus        string
	WorkerID        string
	DefinitionsPath string
	FatigueLimit    int64
}

// Services wires the full engine object graph once, the same way for
// every binary.
type Services struct {
	Persistence persistence.Persistence
	Ledger      ledger.Ledger
	EventBus    eventbus.EventBus
	Plane       *control.Plane
	Allocator   *bandit.Allocator
	Engine      *engine.Engine
	Evaluator   *evaluator.Evaluator
	Definitions *config.Definitions
	Clock       clockwork.Clock
}

func NewServices(ctx context.Context, logger *slog.Logger, opts Options) (*Services, error) {
	persist, err := NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	contactLedger, err := NewLedger(ctx, logger, opts.RedisURL)
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(opts.EventBus, opts.ServiceName, logger)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	plane := control.NewPlane(persist.ControlRepository(), clock, logger)

	// Tracing is opt-in: without a collector endpoint the exporter would
	// just queue spans for nowhere.
	var tracer trace.Tracer

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracer, err = otelhelper.NewTracer(ctx, opts.ServiceName)
		if err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	allocator := bandit.NewAllocator(persist.VariantRepository(), rng, logger)

	dispatchers := map[models.Channel]dispatch.ChannelDispatcher{
		models.ChannelMail:   dispatch.NewNoopDispatcher(logger),
		models.ChannelSMS:    dispatch.NewNoopDispatcher(logger),
		models.ChannelEmail:  dispatch.NewNoopDispatcher(logger),
		models.ChannelVoice:  dispatch.NewNoopDispatcher(logger),
		models.ChannelSocial: dispatch.NewNoopDispatcher(logger),
	}

	renderer := template.NewRenderer()

	eng := engine.NewEngine(engine.Config{
		Persistence: persist,
		Plane:       plane,
		Ledger:      contactLedger,
		Allocator:   allocator,
		Dispatchers: dispatchers,
		Renderer:    renderer,
		Consent:     &dispatch.StaticConsent{Default: true},
		Publisher:   bus,
		Clock:       clock,
		Logger:      logger,
		Tracer:      tracer,
		WorkerID:    opts.WorkerID,
	})

	var evalOpts []evaluator.Option
	if opts.FatigueLimit > 0 {
		evalOpts = append(evalOpts, evaluator.WithFatigueLimit(opts.FatigueLimit))
	}

	if tracer != nil {
		evalOpts = append(evalOpts, evaluator.WithTracer(tracer))
	}

	eval := evaluator.NewEvaluator(persist, contactLedger, plane, allocator, eng, bus, clock, logger, evalOpts...)

	services := &Services{
		Persistence: persist,
		Ledger:      contactLedger,
		EventBus:    bus,
		Plane:       plane,
		Allocator:   allocator,
		Engine:      eng,
		Evaluator:   eval,
		Clock:       clock,
	}

	if opts.DefinitionsPath != "" {
		definitions, err := config.Load(opts.DefinitionsPath)
		if err != nil {
			return nil, err
		}

		if err := definitions.Apply(ctx, persist, contactLedger, logger); err != nil {
			return nil, err
		}

		if err := renderer.RegisterAll(definitions.Templates); err != nil {
			return nil, err
		}

		services.Definitions = definitions
	}

	return services, nil
}

// Close releases every held connection, logging failures rather than
// aborting the shutdown.
func (s *Services) Close(ctx context.Context, logger *slog.Logger) {
	if err := s.EventBus.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := s.Ledger.Close(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to close ledger", "error", err)
	}

	if err := s.Persistence.Close(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
