// Package bandit allocates message variants with Thompson sampling. Each
// variant carries a Beta(alpha, beta) posterior over its reward rate; the
// allocator samples every active arm and picks the highest draw, which
// explores uncertain arms and exploits proven ones without any schedule.
package bandit

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// ErrNoActiveVariants is returned when a decision point has no arms to
// choose from.
var ErrNoActiveVariants = errors.New("no active variants for decision point")

// ExplorationFloor is the minimum share of selections given to a uniformly
// random arm. It keeps a temporarily unlucky arm from starving before its
// posterior recovers.
const ExplorationFloor = 0.05

// Allocator selects variants and folds reported outcomes back into the
// posteriors.
type Allocator struct {
	variants persistence.VariantRepository
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAllocator builds an allocator around the given randomness source.
// Tests pass a seeded source for reproducible draws.
func NewAllocator(variants persistence.VariantRepository, rng *rand.Rand, logger *slog.Logger) *Allocator {
	return &Allocator{
		variants: variants,
		rng:      rng,
		logger:   logger.With("module", "bandit"),
	}
}

// SelectVariant picks one active arm for the decision point.
func (a *Allocator) SelectVariant(ctx context.Context, decisionPointID string) (*models.Variant, error) {
	arms, err := a.variants.ActiveVariants(ctx, decisionPointID)
	if err != nil {
		return nil, err
	}

	if len(arms) == 0 {
		return nil, ErrNoActiveVariants
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rng.Float64() < ExplorationFloor {
		return arms[a.rng.Intn(len(arms))], nil
	}

	best := arms[0]
	bestDraw := sampleBeta(a.rng, best.Alpha, best.Beta)

	for _, arm := range arms[1:] {
		draw := sampleBeta(a.rng, arm.Alpha, arm.Beta)
		if draw > bestDraw {
			best = arm
			bestDraw = draw
		}
	}

	return best, nil
}

// RecordOutcome folds a reward in [0,1] into the arm's posterior. The
// update is a plain add on both shape parameters applied inside the
// repository, so outcomes arriving out of order or concurrently all
// accumulate into the same posterior.
func (a *Allocator) RecordOutcome(ctx context.Context, variantID string, reward float64, now time.Time) error {
	variant, err := a.variants.UpdateVariant(ctx, variantID, func(v *models.Variant) {
		v.Observe(reward, now)
	})
	if err != nil {
		return err
	}

	a.logger.DebugContext(ctx, "Recorded variant outcome",
		"variant_id", variantID,
		"reward", reward,
		"alpha", variant.Alpha,
		"beta", variant.Beta)

	return nil
}
