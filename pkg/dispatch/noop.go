package dispatch

import (
	"context"
	"log/slog"

	"github.com/groundgame/groundgame/pkg/models"
)

// NoopDispatcher logs deliveries instead of sending them. It backs the
// development binaries and any channel with no provider wired yet.
type NoopDispatcher struct {
	logger *slog.Logger
}

func NewNoopDispatcher(logger *slog.Logger) *NoopDispatcher {
	return &NoopDispatcher{logger: logger.With("module", "dispatch")}
}

func (d *NoopDispatcher) Dispatch(ctx context.Context, delivery Delivery) error {
	d.logger.InfoContext(ctx, "Delivery dispatched (noop)",
		"recipient_id", delivery.RecipientID,
		"channel", delivery.Channel,
		"template_id", delivery.TemplateID,
		"variant_id", delivery.VariantID)

	return nil
}

// StaticConsent answers every consent check with a fixed value. The
// blocked map overrides per recipient and channel.
type StaticConsent struct {
	Default bool
	Blocked map[string][]models.Channel
}

func (c *StaticConsent) HasConsent(_ context.Context, recipientID string, channel models.Channel) (bool, error) {
	for _, blocked := range c.Blocked[recipientID] {
		if blocked == channel {
			return false, nil
		}
	}

	return c.Default, nil
}

// PassthroughRenderer returns the template ID as the body. Real content
// rendering lives outside the engine.
type PassthroughRenderer struct{}

func (PassthroughRenderer) Render(_ context.Context, templateID string, _ map[string]any) (string, error) {
	return templateID, nil
}
