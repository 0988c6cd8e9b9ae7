// Package dispatch defines the boundary between the engine and the
// outside delivery providers. The engine never talks to a provider
// directly; it hands a Delivery to a ChannelDispatcher and classifies the
// returned error as transient (retry within the step budget) or permanent
// (no retry).
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/groundgame/groundgame/pkg/models"
)

// Delivery is one outbound contact handed to a channel provider.
type Delivery struct {
	RecipientID string         `json:"recipient_id"`
	Channel     models.Channel `json:"channel"`
	TemplateID  string         `json:"template_id"`
	VariantID   string         `json:"variant_id,omitempty"`
	Body        string         `json:"body,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ChannelDispatcher sends one delivery over one channel.
type ChannelDispatcher interface {
	Dispatch(ctx context.Context, delivery Delivery) error
}

// ContentRenderer resolves a template and variant into a sendable body.
type ContentRenderer interface {
	Render(ctx context.Context, templateID string, data map[string]any) (string, error)
}

// ConsentChecker answers whether a recipient may be contacted on a
// channel. Consent is rechecked at send time, not only at enrollment.
type ConsentChecker interface {
	HasConsent(ctx context.Context, recipientID string, channel models.Channel) (bool, error)
}

// TransientError marks a dependency failure worth retrying: a timeout, a
// throttle, a 5xx from a provider.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient dependency error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a dependency failure that retrying cannot fix: an
// invalid recipient address, a rejected template, a 4xx from a provider.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent dependency error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

func IsTransient(err error) bool {
	var transient *TransientError

	return errors.As(err, &transient)
}

func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}
