// Package models defines the core domain models for the outreach decision and automation engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery channel for outreach contacts.
type Channel string

const (
	ChannelMail    Channel = "mail"
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelVoice   Channel = "voice"
	ChannelSocial  Channel = "social"
	ChannelUnknown Channel = ""
)

// Event is an inbound occurrence submitted to the engine: a donation, a
// petition signature, a website visit, an opt-out. Trigger conditions are
// evaluated against its fields.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"         validate:"required"`
	RecipientID string         `json:"recipient_id" validate:"required"`
	Topic       string         `json:"topic,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// NewEvent creates an event with a generated ID and the current timestamp.
func NewEvent(eventType, recipientID string, fields map[string]any) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		RecipientID: recipientID,
		OccurredAt:  time.Now().UTC(),
		Fields:      fields,
	}
}

// Field resolves a named field for condition matching. The intrinsic fields
// "type", "recipient_id" and "topic" are always resolvable; everything else
// comes from the event payload.
func (e Event) Field(name string) (any, bool) {
	switch name {
	case "type":
		return e.Type, true
	case "recipient_id":
		return e.RecipientID, true
	case "topic":
		return e.Topic, true
	}

	if e.Fields == nil {
		return nil, false
	}

	v, ok := e.Fields[name]

	return v, ok
}
