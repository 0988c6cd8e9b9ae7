package models

import "time"

// ArmEpsilon is the floor for the Beta shape parameters. Alpha and beta must
// stay strictly positive or the distribution degenerates.
const ArmEpsilon = 1e-6

// Variant is one bandit arm at a decision point: a selectable content or
// channel option tracked with Beta(alpha, beta) allocation counters.
//
// Variants are deactivated, never deleted, so historical allocation stays
// explainable.
type Variant struct {
	ID              string    `json:"id"`
	DecisionPointID string    `json:"decision_point_id" validate:"required"`
	Name            string    `json:"name"              validate:"required"`
	TemplateID      string    `json:"template_id,omitempty"`
	Channel         Channel   `json:"channel,omitempty"`
	Alpha           float64   `json:"alpha"`
	Beta            float64   `json:"beta"`
	Pulls           int64     `json:"pulls"`
	Rewards         float64   `json:"rewards"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewVariant creates an arm with the uniform Beta(1,1) prior, so a fresh arm
// is sampled with non-trivial probability immediately.
func NewVariant(id, decisionPointID, name string) *Variant {
	now := time.Now().UTC()

	return &Variant{
		ID:              id,
		DecisionPointID: decisionPointID,
		Name:            name,
		Alpha:           1,
		Beta:            1,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Observe folds one reward in [0,1] into the arm's posterior. Updates are
// commutative, so concurrently-arriving outcomes can be applied in any order.
func (v *Variant) Observe(reward float64, now time.Time) {
	if reward < 0 {
		reward = 0
	}

	if reward > 1 {
		reward = 1
	}

	v.Alpha += reward
	v.Beta += 1 - reward
	v.Pulls++
	v.Rewards += reward
	v.UpdatedAt = now

	if v.Alpha < ArmEpsilon {
		v.Alpha = ArmEpsilon
	}

	if v.Beta < ArmEpsilon {
		v.Beta = ArmEpsilon
	}
}
