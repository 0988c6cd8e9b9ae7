package models

import "time"

// Mode is the stored operating mode of a controllable scope.
type Mode string

const (
	ModeOn    Mode = "on"
	ModeOff   Mode = "off"
	ModeTimer Mode = "timer"
)

// ControlState holds the operating mode for one scope: a workflow
// ("workflow:<id>") or a topic match ("topic:<name>").
//
// The stored mode is a cache. A timer past its expiry is effectively off the
// instant it expires, even before the reconciliation sweep rewrites the
// record, so read paths must always go through EffectiveMode.
type ControlState struct {
	Scope          string        `json:"scope" validate:"required"`
	Mode           Mode          `json:"mode"  validate:"required"`
	TimerStartedAt *time.Time    `json:"timer_started_at,omitempty"`
	TimerExpiresAt *time.Time    `json:"timer_expires_at,omitempty"`
	AutoRenew      bool          `json:"auto_renew"`
	RenewDuration  time.Duration `json:"renew_duration,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// EffectiveMode computes the on/off state at the given instant. Timer state
// never leaks past this boundary.
func (s ControlState) EffectiveMode(now time.Time) Mode {
	switch s.Mode {
	case ModeOn:
		return ModeOn
	case ModeOff:
		return ModeOff
	case ModeTimer:
		if s.TimerExpiresAt != nil && !now.After(*s.TimerExpiresAt) {
			return ModeOn
		}

		if s.AutoRenew {
			// A renewable timer stays effectively on; the sweep will
			// rewrite the window starting at the old expiry.
			return ModeOn
		}

		return ModeOff
	default:
		return ModeOff
	}
}

// TimerExpired reports whether a stored timer window is past its expiry and
// needs reconciliation.
func (s ControlState) TimerExpired(now time.Time) bool {
	return s.Mode == ModeTimer && s.TimerExpiresAt != nil && now.After(*s.TimerExpiresAt)
}

// ControlHistoryEntry is one append-only audit record of a mode change.
type ControlHistoryEntry struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	FromMode  Mode      `json:"from_mode"`
	ToMode    Mode      `json:"to_mode"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changed_at"`
}
