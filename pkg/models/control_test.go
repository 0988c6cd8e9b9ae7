package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControlStateEffectiveMode(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	assert.Equal(t, ModeOn, ControlState{Scope: "workflow:w1", Mode: ModeOn}.EffectiveMode(now))
	assert.Equal(t, ModeOff, ControlState{Scope: "workflow:w1", Mode: ModeOff}.EffectiveMode(now))

	running := ControlState{Scope: "workflow:w1", Mode: ModeTimer, TimerExpiresAt: &expires}
	assert.Equal(t, ModeOn, running.EffectiveMode(now))

	// Expiry flips the effective mode before any reconciliation write.
	lapsed := ControlState{Scope: "workflow:w1", Mode: ModeTimer, TimerExpiresAt: &past}
	assert.Equal(t, ModeOff, lapsed.EffectiveMode(now))

	renewing := ControlState{Scope: "workflow:w1", Mode: ModeTimer, TimerExpiresAt: &past, AutoRenew: true}
	assert.Equal(t, ModeOn, renewing.EffectiveMode(now))
}

func TestControlStateTimerExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, ControlState{Mode: ModeTimer, TimerExpiresAt: &past}.TimerExpired(now))
	assert.False(t, ControlState{Mode: ModeTimer, TimerExpiresAt: &future}.TimerExpired(now))
	assert.False(t, ControlState{Mode: ModeOn}.TimerExpired(now))
}
