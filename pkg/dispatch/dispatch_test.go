package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/models"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("provider exploded")

	transient := Transient(cause)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.ErrorIs(t, transient, cause)

	permanent := Permanent(cause)
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))
	assert.ErrorIs(t, permanent, cause)

	assert.False(t, IsTransient(cause))
	assert.False(t, IsPermanent(cause))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("sending step: %w", Transient(errors.New("timeout")))

	assert.True(t, IsTransient(wrapped))
}

func TestNilErrorsStayNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Permanent(nil))
}

func TestStaticConsent(t *testing.T) {
	ctx := context.Background()

	consent := &StaticConsent{
		Default: true,
		Blocked: map[string][]models.Channel{
			"r-1": {models.ChannelSMS},
		},
	}

	allowed, err := consent.HasConsent(ctx, "r-1", models.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = consent.HasConsent(ctx, "r-1", models.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = consent.HasConsent(ctx, "r-2", models.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, allowed)
}
