package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRegisteredTemplate(t *testing.T) {
	ctx := context.Background()
	renderer := NewRenderer()

	require.NoError(t, renderer.Register("tpl-thanks", "Thank you {{.donor_name}} for your ${{.amount}} gift!"))

	body, err := renderer.Render(ctx, "tpl-thanks", map[string]any{
		"donor_name": "Alex",
		"amount":     50,
	})
	require.NoError(t, err)
	assert.Equal(t, "Thank you Alex for your $50 gift!", body)
}

func TestRenderUnregisteredTemplatePassesThrough(t *testing.T) {
	renderer := NewRenderer()

	body, err := renderer.Render(context.Background(), "tpl-unknown", nil)
	require.NoError(t, err)
	assert.Equal(t, "tpl-unknown", body)
}

func TestRegisterRejectsBadSyntax(t *testing.T) {
	renderer := NewRenderer()

	err := renderer.Register("tpl-bad", "Hello {{.name")
	assert.ErrorContains(t, err, "tpl-bad")
}

func TestRegisterAllStopsOnFirstBadTemplate(t *testing.T) {
	renderer := NewRenderer()

	err := renderer.RegisterAll(map[string]string{
		"tpl-bad": "{{.broken",
	})
	assert.Error(t, err)
}

func TestRenderTemplateFuncs(t *testing.T) {
	ctx := context.Background()
	renderer := NewRenderer()

	require.NoError(t, renderer.Register("tpl-shout", "{{upper .name}}, vote early"))

	body, err := renderer.Render(ctx, "tpl-shout", map[string]any{"name": "sam"})
	require.NoError(t, err)
	assert.Equal(t, "SAM, vote early", body)
}

func TestRenderTrimsSurroundingWhitespace(t *testing.T) {
	ctx := context.Background()
	renderer := NewRenderer()

	require.NoError(t, renderer.Register("tpl-pad", "\n  Polls are open  \n"))

	body, err := renderer.Render(ctx, "tpl-pad", nil)
	require.NoError(t, err)
	assert.Equal(t, "Polls are open", body)
}
