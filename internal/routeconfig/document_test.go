//go:build !integration && !e2e
// +build !integration,!e2e

package routeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/routing-gateway/internal/models"
)

func TestRoutingDocument_TierResolvesExplicitProviderPrefix(t *testing.T) {
	doc := Default()
	doc.Models.T1 = []string{"anthropic/claude-3", "gpt-4"}

	cfg, err := doc.Tier(models.TierT1)
	require.NoError(t, err)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, models.ModelRef{ProviderID: "anthropic", Model: "claude-3"}, cfg.Models[0])
	assert.Equal(t, models.ModelRef{ProviderID: "upstream", Model: "gpt-4"}, cfg.Models[1])
}

func TestRoutingDocument_TierFallsBackToModelMap(t *testing.T) {
	doc := Default()
	doc.Providers.Map = map[string]string{"claude-3": "anthropic"}
	doc.Models.T1 = []string{"claude-3"}

	cfg, err := doc.Tier(models.TierT1)
	require.NoError(t, err)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "anthropic", cfg.Models[0].ProviderID)
}

func TestRoutingDocument_TierUnknownTierErrors(t *testing.T) {
	doc := Default()
	_, err := doc.Tier(models.Tier("bogus"))
	require.Error(t, err)
}

func TestRoutingDocument_EndpointDefaultsToUpstream(t *testing.T) {
	doc := Default()
	doc.Providers.Upstream = ProviderSpec{BaseURL: "https://upstream.example.com", Protocol: "openai"}

	ep, ok := doc.Endpoint("")
	require.True(t, ok)
	assert.Equal(t, "https://upstream.example.com", ep.BaseURL)

	ep, ok = doc.Endpoint("upstream")
	require.True(t, ok)
	assert.Equal(t, "https://upstream.example.com", ep.BaseURL)
}

func TestRoutingDocument_EndpointMissingCustomProvider(t *testing.T) {
	doc := Default()
	_, ok := doc.Endpoint("nonexistent")
	assert.False(t, ok)
}

func TestRoutingDocument_RetryConditionsBuildsStatusCodeSet(t *testing.T) {
	doc := Default()
	doc.Retries.Conditions.StatusCodes = []int{429, 500}
	doc.Retries.Conditions.ErrorKeywords = []string{"timeout"}

	rc := doc.RetryConditions()
	assert.True(t, rc.StatusCodes[429])
	assert.True(t, rc.StatusCodes[500])
	assert.False(t, rc.StatusCodes[400])
	assert.True(t, rc.RetryOnEmpty)
	assert.Equal(t, []string{"timeout"}, rc.ErrorKeywords)
}
