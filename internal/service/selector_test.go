//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/statsstore"
)

func TestCandidateSelector_SequentialReturnsPlainOrder(t *testing.T) {
	sel := NewCandidateSelector(nil)
	cfg := models.TierConfig{
		Strategy: models.StrategySequential,
		Models: []models.ModelRef{
			{ProviderID: "upstream", Model: "a"},
			{ProviderID: "upstream", Model: "b"},
		},
	}
	got := sel.Candidates(cfg)
	assert.Equal(t, cfg.Models, got)
}

func TestCandidateSelector_RandomBoundedByMaxRetries(t *testing.T) {
	sel := NewCandidateSelector(nil)
	cfg := models.TierConfig{
		Strategy:   models.StrategyRandom,
		MaxRetries: 2,
		Models: []models.ModelRef{
			{Model: "a"}, {Model: "b"}, {Model: "c"}, {Model: "d"},
		},
	}
	got := sel.Candidates(cfg)
	assert.Len(t, got, 2)
}

func TestCandidateSelector_AdaptiveSkewsTowardHealthyModel(t *testing.T) {
	dir := t.TempDir()
	store, err := statsstore.New(dir, nil)
	require.NoError(t, err)
	health := NewHealthRegistry(store, 1.0, nil)

	good := models.ModelRef{ProviderID: "upstream", Model: "good"}
	bad := models.ModelRef{ProviderID: "upstream", Model: "bad"}
	for i := 0; i < 20; i++ {
		health.OnFailure(bad, models.OutcomeHTTP5xx)
	}

	sel := NewCandidateSelector(health)
	cfg := models.TierConfig{
		Strategy:   models.StrategyAdaptive,
		MaxRetries: 1,
		Models:     []models.ModelRef{good, bad},
	}

	goodFirst := 0
	const trials = 1000
	for i := 0; i < trials; i++ {
		got := sel.Candidates(cfg)
		require.Len(t, got, 1)
		if got[0] == good {
			goodFirst++
		}
	}

	assert.GreaterOrEqual(t, goodFirst, int(0.9*trials))
}
