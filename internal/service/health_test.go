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

func newTestHealthRegistry(t *testing.T) *HealthRegistry {
	t.Helper()
	dir := t.TempDir()
	store, err := statsstore.New(dir, nil)
	require.NoError(t, err)
	return NewHealthRegistry(store, 1.0, nil)
}

func TestHealthRegistry_ScoreNeverNegative(t *testing.T) {
	h := newTestHealthRegistry(t)
	model := models.ModelRef{ProviderID: "upstream", Model: "gpt-4"}

	h.OnSuccess(model)
	h.OnSuccess(model)

	assert.GreaterOrEqual(t, h.Score(model), 0.0)
}

func TestHealthRegistry_WeightInRange(t *testing.T) {
	h := newTestHealthRegistry(t)
	model := models.ModelRef{ProviderID: "upstream", Model: "gpt-4"}

	for i := 0; i < 5; i++ {
		h.OnFailure(model, models.OutcomeHTTP5xx)
	}

	w := h.Weight(model)
	assert.Greater(t, w, 0.0)
	assert.LessOrEqual(t, w, 1.0)
}

func TestHealthRegistry_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := statsstore.New(dir, nil)
	require.NoError(t, err)

	h := NewHealthRegistry(store, 1.0, nil)
	model := models.ModelRef{ProviderID: "upstream", Model: "gpt-4"}
	h.OnFailure(model, models.OutcomeHTTP5xx)
	require.NoError(t, h.Persist())

	store2, err := statsstore.New(dir, nil)
	require.NoError(t, err)
	h2 := NewHealthRegistry(store2, 1.0, nil)
	assert.Greater(t, h2.Score(model), 0.0)
}
