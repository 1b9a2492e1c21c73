//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
)

func TestParameterMerger_GlobalFillsOnlyIfAbsent(t *testing.T) {
	doc := routeconfig.Default()
	doc.Params.GlobalParams = map[string]any{"temperature": 0.5}
	store := routeconfig.NewStore(doc)
	m := NewParameterMerger(store)

	out, err := m.Compose(map[string]any{"temperature": 0.9}, "gpt-4", models.ProtocolOpenAI)
	require.NoError(t, err)
	assert.Equal(t, 0.9, out["temperature"])
}

func TestParameterMerger_ModelParamsOverwriteUnconditionally(t *testing.T) {
	doc := routeconfig.Default()
	doc.Params.ModelParams = map[string]map[string]any{"gpt-4": {"temperature": 0.1}}
	store := routeconfig.NewStore(doc)
	m := NewParameterMerger(store)

	out, err := m.Compose(map[string]any{"temperature": 0.9}, "gpt-4", models.ProtocolOpenAI)
	require.NoError(t, err)
	assert.Equal(t, 0.1, out["temperature"])
}

func TestParameterMerger_ForcesStreamOffForNonStreamingProtocol(t *testing.T) {
	doc := routeconfig.Default()
	store := routeconfig.NewStore(doc)
	m := NewParameterMerger(store)

	out, err := m.Compose(map[string]any{"stream": true}, "claude-3", models.ProtocolMessages)
	require.NoError(t, err)
	assert.Equal(t, false, out["stream"])
}

func TestParameterMerger_SetsModelToBareName(t *testing.T) {
	doc := routeconfig.Default()
	store := routeconfig.NewStore(doc)
	m := NewParameterMerger(store)

	out, err := m.Compose(map[string]any{"model": "openai/gpt-4"}, "gpt-4", models.ProtocolOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", out["model"])
}
