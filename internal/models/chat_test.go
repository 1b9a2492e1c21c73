//go:build !integration && !e2e
// +build !integration,!e2e

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContent_StringForm(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"hello world"`), &c))
	assert.False(t, c.IsArray)
	assert.Equal(t, "hello world", c.String())

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `"hello world"`, string(out))
}

func TestMessageContent_ArrayForm(t *testing.T) {
	raw := `[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]`
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.True(t, c.IsArray)
	assert.Equal(t, "part onepart two", c.String())

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestParseModelRef(t *testing.T) {
	providerID, model, hasProvider := ParseModelRef("openai/gpt-4")
	assert.Equal(t, "openai", providerID)
	assert.Equal(t, "gpt-4", model)
	assert.True(t, hasProvider)

	providerID, model, hasProvider = ParseModelRef("gpt-4")
	assert.Equal(t, "", providerID)
	assert.Equal(t, "gpt-4", model)
	assert.False(t, hasProvider)
}
