//go:build !integration && !e2e
// +build !integration,!e2e

package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/routing-gateway/internal/models"
)

func TestEncodingForModel_ExactAndPrefixMatch(t *testing.T) {
	assert.Equal(t, "o200k_base", encodingForModel("gpt-4o"))
	assert.Equal(t, "cl100k_base", encodingForModel("gpt-4-turbo-preview"))
	assert.Equal(t, defaultEncoding, encodingForModel("some-unknown-model"))
}

func TestCounter_CountIsPositiveForNonEmptyText(t *testing.T) {
	c := NewCounter()
	n := c.Count("gpt-4", "hello world, this is a test sentence")
	assert.Greater(t, n, 0)
}

func TestCounter_CountFallsBackOnUnknownEncoder(t *testing.T) {
	c := NewCounter()
	n := c.Count("anything", "")
	assert.GreaterOrEqual(t, n, 0)
}

func TestCounter_CountMessagesAddsPerMessageOverhead(t *testing.T) {
	c := NewCounter()
	msgs := []models.ChatMessage{
		{Role: "user", Content: models.MessageContent{Text: "hi"}},
		{Role: "assistant", Content: models.MessageContent{Text: "hello there"}},
	}
	total := c.CountMessages("gpt-4", msgs)

	bare := c.Count("gpt-4", "hi") + c.Count("gpt-4", "user") +
		c.Count("gpt-4", "hello there") + c.Count("gpt-4", "assistant")
	assert.Equal(t, bare+2*4+3, total)
}
