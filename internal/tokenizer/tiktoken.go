// Package tokenizer provides the local, upstream-independent token
// count used when an upstream response carries no usage object (spec
// section 4.6 step 7). It must never block the client response: it
// only ever runs against already-buffered/assembled text.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/routing-gateway/internal/models"
)

// encodingFor maps a bare model name to its tiktoken encoding, via
// exact match then prefix match, defaulting to cl100k_base.
var encodingFor = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// Counter counts tokens for a given model name, lazily initializing and
// caching one tiktoken encoder per distinct encoding name.
type Counter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewCounter returns a ready-to-use Counter.
func NewCounter() *Counter {
	return &Counter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

func encodingForModel(model string) string {
	if enc, ok := encodingFor[model]; ok {
		return enc
	}
	for prefix, enc := range encodingFor {
		if strings.HasPrefix(model, prefix) {
			return enc
		}
	}
	return defaultEncoding
}

func (c *Counter) encoderFor(model string) (*tiktoken.Tiktoken, error) {
	encName := encodingForModel(model)

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[encName]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(encName)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", encName, err)
	}
	c.encoders[encName] = enc
	return enc, nil
}

// Count returns the token length of text for model, falling back to a
// crude character-based estimate if the encoder can't be initialized
// (e.g. offline without the embedded ranks), so local accounting never
// panics the invoker.
func (c *Counter) Count(model, text string) int {
	enc, err := c.encoderFor(model)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages tallies prompt tokens across a chat message list, with
// the same per-message role/content overhead tiktoken's own examples
// use.
func (c *Counter) CountMessages(model string, msgs []models.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += c.Count(model, m.Content.String())
		total += c.Count(model, m.Role)
	}
	total += 3
	return total
}
