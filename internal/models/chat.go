package models

import (
	"bytes"
	"encoding/json"
)

// ContentPart is one element of a multi-part message content array, as
// used by both the OpenAI chat schema (text/image_url parts) and the
// v1-messages south-side flavor (text/source parts).
type ContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *ImageURL       `json:"image_url,omitempty"`
	Source   *ImageSource    `json:"source,omitempty"`
}

// ImageURL is the OpenAI-flavored image content part payload.
type ImageURL struct {
	URL string `json:"url"`
}

// ImageSource is the v1-messages-flavored inline image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// MessageContent duck-types the chat-completion content field, which
// upstreams accept as either a bare string or an array of content
// parts. IsArray records which form was received so re-marshaling
// round-trips byte-for-byte in shape.
type MessageContent struct {
	Text    string
	Parts   []ContentPart
	IsArray bool
}

// UnmarshalJSON accepts either a JSON string or a JSON array of parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		c.Text = s
		c.IsArray = false
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return err
	}
	c.Parts = parts
	c.IsArray = true
	return nil
}

// MarshalJSON re-emits whichever form was originally received.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsArray {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String flattens the content to plain text, concatenating text parts
// when the array form was used. Used by the classifier's message
// extraction and by the local tokenizer's prompt-token estimate.
func (c MessageContent) String() string {
	if !c.IsArray {
		return c.Text
	}
	var buf bytes.Buffer
	for _, p := range c.Parts {
		if p.Type == "text" || p.Text != "" {
			buf.WriteString(p.Text)
		}
	}
	return buf.String()
}

// ChatMessage is one turn in the OpenAI-compatible chat schema.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`
}

// ChatCompletionRequest is the north-side request body accepted at
// POST /v1/chat/completions, and the body shape forwarded (after
// merging) to an `openai`-flavored upstream.
type ChatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []ChatMessage  `json:"messages"`
	Stream      bool           `json:"stream,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Extra       map[string]any `json:"-"`
}

// Usage is the upstream-reported (or locally computed) token tally.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion choice in a non-streaming response.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the non-streaming OpenAI-compatible
// response body. The invoker decodes the upstream body into it, rewrites
// the model field to the bare name, fills in usage, and re-encodes it for
// the client; fields not declared here are not carried over.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// SSEChunk is one streamed delta chunk, used both when forwarding a
// real upstream stream and when synthesizing a single-chunk stream for
// a streaming client against a buffered (v1-messages/v1-response)
// upstream.
type SSEChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int            `json:"index"`
		Delta        map[string]any `json:"delta"`
		FinishReason *string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}
