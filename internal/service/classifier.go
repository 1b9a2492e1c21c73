package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
)

var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

const classifierHistoryDepth = 3
const defaultRouterTimeout = 10 * time.Second

// IntentClassifier maps the last few user turns to a Tier by calling a
// configured router model. Its contract is total: it never returns an
// error to the caller, always resolving to t2 on any failure, recording
// a ROUTER_FAIL trace event along the way.
type IntentClassifier struct {
	store  *routeconfig.Store
	client *http.Client
	logger *zap.Logger
}

// NewIntentClassifier builds a classifier with its own short-timeout client.
func NewIntentClassifier(store *routeconfig.Store, logger *zap.Logger) *IntentClassifier {
	return &IntentClassifier{
		store: store,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Classify returns the tier for msgs, plus an optional trace event to
// append (non-nil only when the router path itself failed).
func (c *IntentClassifier) Classify(ctx context.Context, msgs []models.ChatMessage) (models.Tier, *models.TraceEvent) {
	doc := c.store.Get()
	if !doc.Router.Enabled {
		return models.TierT1, nil
	}

	history := lastUserMessages(msgs, classifierHistoryDepth)
	if history == "" {
		return models.TierT2, nil
	}

	timeout := defaultRouterTimeout
	reply, err := c.callRouter(ctx, doc, history, timeout)
	if err != nil {
		ev := &models.TraceEvent{
			Stage:   models.StageRouterFail,
			Status:  models.TraceFail,
			Reason:  err.Error(),
		}
		if c.logger != nil {
			c.logger.Warn("intent classifier call failed, falling back to t2", zap.Error(err))
		}
		return models.TierT2, ev
	}

	tier, ok := parseTier(reply)
	if !ok {
		ev := &models.TraceEvent{
			Stage:  models.StageRouterFail,
			Status: models.TraceFail,
			Reason: "unparseable classifier reply",
		}
		return models.TierT2, ev
	}
	return tier, nil
}

var tierPattern = regexp.MustCompile(`t1|t2|t3`)

// parseTier strips whitespace, lowercases, and matches the first
// occurrence of t1|t2|t3 per spec section 4.4.
func parseTier(reply string) (models.Tier, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(reply))
	match := tierPattern.FindString(cleaned)
	if match == "" {
		return "", false
	}
	return models.Tier(match), true
}

func (c *IntentClassifier) callRouter(ctx context.Context, doc *routeconfig.RoutingDocument, history string, timeout time.Duration) (string, error) {
	prompt := doc.Router.PromptTemplate
	if prompt == "" {
		prompt = "Classify the following conversation into t1, t2, or t3. Reply with only the tier.\n\n{history}"
	}
	prompt = strings.ReplaceAll(prompt, "{history}", history)

	baseURL := doc.Router.BaseURL
	if baseURL == "" {
		baseURL = doc.Providers.Upstream.BaseURL
	}
	apiKey := doc.Router.APIKey
	if apiKey == "" {
		apiKey = doc.Providers.Upstream.APIKey
	}

	reqBody := map[string]any{
		"model":  doc.Router.Model,
		"stream": false,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal classifier request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build classifier request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("classifier call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var parsed models.ChatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse classifier response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("classifier returned no choices")
	}
	return extractReplyText(parsed.Choices[0].Message.Content), nil
}

// extractReplyText pulls plain text out of a reply, unwrapping a
// markdown code block if the model insisted on fencing its answer.
func extractReplyText(content models.MessageContent) string {
	text := content.String()
	if matches := jsonBlockRe.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}
	return text
}

// lastUserMessages joins the last n non-empty user-role message texts,
// most recent last.
func lastUserMessages(msgs []models.ChatMessage, n int) string {
	var collected []string
	for i := len(msgs) - 1; i >= 0 && len(collected) < n; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		text := strings.TrimSpace(msgs[i].Content.String())
		if text == "" {
			continue
		}
		collected = append([]string{text}, collected...)
	}
	return strings.Join(collected, "\n")
}
