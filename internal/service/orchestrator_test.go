//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
	"github.com/user/routing-gateway/internal/statsstore"
	"github.com/user/routing-gateway/internal/tokenizer"
)

func newTestOrchestrator(t *testing.T, upstreamURL string, modelNames []string, strategy models.Strategy) *RetryOrchestrator {
	t.Helper()
	doc := routeconfig.Default()
	doc.Providers.Upstream = routeconfig.ProviderSpec{BaseURL: upstreamURL, APIKey: "sk-test", Protocol: "openai"}
	doc.Models.T1 = modelNames
	doc.Models.Strategies["t1"] = string(strategy)
	doc.Timeouts.Connect["t1"] = 2000
	doc.Timeouts.Generation["t1"] = 2000
	doc.Retries.MaxRetries["t1"] = len(modelNames)
	store := routeconfig.NewStore(doc)

	dir := t.TempDir()
	statsStore, err := statsstore.New(dir, nil)
	require.NoError(t, err)
	health := NewHealthRegistry(statsStore, 1.0, nil)

	registry := NewProviderRegistry(store)
	merger := NewParameterMerger(store)
	invoker := NewUpstreamInvoker(registry, merger, tokenizer.NewCounter(), nil)
	selector := NewCandidateSelector(health)

	return NewRetryOrchestrator(store, selector, invoker, health, nil)
}

func requestedModel(r *http.Request) string {
	body, _ := io.ReadAll(r.Body)
	var parsed map[string]any
	_ = json.Unmarshal(body, &parsed)
	name, _ := parsed["model"].(string)
	return name
}

func TestOrchestrator_SucceedsOnFirstCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := models.ChatCompletionResponse{
			Model:   requestedModel(r),
			Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: models.MessageContent{Text: "hello"}}}},
			Usage:   &models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, srv.URL, []string{"model-a", "model-b"}, models.StrategySequential)
	trace := NewTraceRecorder(time.Now())

	result, err := orch.Run(context.Background(), models.TierT1, map[string]any{"messages": []any{}}, false, trace)
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "model-a", result.ChosenModel)
}

func TestOrchestrator_FailsOverOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := requestedModel(r)
		if model == "model-a" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		resp := models.ChatCompletionResponse{
			Model:   model,
			Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: models.MessageContent{Text: "hello"}}}},
			Usage:   &models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, srv.URL, []string{"model-a", "model-b"}, models.StrategySequential)
	trace := NewTraceRecorder(time.Now())

	result, err := orch.Run(context.Background(), models.TierT1, map[string]any{"messages": []any{}}, false, trace)
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "model-b", result.ChosenModel)

	var sawModelFail, sawFullResponse bool
	for _, ev := range trace.Events() {
		if ev.Stage == models.StageModelFail {
			sawModelFail = true
		}
		if ev.Stage == models.StageFullResponse {
			sawFullResponse = true
		}
	}
	assert.True(t, sawModelFail)
	assert.True(t, sawFullResponse)
}

func TestOrchestrator_EmptyResponseTriggersRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := requestedModel(r)
		if model == "model-a" {
			resp := models.ChatCompletionResponse{Model: model, Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: models.MessageContent{Text: ""}}}}}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		resp := models.ChatCompletionResponse{
			Model:   model,
			Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: models.MessageContent{Text: "real answer"}}}},
			Usage:   &models.Usage{CompletionTokens: 2, TotalTokens: 2},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, srv.URL, []string{"model-a", "model-b"}, models.StrategySequential)
	trace := NewTraceRecorder(time.Now())

	result, err := orch.Run(context.Background(), models.TierT1, map[string]any{"messages": []any{}}, false, trace)
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "model-b", result.ChosenModel)
}

func TestOrchestrator_ExhaustionReturns502Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, srv.URL, []string{"model-a", "model-b"}, models.StrategySequential)
	trace := NewTraceRecorder(time.Now())

	result, err := orch.Run(context.Background(), models.TierT1, map[string]any{"messages": []any{}}, false, trace)
	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempted, 2)
	assert.Equal(t, 502, result.StatusCode)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(result.BufferedBody, &envelope))
	errObj, ok := envelope["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "exhausted", errObj["kind"])
}

func TestOrchestrator_NonRetryableAuthFailureStopsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, srv.URL, []string{"model-a", "model-b"}, models.StrategySequential)
	trace := NewTraceRecorder(time.Now())

	result, err := orch.Run(context.Background(), models.TierT1, map[string]any{"messages": []any{}}, false, trace)
	require.NoError(t, err)
	assert.Equal(t, 401, result.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestOrchestrator_StreamingMidAbortEmitsErrorFrameAndDoneWithoutRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte(`data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}` + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	orch := newTestOrchestrator(t, srv.URL, []string{"model-a", "model-b"}, models.StrategySequential)
	trace := NewTraceRecorder(time.Now())

	result, err := orch.Run(context.Background(), models.TierT1, map[string]any{"messages": []any{}}, true, trace)
	require.NoError(t, err)
	require.NotNil(t, result.StreamChan)

	var assembled bytes.Buffer
	for chunk := range result.StreamChan {
		assembled.Write(chunk.Data)
	}

	body := assembled.String()
	assert.Contains(t, body, "partial")
	assert.Contains(t, body, `"error"`)
	assert.Contains(t, body, "data: [DONE]")

	var sawModelFail bool
	for _, ev := range trace.Events() {
		if ev.Stage == models.StageModelFail {
			sawModelFail = true
		}
	}
	assert.True(t, sawModelFail)
}
