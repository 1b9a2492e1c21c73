package service

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/tokenizer"
)

// maxLoggedBufferBytes bounds the in-memory reconstruction buffer used
// for logging a streamed response; overflow only truncates the logged
// text, never the bytes forwarded to the client (spec section 5).
const maxLoggedBufferBytes = 4 << 20

// StreamChunk is one forwarded SSE line, or the terminal chunk carrying
// the attempt's final AttemptResult.
type StreamChunk struct {
	Data  []byte
	Err   error
	Done  bool
	Final *AttemptResult
}

// AttemptResult is the tagged-union outcome of one model attempt.
type AttemptResult struct {
	Success      bool
	Kind         models.OutcomeKind
	Retryable    bool
	StatusCode   int
	ResponseBody []byte // bytes to forward: the re-encoded body or synthesized SSE on success, the upstream body on a status error
	AssistantText string
	Usage        models.Usage
	TokenSource  models.TokenSource
	Err          error
	Reason       string
	ConnectMS    int64
	TotalMS      int64
}

// clientPool holds one *http.Client per (base_url, verify_tls) pair, the
// shared-resource model spec section 5 calls for, generalizing the
// teacher's fixed two-client (buffered/stream) setup into a registry
// keyed by upstream identity.
type clientPool struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func newClientPool() *clientPool {
	return &clientPool{clients: make(map[string]*http.Client)}
}

func (p *clientPool) get(ep models.ProviderEndpoint) *http.Client {
	key := ep.BaseURL
	if !ep.VerifyTLS {
		key += "|insecure"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	if !ep.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	c := &http.Client{Transport: transport}
	p.clients[key] = c
	return c
}

// UpstreamInvoker performs one model attempt: resolves the endpoint,
// composes the body, applies two-phase timeouts, and handles the
// buffered vs. streaming response per protocol flavor.
type UpstreamInvoker struct {
	registry *ProviderRegistry
	merger   *ParameterMerger
	tokens   *tokenizer.Counter
	pool     *clientPool
	logger   *zap.Logger
}

// NewUpstreamInvoker wires the invoker's collaborators.
func NewUpstreamInvoker(registry *ProviderRegistry, merger *ParameterMerger, tokens *tokenizer.Counter, logger *zap.Logger) *UpstreamInvoker {
	return &UpstreamInvoker{
		registry: registry,
		merger:   merger,
		tokens:   tokens,
		pool:     newClientPool(),
		logger:   logger,
	}
}

// Attempt performs one model attempt. When the protocol flavor allows
// streaming and isClientStreaming is true, the returned channel is
// non-nil and the caller must drain it to completion (the final chunk
// carries the AttemptResult); otherwise the AttemptResult is returned
// directly and the channel is nil.
func (inv *UpstreamInvoker) Attempt(
	ctx context.Context,
	candidate models.ModelRef,
	clientBody map[string]any,
	retryConds models.RetryConditions,
	isClientStreaming bool,
	connectTimeoutMS, generationTimeoutMS int,
) (AttemptResult, <-chan StreamChunk) {
	start := time.Now()

	endpoint, err := inv.registry.ResolveRef(candidate)
	if err != nil {
		return AttemptResult{Success: false, Kind: models.OutcomeTransport, Retryable: false, Err: err, Reason: err.Error()}, nil
	}

	upstreamBody, err := inv.merger.Compose(clientBody, candidate.Model, endpoint.Protocol)
	if err != nil {
		return AttemptResult{Success: false, Kind: models.OutcomeTransport, Retryable: false, Err: err, Reason: err.Error()}, nil
	}

	wantStream := isClientStreaming && endpoint.Protocol.AllowsStreaming()
	upstreamBody["stream"] = wantStream

	bodyBytes, err := json.Marshal(upstreamBody)
	if err != nil {
		return AttemptResult{Success: false, Kind: models.OutcomeTransport, Retryable: false, Err: err, Reason: err.Error()}, nil
	}

	// The connect timeout bounds only the wait for response headers; once
	// they arrive the timer is stopped and the body read is left to the
	// generation timeout.
	reqCtx, cancelReq := context.WithCancel(ctx)
	connectTimer := time.AfterFunc(time.Duration(connectTimeoutMS)*time.Millisecond, cancelReq)
	streaming := false
	defer func() {
		if !streaming {
			cancelReq()
		}
	}()

	url := endpoint.BaseURL + endpoint.Protocol.Path()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return AttemptResult{Success: false, Kind: models.OutcomeTransport, Retryable: true, Err: err, Reason: err.Error()}, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	if wantStream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	client := inv.pool.get(endpoint)
	resp, err := client.Do(httpReq)
	connectTimedOut := !connectTimer.Stop()
	connectMS := time.Since(start).Milliseconds()
	if err != nil {
		kind := models.OutcomeTransport
		if connectTimedOut || isTimeoutErr(err) {
			kind = models.OutcomeTimeoutConnect
		}
		return AttemptResult{Success: false, Kind: kind, Retryable: true, Err: err, Reason: err.Error(), ConnectMS: connectMS}, nil
	}

	if resp.StatusCode >= 400 {
		return inv.handleStatusError(resp, connectMS, retryConds)
	}

	if wantStream {
		streaming = true
		ch := make(chan StreamChunk, 64)
		go inv.streamPassthrough(ctx, resp, candidate, start, connectMS, generationTimeoutMS, retryConds, ch)
		return AttemptResult{}, ch
	}

	return inv.handleBuffered(ctx, resp, candidate, start, connectMS, generationTimeoutMS, retryConds, isClientStreaming)
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (inv *UpstreamInvoker) handleStatusError(resp *http.Response, connectMS int64, retryConds models.RetryConditions) (AttemptResult, <-chan StreamChunk) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	code := resp.StatusCode

	var kind models.OutcomeKind
	switch {
	case code == 401 || code == 403:
		kind = models.OutcomeHTTP4xxAuth
	case code == 429:
		kind = models.OutcomeHTTP429
	case code >= 500:
		kind = models.OutcomeHTTP5xx
	default:
		kind = models.OutcomeHTTP4xxOther
	}

	retryable := kind.IsRetryable() || retryConds.HasStatusCode(code)

	return AttemptResult{
		Success:      false,
		Kind:         kind,
		Retryable:    retryable,
		StatusCode:   code,
		ResponseBody: body,
		Reason:       fmt.Sprintf("upstream status %d", code),
		ConnectMS:    connectMS,
	}, nil
}

// handleBuffered handles a 2xx non-streaming upstream response, whether
// or not the client itself wanted a stream (synthesizing a single-chunk
// SSE envelope for the caller if so — spec section 4.6 step 6).
func (inv *UpstreamInvoker) handleBuffered(
	ctx context.Context,
	resp *http.Response,
	candidate models.ModelRef,
	start time.Time,
	connectMS int64,
	generationTimeoutMS int,
	retryConds models.RetryConditions,
	isClientStreaming bool,
) (AttemptResult, <-chan StreamChunk) {
	defer resp.Body.Close()

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(generationTimeoutMS)*time.Millisecond)
	defer cancel()

	bodyBytes, err := readAllWithContext(genCtx, resp.Body)
	totalMS := time.Since(start).Milliseconds()
	if err != nil {
		kind := models.OutcomeTransport
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			kind = models.OutcomeTimeoutGeneration
		}
		return AttemptResult{Success: false, Kind: kind, Retryable: true, Err: err, Reason: err.Error(), ConnectMS: connectMS, TotalMS: totalMS}, nil
	}

	var parsed models.ChatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return AttemptResult{Success: false, Kind: models.OutcomeTransport, Retryable: true, Err: err, Reason: "decode upstream response: " + err.Error(), ConnectMS: connectMS, TotalMS: totalMS}, nil
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content.String()
	}

	if strings.TrimSpace(text) == "" && retryConds.RetryOnEmpty {
		return AttemptResult{Success: false, Kind: models.OutcomeEmptyResponse, Retryable: true, Reason: "empty completion", ConnectMS: connectMS, TotalMS: totalMS}, nil
	}
	if kw, hit := retryConds.MatchesKeyword(string(bodyBytes)); hit {
		return AttemptResult{Success: false, Kind: models.OutcomeBodyKeyword, Retryable: true, Reason: "matched retry keyword: " + kw, ConnectMS: connectMS, TotalMS: totalMS}, nil
	}

	parsed.Model = candidate.Model
	usage, tokenSource := inv.resolveUsage(parsed.Usage, candidate.Model, text)
	parsed.Usage = &usage

	rewritten, err := json.Marshal(parsed)
	if err != nil {
		rewritten = bodyBytes
	}

	if isClientStreaming {
		sseBody := synthesizeSingleChunkSSE(parsed)
		return AttemptResult{
			Success: true, Kind: models.OutcomeSuccess, ResponseBody: sseBody,
			AssistantText: text, Usage: usage, TokenSource: tokenSource,
			ConnectMS: connectMS, TotalMS: totalMS,
		}, nil
	}

	return AttemptResult{
		Success: true, Kind: models.OutcomeSuccess, ResponseBody: rewritten,
		AssistantText: text, Usage: usage, TokenSource: tokenSource,
		ConnectMS: connectMS, TotalMS: totalMS,
	}, nil
}

func (inv *UpstreamInvoker) resolveUsage(upstream *models.Usage, model, completionText string) (models.Usage, models.TokenSource) {
	if upstream != nil && (upstream.PromptTokens > 0 || upstream.CompletionTokens > 0) {
		return *upstream, models.TokenSourceUpstream
	}
	completion := inv.tokens.Count(model, completionText)
	return models.Usage{CompletionTokens: completion, TotalTokens: completion}, models.TokenSourceLocal
}

func synthesizeSingleChunkSSE(resp models.ChatCompletionResponse) []byte {
	var buf bytes.Buffer
	chunk := models.SSEChunk{
		ID: resp.ID, Object: "chat.completion.chunk", Created: resp.Created, Model: resp.Model,
		Usage: resp.Usage,
	}
	if len(resp.Choices) > 0 {
		finish := resp.Choices[0].FinishReason
		chunk.Choices = []struct {
			Index        int            `json:"index"`
			Delta        map[string]any `json:"delta"`
			FinishReason *string        `json:"finish_reason"`
		}{{
			Index:        0,
			Delta:        map[string]any{"role": "assistant", "content": resp.Choices[0].Message.Content.String()},
			FinishReason: &finish,
		}}
	}
	data, _ := json.Marshal(chunk)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	buf.WriteString("data: [DONE]\n\n")
	return buf.Bytes()
}

// streamPassthrough forwards raw upstream SSE bytes to the client
// unchanged while reconstructing the assistant text for logging and
// watching the generation-timeout budget in aggregate.
func (inv *UpstreamInvoker) streamPassthrough(
	ctx context.Context,
	resp *http.Response,
	candidate models.ModelRef,
	start time.Time,
	connectMS int64,
	generationTimeoutMS int,
	retryConds models.RetryConditions,
	out chan<- StreamChunk,
) {
	defer close(out)
	defer resp.Body.Close()

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(generationTimeoutMS)*time.Millisecond)
	defer cancel()

	// Closing the body interrupts a read that is blocked waiting for the
	// next upstream line when the generation budget runs out.
	go func() {
		<-genCtx.Done()
		resp.Body.Close()
	}()

	reader := bufio.NewReader(resp.Body)
	var textBuf bytes.Buffer
	var upstreamUsage models.Usage
	sawUsage := false
	bytesCommitted := false

	for {
		select {
		case <-genCtx.Done():
			totalMS := time.Since(start).Milliseconds()
			result := AttemptResult{
				Success: false, Kind: models.OutcomeTimeoutGeneration,
				Retryable: !bytesCommitted, AssistantText: textBuf.String(),
				ConnectMS: connectMS, TotalMS: totalMS, Reason: "generation timeout",
			}
			result.Usage, result.TokenSource = inv.resolveUsage(usageOrNil(sawUsage, upstreamUsage), candidate.Model, textBuf.String())
			out <- StreamChunk{Err: genCtx.Err(), Done: true, Final: &result}
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			bytesCommitted = true
			out <- StreamChunk{Data: line}
			parseSSEDelta(line, &textBuf, &upstreamUsage, &sawUsage)
		}
		if err != nil {
			if genCtx.Err() != nil {
				continue // reported as a generation timeout by the check above
			}
			totalMS := time.Since(start).Milliseconds()
			if errors.Is(err, io.EOF) {
				result := AttemptResult{Success: true, Kind: models.OutcomeSuccess, AssistantText: textBuf.String(), ConnectMS: connectMS, TotalMS: totalMS}
				result.Usage, result.TokenSource = inv.resolveUsage(usageOrNil(sawUsage, upstreamUsage), candidate.Model, textBuf.String())
				out <- StreamChunk{Done: true, Final: &result}
				return
			}
			result := AttemptResult{
				Success: false, Kind: models.OutcomeStreamAbort, Retryable: !bytesCommitted,
				AssistantText: textBuf.String(), Err: err, Reason: err.Error(), ConnectMS: connectMS, TotalMS: totalMS,
			}
			result.Usage, result.TokenSource = inv.resolveUsage(usageOrNil(sawUsage, upstreamUsage), candidate.Model, textBuf.String())
			out <- StreamChunk{Err: err, Done: true, Final: &result}
			return
		}
	}
}

func usageOrNil(saw bool, u models.Usage) *models.Usage {
	if !saw {
		return nil
	}
	return &u
}

// parseSSEDelta extracts delta text and an optional usage trailer from
// one raw SSE line, appending text to buf and updating usage in place.
func parseSSEDelta(line []byte, buf *bytes.Buffer, usage *models.Usage, sawUsage *bool) {
	s := strings.TrimSpace(string(line))
	if !strings.HasPrefix(s, "data:") {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(s, "data:"))
	if payload == "" || payload == "[DONE]" {
		return
	}

	if buf.Len() < maxLoggedBufferBytes {
		var chunk models.SSEChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err == nil {
			if len(chunk.Choices) > 0 {
				if text, ok := chunk.Choices[0].Delta["content"].(string); ok {
					buf.WriteString(text)
				}
			}
			if chunk.Usage != nil {
				*usage = *chunk.Usage
				*sawUsage = true
			}
		}
	}
}

// readAllWithContext reads r to completion or until ctx is done,
// whichever comes first.
func readAllWithContext(ctx context.Context, r io.Reader) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}
