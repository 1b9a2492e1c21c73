package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
)

// RunResult is what RequestGateway (C9) forwards to the client: either
// a buffered body or a channel of raw SSE bytes to stream, never both.
type RunResult struct {
	StatusCode   int
	BufferedBody []byte
	StreamChan   <-chan StreamChunk
	ContentType  string
	ChosenModel  string
	Log          models.RequestLog

	// LogChan delivers exactly one models.RequestLog once a streamed
	// response's terminal chunk has been observed. Nil for buffered
	// responses, where Log is already populated.
	LogChan <-chan models.RequestLog
}

// RetryOrchestrator owns the retry/failover state machine (spec section
// 4.7): it drives CandidateSelector across rounds/budget, invokes each
// attempt, commits health deltas, and emits the trace.
type RetryOrchestrator struct {
	store     *routeconfig.Store
	selector  *CandidateSelector
	invoker   *UpstreamInvoker
	health    *HealthRegistry
	logger    *zap.Logger
}

// NewRetryOrchestrator wires the orchestrator's collaborators.
func NewRetryOrchestrator(store *routeconfig.Store, selector *CandidateSelector, invoker *UpstreamInvoker, health *HealthRegistry, logger *zap.Logger) *RetryOrchestrator {
	return &RetryOrchestrator{store: store, selector: selector, invoker: invoker, health: health, logger: logger}
}

// Run executes the full retry/failover loop for one classified request.
func (o *RetryOrchestrator) Run(ctx context.Context, tier models.Tier, clientBody map[string]any, isClientStreaming bool, trace *TraceRecorder) (*RunResult, error) {
	doc := o.store.Get()
	cfg, err := doc.Tier(tier)
	if err != nil {
		return nil, fmt.Errorf("resolve tier: %w", err)
	}
	retryConds := doc.RetryConditions()

	passes := 1
	if cfg.Strategy == models.StrategySequential {
		passes = maxInt(cfg.Rounds, 1)
	}

	var attempted []string
	var lastResult AttemptResult
	retryCount := 0

	for round := 0; round < passes; round++ {
		candidates := o.selector.Candidates(cfg)
		for _, candidate := range candidates {
			trace.Append(models.StageModelCallStart, models.TraceInfo, candidate.Model, candidate.ProviderID, "", retryCount)
			attempted = append(attempted, candidate.String())

			result, streamCh := o.invoker.Attempt(ctx, candidate, clientBody, retryConds, isClientStreaming, cfg.ConnectTimeoutMS, cfg.GenerationTimeout)

			if streamCh != nil {
				// Connection already succeeded (2xx headers received); per
				// spec section 5, streaming retries only happen during the
				// connection phase, so once we have a channel this attempt
				// is final regardless of how the body ends.
				return o.finalizeStream(tier, candidate, streamCh, retryCount, trace), nil
			}

			lastResult = result
			retryCount++

			if result.Success {
				o.health.OnSuccess(candidate)
				trace.Append(models.StageFullResponse, models.TraceSuccess, candidate.Model, candidate.ProviderID, "", retryCount)
				return &RunResult{
					StatusCode:   200,
					BufferedBody: result.ResponseBody,
					ContentType:  contentTypeFor(isClientStreaming),
					ChosenModel:  candidate.Model,
					Log:          o.buildLog(tier, candidate, retryCount, result, trace),
				}, nil
			}

			var missing *ProviderMissingError
			if !errors.As(result.Err, &missing) {
				o.health.OnFailure(candidate, result.Kind)
			}

			if !result.Retryable {
				trace.Append(models.StageModelFail, models.TraceFail, candidate.Model, candidate.ProviderID, result.Reason, retryCount)
				return &RunResult{
					StatusCode:   statusForNonRetryable(result),
					BufferedBody: result.ResponseBody,
					ContentType:  "application/json",
					ChosenModel:  candidate.Model,
					Log:          o.buildLog(tier, candidate, retryCount, result, trace),
				}, nil
			}

			trace.Append(models.StageModelFail, models.TraceFail, candidate.Model, candidate.ProviderID, result.Reason, retryCount)
		}
	}

	trace.Append(models.StageAllFailed, models.TraceFail, "", "", lastResult.Reason, retryCount)
	envelope, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"kind":       "exhausted",
			"attempted":  attempted,
			"last_reason": lastResult.Reason,
		},
	})
	return &RunResult{
		StatusCode:   502,
		BufferedBody: envelope,
		ContentType:  "application/json",
		Log:          o.buildLog(tier, models.ModelRef{}, retryCount, lastResult, trace),
	}, &ExhaustedError{Attempted: attempted, LastReason: lastResult.Reason}
}

// finalizeStream wraps the invoker's raw channel in one that, on the
// terminal chunk, commits the health delta and trace event before
// closing, then delivers the completed RequestLog on logCh — the
// gateway only needs to forward bytes and wait on that channel.
func (o *RetryOrchestrator) finalizeStream(tier models.Tier, candidate models.ModelRef, in <-chan StreamChunk, retryCount int, trace *TraceRecorder) *RunResult {
	out := make(chan StreamChunk, 64)
	logCh := make(chan models.RequestLog, 1)
	go func() {
		defer close(out)
		defer close(logCh)
		for chunk := range in {
			if chunk.Done && chunk.Final != nil && !chunk.Final.Success {
				// The client has already received whatever deltas made it
				// through; it still needs a terminating error event and
				// [DONE] rather than a bare connection close (spec section 5).
				chunk.Data = append(append([]byte{}, chunk.Data...), errorSSEFrame(*chunk.Final)...)
			}
			out <- chunk
			if chunk.Done && chunk.Final != nil {
				if chunk.Final.Success {
					o.health.OnSuccess(candidate)
					trace.Append(models.StageFullResponse, models.TraceSuccess, candidate.Model, candidate.ProviderID, "", retryCount)
				} else {
					o.health.OnFailure(candidate, chunk.Final.Kind)
					trace.Append(models.StageModelFail, models.TraceFail, candidate.Model, candidate.ProviderID, chunk.Final.Reason, retryCount)
				}
				logCh <- o.buildLog(tier, candidate, retryCount, *chunk.Final, trace)
			}
		}
	}()
	return &RunResult{
		StatusCode:  200,
		StreamChan:  out,
		ContentType: "text/event-stream",
		ChosenModel: candidate.Model,
		LogChan:     logCh,
	}
}

// errorSSEFrame renders a terminal stream failure as an error data event
// followed by [DONE], so a client mid-stream sees an explicit failure
// instead of a bare connection close.
func errorSSEFrame(result AttemptResult) []byte {
	envelope, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"kind":    string(result.Kind),
			"message": result.Reason,
		},
	})
	var buf bytes.Buffer
	buf.WriteString("data: ")
	buf.Write(envelope)
	buf.WriteString("\n\ndata: [DONE]\n\n")
	return buf.Bytes()
}

func (o *RetryOrchestrator) buildLog(tier models.Tier, candidate models.ModelRef, retryCount int, result AttemptResult, trace *TraceRecorder) models.RequestLog {
	traceJSON, _ := json.Marshal(trace.Events())
	status := models.RequestStatusOK
	if !result.Success {
		if result.Retryable {
			status = models.RequestStatusExhausted
		} else {
			status = models.RequestStatusBadInput
		}
	}
	return models.RequestLog{
		ID:               uuid.New().String(),
		ReceivedAt:       time.Now(),
		Tier:             tier,
		ChosenModel:      candidate.Model,
		DurationMS:       result.TotalMS,
		Status:           status,
		RetryCount:       retryCount,
		TraceJSON:        string(traceJSON),
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TokenSource:      result.TokenSource,
	}
}

func statusForNonRetryable(result AttemptResult) int {
	if result.StatusCode != 0 {
		return result.StatusCode
	}
	return 502
}

func contentTypeFor(isClientStreaming bool) string {
	if isClientStreaming {
		return "text/event-stream"
	}
	return "application/json"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
