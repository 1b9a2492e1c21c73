package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/logstore"
	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
	"github.com/user/routing-gateway/internal/service"
)

// GatewayHandler implements C9 RequestGateway: the single north-side
// entrypoint that authenticates, classifies, drives the retry
// orchestrator, and streams or buffers the result back to the client.
type GatewayHandler struct {
	store       *routeconfig.Store
	classifier  *service.IntentClassifier
	orchestrator *service.RetryOrchestrator
	logs        *logstore.Store
	logger      *zap.Logger
}

// NewGatewayHandler wires the gateway's collaborators.
func NewGatewayHandler(store *routeconfig.Store, classifier *service.IntentClassifier, orchestrator *service.RetryOrchestrator, logs *logstore.Store, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{store: store, classifier: classifier, orchestrator: orchestrator, logs: logs, logger: logger}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *GatewayHandler) ChatCompletions(c *gin.Context) {
	doc := h.store.Get()
	if doc.General.GatewayAPIKey != "" {
		if !authorized(c, doc.General.GatewayAPIKey) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"type": "authentication_error", "message": "missing or invalid gateway API key"},
			})
			return
		}
	}

	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"type": "invalid_request_error", "message": "invalid request body: " + err.Error()},
		})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"type": "invalid_request_error", "message": "messages must not be empty"},
		})
		return
	}

	ctx := c.Request.Context()
	trace := service.NewTraceRecorder(time.Now())
	trace.Append(models.StageReqReceived, models.TraceInfo, req.Model, "", "", 0)

	trace.Append(models.StageRouterStart, models.TraceInfo, "", "", "", 0)
	tier, failEvent := h.classifier.Classify(ctx, req.Messages)
	if failEvent != nil {
		trace.Append(failEvent.Stage, failEvent.Status, failEvent.Model, failEvent.Provider, failEvent.Reason, failEvent.RetryCount)
	} else {
		trace.Append(models.StageRouterEnd, models.TraceSuccess, "", "", string(tier), 0)
	}

	clientBody, err := requestToMap(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"type": "invalid_request_error", "message": "could not re-encode request: " + err.Error()},
		})
		return
	}

	result, runErr := h.orchestrator.Run(ctx, tier, clientBody, req.Stream, trace)
	if result == nil {
		h.logger.Error("orchestrator returned no result", zap.Error(runErr))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{"type": "api_error", "message": "internal routing failure"},
		})
		return
	}

	reqBodyJSON, _ := json.Marshal(req)

	if result.StreamChan != nil {
		h.streamResponse(c, result, string(reqBodyJSON))
		return
	}

	logEntry := result.Log
	logEntry.RequestBodyJSON = string(reqBodyJSON)
	logEntry.ResponseBodyJSON = string(result.BufferedBody)
	h.appendLog(logEntry)

	c.Data(result.StatusCode, result.ContentType, result.BufferedBody)
}

// streamResponse forwards raw SSE bytes to the client as they arrive,
// aborting cleanly if the client disconnects, and persists the request
// log once the orchestrator's terminal chunk has been committed.
func (h *GatewayHandler) streamResponse(c *gin.Context, result *service.RunResult, reqBodyJSON string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	var assembled strings.Builder

loop:
	for {
		select {
		case <-clientGone:
			h.logger.Debug("client disconnected mid-stream")
			break loop
		case chunk, ok := <-result.StreamChan:
			if !ok {
				break loop
			}
			if len(chunk.Data) > 0 {
				assembled.Write(chunk.Data)
				if _, err := c.Writer.Write(chunk.Data); err != nil {
					h.logger.Error("failed writing stream chunk", zap.Error(err))
					break loop
				}
				c.Writer.Flush()
			}
			if chunk.Done {
				break loop
			}
		}
	}

	if result.LogChan != nil {
		select {
		case logEntry, ok := <-result.LogChan:
			if ok {
				logEntry.RequestBodyJSON = reqBodyJSON
				logEntry.ResponseBodyJSON = assembled.String()
				h.appendLog(logEntry)
			}
		case <-time.After(2 * time.Second):
			h.logger.Warn("timed out waiting for stream's final log record")
		}
	}
}

// appendLog persists a request log on a detached context so a slow
// LogSink never blocks the client response.
func (h *GatewayHandler) appendLog(entry models.RequestLog) {
	if h.logs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.logs.Append(ctx, entry); err != nil {
			h.logger.Warn("failed to persist request log", zap.Error(err))
		}
	}()
}

func authorized(c *gin.Context, expected string) bool {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return strings.TrimPrefix(auth, "Bearer ") == expected
}

// requestToMap round-trips the typed request through JSON so the
// merger/invoker can operate on a plain map, matching upstream's
// loosely-typed body shape.
func requestToMap(req *models.ChatCompletionRequest) (map[string]any, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
