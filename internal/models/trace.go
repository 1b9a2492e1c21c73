package models

import "time"

// TraceStage is one of the closed set of pipeline stages a request can
// pass through.
type TraceStage string

const (
	StageReqReceived    TraceStage = "REQ_RECEIVED"
	StageRouterStart    TraceStage = "ROUTER_START"
	StageRouterEnd      TraceStage = "ROUTER_END"
	StageRouterFail     TraceStage = "ROUTER_FAIL"
	StageModelCallStart TraceStage = "MODEL_CALL_START"
	StageFirstToken     TraceStage = "FIRST_TOKEN"
	StageFullResponse   TraceStage = "FULL_RESPONSE"
	StageModelFail      TraceStage = "MODEL_FAIL"
	StageAllFailed      TraceStage = "ALL_FAILED"
	StageClientAbort    TraceStage = "CLIENT_ABORT"
)

// TraceStatus classifies a trace event's outcome at the moment it was
// recorded.
type TraceStatus string

const (
	TraceInfo    TraceStatus = "info"
	TraceSuccess TraceStatus = "success"
	TraceFail    TraceStatus = "fail"
)

// TraceEvent is one ordered entry in a request's trace.
type TraceEvent struct {
	Stage         TraceStage  `json:"stage"`
	Timestamp     time.Time   `json:"timestamp"`
	ElapsedMS     int64       `json:"elapsed_ms_since_start"`
	Status        TraceStatus `json:"status"`
	Model         string      `json:"model,omitempty"`
	Provider      string      `json:"provider,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	RetryCount    int         `json:"retry_count"`
}
