package models

import "time"

// TokenSource records whether token counts came from the upstream's own
// usage object or were computed locally from a tokenizer.
type TokenSource string

const (
	TokenSourceUpstream TokenSource = "upstream"
	TokenSourceLocal    TokenSource = "local"
)

// RequestStatus is the terminal disposition of one client request.
type RequestStatus string

const (
	RequestStatusOK       RequestStatus = "ok"
	RequestStatusExhausted RequestStatus = "exhausted"
	RequestStatusAborted  RequestStatus = "aborted"
	RequestStatusBadInput RequestStatus = "bad_request"
	RequestStatusInternal RequestStatus = "internal_error"
)

// RequestLog is the terminal record handed to the LogSink once a
// request's trace closes.
type RequestLog struct {
	ID                  string        `json:"id"`
	ReceivedAt          time.Time     `json:"received_at"`
	Tier                Tier          `json:"tier"`
	ChosenModel         string        `json:"chosen_model"`
	DurationMS          int64         `json:"duration_ms"`
	Status              RequestStatus `json:"status"`
	RetryCount          int           `json:"retry_count"`
	RequestBodyJSON     string        `json:"request_body_json"`
	ResponseBodyJSON    string        `json:"response_body_json_or_text"`
	TraceJSON           string        `json:"trace_json"`
	StackTrace          string        `json:"stack_trace,omitempty"`
	PromptTokens        int           `json:"prompt_tokens"`
	CompletionTokens    int           `json:"completion_tokens"`
	TokenSource         TokenSource   `json:"token_source"`
}
