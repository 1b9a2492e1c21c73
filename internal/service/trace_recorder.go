package service

import (
	"sync"
	"time"

	"github.com/user/routing-gateway/internal/models"
)

// TraceRecorder accumulates ordered stage events for a single request.
// It is safe to call concurrently from the streaming passthrough writer
// and the main request goroutine.
type TraceRecorder struct {
	mu      sync.Mutex
	start   time.Time
	events  []models.TraceEvent
}

// NewTraceRecorder starts a trace anchored at now.
func NewTraceRecorder(now time.Time) *TraceRecorder {
	return &TraceRecorder{start: now}
}

// Append records one event, stamping elapsed time since the trace started.
func (t *TraceRecorder) Append(stage models.TraceStage, status models.TraceStatus, model, provider, reason string, retryCount int) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, models.TraceEvent{
		Stage:      stage,
		Timestamp:  now,
		ElapsedMS:  now.Sub(t.start).Milliseconds(),
		Status:     status,
		Model:      model,
		Provider:   provider,
		Reason:     reason,
		RetryCount: retryCount,
	})
}

// Events returns a copy-safe snapshot of the trace so far.
func (t *TraceRecorder) Events() []models.TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}
