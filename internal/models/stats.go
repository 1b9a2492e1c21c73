package models

import (
	"math"
	"sync"
	"time"
)

// healthK is the fixed constant used to project failure_score onto a
// display-only health percentage.
const healthK = 0.2

// ModelStats tracks one model's rolling health. It is never copied by
// value across goroutines while mutable; callers read it through
// Snapshot.
type ModelStats struct {
	mu            sync.Mutex
	Success       int
	Failures      int
	FailureScore  float64
	LastUpdate    time.Time
	LastErrorKind OutcomeKind
}

// Snapshot is a copy-safe read of ModelStats for logging/display.
type Snapshot struct {
	Success       int
	Failures      int
	FailureScore  float64
	LastUpdate    time.Time
	LastErrorKind OutcomeKind
	HealthPercent int
}

// NewModelStats returns a fresh, zero-valued stats record.
func NewModelStats() *ModelStats {
	return &ModelStats{LastUpdate: time.Now()}
}

// OnSuccess records a success and snaps the failure score down.
func (s *ModelStats) OnSuccess(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Success++
	s.FailureScore = math.Max(0, s.FailureScore*0.2)
	s.LastUpdate = now
}

// OnFailure records a failure of the given kind and adds its penalty.
func (s *ModelStats) OnFailure(kind OutcomeKind, penalty float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failures++
	s.FailureScore += penalty
	s.LastErrorKind = kind
	s.LastUpdate = now
}

// DecayedScore applies lazy time-decay to the failure score as of now,
// commits the decayed value and the new LastUpdate, and returns it.
// decayRate is in points per minute.
func (s *ModelStats) DecayedScore(now time.Time, decayRate float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if decayRate > 0 {
		minutes := now.Sub(s.LastUpdate).Minutes()
		if minutes > 0 {
			s.FailureScore = math.Max(0, s.FailureScore-decayRate*minutes)
		}
	}
	s.LastUpdate = now
	return s.FailureScore
}

// Weight converts a failure score into a selection weight in (0, 1].
func Weight(score, k float64) float64 {
	return 1 / (1 + score*k)
}

// Snapshot returns a copy-safe view without advancing decay.
func (s *ModelStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	pct := int(math.Round(100 / (1 + s.FailureScore*healthK)))
	return Snapshot{
		Success:       s.Success,
		Failures:      s.Failures,
		FailureScore:  s.FailureScore,
		LastUpdate:    s.LastUpdate,
		LastErrorKind: s.LastErrorKind,
		HealthPercent: pct,
	}
}

// PersistedStats is the JSON-serializable form of a ModelStats record,
// keyed externally by canonical "provider/model" in the stats file.
type PersistedStats struct {
	Success       int         `json:"success"`
	Failures      int         `json:"failures"`
	FailureScore  float64     `json:"failure_score"`
	LastUpdate    time.Time   `json:"last_update"`
	LastErrorKind OutcomeKind `json:"last_error_kind,omitempty"`
}

// ToPersisted converts for serialization.
func (s *ModelStats) ToPersisted() PersistedStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PersistedStats{
		Success:       s.Success,
		Failures:      s.Failures,
		FailureScore:  s.FailureScore,
		LastUpdate:    s.LastUpdate,
		LastErrorKind: s.LastErrorKind,
	}
}

// FromPersisted builds a ModelStats from a loaded record.
func FromPersisted(p PersistedStats) *ModelStats {
	return &ModelStats{
		Success:       p.Success,
		Failures:      p.Failures,
		FailureScore:  p.FailureScore,
		LastUpdate:    p.LastUpdate,
		LastErrorKind: p.LastErrorKind,
	}
}
