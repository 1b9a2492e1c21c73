package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/statsstore"
)

// HealthRegistry keeps per-model rolling health and exposes the
// selection weight the adaptive strategy samples from. Mirrors the
// teacher's HealthChecker concurrency shape (mutex-guarded map of
// per-entry state, copy-safe snapshot reads, single background writer)
// but tracks a continuous decayed score instead of a boolean up/down.
type HealthRegistry struct {
	mu        sync.RWMutex
	entries   map[string]*models.ModelStats
	penalties models.PenaltyMap
	decayRate float64
	logger    *zap.Logger

	store      *statsstore.Store
	dirty      atomicBool
	cancel     chan struct{}
	done       chan struct{}
}

// NewHealthRegistry builds a registry backed by store, loading any
// persisted stats immediately.
func NewHealthRegistry(store *statsstore.Store, decayRate float64, logger *zap.Logger) *HealthRegistry {
	h := &HealthRegistry{
		entries:   make(map[string]*models.ModelStats),
		penalties: models.DefaultPenalties(),
		decayRate: decayRate,
		logger:    logger,
		store:     store,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for key, p := range store.Load() {
		h.entries[key] = models.FromPersisted(p)
	}
	return h
}

func (h *HealthRegistry) get(key string) *models.ModelStats {
	h.mu.RLock()
	s, ok := h.entries[key]
	h.mu.RUnlock()
	if ok {
		return s
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.entries[key]; ok {
		return s
	}
	s = models.NewModelStats()
	h.entries[key] = s
	return s
}

// OnSuccess records a successful attempt for model.
func (h *HealthRegistry) OnSuccess(model models.ModelRef) {
	h.get(model.String()).OnSuccess(time.Now())
	h.dirty.set(true)
}

// OnFailure records a failed attempt of the given kind for model.
func (h *HealthRegistry) OnFailure(model models.ModelRef, kind models.OutcomeKind) {
	h.get(model.String()).OnFailure(kind, h.penalties.Weight(kind), time.Now())
	h.dirty.set(true)
}

// Score returns the lazily-decayed failure score for model, advancing
// its LastUpdate as a side effect per spec section 4.3.
func (h *HealthRegistry) Score(model models.ModelRef) float64 {
	return h.get(model.String()).DecayedScore(time.Now(), h.decayRate)
}

// Weight returns the adaptive-selection weight for model, in (0, 1].
func (h *HealthRegistry) Weight(model models.ModelRef) float64 {
	return models.Weight(h.Score(model), 0.2)
}

// Snapshot returns a copy-safe view of model's stats for display/logging.
func (h *HealthRegistry) Snapshot(model models.ModelRef) models.Snapshot {
	return h.get(model.String()).Snapshot()
}

// Persist writes the current stats map to the backing store.
func (h *HealthRegistry) Persist() error {
	h.mu.RLock()
	snap := make(map[string]models.PersistedStats, len(h.entries))
	for k, v := range h.entries {
		snap[k] = v.ToPersisted()
	}
	h.mu.RUnlock()
	h.dirty.set(false)
	return h.store.Save(snap)
}

// StartDebouncedWriter runs a single background writer goroutine that
// persists stats at the given interval only when dirty, the same
// single-writer-task idiom spec section 5 calls for. Stop via Close.
func (h *HealthRegistry) StartDebouncedWriter(interval time.Duration) {
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.cancel:
				_ = h.Persist()
				return
			case <-ticker.C:
				if h.dirty.get() {
					if err := h.Persist(); err != nil && h.logger != nil {
						h.logger.Warn("failed to persist health stats", zap.Error(err))
					}
				}
			}
		}
	}()
}

// Close stops the debounced writer and performs a final persist.
func (h *HealthRegistry) Close() {
	close(h.cancel)
	<-h.done
}

// atomicBool is a tiny mutex-guarded bool whose zero value is ready to
// use.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomicBool) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}
