package service

import (
	"math/rand"
	"sync"
	"time"

	"github.com/user/routing-gateway/internal/models"
)

// rng and rngMu are a package-level thread-safe random source, the same
// pattern the teacher's load_balancer.go uses for its weighted pick.
var (
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
	rngMu sync.Mutex
)

func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(n)
}

// CandidateSelector produces one pass of candidate models for a tier,
// per its configured strategy. Round/budget wrapping across passes is
// the orchestrator's job, not the selector's (spec section 4.5).
type CandidateSelector struct {
	health *HealthRegistry
}

// NewCandidateSelector wraps a health registry for the adaptive strategy.
func NewCandidateSelector(health *HealthRegistry) *CandidateSelector {
	return &CandidateSelector{health: health}
}

// Candidates returns one ordered pass of models for cfg.
func (s *CandidateSelector) Candidates(cfg models.TierConfig) []models.ModelRef {
	switch cfg.Strategy {
	case models.StrategyRandom:
		return s.randomPass(cfg)
	case models.StrategyAdaptive:
		return s.adaptivePass(cfg)
	default:
		return append([]models.ModelRef(nil), cfg.Models...)
	}
}

// randomPass returns a uniformly random permutation of cfg.Models,
// truncated to MaxRetries.
func (s *CandidateSelector) randomPass(cfg models.TierConfig) []models.ModelRef {
	perm := append([]models.ModelRef(nil), cfg.Models...)
	for i := len(perm) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return boundedList(perm, cfg.MaxRetries)
}

// adaptivePass samples without replacement proportional to health
// weight, tie-breaking with configured order, bounded by MaxRetries. A
// model at weight 0 is excluded from the weighted draw and appended
// once at the end as a last resort only if nothing else was available.
func (s *CandidateSelector) adaptivePass(cfg models.TierConfig) []models.ModelRef {
	type cand struct {
		ref    models.ModelRef
		weight float64
	}
	pool := make([]cand, 0, len(cfg.Models))
	var zeroWeight []models.ModelRef
	for _, m := range cfg.Models {
		w := s.health.Weight(m)
		if w <= 0 {
			zeroWeight = append(zeroWeight, m)
			continue
		}
		pool = append(pool, cand{ref: m, weight: w})
	}

	var out []models.ModelRef
	for len(pool) > 0 && len(out) < cfg.MaxRetries {
		total := 0.0
		for _, c := range pool {
			total += c.weight
		}
		if total <= 0 {
			break
		}
		pick := randFloat() * total
		idx := 0
		acc := 0.0
		for i, c := range pool {
			acc += c.weight
			if pick <= acc {
				idx = i
				break
			}
			idx = i
		}
		out = append(out, pool[idx].ref)
		pool = append(pool[:idx], pool[idx+1:]...)
	}

	if len(out) == 0 && len(zeroWeight) > 0 {
		out = append(out, zeroWeight[0])
	}
	return boundedList(out, cfg.MaxRetries)
}

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

func boundedList(refs []models.ModelRef, max int) []models.ModelRef {
	if max <= 0 || max >= len(refs) {
		return refs
	}
	return refs[:max]
}
