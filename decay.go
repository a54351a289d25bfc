package cogmem

import (
	"math"
	"time"
)

// DecayConfig carries the tunables CalculateDecayedScore and its siblings
// need, pulled from the engine Config so these functions stay pure.
type DecayConfig struct {
	DecayRate                 float64
	ReinforcementFactor       float64
	ConsolidationThreshold    float64
	AutoConsolidateHours      float64
	CategoryDeletionThreshold func(Category) float64
}

func decayConfigFrom(c Config) DecayConfig {
	return DecayConfig{
		DecayRate:              c.DecayRate,
		ReinforcementFactor:    c.ReinforcementFactor,
		ConsolidationThreshold: c.ConsolidationThreshold,
		AutoConsolidateHours:   c.AutoConsolidateHours,
		CategoryDeletionThreshold: func(cat Category) float64 {
			return c.categoryDeletionThreshold(cat)
		},
	}
}

// CalculateDecayedScore maps (memory, now) to a decayed score per spec.md
// §4.4: hours since last access, normalized by type, slowed by an
// access-count multiplier, then applied as an exponential decay on salience.
func CalculateDecayedScore(m Memory, now time.Time, cfg DecayConfig) float64 {
	hours := now.Sub(m.LastAccessedAt).Hours()
	if hours < 0 {
		hours = 0
	}

	switch m.Type {
	case TypeLongTerm:
		hours /= 24
	case TypeEpisodic:
		hours /= 6
	}

	slowdown := 1 + math.Min(0.30, float64(m.AccessCount)*0.02)
	effectiveHours := hours / slowdown

	rate := cfg.DecayRate
	if rate <= 0 || rate >= 1 {
		rate = 0.95
	}

	score := m.Salience * math.Pow(rate, effectiveHours)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// CalculateReinforcementBoost computes the diminishing-returns salience
// bump from an access, and the resulting (capped) new salience.
func CalculateReinforcementBoost(m Memory, cfg DecayConfig) (boost, newSalience float64) {
	factor := cfg.ReinforcementFactor
	if factor <= 1 {
		factor = 1.5
	}

	boost = math.Min(0.50, (factor-1)*math.Pow(0.9, float64(m.AccessCount)))
	newSalience = math.Min(1.0, m.Salience+boost)
	return boost, newSalience
}

// ShouldPromoteToLongTerm implements spec.md §4.4's promotion rule for
// short_term memories.
func ShouldPromoteToLongTerm(m Memory, now time.Time, cfg DecayConfig) bool {
	if m.Type != TypeShortTerm {
		return false
	}
	threshold := cfg.ConsolidationThreshold
	if threshold <= 0 {
		threshold = 0.6
	}
	if m.Salience < threshold {
		return false
	}
	if m.AccessCount >= 3 {
		return true
	}
	ageHours := now.Sub(m.CreatedAt).Hours()
	autoHours := cfg.AutoConsolidateHours
	if autoHours <= 0 {
		autoHours = 48
	}
	return ageHours >= autoHours && m.Salience >= 0.7
}

// ShouldPromoteEpisodic implements spec.md §4.4's episodic promotion rule.
func ShouldPromoteEpisodic(m Memory, now time.Time) bool {
	if m.AccessCount >= 5 {
		return true
	}
	ageHours := now.Sub(m.CreatedAt).Hours()
	return ageHours >= 24 && m.Salience >= 0.8
}

// ShouldDelete implements spec.md §4.4's deletion rule: long_term memories
// only die when both decayed score and access count are very low; every
// other memory is gated by a per-category decayed-score floor.
func ShouldDelete(m Memory, cfg DecayConfig) bool {
	if m.Type == TypeLongTerm {
		return m.DecayedScore < 0.10 && m.AccessCount < 2
	}
	threshold := 0.10
	if cfg.CategoryDeletionThreshold != nil {
		threshold = cfg.CategoryDeletionThreshold(m.Category)
	}
	return m.DecayedScore < threshold
}

// Priority blends decayed score, recency, and access frequency into a single
// ordering value used for eviction and ranking.
func Priority(m Memory, now time.Time) float64 {
	ageHours := now.Sub(m.LastAccessedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours / 24)
	accessTerm := math.Min(1, float64(m.AccessCount)/10)
	return 0.4*m.DecayedScore + 0.3*recency + 0.3*accessTerm
}
