package cogmem

import (
	"testing"
	"time"
)

func TestActivationCacheBoostSetsFullLevel(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	c.Boost(1, 1.0, nil, now)
	if level := c.Level(1, now); level < 0.99 {
		t.Errorf("expected activation level ~1.0 immediately after boost, got %.3f", level)
	}
}

func TestActivationCacheSpreadsOneHop(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	links := []MemoryLink{{SourceID: 1, TargetID: 2, Strength: 0.8}}
	c.Boost(1, 1.0, links, now)

	neighbor := c.Level(2, now)
	if neighbor <= 0 {
		t.Error("expected activation to spread to a direct neighbor")
	}
	// spread = amount * 0.5 * strength = 1.0 * 0.5 * 0.8 = 0.4
	if neighbor > 0.41 || neighbor < 0.39 {
		t.Errorf("expected neighbor activation ~0.4, got %.3f", neighbor)
	}
}

func TestActivationCacheDoesNotSpreadBeyondOneHop(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	// 1 -> 2 -> 3, but only the direct 1<->2 link is passed to Boost.
	links := []MemoryLink{{SourceID: 1, TargetID: 2, Strength: 0.9}}
	c.Boost(1, 1.0, links, now)

	if level := c.Level(3, now); level != 0 {
		t.Errorf("activation must not spread beyond one hop, got %.3f for an unlinked memory", level)
	}
}

func TestActivationCacheDecaysOverHalfLife(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	c.Boost(1, 1.0, nil, now)

	later := now.Add(30 * time.Minute)
	level := c.Level(1, later)
	if level > 0.51 || level < 0.49 {
		t.Errorf("expected activation to halve after one half-life (30m), got %.3f", level)
	}
}

func TestActivationCachePrunesAfterFiveHalfLives(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	c.Boost(1, 1.0, nil, now)

	later := now.Add(5 * 30 * time.Minute)
	if level := c.Level(1, later); level != 0 {
		t.Errorf("expected activation to be pruned (near zero) after 5 half-lives, got %.5f", level)
	}
}

func TestActivationCachePruneRemovesStaleEntries(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	c.Boost(1, 1.0, nil, now)
	c.Boost(2, 1.0, nil, now)

	later := now.Add(6 * time.Hour)
	c.Prune(later)

	snap := c.Snapshot(later)
	if len(snap) != 0 {
		t.Errorf("expected all entries pruned after 6 hours of inactivity, got %v", snap)
	}
}

func TestActivationCacheLevelCapsAtOne(t *testing.T) {
	c := NewActivationCache()
	now := time.Now()
	c.Boost(1, 1.0, nil, now)
	c.Boost(1, 1.0, nil, now)
	if level := c.Level(1, now); level > 1.0 {
		t.Errorf("activation level must be capped at 1.0, got %.3f", level)
	}
}

func TestActivationCacheUnknownMemoryIsZero(t *testing.T) {
	c := NewActivationCache()
	if level := c.Level(999, time.Now()); level != 0 {
		t.Errorf("expected 0 for a memory never activated, got %.3f", level)
	}
}
