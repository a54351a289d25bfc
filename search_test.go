package cogmem

import (
	"path/filepath"
	"testing"
	"time"
)

func testSearchStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "search.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecencyBoostThresholds(t *testing.T) {
	se := NewSearchEngine(testSearchStore(t), nil, nil, nil, 0.3)
	now := time.Now()

	recent := Memory{LastAccessedAt: now.Add(-5 * time.Minute)}
	if boost := se.recencyBoost(recent, now); boost != recencyBoostWithinHour {
		t.Errorf("expected within-hour boost %.2f, got %.2f", recencyBoostWithinHour, boost)
	}

	dayOld := Memory{LastAccessedAt: now.Add(-12 * time.Hour)}
	if boost := se.recencyBoost(dayOld, now); boost != recencyBoostWithinDay {
		t.Errorf("expected within-day boost %.2f, got %.2f", recencyBoostWithinDay, boost)
	}

	stale := Memory{LastAccessedAt: now.Add(-72 * time.Hour)}
	if boost := se.recencyBoost(stale, now); boost != 0 {
		t.Errorf("expected no recency boost for a stale memory, got %.2f", boost)
	}
}

func TestTagBoostPartialMatchAndCap(t *testing.T) {
	se := NewSearchEngine(testSearchStore(t), nil, nil, nil, 0.3)

	boost := se.tagBoost([]string{"postgresql", "database"}, []string{"postgres"})
	if boost <= 0 {
		t.Error("expected a substring tag match to produce a positive boost")
	}
	if boost > tagBoostCap {
		t.Errorf("tag boost must never exceed cap %.2f, got %.2f", tagBoostCap, boost)
	}
}

func TestTagBoostNoQueryTagsIsZero(t *testing.T) {
	se := NewSearchEngine(testSearchStore(t), nil, nil, nil, 0.3)
	if boost := se.tagBoost([]string{"x"}, nil); boost != 0 {
		t.Errorf("expected zero boost with no query tags, got %.2f", boost)
	}
}

func TestTagMatchesBothDirections(t *testing.T) {
	if !tagMatches("postgres", []string{"postgresql"}) {
		t.Error("expected query tag as substring of memory tag to match")
	}
	if !tagMatches("postgresql", []string{"postgres"}) {
		t.Error("expected memory tag as substring of query tag to match")
	}
	if tagMatches("redis", []string{"postgres"}) {
		t.Error("unrelated tags must not match")
	}
	if tagMatches("", []string{"postgres"}) {
		t.Error("empty query tag must never match")
	}
}

func TestLinkBoostWeightedBySalienceAndCapped(t *testing.T) {
	store := testSearchStore(t)
	le := NewLinkEngine(store, nil)
	se := NewSearchEngine(store, nil, nil, nil, 0.3)

	hubID, err := store.Insert(MemoryInit{Title: "hub", Content: "hub content", Project: "p", Salience: 0.9}, 0)
	if err != nil {
		t.Fatalf("insert hub: %v", err)
	}
	neighborID, err := store.Insert(MemoryInit{Title: "neighbor", Content: "neighbor content", Project: "p", Salience: 0.9}, 0)
	if err != nil {
		t.Fatalf("insert neighbor: %v", err)
	}
	if _, err := le.CreateLink(hubID, neighborID, RelationshipRelated, 1.0); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	boost := se.linkBoost(hubID, time.Now())
	if boost <= 0 {
		t.Error("expected a positive link boost from a highly salient neighbor")
	}
	if boost > linkBoostCap {
		t.Errorf("link boost must never exceed cap %.2f, got %.2f", linkBoostCap, boost)
	}
}

func TestLinkBoostZeroWithoutLinks(t *testing.T) {
	store := testSearchStore(t)
	se := NewSearchEngine(store, nil, nil, nil, 0.3)

	id, err := store.Insert(MemoryInit{Title: "lonely", Content: "no links here", Project: "p", Salience: 0.5}, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if boost := se.linkBoost(id, time.Now()); boost != 0 {
		t.Errorf("expected zero link boost for an unlinked memory, got %.2f", boost)
	}
}
