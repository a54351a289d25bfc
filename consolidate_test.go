package cogmem

import (
	"path/filepath"
	"testing"
	"time"
)

func testConsolidator(t *testing.T) (*Consolidator, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consolidate.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	le := NewLinkEngine(store, nil)
	cfg := Config{Project: "demo"}
	cfg.ApplyDefaults()
	return NewConsolidator(store, le, cfg), store
}

func TestMergeSimilarCombinesNearDuplicates(t *testing.T) {
	c, store := testConsolidator(t)

	id1, err := store.Insert(MemoryInit{
		Title: "Auth flow notes", Content: "We use JWT tokens for session auth in the API.",
		Project: "demo", Category: CategoryNote, Salience: 0.4,
	}, 0)
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	id2, err := store.Insert(MemoryInit{
		Title: "Auth flow notes again", Content: "We use JWT tokens for session auth in the API.",
		Project: "demo", Category: CategoryNote, Salience: 0.6,
	}, 0)
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	mem1, _ := store.Get(id1)
	mem2, _ := store.Get(id2)
	merged, err := c.MergeSimilar([]Memory{*mem1, *mem2})
	if err != nil {
		t.Fatalf("MergeSimilar: %v", err)
	}
	if merged != 1 {
		t.Fatalf("expected 1 merge, got %d", merged)
	}

	// The lower-salience memory (id1) should have been dropped, the
	// higher-salience one (id2) kept, promoted, and boosted.
	if gone, err := store.Get(id1); err != nil {
		t.Fatalf("Get id1: %v", err)
	} else if gone != nil {
		t.Error("expected the lower-salience duplicate to be deleted")
	}

	kept, err := store.Get(id2)
	if err != nil || kept == nil {
		t.Fatalf("expected the higher-salience duplicate to survive, err=%v", err)
	}
	if kept.Type != TypeLongTerm {
		t.Errorf("expected merged memory promoted to long_term, got %s", kept.Type)
	}
	if kept.Salience <= 0.6 {
		t.Errorf("expected a salience boost after merge, got %.3f", kept.Salience)
	}
}

func TestMergeSimilarLeavesUnrelatedMemoriesAlone(t *testing.T) {
	c, store := testConsolidator(t)

	id1, _ := store.Insert(MemoryInit{
		Title: "Frontend", Content: "React is our UI framework.",
		Project: "demo", Category: CategoryNote, Salience: 0.4,
	}, 0)
	id2, _ := store.Insert(MemoryInit{
		Title: "Deploy", Content: "We deploy via GitHub Actions to ECS.",
		Project: "demo", Category: CategoryNote, Salience: 0.4,
	}, 0)

	mem1, _ := store.Get(id1)
	mem2, _ := store.Get(id2)
	merged, err := c.MergeSimilar([]Memory{*mem1, *mem2})
	if err != nil {
		t.Fatalf("MergeSimilar: %v", err)
	}
	if merged != 0 {
		t.Errorf("expected no merges for unrelated memories, got %d", merged)
	}
}

func TestShouldTriggerConsolidationOnLowSalienceCount(t *testing.T) {
	c, store := testConsolidator(t)

	for i := 0; i < 11; i++ {
		if _, err := store.Insert(MemoryInit{
			Title: "low", Content: "low salience note", Project: "demo",
			Category: CategoryNote, Salience: 0.05,
		}, 0); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if !c.ShouldTriggerConsolidation("demo") {
		t.Error("expected consolidation to trigger once more than 10 memories sit below the salience threshold")
	}
}

func TestShouldTriggerConsolidationFalseWhenHealthy(t *testing.T) {
	c, store := testConsolidator(t)
	if _, err := store.Insert(MemoryInit{
		Title: "solid", Content: "well above threshold", Project: "demo",
		Category: CategoryNote, Salience: 0.8,
	}, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if c.ShouldTriggerConsolidation("demo") {
		t.Error("expected no trigger for a small, healthy short-term pool")
	}
}

func TestEvolveSalienceAppliesHubBonusAndContradictionPenalty(t *testing.T) {
	c, store := testConsolidator(t)
	le := NewLinkEngine(store, nil)

	hubID, _ := store.Insert(MemoryInit{Title: "hub", Content: "hub content", Project: "demo", Category: CategoryNote, Salience: 0.5}, 0)
	n1, _ := store.Insert(MemoryInit{Title: "n1", Content: "n1 content", Project: "demo", Category: CategoryNote, Salience: 0.5}, 0)
	n2, _ := store.Insert(MemoryInit{Title: "n2", Content: "n2 content", Project: "demo", Category: CategoryNote, Salience: 0.5}, 0)
	if _, err := le.CreateLink(hubID, n1, RelationshipRelated, 0.9); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if _, err := le.CreateLink(hubID, n2, RelationshipRelated, 0.9); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	contradictedID, _ := store.Insert(MemoryInit{Title: "c1", Content: "prefer redis", Project: "demo", Category: CategoryNote, Salience: 0.5}, 0)
	otherID, _ := store.Insert(MemoryInit{Title: "c2", Content: "avoid redis", Project: "demo", Category: CategoryNote, Salience: 0.5}, 0)
	if _, err := le.CreateLink(contradictedID, otherID, RelationshipContradicts, 0.5); err != nil {
		t.Fatalf("CreateLink contradicts: %v", err)
	}

	hub, _ := store.Get(hubID)
	contradicted, _ := store.Get(contradictedID)
	evolved, err := c.evolveSalience([]Memory{*hub, *contradicted})
	if err != nil {
		t.Fatalf("evolveSalience: %v", err)
	}
	if evolved == 0 {
		t.Fatal("expected at least one memory's salience to evolve")
	}

	hubAfter, _ := store.Get(hubID)
	if hubAfter.Salience <= 0.5 {
		t.Errorf("expected hub bonus to raise salience above 0.5, got %.3f", hubAfter.Salience)
	}

	contradictedAfter, _ := store.Get(contradictedID)
	if contradictedAfter.Salience >= 0.5 {
		t.Errorf("expected contradiction penalty to lower salience below 0.5, got %.3f", contradictedAfter.Salience)
	}
}

func TestTopByPriorityOrdersDescending(t *testing.T) {
	now := time.Now()
	low := Memory{ID: 1, Salience: 0.1, LastAccessedAt: now.Add(-72 * time.Hour)}
	high := Memory{ID: 2, Salience: 0.9, LastAccessedAt: now}
	mid := Memory{ID: 3, Salience: 0.5, LastAccessedAt: now.Add(-1 * time.Hour)}

	top := topByPriority([]Memory{low, high, mid}, now, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].ID != high.ID {
		t.Errorf("expected highest-priority memory first, got ID %d", top[0].ID)
	}
}
