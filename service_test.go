package cogmem

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DBPath:              filepath.Join(dir, "test.db"),
		LightTickInterval:   time.Hour,
		MediumTickInterval:  time.Hour,
		DecayTickInterval:   time.Hour,
		FullCleanupInterval: time.Hour,
		Project:             "demo",
	}
	svc, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

// Scenario 1: ingest + retrieve (spec.md §8, scenario 1).
func TestIngestAndRetrieve(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	m, err := svc.Remember(ctx, MemoryInit{
		Title:   "Use PostgreSQL for JSON support",
		Content: "We decided to use PostgreSQL because of JSONB.",
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if m.Category != CategoryArchitecture {
		t.Errorf("expected category architecture, got %s", m.Category)
	}
	if m.Salience < 0.60 {
		t.Errorf("expected salience >= 0.60, got %.3f", m.Salience)
	}
	if m.Scope != ScopeProject {
		t.Errorf("expected scope project, got %s", m.Scope)
	}

	results, err := svc.Recall(ctx, SearchOptions{Query: "postgres", Limit: 10})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
	if results[0].ID != m.ID {
		t.Errorf("expected the ingested memory to be the top result, got id=%d", results[0].ID)
	}
	if results[0].RelevanceScore <= 0.4 {
		t.Errorf("expected relevance_score > 0.4, got %.3f", results[0].RelevanceScore)
	}
}

// Scenario 2: decay + delete of a stale note (spec.md §8, scenario 2).
func TestDecayDeletesStaleNote(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	m, err := svc.Remember(ctx, MemoryInit{
		Title:    "Stale note",
		Content:  "Some low-importance observation.",
		Category: CategoryNote,
		Salience: 0.30,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	if err := svc.store.UpdateFields(m.ID, map[string]any{"last_accessed_at": old}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	result, err := svc.Consolidate(true, false)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if result.Deleted < 1 {
		t.Errorf("expected deleted >= 1, got %d", result.Deleted)
	}

	// The event is durably queued by the same transaction that deletes the
	// row; check the cross-process queue directly rather than racing the
	// worker's periodic bus pump.
	pending, err := svc.store.GetUnprocessedEvents(50)
	if err != nil {
		t.Fatalf("GetUnprocessedEvents: %v", err)
	}
	var sawDeleted bool
	for _, ev := range pending {
		if ev.Type == EventMemoryDeleted {
			sawDeleted = true
		}
	}
	if !sawDeleted {
		t.Error("expected a memory_deleted event in the durable queue")
	}

	if got, err := svc.GetMemory(m.ID); err != nil {
		t.Fatalf("GetMemory: %v", err)
	} else if got != nil {
		t.Error("expected the stale note to be gone after consolidation")
	}
}

// Scenario 3: promotion by access (spec.md §8, scenario 3).
func TestPromotionByAccess(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	m, err := svc.Remember(ctx, MemoryInit{
		Title:    "Important decision",
		Content:  "placeholder",
		Type:     TypeShortTerm,
		Salience: 0.70,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.AccessMemory(m.ID); err != nil {
			t.Fatalf("AccessMemory: %v", err)
		}
	}

	result, err := svc.Consolidate(true, false)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if result.Consolidated != 1 {
		t.Errorf("expected consolidated == 1, got %d", result.Consolidated)
	}
	if result.Deleted != 0 {
		t.Errorf("expected deleted == 0, got %d", result.Deleted)
	}

	got, err := svc.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got == nil {
		t.Fatal("memory should still exist")
	}
	if got.Type != TypeLongTerm {
		t.Errorf("expected type long_term after promotion, got %s", got.Type)
	}
}

// Scenario 4: auto-link by tags (spec.md §8, scenario 4).
func TestAutoLinkByTags(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	first, err := svc.Remember(ctx, MemoryInit{
		Title:   "JWT token setup",
		Content: "Set up the auth service to issue JWT tokens.",
		Tags:    []string{"jwt", "auth"},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	second, err := svc.Remember(ctx, MemoryInit{
		Title:   "JWT middleware",
		Content: "Middleware validates tokens on every request.",
		Tags:    []string{"jwt", "middleware"},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	links, err := svc.GetRelated(second.ID)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}

	var found *MemoryLink
	for i := range links {
		if links[i].SourceID == first.ID || links[i].TargetID == first.ID {
			found = &links[i]
			break
		}
	}
	if found == nil {
		t.Fatal("expected an auto-detected link between the two JWT memories")
	}
	if found.Relationship != RelationshipRelated {
		t.Errorf("expected relationship related, got %s", found.Relationship)
	}
	if found.Strength < 0.30 {
		t.Errorf("expected strength >= 0.30, got %.3f", found.Strength)
	}
}

// Scenario 5: contradiction detection (spec.md §8, scenario 5).
func TestContradictionDetectionScenario(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if _, err := svc.Remember(ctx, MemoryInit{
		Title:   "Prefer Redis for cache",
		Content: "Prefer Redis for cache because it is fast and simple.",
		Tags:    []string{"cache"},
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := svc.Remember(ctx, MemoryInit{
		Title:   "Avoid Redis for cache",
		Content: "Avoid Redis for cache, it caused an outage last week.",
		Tags:    []string{"cache"},
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	results, err := svc.DetectContradictions(Filter{}, 0.4)
	if err != nil {
		t.Fatalf("DetectContradictions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one contradiction pair, got %d", len(results))
	}
	if results[0].PatternHit != "preference" {
		t.Errorf("expected reason to mention preference, got %q", results[0].PatternHit)
	}
	if results[0].Score < 0.4 {
		t.Errorf("expected score >= 0.4, got %.3f", results[0].Score)
	}
}

// Scenario 6: bulk forget safety (spec.md §8, scenario 6).
func TestBulkForgetSafety(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.Remember(ctx, MemoryInit{
			Title:   "scratch item",
			Content: "throwaway content",
			Tags:    []string{"scratch"},
		}); err != nil {
			t.Fatalf("Remember: %v", err)
		}
	}

	n, err := svc.ForgetBulk(Filter{Tags: []string{"scratch"}}, false, false)
	if n != 0 {
		t.Errorf("expected 0 deletions without confirm, got %d", n)
	}
	var safetyErr *BulkDeleteSafetyError
	if err == nil {
		t.Fatal("expected a BulkDeleteSafetyError without confirm")
	} else if !isBulkDeleteSafetyError(err, &safetyErr) {
		t.Errorf("expected BulkDeleteSafetyError, got %T: %v", err, err)
	}

	remaining, err := svc.store.BulkSelect(Filter{Tags: []string{"scratch"}}, "", 0, 0)
	if err != nil {
		t.Fatalf("BulkSelect: %v", err)
	}
	if len(remaining) != 10 {
		t.Errorf("expected all 10 memories to survive the rejected bulk delete, got %d", len(remaining))
	}

	n, err = svc.ForgetBulk(Filter{Tags: []string{"scratch"}}, false, true)
	if err != nil {
		t.Fatalf("ForgetBulk with confirm: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 deletions with confirm, got %d", n)
	}

	pending, err := svc.store.GetUnprocessedEvents(100)
	if err != nil {
		t.Fatalf("GetUnprocessedEvents: %v", err)
	}
	deletedEvents := 0
	for _, ev := range pending {
		if ev.Type == EventMemoryDeleted {
			deletedEvents++
		}
	}
	if deletedEvents != 10 {
		t.Errorf("expected 10 memory_deleted events in the durable queue, got %d", deletedEvents)
	}
}

func isBulkDeleteSafetyError(err error, target **BulkDeleteSafetyError) bool {
	if e, ok := err.(*BulkDeleteSafetyError); ok {
		*target = e
		return true
	}
	return false
}

func TestPauseGateRejectsWrites(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	svc.Pause()
	defer svc.Resume()

	_, err := svc.Remember(ctx, MemoryInit{Title: "x", Content: "y"})
	if err == nil {
		t.Fatal("expected remember to fail while paused")
	}
	if _, ok := err.(*PausedError); !ok {
		t.Errorf("expected PausedError, got %T: %v", err, err)
	}

	rows, err := svc.store.BulkSelect(Filter{}, "", 0, 0)
	if err != nil {
		t.Fatalf("BulkSelect: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows inserted while paused, got %d", len(rows))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	titles := map[string]bool{}
	for _, seed := range []struct {
		title, content string
		tags            []string
	}{
		{"Architecture note", "We decided to use PostgreSQL.", []string{"db"}},
		{"Error fix", "Fixed a crash in the login flow.", []string{"bug"}},
		{"Preference", "Always use gofmt before committing.", []string{"style"}},
	} {
		m, err := svc.Remember(ctx, MemoryInit{Title: seed.title, Content: seed.content, Tags: seed.tags})
		if err != nil {
			t.Fatalf("Remember: %v", err)
		}
		titles[m.Title] = true
	}

	data, err := svc.Export(Filter{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	n, err := svc.ForgetBulk(Filter{}, false, true)
	if err != nil {
		t.Fatalf("ForgetBulk: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected to clear 3 memories, got %d", n)
	}

	imported, errs := svc.Import(ctx, data)
	if len(errs) != 0 {
		t.Fatalf("unexpected import errors: %v", errs)
	}
	if imported != 3 {
		t.Fatalf("expected 3 imported memories, got %d", imported)
	}

	rows, err := svc.store.BulkSelect(Filter{}, "", 0, 0)
	if err != nil {
		t.Fatalf("BulkSelect: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows after import, got %d", len(rows))
	}
	for _, row := range rows {
		if !titles[row.Title] {
			t.Errorf("unexpected title after round-trip: %q", row.Title)
		}
		delete(titles, row.Title)
	}
	if len(titles) != 0 {
		t.Errorf("missing titles after round-trip: %v", titles)
	}
}

func TestSelfLinkRejected(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	m, err := svc.Remember(ctx, MemoryInit{Title: "solo", Content: "solo content"})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	link, err := svc.LinkMemories(m.ID, m.ID, RelationshipRelated, 0.5)
	if err != nil {
		t.Fatalf("LinkMemories returned an error instead of a nil no-op: %v", err)
	}
	if link != nil {
		t.Error("expected a self-link to be rejected (nil link, no error)")
	}
}

func TestCreateLinkIdempotent(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	a, _ := svc.Remember(ctx, MemoryInit{Title: "a", Content: "alpha"})
	b, _ := svc.Remember(ctx, MemoryInit{Title: "b", Content: "beta"})

	first, err := svc.LinkMemories(a.ID, b.ID, RelationshipRelated, 0.4)
	if err != nil {
		t.Fatalf("LinkMemories: %v", err)
	}
	if first == nil {
		t.Fatal("expected first link creation to succeed")
	}

	second, err := svc.LinkMemories(a.ID, b.ID, RelationshipRelated, 0.4)
	if err != nil {
		t.Fatalf("LinkMemories (repeat): %v", err)
	}
	if second != nil {
		t.Error("expected repeated create_link to be a no-op due to the unique constraint")
	}

	links, err := svc.GetRelated(a.ID)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	count := 0
	for _, l := range links {
		if l.SourceID == b.ID || l.TargetID == b.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one link between a and b, got %d", count)
	}
}

func TestCascadeDeleteRemovesLinks(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	a, _ := svc.Remember(ctx, MemoryInit{Title: "a", Content: "alpha"})
	b, _ := svc.Remember(ctx, MemoryInit{Title: "b", Content: "beta"})

	if _, err := svc.LinkMemories(a.ID, b.ID, RelationshipRelated, 0.5); err != nil {
		t.Fatalf("LinkMemories: %v", err)
	}

	if _, err := svc.Forget(a.ID); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	links, err := svc.GetRelated(b.ID)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	for _, l := range links {
		if l.SourceID == a.ID || l.TargetID == a.ID {
			t.Error("expected the link to be cascade-deleted along with its endpoint")
		}
	}
}

func TestFTSEscapeDoesNotError(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	if _, err := svc.Remember(ctx, MemoryInit{Title: "weird", Content: "normal content about testing"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	dangerous := []string{
		"foo-bar", "a:b", "c*d", "e^f", "(g)", "h&i", "j|k", "l.m",
		"AND OR NOT", "SELECT * FROM memories",
	}
	for _, q := range dangerous {
		if _, err := svc.Recall(ctx, SearchOptions{Query: q, Limit: 5}); err != nil {
			t.Errorf("query %q should not error: %v", q, err)
		}
	}
}
