package cogmem

import "testing"

func sameProjectMemory(title, content string, tags []string) Memory {
	return Memory{
		Title:    title,
		Content:  content,
		Project:  "demo",
		Category: CategoryPreference,
		Tags:     tags,
	}
}

func TestCheckContradictionPreferencePair(t *testing.T) {
	a := sameProjectMemory("Cache choice", "Prefer Redis for cache because it's fast.", []string{"cache"})
	b := sameProjectMemory("Cache choice revisited", "Avoid Redis for cache, it caused outages.", []string{"cache"})

	c, ok := CheckContradiction(a, b)
	if !ok {
		t.Fatal("expected a contradiction to be detected")
	}
	if c.PatternHit != "preference" {
		t.Errorf("expected pattern hit 'preference', got %q", c.PatternHit)
	}
	if c.Score < 0.40 {
		t.Errorf("expected score >= 0.40, got %.3f", c.Score)
	}
}

func TestCheckContradictionSkipsUnrelatedTopics(t *testing.T) {
	a := Memory{Title: "Frontend note", Content: "We always use React for the UI.", Project: "app-a", Category: CategoryPreference}
	b := Memory{Title: "Backend note", Content: "We never use MongoDB here, too slow for our joins.", Project: "app-b", Category: CategoryArchitecture}

	_, ok := CheckContradiction(a, b)
	if ok {
		t.Error("unrelated memories (different project, category, tags, titles) should not contradict")
	}
}

func TestCheckContradictionFragmentJaccardRejectsSameTarget(t *testing.T) {
	// "use postgres" vs "avoid postgres" fires the use-vs-avoid-target pattern,
	// but both fragments name the same thing (postgres), so the pair is really
	// discussing the same recommendation ambiguously rather than conflicting.
	a := sameProjectMemory("DB choice", "Use postgres for storage.", []string{"db"})
	b := sameProjectMemory("DB choice clarified", "Avoid postgres misconfiguration; use postgres correctly instead.", []string{"db"})

	_, ok := CheckContradiction(a, b)
	if ok {
		t.Error("matching use/avoid fragments for the same target should be rejected, not flagged as a contradiction")
	}
}

func TestCheckContradictionSkipsIdenticalID(t *testing.T) {
	m := sameProjectMemory("X", "Prefer Redis. Avoid Redis.", []string{"cache"})
	m.ID = 7
	other := m
	other.ID = 7

	if _, ok := CheckContradiction(m, other); ok {
		t.Error("a memory should never be reported as contradicting itself")
	}
}

func TestDetectAllRespectsMinScore(t *testing.T) {
	memories := []Memory{
		sameProjectMemory("A", "Always use tabs for indentation.", []string{"style"}),
		sameProjectMemory("B", "Never use tabs for indentation, spaces only.", []string{"style"}),
		{Title: "C", Content: "completely unrelated content", Project: "other"},
	}
	results := DetectAll(memories, 0.9)
	if len(results) != 0 {
		t.Errorf("expected no contradictions above an unreachable threshold, got %d", len(results))
	}

	results = DetectAll(memories, 0.30)
	if len(results) == 0 {
		t.Error("expected at least one contradiction at a low threshold")
	}
}

func TestTopicSimilaritySymmetric(t *testing.T) {
	a := sameProjectMemory("Same Title", "content one", []string{"x", "y"})
	b := sameProjectMemory("Same Title", "content two", []string{"y", "z"})
	if topicSimilarity(a, b) != topicSimilarity(b, a) {
		t.Error("topic similarity should be symmetric")
	}
}

func TestJaccardSimilarityIdentity(t *testing.T) {
	if jaccardSimilarity("hello world", "hello world") != 1.0 {
		t.Error("jaccard similarity of identical strings should be 1.0")
	}
}

func TestJaccardSimilaritySymmetric(t *testing.T) {
	a := "the quick brown fox jumps"
	b := "a slow brown dog sleeps"
	if jaccardSimilarity(a, b) != jaccardSimilarity(b, a) {
		t.Error("jaccard similarity should be symmetric")
	}
}

func TestJaccardSimilarityEmptyInputs(t *testing.T) {
	if jaccardSimilarity("", "something") != 0 {
		t.Error("empty input should yield similarity 0")
	}
}
