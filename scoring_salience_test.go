package cogmem

import "testing"

func TestScoreSalienceArchitectureDecision(t *testing.T) {
	r := ScoreSalience("Use PostgreSQL for JSON support", "We decided to use PostgreSQL because of JSONB.")
	if r.Category != CategoryArchitecture {
		t.Errorf("expected category architecture, got %s", r.Category)
	}
	if r.Salience < 0.60 {
		t.Errorf("expected salience >= 0.60, got %.3f", r.Salience)
	}
}

func TestScoreSalienceExplicitMemorizeIsHighestWeight(t *testing.T) {
	plain := ScoreSalience("note", "just a thought about the weather")
	explicit := ScoreSalience("note", "please remember this about the weather")
	if explicit.Salience-plain.Salience < 0.40 {
		t.Errorf("explicit memorize request should add ~0.50: plain=%.3f explicit=%.3f", plain.Salience, explicit.Salience)
	}
}

func TestScoreSalienceCappedAtOne(t *testing.T) {
	r := ScoreSalience("remember this architecture error fix decided learned pattern prefer frustrated",
		"please remember this, architecture design pattern system design microservice schema infrastructure, "+
			"error bug fix fixed failing broken crash exception stack trace traceback regression, "+
			"decided decision we chose we will use going with agreed to, "+
			"learned discovered realized turns out found out insight, "+
			"pattern convention idiom best practice consistently every time, "+
			"prefer prefers preference rather use instead of always use, "+
			"frustrated annoyed excited worried concerned relieved glad, "+
			"foo.bar() `code` func Baz path/to/file.go:42")
	if r.Salience > 1.0 {
		t.Errorf("salience must be capped at 1.0, got %.3f", r.Salience)
	}
}

func TestScoreSalienceCodeReferenceBonus(t *testing.T) {
	plain := ScoreSalience("note", "some unrelated text with no code in it at all")
	withCode := ScoreSalience("note", "some unrelated text calling user.Save() in it at all")
	if withCode.Salience <= plain.Salience {
		t.Errorf("code reference should add salience: plain=%.3f withCode=%.3f", plain.Salience, withCode.Salience)
	}
}

func TestScoreSalienceTagExtraction(t *testing.T) {
	r := ScoreSalience("Auth notes", "We use #auth and #backend with Docker and PostgreSQL.")
	want := map[string]bool{"auth": true, "backend": true, "docker": true, "postgresql": true}
	for _, tag := range r.Tags {
		delete(want, tag)
	}
	if len(want) != 0 {
		t.Errorf("missing expected tags, got %v", r.Tags)
	}
}

func TestScoreSalienceTagCap(t *testing.T) {
	content := "react vue angular node python typescript javascript api database sql mongodb postgresql"
	r := ScoreSalience("tags", content)
	if len(r.Tags) > 10 {
		t.Errorf("tags must be capped at 10, got %d", len(r.Tags))
	}
}

func TestScoreSalienceGlobalScopeFromCategory(t *testing.T) {
	r := ScoreSalience("Always use small functions", "This is a general coding pattern we follow everywhere.")
	if r.Scope != ScopeGlobal {
		t.Errorf("preference-category memory should default to global scope, got %s", r.Scope)
	}
}

func TestScoreSalienceGlobalScopeFromMarker(t *testing.T) {
	r := ScoreSalience("Note", "Never commit secrets to the repo, this is a universal rule.")
	if r.Scope != ScopeGlobal {
		t.Errorf("content containing 'universal rule' should be global scope, got %s", r.Scope)
	}
}

func TestScoreSalienceDefaultsToProjectScope(t *testing.T) {
	r := ScoreSalience("Local thing", "This endpoint returns the user's cart total.")
	if r.Scope != ScopeProject {
		t.Errorf("ordinary content should default to project scope, got %s", r.Scope)
	}
}

func TestScoreSalienceCategoryPriorityOrder(t *testing.T) {
	// architecture keyword should win over error keyword when both present.
	r := ScoreSalience("mixed", "this is about system design, also a bug was fixed")
	if r.Category != CategoryArchitecture {
		t.Errorf("expected architecture to take priority, got %s", r.Category)
	}
}

func TestScoreSalienceTodoCategory(t *testing.T) {
	r := ScoreSalience("task", "TODO: clean up the fixme hack in this file")
	if r.Category != CategoryTodo {
		t.Errorf("expected category todo, got %s", r.Category)
	}
}

func TestScoreSalienceDefaultNoteCategory(t *testing.T) {
	r := ScoreSalience("misc", "the weather is nice today")
	if r.Category != CategoryNote {
		t.Errorf("expected default category note, got %s", r.Category)
	}
}
