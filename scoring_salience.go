package cogmem

import (
	"math"
	"regexp"
	"strings"
)

// SalienceResult is the pure output of ScoreSalience: a baseline importance
// score plus the category/tags/scope the scorer can infer from the text
// alone.
type SalienceResult struct {
	Salience float64
	Category Category
	Tags     []string
	Scope    Scope
}

// keywordFamily is a named group of substrings whose presence contributes a
// fixed bonus to salience, mirroring classify.go's heuristicClassify shape
// but accumulating a score instead of picking a single winner.
type keywordFamily struct {
	name     string
	keywords []string
	bonus    float64
}

var salienceFamilies = []keywordFamily{
	{"architecture", []string{"architecture", "design pattern", "system design", "microservice",
		"schema", "database design", "api design", "infrastructure", "scalability", "component structure"}, 0.40},
	{"error", []string{"error", "bug", "fix", "fixed", "failing", "broken", "crash", "exception",
		"stack trace", "traceback", "regression"}, 0.35},
	{"decision", []string{"decided", "decision", "we chose", "we will use", "going with", "agreed to"}, 0.35},
	{"learning", []string{"learned", "discovered", "realized", "turns out", "found out", "insight"}, 0.30},
	{"pattern", []string{"pattern", "convention", "idiom", "best practice", "consistently", "every time"}, 0.25},
	{"preference", []string{"prefer", "prefers", "preference", "rather use", "instead of", "always use"}, 0.25},
	{"emotional", []string{"frustrated", "annoyed", "excited", "worried", "concerned", "relieved", "glad"}, 0.20},
}

var explicitMemorizeRe = regexp.MustCompile(`(?i)\b(remember this|please remember|memorize this|don't forget|make a note)\b`)

var codeReferenceRe = regexp.MustCompile("(?i)" + strings.Join([]string{
	`\b[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*\(`, // Class.method(
	`\b[A-Za-z_][A-Za-z0-9_./-]*\.[a-z]{1,5}\b`,           // filename.ext
	"`[^`]+`",                                             // backticked
	`\bfunc\s+[A-Za-z_]`,                                  // declaration
	`\b[A-Za-z_][A-Za-z0-9_/]*/[A-Za-z0-9_.-]+\b`,         // path
	`:\d+\b`,                                              // line number
}, "|"))

const salienceBase = 0.25

var techTerms = []string{
	"react", "vue", "angular", "node", "python", "typescript", "javascript", "api",
	"database", "sql", "mongodb", "postgresql", "mysql", "docker", "kubernetes",
	"aws", "git", "testing", "auth", "security", "performance", "caching",
}

var hashtagRe = regexp.MustCompile(`#[a-z][a-z0-9_-]*`)

var globalMarkers = []string{"always", "never", "best practice", "general rule", "universal"}
var globalTags = map[string]bool{"universal": true, "global": true, "general": true, "cross-project": true}

// ScoreSalience computes the baseline importance, category suggestion, tags,
// and scope for a new memory. Pure and synchronous: no I/O, no randomness.
func ScoreSalience(title, content string) SalienceResult {
	text := title + " " + content
	lower := strings.ToLower(text)

	salience := salienceBase

	if explicitMemorizeRe.MatchString(text) {
		salience += 0.50
	}

	mentionCount := 0
	for _, fam := range salienceFamilies {
		hit := false
		for _, kw := range fam.keywords {
			if strings.Contains(lower, kw) {
				hit = true
				mentionCount++
			}
		}
		if hit {
			salience += fam.bonus
		}
	}

	if codeReferenceRe.MatchString(text) {
		salience += 0.15
	}

	if mentionCount > 0 {
		bonus := math.Log2(float64(mentionCount)) * 0.10
		if bonus > 0.30 {
			bonus = 0.30
		}
		if bonus > 0 {
			salience += bonus
		}
	}

	if salience > 1.0 {
		salience = 1.0
	}

	category := suggestCategory(lower)
	tags := extractTags(text, lower)
	scope := suggestScope(category, lower, tags)

	return SalienceResult{
		Salience: salience,
		Category: category,
		Tags:     tags,
		Scope:    scope,
	}
}

// suggestCategory picks the first-matching family in priority order. A
// decision that names an infrastructure/tech choice ("decided to use
// PostgreSQL") counts as architecture even without an explicit architecture
// keyword. The "fixme" marker is ignored when testing for the error family's
// "fix", so it falls through to todo.
func suggestCategory(lower string) Category {
	switch {
	case containsAny(lower, "architecture", "design pattern", "system design", "microservice", "schema", "infrastructure"):
		return CategoryArchitecture
	case containsAny(lower, "decided", "decision", "we chose", "going with") && containsAny(lower, techTerms...):
		return CategoryArchitecture
	case containsAny(strings.ReplaceAll(lower, "fixme", ""), "error", "bug", "fix", "crash", "exception", "traceback"):
		return CategoryError
	case containsAny(lower, "prefer", "prefers", "preference", "rather use", "always use"):
		return CategoryPreference
	case containsAny(lower, "pattern", "convention", "idiom", "best practice"):
		return CategoryPattern
	case containsAny(lower, "todo", "fixme", "hack", "xxx"):
		return CategoryTodo
	case containsAny(lower, "learned", "discovered", "realized"):
		return CategoryLearning
	case containsAny(lower, "depends on", "requires", "uses", "imports", "extends"):
		return CategoryRelationship
	default:
		return CategoryNote
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// extractTags pulls hashtags and tech-term hits out of the text, capped at 10.
func extractTags(text, lower string) []string {
	seen := make(map[string]bool)
	var tags []string

	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	for _, m := range hashtagRe.FindAllString(lower, -1) {
		add(strings.TrimPrefix(m, "#"))
	}
	for _, term := range techTerms {
		if strings.Contains(lower, term) {
			add(term)
		}
	}

	if len(tags) > 10 {
		tags = tags[:10]
	}
	return tags
}

// suggestScope flags pattern/preference/learning content, or content stating
// universal rules, as cross-project visible.
func suggestScope(category Category, lower string, tags []string) Scope {
	switch category {
	case CategoryPattern, CategoryPreference, CategoryLearning:
		return ScopeGlobal
	}
	for _, marker := range globalMarkers {
		if strings.Contains(lower, marker) {
			return ScopeGlobal
		}
	}
	for _, t := range tags {
		if globalTags[t] {
			return ScopeGlobal
		}
	}
	return ScopeProject
}
