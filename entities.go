package cogmem

import (
	"regexp"
	"strings"
)

// KnownEntity is a caller-supplied name the extractor should recognize
// case-insensitively, tagged with its type.
type KnownEntity struct {
	Text string
	Type string
}

// DefaultEntityExtractor pulls out entities from memory content using
// simple heuristics: bracketed names, quoted strings, a caller-configured
// known-entity list, and capitalized multi-word phrases. Implements
// EntityExtractor.
type DefaultEntityExtractor struct {
	KnownEntities []KnownEntity
}

var bracketEntityRe = regexp.MustCompile(`\[([A-Za-z0-9_]+)\]`)
var quotedEntityRe = regexp.MustCompile(`"([^"]{2,40})"`)
var properPhraseRe = regexp.MustCompile(`(?:^|[.!?]\s+|\s)([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`)

var commonPhrases = map[string]bool{
	"the": true, "this": true, "that": true, "what": true, "when": true,
	"where": true, "how": true, "why": true,
	"i am": true, "you are": true, "we are": true, "they are": true,
}

// Extract pulls entities out of content, deduplicating case-insensitively.
func (e *DefaultEntityExtractor) Extract(content string) []Entity {
	var entities []Entity
	seen := make(map[string]bool)

	add := func(text, entityType string) {
		text = strings.TrimSpace(text)
		lower := strings.ToLower(text)
		if text == "" || len(text) < 2 || len(text) > 60 || seen[lower] {
			return
		}
		seen[lower] = true
		entities = append(entities, Entity{Text: text, Type: entityType})
	}

	for _, match := range bracketEntityRe.FindAllStringSubmatch(content, -1) {
		add(match[1], "person")
	}

	for _, match := range quotedEntityRe.FindAllStringSubmatch(content, -1) {
		add(match[1], "topic")
	}

	lower := strings.ToLower(content)
	for _, known := range e.KnownEntities {
		if strings.Contains(lower, strings.ToLower(known.Text)) {
			add(known.Text, known.Type)
		}
	}

	for _, match := range properPhraseRe.FindAllStringSubmatch(content, 5) {
		text := strings.TrimSpace(match[1])
		if !commonPhrases[strings.ToLower(text)] {
			add(text, "topic")
		}
	}

	return entities
}
