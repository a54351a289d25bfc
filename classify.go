package cogmem

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// HeuristicClassifier determines which category a memory belongs to.
// Uses a keyword heuristic first (zero-cost), falls back to Gemini for
// ambiguous content. Implements SectorClassifier.
type HeuristicClassifier struct {
	apiKey string
	client *http.Client
}

// NewHeuristicClassifier creates a category classifier.
// If apiKey is empty, only heuristic classification is used (no LLM fallback).
func NewHeuristicClassifier(apiKey string) *HeuristicClassifier {
	return &HeuristicClassifier{
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Classify determines the category for a piece of memory content.
func (c *HeuristicClassifier) Classify(title, content string) Category {
	cat, confidence := c.heuristicClassify(title, content)
	if confidence >= 0.6 {
		return cat
	}

	if c.apiKey != "" {
		if geminiCat, err := c.geminiClassify(title, content); err == nil {
			return geminiCat
		} else {
			log.Printf("[cogmem] Gemini classify fallback failed: %v", err)
		}
	}

	return cat // fallback to heuristic even if low confidence
}

// heuristicClassify scores every category family by keyword hits and
// returns the best match plus a confidence in [0, 1].
func (c *HeuristicClassifier) heuristicClassify(title, content string) (Category, float64) {
	lower := strings.ToLower(title + " " + content)

	scores := map[Category]float64{
		CategoryArchitecture: 0,
		CategoryError:        0,
		CategoryPreference:   0,
		CategoryPattern:      0,
		CategoryTodo:         0,
		CategoryLearning:     0,
		CategoryRelationship: 0,
		CategoryContext:      0,
		CategoryNote:         0,
	}

	families := map[Category][]string{
		CategoryArchitecture: {"architecture", "design pattern", "system design", "microservice",
			"schema", "database design", "api design", "infrastructure", "scalability"},
		CategoryError: {"error", "bug", "fix", "fixed", "failing", "broken", "crash",
			"exception", "stack trace", "traceback", "regression"},
		CategoryPreference: {"prefer", "prefers", "preference", "rather use", "instead of", "always use"},
		CategoryPattern:    {"pattern", "convention", "idiom", "best practice", "consistently", "every time"},
		CategoryTodo:       {"todo", "fixme", "hack", "xxx"},
		CategoryLearning:   {"learned", "discovered", "realized"},
		CategoryRelationship: {"depends on", "requires", "uses", "imports", "extends"},
		CategoryContext:   {"context", "background", "situation", "currently working on"},
	}

	for cat, keywords := range families {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				scores[cat] += 0.3
			}
		}
	}

	// A decision ("decided to use X") naming an infrastructure/tech choice is
	// an architecture call even without an explicit architecture keyword.
	decisionWords := []string{"decided", "decision", "we chose", "going with"}
	hasDecision := false
	for _, w := range decisionWords {
		if strings.Contains(lower, w) {
			hasDecision = true
			break
		}
	}
	if hasDecision {
		for _, term := range techTerms {
			if strings.Contains(lower, term) {
				scores[CategoryArchitecture] += 0.4
				break
			}
		}
	}

	// Priority order breaks ties: architecture, error, preference, pattern,
	// todo, learning, relationship, context, then note.
	priority := []Category{
		CategoryArchitecture, CategoryError, CategoryPreference, CategoryPattern,
		CategoryTodo, CategoryLearning, CategoryRelationship, CategoryContext,
	}

	best := CategoryNote
	bestScore := 0.0
	for _, cat := range priority {
		if scores[cat] > bestScore {
			bestScore = scores[cat]
			best = cat
		}
	}

	confidence := bestScore
	if confidence > 1.0 {
		confidence = 1.0
	}
	return best, confidence
}

// geminiClassify uses Gemini to classify content when heuristics are ambiguous.
func (c *HeuristicClassifier) geminiClassify(title, content string) (Category, error) {
	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent?key=" + c.apiKey

	prompt := `Classify this memory into exactly one category. Reply with ONLY the category name, nothing else.
Categories: architecture, pattern, preference, error, context, learning, todo, note, relationship, custom

Title: "` + title + `"
Memory: "` + content + `"`

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": 10,
			"temperature":     0.0,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return CategoryNote, err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return CategoryNote, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return CategoryNote, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return CategoryNote, &classifyError{status: resp.StatusCode, body: string(body)}
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return CategoryNote, err
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return CategoryNote, &classifyError{body: "empty response"}
	}

	text := strings.TrimSpace(strings.ToLower(geminiResp.Candidates[0].Content.Parts[0].Text))
	for _, cat := range []Category{
		CategoryArchitecture, CategoryPattern, CategoryPreference, CategoryError,
		CategoryContext, CategoryLearning, CategoryTodo, CategoryNote,
		CategoryRelationship, CategoryCustom,
	} {
		if strings.Contains(text, string(cat)) {
			return cat, nil
		}
	}
	return CategoryNote, nil
}

type classifyError struct {
	status int
	body   string
}

func (e *classifyError) Error() string {
	if e.status > 0 {
		return "gemini classify " + http.StatusText(e.status) + ": " + e.body
	}
	return "gemini classify: " + e.body
}
