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

// LLMClassifier provides synchronous heuristic classification with async LLM
// reclassification. On Classify(), the heuristic result is returned
// immediately (zero latency). After a memory is stored,
// SubmitForReclassification sends it to a background worker that calls
// Gemini for a more accurate category and updates the DB if different.
type LLMClassifier struct {
	heuristic *HeuristicClassifier
	apiKey    string
	baseURL   string // overridable for tests
	client    *http.Client
	store     *Store
	reclassCh chan reclassRequest
	done      chan struct{}
}

type reclassRequest struct {
	memoryID int64
	title    string
	content  string
}

const (
	reclassBufferSize = 64                     // max pending reclassifications
	reclassTimeout    = 10 * time.Second       // per-request timeout
	reclassDelay      = 200 * time.Millisecond // delay between requests (rate limit)
)

// NewLLMClassifier creates a classifier that uses heuristics synchronously
// and LLM reclassification asynchronously. The background worker starts
// immediately and runs until Close() is called.
func NewLLMClassifier(apiKey string, store *Store) *LLMClassifier {
	lc := &LLMClassifier{
		heuristic: NewHeuristicClassifier(""), // no API key — pure heuristic, no fallback
		apiKey:    apiKey,
		baseURL:   "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent",
		client:    &http.Client{Timeout: reclassTimeout},
		store:     store,
		reclassCh: make(chan reclassRequest, reclassBufferSize),
		done:      make(chan struct{}),
	}
	go lc.worker()
	return lc
}

// Classify returns the heuristic category immediately. This satisfies the
// SectorClassifier interface and adds zero latency to the ingest path.
func (lc *LLMClassifier) Classify(title, content string) Category {
	cat, _ := lc.heuristic.heuristicClassify(title, content)
	return cat
}

// SubmitForReclassification queues a memory for async LLM reclassification.
// Non-blocking: if the buffer is full, the request is dropped silently.
func (lc *LLMClassifier) SubmitForReclassification(memoryID int64, title, content string) {
	select {
	case lc.reclassCh <- reclassRequest{memoryID: memoryID, title: title, content: content}:
	default:
		// Channel full — drop this reclassification. The heuristic category
		// is kept, which is acceptable.
	}
}

// Close stops the background worker and waits for the buffered queue to
// drain.
func (lc *LLMClassifier) Close() {
	close(lc.reclassCh)
	<-lc.done
}

func (lc *LLMClassifier) worker() {
	defer close(lc.done)

	for req := range lc.reclassCh {
		lc.reclassify(req)
		time.Sleep(reclassDelay)
	}
}

func (lc *LLMClassifier) reclassify(req reclassRequest) {
	llmCat, err := lc.llmClassify(req.title, req.content)
	if err != nil {
		log.Printf("[cogmem] LLM reclassify failed for memory #%d: %v", req.memoryID, err)
		return
	}

	heuristicCat, _ := lc.heuristic.heuristicClassify(req.title, req.content)
	if llmCat == heuristicCat {
		return
	}

	if err := lc.store.UpdateFields(req.memoryID, map[string]any{"category": string(llmCat)}); err != nil {
		log.Printf("[cogmem] Update category failed for memory #%d: %v", req.memoryID, err)
		return
	}

	log.Printf("[cogmem] Reclassified memory #%d: %s -> %s", req.memoryID, heuristicCat, llmCat)
}

func (lc *LLMClassifier) llmClassify(title, content string) (Category, error) {
	url := lc.baseURL + "?key=" + lc.apiKey

	prompt := `Classify this memory into exactly one category. Reply with ONLY the category name, nothing else.

Categories:
- architecture: system design, schemas, infrastructure decisions
- pattern: conventions, idioms, repeated approaches
- preference: stated likes/dislikes about tools or approaches
- error: bugs, fixes, failures
- context: background situational info
- learning: things discovered or realized
- todo: outstanding work items
- relationship: dependency/uses/extends facts between things
- note: anything else worth keeping
- custom: doesn't fit any of the above

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

	resp, err := lc.client.Do(req)
	if err != nil {
		return CategoryNote, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		limit := len(body)
		if limit > 300 {
			limit = 300
		}
		return CategoryNote, &classifyError{status: resp.StatusCode, body: string(body[:limit])}
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
