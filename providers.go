package cogmem

import "context"

// EmbeddingProvider generates vector embeddings from text.
// Built-in: GeminiEmbedder, OllamaEmbedder, OpenAIEmbedder.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	Dimension() int
}

// SectorClassifier determines which category a memory belongs to.
// Built-in: HeuristicClassifier (keyword matching + optional LLM fallback).
type SectorClassifier interface {
	Classify(title, content string) Category
}

// EntityExtractor pulls named entities from memory content for the link graph.
// Built-in: DefaultEntityExtractor (brackets, quotes, capitalized phrases, known entities).
type EntityExtractor interface {
	Extract(content string) []Entity
}

// Entity is a named thing detected in memory content, used to seed
// relationship detection between memories that mention the same entity.
type Entity struct {
	Text string
	Type string // "person", "topic", "known", ...
}
