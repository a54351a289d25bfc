package cogmem

import "time"

// MemoryType governs decay rate and promotion eligibility.
type MemoryType string

const (
	TypeShortTerm MemoryType = "short_term"
	TypeLongTerm  MemoryType = "long_term"
	TypeEpisodic  MemoryType = "episodic"
)

// Category influences deletion threshold and search boost.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryPattern      Category = "pattern"
	CategoryPreference   Category = "preference"
	CategoryError        Category = "error"
	CategoryContext      Category = "context"
	CategoryLearning     Category = "learning"
	CategoryTodo         Category = "todo"
	CategoryNote         Category = "note"
	CategoryRelationship Category = "relationship"
	CategoryCustom       Category = "custom"
)

// Scope determines whether a memory is visible across projects.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Relationship is the closed set of edge kinds in the knowledge graph.
type Relationship string

const (
	RelationshipReferences  Relationship = "references"
	RelationshipExtends     Relationship = "extends"
	RelationshipContradicts Relationship = "contradicts"
	RelationshipRelated     Relationship = "related"
)

// EventType is the closed set of event kinds the engine can emit.
type EventType string

const (
	EventMemoryCreated         EventType = "memory_created"
	EventMemoryAccessed        EventType = "memory_accessed"
	EventMemoryUpdated         EventType = "memory_updated"
	EventMemoryDeleted         EventType = "memory_deleted"
	EventConsolidationComplete EventType = "consolidation_complete"
	EventDecayTick             EventType = "decay_tick"
	EventSessionStarted        EventType = "session_started"
	EventSessionEnded          EventType = "session_ended"
	EventWorkerLightTick       EventType = "worker_light_tick"
	EventWorkerMediumTick      EventType = "worker_medium_tick"
	EventLinkDiscovered        EventType = "link_discovered"
	EventPredictiveConsolidate EventType = "predictive_consolidation"
	EventUpdateStarted         EventType = "update_started"
	EventUpdateComplete        EventType = "update_complete"
	EventUpdateFailed          EventType = "update_failed"
	EventServerRestarting      EventType = "server_restarting"
)

// DefaultMaxContentSize is the default content byte cap before truncation.
const DefaultMaxContentSize = 10 * 1024

const truncationMarker = "\n...[truncated]"

// Memory is the core record persisted in SQLite.
type Memory struct {
	ID             int64
	Type           MemoryType
	Category       Category
	Title          string
	Content        string
	Project        string
	Scope          Scope
	Transferable   bool
	Tags           []string
	Salience       float64 // 0.0 - 1.0
	DecayedScore   float64 // last-persisted decayed value
	AccessCount    int
	LastAccessedAt time.Time
	CreatedAt      time.Time
	Embedding      []float32 // optional, unit-norm
	Metadata       map[string]string
}

// MemoryLink is a directed, weighted edge in the knowledge graph.
type MemoryLink struct {
	ID           int64
	SourceID     int64
	TargetID     int64
	Relationship Relationship
	Strength     float64 // (0, 1]
	CreatedAt    time.Time
}

// Event is a row in the durable cross-process event queue.
type Event struct {
	ID        int64
	Type      EventType
	Data      []byte // opaque serialized payload (JSON)
	Timestamp time.Time
	Processed bool
}

// Session is an episodic marker bounding a conversation.
type Session struct {
	ID               string
	Project          string
	StartedAt        time.Time
	EndedAt          *time.Time
	Summary          string
	MemoriesCreated  int
	MemoriesAccessed int
}

// MemoryInit carries the fields a caller supplies when ingesting a memory.
// Fields left zero are filled in by the scorer/classifier.
type MemoryInit struct {
	Title        string
	Content      string
	Project      string
	Scope        Scope
	Transferable bool
	Tags         []string
	Category     Category // optional override; empty = scorer decides
	Type         MemoryType
	Salience     float64 // optional override; 0 = scorer decides
	Metadata     map[string]string
}

// Filter narrows bulk_select/search/consolidation candidate sets.
type Filter struct {
	Project        string
	IncludeGlobal  bool // also include scope=global memories outside Project
	Category       Category
	Type           MemoryType
	Tags           []string
	MinSalience    float64
	IDs            []int64
	IncludeDecayed bool
}

// SearchOptions configures a hybrid recall.
type SearchOptions struct {
	Query          string
	Filter         Filter
	Limit          int
	IncludeDecayed bool
}

// SearchResult is a ranked memory returned from Search.
type SearchResult struct {
	Memory
	RelevanceScore float64
	FTSScore       float64
	VectorScore    float64
}

// SizeInfo reports the on-disk footprint of the database.
type SizeInfo struct {
	Bytes   int64
	Warning bool // > 50 MiB
	Blocked bool // > 100 MiB
	Message string
}

const (
	sizeWarningBytes = 50 * 1024 * 1024
	sizeBlockedBytes = 100 * 1024 * 1024
)

// ConsolidationResult summarizes one consolidation pass.
type ConsolidationResult struct {
	Consolidated         int
	Decayed              int
	Deleted              int
	ContradictionsFound  int
	ContradictionsLinked int
	SalienceEvolved      int
}

// Config holds every tunable of the memory engine. Zero-valued fields are
// filled in by ApplyDefaults.
type Config struct {
	// Storage
	DBPath             string  // default: ~/.cogmem/cogmem.db
	MaxShortTermMemories int   // default 500
	MaxLongTermMemories  int   // default 2000
	MaxContentSizeBytes  int   // default 10240

	// Providers (nil = use defaults)
	EmbeddingProvider EmbeddingProvider
	Classifier        SectorClassifier
	EntityExtractor   EntityExtractor

	// Scoring / decay
	DecayRate                 float64            // (0,1), default 0.95
	ReinforcementFactor       float64            // >1, default 1.5
	SalienceThreshold         float64            // (0,1), default 0.3
	ConsolidationThreshold    float64            // > SalienceThreshold, default 0.6
	AutoConsolidateHours      float64            // default 48
	CategoryDeletionThresholds map[Category]float64 // per-category override

	// Worker cadences
	LightTickInterval    time.Duration // default 30s
	MediumTickInterval   time.Duration // default 5m
	DecayTickInterval    time.Duration // default 30s
	FullCleanupInterval  time.Duration // default 4h

	// Embeddings
	EmbedDimension int // default 768

	// Project context
	Project string // explicit project scope; "" = auto-detect; "*" = global

	// Legacy / convenience: used to construct default GeminiEmbedder + LLMClassifier
	GeminiAPIKey string

	// resolved holds merged values after ApplyDefaults
	categoryDeletionThresholds map[Category]float64
}

// DefaultCategoryDeletionThresholds returns the per-category decayed-score
// floor below which a memory becomes eligible for deletion. Architecture and
// error memories are kept longest; notes are pruned most eagerly.
func DefaultCategoryDeletionThresholds() map[Category]float64 {
	return map[Category]float64{
		CategoryArchitecture: 0.05,
		CategoryError:        0.05,
		CategoryPattern:      0.10,
		CategoryLearning:     0.10,
		CategoryPreference:   0.12,
		CategoryRelationship: 0.12,
		CategoryContext:      0.15,
		CategoryTodo:         0.15,
		CategoryCustom:       0.15,
		CategoryNote:         0.20,
	}
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	if c.MaxShortTermMemories == 0 {
		c.MaxShortTermMemories = 500
	}
	if c.MaxLongTermMemories == 0 {
		c.MaxLongTermMemories = 2000
	}
	if c.MaxContentSizeBytes == 0 {
		c.MaxContentSizeBytes = DefaultMaxContentSize
	}
	if c.DecayRate == 0 {
		c.DecayRate = 0.95
	}
	if c.ReinforcementFactor == 0 {
		c.ReinforcementFactor = 1.5
	}
	if c.SalienceThreshold == 0 {
		c.SalienceThreshold = 0.3
	}
	if c.ConsolidationThreshold == 0 {
		c.ConsolidationThreshold = 0.6
	}
	if c.AutoConsolidateHours == 0 {
		c.AutoConsolidateHours = 48
	}
	if c.LightTickInterval == 0 {
		c.LightTickInterval = 30 * time.Second
	}
	if c.MediumTickInterval == 0 {
		c.MediumTickInterval = 5 * time.Minute
	}
	if c.DecayTickInterval == 0 {
		c.DecayTickInterval = 30 * time.Second
	}
	if c.FullCleanupInterval == 0 {
		c.FullCleanupInterval = 4 * time.Hour
	}
	if c.EmbedDimension == 0 {
		c.EmbedDimension = 768
	}

	c.categoryDeletionThresholds = DefaultCategoryDeletionThresholds()
	for cat, t := range c.CategoryDeletionThresholds {
		c.categoryDeletionThresholds[cat] = t
	}
}

// categoryDeletionThreshold returns the resolved per-category floor.
func (c *Config) categoryDeletionThreshold(cat Category) float64 {
	if t, ok := c.categoryDeletionThresholds[cat]; ok {
		return t
	}
	return 0.10
}
