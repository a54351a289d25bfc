package cogmem

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

const maxBulkDelete = 50

// Service is the top-level coordinator: the single entry point adapters
// (MCP server, CLI, websocket events server) use to talk to the memory
// engine. It owns the store, the background worker, and every pluggable
// provider.
type Service struct {
	store        *Store
	config       Config
	classifier   SectorClassifier
	embedder     EmbeddingProvider
	extractor    EntityExtractor
	links        *LinkEngine
	search       *SearchEngine
	consolidator *Consolidator
	activation   *ActivationCache
	bus          *Bus
	worker       *Worker
	project      *ProjectContext
	gate         *PauseGate
	session      *Session
}

// Init opens the store, applies config defaults, constructs every provider
// (falling back to the built-in heuristic/default implementations when the
// caller didn't supply one), runs one consolidation pass for the active
// project, logs the database size when it is past the warning or hard
// limit, and starts the background worker.
func Init(cfg Config) (*Service, error) {
	cfg.ApplyDefaults()

	store, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	classifier := cfg.Classifier
	if classifier == nil {
		if cfg.GeminiAPIKey != "" {
			classifier = NewLLMClassifier(cfg.GeminiAPIKey, store)
		} else {
			classifier = NewHeuristicClassifier("")
		}
	}

	embedder := cfg.EmbeddingProvider
	if embedder == nil && cfg.GeminiAPIKey != "" {
		embedder = NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.EmbedDimension)
	}

	extractor := cfg.EntityExtractor
	if extractor == nil {
		extractor = &DefaultEntityExtractor{}
	}

	activation := NewActivationCache()
	links := NewLinkEngine(store, extractor)
	searchEngine := NewSearchEngine(store, embedder, activation, classifier, cfg.SalienceThreshold)
	consolidator := NewConsolidator(store, links, cfg)
	bus := NewBus()
	worker := NewWorker(store, consolidator, links, activation, bus, cfg)

	svc := &Service{
		store:        store,
		config:       cfg,
		classifier:   classifier,
		embedder:     embedder,
		extractor:    extractor,
		links:        links,
		search:       searchEngine,
		consolidator: consolidator,
		activation:   activation,
		bus:          bus,
		worker:       worker,
		project:      NewProjectContext(cfg.Project),
		gate:         NewPauseGate(),
	}

	if _, err := consolidator.Consolidate(svc.resolvedProject(""), false); err != nil {
		log.Printf("[cogmem] startup consolidation failed: %v", err)
	}
	if info, err := store.SizeInfo(); err == nil && (info.Warning || info.Blocked) {
		log.Printf("[cogmem] %s", info.Message)
	}

	worker.Start()
	return svc, nil
}

// Shutdown stops the background worker, checkpoints the WAL, and closes the
// store (which removes the lock file). If a session is active, it is ended
// first. Event-bus subscriber channels are not closed, no deadline is
// applied, and ctx is not consulted.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.session != nil {
		s.EndSession("")
	}
	if lc, ok := s.classifier.(*LLMClassifier); ok {
		lc.Close()
	}
	s.worker.Stop()
	if _, err := s.store.CheckpointWAL(); err != nil {
		log.Printf("[cogmem] shutdown WAL checkpoint failed: %v", err)
	}
	return s.store.Close()
}

func (s *Service) resolvedProject(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.project.Get()
}

// Remember ingests a new memory: scores salience, classifies category (if
// not overridden), embeds the content (best-effort), detects relationships
// against recent candidates, and persists everything. Blocked while the
// engine is paused or the database has exceeded its hard size cap.
func (s *Service) Remember(ctx context.Context, init MemoryInit) (*Memory, error) {
	if err := s.gate.Check("remember"); err != nil {
		return nil, err
	}
	if blocked, err := s.store.IsBlocked(); err != nil {
		return nil, err
	} else if blocked {
		info, _ := s.store.SizeInfo()
		return nil, &BlockedError{SizeBytes: info.Bytes}
	}

	init.Project = s.resolvedProject(init.Project)

	scored := ScoreSalience(init.Title, init.Content)
	if init.Salience == 0 {
		init.Salience = scored.Salience
	}
	if init.Category == "" {
		if s.classifier != nil {
			init.Category = s.classifier.Classify(init.Title, init.Content)
		} else {
			init.Category = scored.Category
		}
	}
	if len(init.Tags) == 0 {
		init.Tags = scored.Tags
	}
	if init.Scope == "" {
		init.Scope = scored.Scope
	}

	id, err := s.store.Insert(init, s.config.MaxContentSizeBytes)
	if err != nil {
		return nil, err
	}

	if lc, ok := s.classifier.(*LLMClassifier); ok {
		lc.SubmitForReclassification(id, init.Title, init.Content)
	}

	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, init.Title+" "+init.Content, "RETRIEVAL_DOCUMENT"); err == nil {
			s.store.SetEmbedding(id, vec)
		}
	}

	m, err := s.store.Get(id)
	if err != nil || m == nil {
		return m, err
	}

	if s.links != nil {
		linkFilter := Filter{Project: init.Project, IncludeGlobal: true}
		for _, link := range s.links.DetectRelationships(*m, linkFilter) {
			if created, err := s.links.CreateLink(link.SourceID, link.TargetID, link.Relationship, link.Strength); err == nil && created != nil {
				s.store.PersistEvent(EventLinkDiscovered, map[string]any{
					"source": created.SourceID, "target": created.TargetID, "relationship": string(created.Relationship),
				})
			}
		}
	}

	if s.session != nil {
		s.store.IncrementSessionCounters(s.session.ID, 1, 0)
	}

	if s.consolidator.ShouldTriggerConsolidation(init.Project) {
		s.consolidator.Consolidate(init.Project, false)
	}

	return m, nil
}

// Recall runs a hybrid search; search itself already soft-touches (bumps
// last_accessed_at only, via TouchAccess and the activation cache) the top
// five results, so Recall's own job is just to persist the access event and run
// the Hebbian co-access pass over the full result set. It never reinforces
// salience — that stays an explicit, caller-driven action via AccessMemory.
func (s *Service) Recall(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	if opts.Filter.Project == "" {
		opts.Filter.Project = s.project.Get()
		opts.Filter.IncludeGlobal = true
	}

	results, err := s.search.Search(ctx, opts)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		s.store.PersistEvent(EventMemoryAccessed, map[string]any{"id": results[0].ID})
	}

	if s.links != nil && len(results) > 1 {
		ids := make([]int64, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		s.links.StrengthenCoAccessed(ids)
	}

	if s.session != nil {
		s.store.IncrementSessionCounters(s.session.ID, 0, len(results))
	}

	return results, nil
}

// AccessMemory records a direct access to a single memory by id: reinforces
// its salience, spreads working-memory activation across its links,
// strengthens Hebbian co-access with anything else touched in the last five
// minutes, and emits a memory_accessed event. Unlike Recall's soft-touch of
// the rest of a result set, every direct access here counts as a full
// reinforcement.
func (s *Service) AccessMemory(id int64) (*Memory, error) {
	m, err := s.store.Get(id)
	if err != nil || m == nil {
		return m, err
	}

	dcfg := decayConfigFrom(s.config)
	_, newSalience := CalculateReinforcementBoost(*m, dcfg)
	if err := s.store.ReinforceAccess(id, newSalience); err != nil {
		return nil, err
	}

	now := time.Now()
	if s.activation != nil {
		links, _ := s.store.GetLinks(id)
		s.activation.Boost(id, activationDefaultBoost, links, now)
	}
	if s.links != nil {
		s.links.StrengthenRecentlyAccessed(id, now)
	}

	s.store.PersistEvent(EventMemoryAccessed, map[string]any{"id": id})
	if s.session != nil {
		s.store.IncrementSessionCounters(s.session.ID, 0, 1)
	}

	return s.store.Get(id)
}

// Forget deletes a single memory by id.
func (s *Service) Forget(id int64) (bool, error) {
	if err := s.gate.Check("forget"); err != nil {
		return false, err
	}
	return s.store.Delete(id)
}

// ForgetBulk deletes every memory matching filter. Deleting 2 or more
// memories requires confirm=true; dryRun reports the match count without
// deleting anything, for either case. A filter matching more than
// maxBulkDelete (50) memories is refused with BulkDeleteSafetyError even
// with confirm or dryRun set.
func (s *Service) ForgetBulk(filter Filter, dryRun, confirm bool) (int, error) {
	if err := s.gate.Check("forget_bulk"); err != nil {
		return 0, err
	}
	matches, err := s.store.BulkSelect(filter, "", 0, 0)
	if err != nil {
		return 0, err
	}
	if len(matches) > maxBulkDelete {
		return 0, &BulkDeleteSafetyError{Count: len(matches), Max: maxBulkDelete}
	}
	if dryRun {
		return len(matches), nil
	}
	if len(matches) >= 2 && !confirm {
		return 0, &BulkDeleteSafetyError{Count: len(matches), Max: maxBulkDelete}
	}
	deleted := 0
	for _, m := range matches {
		if ok, err := s.store.Delete(m.ID); err != nil {
			return deleted, err
		} else if ok {
			deleted++
		}
	}
	return deleted, nil
}

// GetMemory loads a single memory without affecting its access stats.
func (s *Service) GetMemory(id int64) (*Memory, error) {
	return s.store.Get(id)
}

// GetStats reports the database's on-disk footprint and size thresholds.
func (s *Service) GetStats() (SizeInfo, error) {
	return s.store.SizeInfo()
}

// Export serializes every memory matching filter to JSON.
func (s *Service) Export(filter Filter) ([]byte, error) {
	memories, err := s.store.BulkSelect(filter, "created_at ASC", 0, 0)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(memories, "", "  ")
}

// Import parses a JSON array of MemoryInit records and ingests each one,
// collecting per-record rejections rather than aborting the whole batch.
func (s *Service) Import(ctx context.Context, data []byte) (int, []error) {
	var inits []MemoryInit
	if err := json.Unmarshal(data, &inits); err != nil {
		return 0, []error{&ImportRejectedError{Index: -1, Reason: err.Error()}}
	}

	var errs []error
	imported := 0
	for i, init := range inits {
		if init.Content == "" {
			errs = append(errs, &ImportRejectedError{Index: i, Reason: "empty content"})
			continue
		}
		if _, err := s.Remember(ctx, init); err != nil {
			errs = append(errs, &ImportRejectedError{Index: i, Reason: err.Error()})
			continue
		}
		imported++
	}
	return imported, errs
}

// Consolidate runs an on-demand consolidation pass for the active project.
// force is accepted for interface parity with the worker-triggered path but
// is currently a no-op: an explicit call is never throttled. dryRun computes
// every count without writing anything.
func (s *Service) Consolidate(force, dryRun bool) (ConsolidationResult, error) {
	if err := s.gate.Check("consolidate"); err != nil {
		return ConsolidationResult{}, err
	}
	return s.consolidator.Consolidate(s.resolvedProject(""), dryRun)
}

// StartSession opens a new episodic session bounding a conversation.
func (s *Service) StartSession(project string) (*Session, error) {
	sess, err := s.store.StartSession(s.resolvedProject(project))
	if err != nil {
		return nil, err
	}
	s.session = sess
	s.store.PersistEvent(EventSessionStarted, map[string]any{"id": sess.ID, "project": sess.Project})
	return sess, nil
}

// EndSession closes the active session with an optional summary.
func (s *Service) EndSession(summary string) error {
	if s.session == nil {
		return nil
	}
	id := s.session.ID
	if err := s.store.EndSession(id, summary); err != nil {
		return err
	}
	s.store.PersistEvent(EventSessionEnded, map[string]any{"id": id, "summary": summary})
	s.session = nil
	return nil
}

// GetRelated returns every memory linked to id, sorted by link strength.
func (s *Service) GetRelated(id int64) ([]MemoryLink, error) {
	return s.store.GetLinks(id)
}

// LinkMemories creates an explicit link between two memories.
func (s *Service) LinkMemories(sourceID, targetID int64, rel Relationship, strength float64) (*MemoryLink, error) {
	return s.links.CreateLink(sourceID, targetID, rel, strength)
}

// DetectContradictions scans memories matching filter for conflicting claims
// scoring at least minScore, and links every contradiction found.
func (s *Service) DetectContradictions(filter Filter, minScore float64) ([]Contradiction, error) {
	if filter.Project == "" {
		filter.Project = s.project.Get()
		filter.IncludeGlobal = true
	}
	memories, err := s.store.BulkSelect(filter, "", 0, 0)
	if err != nil {
		return nil, err
	}
	memories = topByPriority(memories, time.Now(), contradictionCandidateLimit)
	if minScore <= 0 {
		minScore = contradictionScoreFloor
	}
	contradictions := DetectAll(memories, minScore)
	if len(contradictions) > 0 {
		LinkAll(s.links, contradictions)
	}
	return contradictions, nil
}

// SetProject overrides the active project scope.
func (s *Service) SetProject(project string) { s.project.Set(project) }

// GetProject returns the active project scope.
func (s *Service) GetProject() string { return s.project.Get() }

// Pause blocks future write operations (Remember, Forget, Consolidate).
func (s *Service) Pause() { s.gate.Pause() }

// Resume re-enables write operations.
func (s *Service) Resume() { s.gate.Resume() }

// GetControlStatus reports whether the engine is paused and the active
// project scope, for adapters to surface as a status check.
func (s *Service) GetControlStatus() (paused bool, project string) {
	return s.gate.IsPaused(), s.project.Get()
}

// Subscribe exposes the in-process event bus to adapters (e.g. the
// websocket events server).
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.bus.Subscribe()
}
