package cogmem

import (
	"log"
	"time"
)

const (
	// decayTickRecentWindow bounds how many recently-touched memories the
	// decay tick recomputes each pass.
	decayTickRecentWindow = 200
	// decayTickCheckpointEvery persists scores and checkpoints the WAL once
	// every N decay ticks instead of every tick.
	decayTickCheckpointEvery = 10

	// mediumScanWindow bounds how many recently-touched memories the medium
	// tick scans for new links and contradictions.
	mediumScanWindow = 200
)

// Worker runs the background maintenance loop: a light tick that prunes the
// activation cache and conditionally triggers consolidation, a medium tick
// that scans for newly-discoverable links and contradictions, a dedicated
// decay tick that recomputes decayed scores (checkpointing the WAL every
// tenth pass), and a slow cadence that runs a full cleanup and purges
// processed events older than 24 hours. It also pumps the durable event
// queue out to the in-process Bus.
type Worker struct {
	store        *Store
	consolidator *Consolidator
	links        *LinkEngine
	activation   *ActivationCache
	bus          *Bus
	config       Config
	stop         chan struct{}
	done         chan struct{}
}

// NewWorker creates a worker bound to the given store/consolidator/link
// engine/activation cache/bus, using cfg for tick cadences.
func NewWorker(store *Store, consolidator *Consolidator, links *LinkEngine, activation *ActivationCache, bus *Bus, cfg Config) *Worker {
	return &Worker{
		store:        store,
		consolidator: consolidator,
		links:        links,
		activation:   activation,
		bus:          bus,
		config:       cfg,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background goroutines. Stop shuts them down.
func (w *Worker) Start() {
	go w.runLight()
	go w.runMedium()
	go w.runDecay()
	go w.runFullCleanup()
	if w.bus != nil {
		go w.bus.PumpStore(w.store, w.config.LightTickInterval, w.stop)
	}
}

// Stop signals every background goroutine to exit and blocks until the
// light-tick loop (the one that owns `done`) has returned.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) runLight() {
	defer close(w.done)
	interval := w.config.LightTickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.lightTick()
		}
	}
}

// lightTick prunes expired working-memory activation and, if the project's
// short-term pool has crossed its fullness/low-salience trigger, runs a
// consolidation pass.
func (w *Worker) lightTick() {
	if err := w.store.PersistEvent(EventWorkerLightTick, nil); err != nil {
		log.Printf("[cogmem] worker light tick event failed: %v", err)
	}

	if w.activation != nil {
		w.activation.Prune(time.Now())
	}

	if w.consolidator.ShouldTriggerConsolidation(w.config.Project) {
		result, err := w.consolidator.Consolidate(w.config.Project, false)
		if err != nil {
			log.Printf("[cogmem] worker light-tick consolidation failed: %v", err)
			return
		}
		w.store.PersistEvent(EventConsolidationComplete, map[string]any{
			"consolidated":          result.Consolidated,
			"decayed":               result.Decayed,
			"deleted":               result.Deleted,
			"contradictions_found":  result.ContradictionsFound,
			"contradictions_linked": result.ContradictionsLinked,
		})
	}
}

func (w *Worker) runMedium() {
	interval := w.config.MediumTickInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mediumTick()
		}
	}
}

// mediumTick scans a bounded window of recently-touched memories for edges
// the link engine hasn't discovered yet and for pairwise contradictions,
// linking both in. It never re-runs full consolidation — that's the light
// tick's job — so a medium tick's only writes are new graph edges.
func (w *Worker) mediumTick() {
	if err := w.store.PersistEvent(EventWorkerMediumTick, nil); err != nil {
		log.Printf("[cogmem] worker medium tick event failed: %v", err)
	}

	recent, err := w.store.BulkSelect(Filter{IncludeDecayed: true}, "last_accessed_at DESC", mediumScanWindow, 0)
	if err != nil {
		log.Printf("[cogmem] worker medium tick select failed: %v", err)
		return
	}

	linksDiscovered := 0
	if w.links != nil {
		for _, m := range recent {
			filter := Filter{Project: m.Project, IncludeGlobal: m.Project != ""}
			for _, candidate := range w.links.DetectRelationships(m, filter) {
				existing, err := w.store.FindLink(candidate.SourceID, candidate.TargetID)
				if err != nil || existing != nil {
					continue
				}
				created, err := w.links.CreateLink(candidate.SourceID, candidate.TargetID, candidate.Relationship, candidate.Strength)
				if err != nil || created == nil {
					continue
				}
				linksDiscovered++
				w.store.PersistEvent(EventLinkDiscovered, map[string]any{
					"source_id":    created.SourceID,
					"target_id":    created.TargetID,
					"relationship": string(created.Relationship),
				})
			}
		}
	}

	contradictionsLinked := 0
	candidates := topByPriority(recent, time.Now(), contradictionCandidateLimit)
	contradictions := DetectAll(candidates, contradictionScoreFloor)
	if w.links != nil && len(contradictions) > 0 {
		linked, err := LinkAll(w.links, contradictions)
		if err != nil {
			log.Printf("[cogmem] worker medium tick contradiction linking failed: %v", err)
		} else {
			contradictionsLinked = linked
		}
	}

	if linksDiscovered > 0 || contradictionsLinked > 0 {
		w.store.PersistEvent(EventPredictiveConsolidate, map[string]any{
			"links_discovered":      linksDiscovered,
			"contradictions_linked": contradictionsLinked,
		})
	}
}

func (w *Worker) runDecay() {
	interval := w.config.DecayTickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			tick++
			w.decayTick(tick)
		}
	}
}

// decayTick recomputes decayed scores for the most recently accessed
// memories and emits decay_tick with the set of meaningful changes every
// pass; every tenth pass it also persists those scores and checkpoints the
// WAL so the log doesn't grow unbounded between full cleanups.
func (w *Worker) decayTick(tick int) {
	dcfg := decayConfigFrom(w.config)
	now := time.Now()
	persist := tick%decayTickCheckpointEvery == 0

	recent, err := w.store.BulkSelect(Filter{IncludeDecayed: true}, "last_accessed_at DESC", decayTickRecentWindow, 0)
	if err != nil {
		log.Printf("[cogmem] worker decay tick select failed: %v", err)
		return
	}

	changed := make([]map[string]any, 0)
	for _, m := range recent {
		score := CalculateDecayedScore(m, now, dcfg)
		if delta := score - m.DecayedScore; delta > decayPersistFloor || -delta > decayPersistFloor {
			if persist {
				if err := w.store.PersistDecayedScore(m.ID, score); err != nil {
					log.Printf("[cogmem] worker decay persist failed for #%d: %v", m.ID, err)
					continue
				}
			}
			changed = append(changed, map[string]any{"id": m.ID, "decayed_score": score})
		}
	}

	w.store.PersistEvent(EventDecayTick, map[string]any{"changed": changed})

	if persist {
		if _, err := w.store.CheckpointWAL(); err != nil {
			log.Printf("[cogmem] worker decay tick WAL checkpoint failed: %v", err)
		}
	}
}

func (w *Worker) runFullCleanup() {
	interval := w.config.FullCleanupInterval
	if interval <= 0 {
		interval = 4 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.consolidator.FullCleanup(); err != nil {
				log.Printf("[cogmem] worker full cleanup failed: %v", err)
			}
			if _, err := w.store.PurgeProcessedOlderThan(24 * time.Hour); err != nil {
				log.Printf("[cogmem] worker event purge failed: %v", err)
			}
		}
	}
}
