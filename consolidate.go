package cogmem

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	mergeSimilarityFloor = 0.80
	mergeContentWeight   = 0.6
	mergeTitleWeight     = 0.4
	mergeTopicFloor      = 0.25
	mergeSalienceBoost   = 0.10

	decayPersistFloor = 0.01

	hubBonusMinLinks = 2
	hubBonusPerLink  = 0.03
	hubBonusCap      = 0.10

	contradictionPenalty      = 0.02
	contradictionPenaltyFloor = 0.30

	fullnessConsolidateFraction = 0.8
	lowSalienceConsolidateCount = 10
)

// Consolidator implements the decay/promotion/merge/deletion pass that keeps
// the store bounded and keeps the salience/type of each memory reflecting
// how it's actually been used.
type Consolidator struct {
	store  *Store
	links  *LinkEngine
	config Config
}

// NewConsolidator creates a consolidator bound to store and link engine,
// using cfg for decay/promotion/threshold tunables.
func NewConsolidator(store *Store, links *LinkEngine, cfg Config) *Consolidator {
	return &Consolidator{store: store, links: links, config: cfg}
}

// Consolidate runs one full pass for a project's memories (or every project
// if project is ""): recompute decayed scores, promote/demote by type,
// enforce the short_term/long_term count caps, merge near-duplicates,
// evolve salience for well-connected and contradicted memories, and detect
// and link contradictions. The whole pass runs inside one immediate
// transaction, so a failure partway through leaves the database exactly as
// it was before the call. With dryRun, every count is computed but nothing
// is written.
func (c *Consolidator) Consolidate(project string, dryRun bool) (ConsolidationResult, error) {
	var result ConsolidationResult
	err := c.store.WithImmediateTransaction(func(tx *Tx) error {
		r, err := c.consolidateTx(tx, project, dryRun)
		result = r
		return err
	})
	return result, err
}

// consolidateTx is Consolidate's body, threaded through a single open
// transaction so every decay write, promotion, eviction, merge, and
// contradiction link either all land or none do.
func (c *Consolidator) consolidateTx(tx *Tx, project string, dryRun bool) (ConsolidationResult, error) {
	var result ConsolidationResult
	dcfg := decayConfigFrom(c.config)
	now := time.Now()

	maxShort := c.config.MaxShortTermMemories
	if maxShort <= 0 {
		maxShort = 500
	}
	maxLong := c.config.MaxLongTermMemories
	if maxLong <= 0 {
		maxLong = 2000
	}

	shortTerm, err := c.store.BulkSelectTx(tx,
		Filter{Project: project, IncludeGlobal: project != "", IncludeDecayed: true, Type: TypeShortTerm},
		"created_at ASC", maxShort*2, 0)
	if err != nil {
		return result, err
	}

	var survivors []Memory
	for _, m := range shortTerm {
		kept, promoted, deleted, err := c.classifyOne(tx, m, now, dcfg, dryRun)
		if err != nil {
			return result, err
		}
		if deleted {
			result.Deleted++
			continue
		}
		result.Decayed++
		if promoted {
			result.Consolidated++
		}
		survivors = append(survivors, kept)
	}

	longLived, err := c.store.BulkSelectTx(tx,
		Filter{Project: project, IncludeGlobal: project != "", IncludeDecayed: true, Type: TypeLongTerm},
		"created_at ASC", 0, 0)
	if err != nil {
		return result, err
	}
	episodic, err := c.store.BulkSelectTx(tx,
		Filter{Project: project, IncludeGlobal: project != "", IncludeDecayed: true, Type: TypeEpisodic},
		"created_at ASC", 0, 0)
	if err != nil {
		return result, err
	}
	longLived = append(longLived, episodic...)

	for _, m := range longLived {
		kept, promoted, deleted, err := c.classifyOne(tx, m, now, dcfg, dryRun)
		if err != nil {
			return result, err
		}
		if deleted {
			result.Deleted++
			continue
		}
		result.Decayed++
		if promoted {
			result.Consolidated++
		}
		survivors = append(survivors, kept)
	}

	if !dryRun {
		evicted, err := c.enforceCap(tx, project, TypeShortTerm, maxShort, "salience ASC, last_accessed_at ASC")
		if err != nil {
			return result, err
		}
		result.Deleted += evicted

		evicted, err = c.enforceCap(tx, project, TypeLongTerm, maxLong, "salience ASC, access_count ASC, last_accessed_at ASC")
		if err != nil {
			return result, err
		}
		result.Deleted += evicted
	}

	if !dryRun {
		merged, err := c.mergeSimilarTx(tx, survivors)
		if err != nil {
			return result, err
		}
		result.SalienceEvolved += merged

		evolved, err := c.evolveSalienceTx(tx, survivors)
		if err != nil {
			return result, err
		}
		result.SalienceEvolved += evolved
	}

	candidates := topByPriority(survivors, now, contradictionCandidateLimit)
	contradictions := DetectAll(candidates, contradictionScoreFloor)
	result.ContradictionsFound = len(contradictions)
	if !dryRun && c.links != nil && len(contradictions) > 0 {
		linked, err := LinkAllTx(tx, c.links, contradictions)
		if err != nil {
			return result, err
		}
		result.ContradictionsLinked = linked
	}

	return result, nil
}

// classifyOne recomputes m's decayed score and applies the delete/promote
// decision, returning the (possibly updated) memory, whether it was
// promoted, and whether it was deleted.
func (c *Consolidator) classifyOne(tx *Tx, m Memory, now time.Time, dcfg DecayConfig, dryRun bool) (Memory, bool, bool, error) {
	decayed := CalculateDecayedScore(m, now, dcfg)
	if !dryRun && math.Abs(decayed-m.DecayedScore) > decayPersistFloor {
		if err := c.store.PersistDecayedScoreTx(tx, m.ID, decayed); err != nil {
			return m, false, false, err
		}
	}
	m.DecayedScore = decayed

	if ShouldDelete(m, dcfg) {
		if !dryRun {
			if _, err := c.store.DeleteTx(tx, m.ID); err != nil {
				return m, false, false, err
			}
		}
		return m, false, true, nil
	}

	if ShouldPromoteToLongTerm(m, now, dcfg) {
		if !dryRun {
			if err := c.store.UpdateFieldsTx(tx, m.ID, map[string]any{"type": string(TypeLongTerm)}); err != nil {
				return m, false, false, err
			}
		}
		m.Type = TypeLongTerm
		return m, true, false, nil
	}
	if m.Type == TypeLongTerm && ShouldPromoteEpisodic(m, now) {
		if !dryRun {
			if err := c.store.UpdateFieldsTx(tx, m.ID, map[string]any{"type": string(TypeEpisodic)}); err != nil {
				return m, false, false, err
			}
		}
		m.Type = TypeEpisodic
		return m, true, false, nil
	}

	return m, false, false, nil
}

// enforceCap deletes the lowest-priority excess memories of a given type
// above limit, ordered by order (least valuable first).
func (c *Consolidator) enforceCap(tx *Tx, project string, typ MemoryType, limit int, order string) (int, error) {
	all, err := c.store.BulkSelectTx(tx, Filter{Project: project, IncludeGlobal: project != "", IncludeDecayed: true, Type: typ}, "", 0, 0)
	if err != nil {
		return 0, err
	}
	if len(all) <= limit {
		return 0, nil
	}
	excess := len(all) - limit

	ordered, err := c.store.BulkSelectTx(tx, Filter{Project: project, IncludeGlobal: project != "", IncludeDecayed: true, Type: typ}, order, excess, 0)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, m := range ordered {
		if ok, err := c.store.DeleteTx(tx, m.ID); err != nil {
			return deleted, err
		} else if ok {
			deleted++
		}
	}
	return deleted, nil
}

// MergeSimilar folds near-duplicate short_term memories within the same
// category into the cluster's highest-salience member: the merged survivor
// gets blended content, the union of tags, summed access counts, and a
// flat reinforcement boost, then is promoted to long_term. The rest of the
// cluster is deleted. Returns the number of merges. Runs in its own
// transaction; Consolidate calls the tx-threaded mergeSimilarTx directly
// instead so a merge and the rest of the pass share one transaction.
func (c *Consolidator) MergeSimilar(memories []Memory) (int, error) {
	var merged int
	err := c.store.WithImmediateTransaction(func(tx *Tx) error {
		m, err := c.mergeSimilarTx(tx, memories)
		merged = m
		return err
	})
	return merged, err
}

func (c *Consolidator) mergeSimilarTx(tx *Tx, memories []Memory) (int, error) {
	merged := 0
	deleted := make(map[int64]bool)

	for i := 0; i < len(memories); i++ {
		a := memories[i]
		if a.Type != TypeShortTerm || deleted[a.ID] {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			b := memories[j]
			if b.Type != TypeShortTerm || deleted[b.ID] || a.Category != b.Category || a.Project != b.Project {
				continue
			}

			sim := mergeContentWeight*jaccardSimilarity(a.Content, b.Content) + mergeTitleWeight*jaccardSimilarity(a.Title, b.Title)
			similar := sim >= mergeTopicFloor
			if !similar && len(a.Embedding) > 0 && len(b.Embedding) > 0 {
				similar = CosineSimilarity(a.Embedding, b.Embedding) >= mergeSimilarityFloor
			}
			if !similar {
				continue
			}

			keep, drop := a, b
			if drop.Salience > keep.Salience {
				keep, drop = drop, keep
			}

			mergedContent := "Consolidated context:\n- " + strings.TrimSpace(keep.Content) + "\n- " + strings.TrimSpace(drop.Content)
			mergedTags := unionTags(keep.Tags, drop.Tags)
			newSalience := math.Min(1.0, keep.Salience+mergeSalienceBoost)

			if err := c.store.UpdateFieldsTx(tx, keep.ID, map[string]any{
				"content":      mergedContent,
				"tags":         mergedTags,
				"salience":     newSalience,
				"access_count": keep.AccessCount + drop.AccessCount,
				"type":         string(TypeLongTerm),
			}); err != nil {
				return merged, err
			}
			if _, err := c.store.DeleteTx(tx, drop.ID); err != nil {
				return merged, err
			}

			deleted[drop.ID] = true
			if drop.ID == a.ID {
				a = keep
				memories[i] = keep
			} else {
				memories[j] = keep
			}
			merged++
		}
	}
	return merged, nil
}

func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// evolveSalience applies two passes over survivors: a small hub bonus for
// memories with several links (logarithmic, capped), and a small penalty
// for memories on both ends of a `contradicts` link that haven't already
// decayed near the deletion floor. Runs in its own transaction; Consolidate
// calls the tx-threaded evolveSalienceTx directly so this shares the rest of
// the pass's transaction instead of committing separately.
func (c *Consolidator) evolveSalience(survivors []Memory) (int, error) {
	var evolved int
	err := c.store.WithImmediateTransaction(func(tx *Tx) error {
		e, err := c.evolveSalienceTx(tx, survivors)
		evolved = e
		return err
	})
	return evolved, err
}

func (c *Consolidator) evolveSalienceTx(tx *Tx, survivors []Memory) (int, error) {
	evolved := 0
	for _, m := range survivors {
		links, err := c.store.GetLinksTx(tx, m.ID)
		if err != nil {
			return evolved, err
		}
		if len(links) < hubBonusMinLinks {
			continue
		}
		bonus := math.Log2(float64(len(links))) * hubBonusPerLink
		if bonus > hubBonusCap {
			bonus = hubBonusCap
		}
		if bonus <= 0 {
			continue
		}
		newSalience := math.Min(1.0, m.Salience+bonus)
		if err := c.store.UpdateFieldsTx(tx, m.ID, map[string]any{"salience": newSalience}); err != nil {
			return evolved, err
		}
		evolved++
	}

	contradicts, err := c.store.GetLinksByRelationshipTx(tx, RelationshipContradicts)
	if err != nil {
		return evolved, err
	}
	for _, link := range contradicts {
		for _, id := range []int64{link.SourceID, link.TargetID} {
			m, err := c.store.GetTx(tx, id)
			if err != nil || m == nil || m.Salience <= contradictionPenaltyFloor {
				continue
			}
			newSalience := math.Max(0, m.Salience-contradictionPenalty)
			if err := c.store.UpdateFieldsTx(tx, id, map[string]any{"salience": newSalience}); err != nil {
				return evolved, err
			}
			evolved++
		}
	}
	return evolved, nil
}

// topByPriority returns up to n memories from in, ordered by
// Priority(m, now) descending, bounding the O(n^2) contradiction scan to a
// manageable set dominated by salient and recently touched memories.
func topByPriority(in []Memory, now time.Time, n int) []Memory {
	sorted := make([]Memory, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		return Priority(sorted[i], now) > Priority(sorted[j], now)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// ShouldTriggerConsolidation reports whether project's short-term pool has
// crossed 80% fullness, or has more than 10 memories sitting below the
// configured salience threshold — either of which means a consolidation
// pass should run before accepting more writes.
func (c *Consolidator) ShouldTriggerConsolidation(project string) bool {
	max := c.config.MaxShortTermMemories
	if max <= 0 {
		max = 500
	}
	shortTerm, err := c.store.BulkSelect(Filter{Project: project, Type: TypeShortTerm}, "", 0, 0)
	if err != nil {
		return false
	}
	if float64(len(shortTerm)) > fullnessConsolidateFraction*float64(max) {
		return true
	}

	threshold := c.config.SalienceThreshold
	if threshold <= 0 {
		threshold = 0.3
	}
	below := 0
	for _, m := range shortTerm {
		if m.Salience < threshold {
			below++
		}
	}
	return below > lowSalienceConsolidateCount
}

// FullCleanup runs a full consolidation pass, merges remaining duplicates,
// and vacuums the database only if the pass actually freed space.
func (c *Consolidator) FullCleanup() error {
	result, err := c.Consolidate(c.config.Project, false)
	if err != nil {
		return err
	}
	if _, err := c.store.CheckpointWAL(); err != nil {
		return err
	}
	if result.Deleted == 0 {
		return nil
	}
	return c.store.Vacuum()
}
