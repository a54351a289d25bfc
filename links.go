package cogmem

import (
	"sort"
	"strings"
	"time"
)

const (
	hebbianStep            = 0.05
	hebbianMaxStrength     = 1.0
	hebbianNewLinkStrength = 0.20
	coAccessWindow         = 5 * time.Minute

	tagOverlapBase      = 0.3
	tagOverlapPerShared = 0.2
	tagOverlapCap       = 0.9

	entityOverlapBase      = 0.3
	entityOverlapPerShared = 0.15
	entityOverlapCap       = 0.9

	embeddingLinkFloor = 0.60
	embeddingLinkCap   = 0.9

	jaccardLinkFloor = 0.30
	jaccardLinkCap   = 0.7

	linkCandidatePoolSize     = 50
	embeddingScanPoolSize     = 100
	maxDetectedLinksPerMemory = 5
)

// LinkEngine discovers and maintains edges in the memory graph. Three
// strategies feed a single dedup-by-target pass at ingest time — tag
// overlap, embedding cosine similarity, and (only when no embedding is
// available) filtered full-text Jaccard — and a Hebbian pass strengthens or
// creates links between memories recalled close together in time.
type LinkEngine struct {
	store     *Store
	extractor EntityExtractor
}

// NewLinkEngine creates a link engine backed by store, using extractor to
// find shared entities between memories.
func NewLinkEngine(store *Store, extractor EntityExtractor) *LinkEngine {
	if extractor == nil {
		extractor = &DefaultEntityExtractor{}
	}
	return &LinkEngine{store: store, extractor: extractor}
}

// DetectRelationships looks for candidate links between m and other memories
// in m's project scope, using tag overlap and entity overlap as a baseline
// signal, embedding cosine similarity over the highest-priority candidates
// when m has an embedding, or filtered-text Jaccard similarity as a fallback
// when it doesn't. Results are deduped by target memory, keeping the
// strongest strategy's score, and capped at maxDetectedLinksPerMemory. It
// does not write anything; callers apply the result via CreateLink.
func (le *LinkEngine) DetectRelationships(m Memory, filter Filter) []MemoryLink {
	best := make(map[int64]MemoryLink)
	consider := func(targetID int64, rel Relationship, strength float64) {
		if targetID == m.ID {
			return
		}
		if existing, ok := best[targetID]; ok && existing.Strength >= strength {
			return
		}
		best[targetID] = MemoryLink{SourceID: m.ID, TargetID: targetID, Relationship: rel, Strength: strength}
	}

	recent, err := le.store.BulkSelect(filter, "created_at DESC", linkCandidatePoolSize, 0)
	if err != nil {
		return nil
	}

	newTags := stringSet(m.Tags)
	newEntities := entitySet(le.extractor.Extract(m.Title + " " + m.Content))
	for _, cand := range recent {
		if cand.ID == m.ID {
			continue
		}
		if shared := intersectionSize(newTags, stringSet(cand.Tags)); shared > 0 {
			strength := tagOverlapBase + tagOverlapPerShared*float64(shared)
			if strength > tagOverlapCap {
				strength = tagOverlapCap
			}
			consider(cand.ID, RelationshipRelated, strength)
		}
		candEntities := entitySet(le.extractor.Extract(cand.Title + " " + cand.Content))
		if shared := intersectionSize(newEntities, candEntities); shared > 0 {
			strength := entityOverlapBase + entityOverlapPerShared*float64(shared)
			if strength > entityOverlapCap {
				strength = entityOverlapCap
			}
			consider(cand.ID, RelationshipRelated, strength)
		}
	}

	if len(m.Embedding) > 0 {
		top, err := le.store.BulkSelect(filter, "decayed_score DESC", embeddingScanPoolSize, 0)
		if err == nil {
			for _, cand := range top {
				if cand.ID == m.ID || len(cand.Embedding) == 0 {
					continue
				}
				cos := CosineSimilarity(m.Embedding, cand.Embedding)
				if cos < embeddingLinkFloor {
					continue
				}
				strength := cos
				if strength > embeddingLinkCap {
					strength = embeddingLinkCap
				}
				consider(cand.ID, RelationshipRelated, strength)
			}
		}
	} else {
		query := contentTokenSet(m.Title + " " + m.Content)
		for _, cand := range recent {
			if cand.ID == m.ID {
				continue
			}
			sim := jaccardSets(query, contentTokenSet(cand.Title+" "+cand.Content))
			if sim < jaccardLinkFloor {
				continue
			}
			strength := sim + 0.2
			if strength > jaccardLinkCap {
				strength = jaccardLinkCap
			}
			consider(cand.ID, RelationshipRelated, strength)
		}
	}

	if strings.TrimSpace(m.Title) != "" {
		for id, link := range best {
			for _, cand := range recent {
				if cand.ID != id {
					continue
				}
				if strings.Contains(strings.ToLower(cand.Content), strings.ToLower(m.Title)) ||
					strings.Contains(strings.ToLower(m.Content), strings.ToLower(cand.Title)) {
					link.Relationship = RelationshipReferences
					best[id] = link
				}
			}
		}
	}

	links := make([]MemoryLink, 0, len(best))
	for _, l := range best {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Strength > links[j].Strength })
	if len(links) > maxDetectedLinksPerMemory {
		links = links[:maxDetectedLinksPerMemory]
	}
	return links
}

// CreateLink persists a link, no-op on a self-link and idempotent on repeats
// (store.InsertLink backs this with ON CONFLICT DO NOTHING).
func (le *LinkEngine) CreateLink(sourceID, targetID int64, rel Relationship, strength float64) (*MemoryLink, error) {
	return le.store.InsertLink(sourceID, targetID, rel, strength)
}

// CreateLinkTx is CreateLink run on a transaction an outer caller already
// holds open, letting the consolidator fold link creation into its single
// atomic pass.
func (le *LinkEngine) CreateLinkTx(tx *Tx, sourceID, targetID int64, rel Relationship, strength float64) (*MemoryLink, error) {
	return le.store.InsertLinkTx(tx, sourceID, targetID, rel, strength)
}

// StrengthenCoAccessed implements Hebbian reinforcement over a set of
// memories recalled together in the same search: an existing link between
// any pair is nudged stronger, and a pair with no link yet gets a new weak
// `related` link, modeling the way co-activated memories start to
// associate.
func (le *LinkEngine) StrengthenCoAccessed(ids []int64) error {
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if err := le.strengthenPair(ids[i], ids[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// StrengthenRecentlyAccessed runs the same Hebbian rule between memoryID and
// every other memory accessed within the co-access window, for callers that
// touch one memory at a time (e.g. a direct access-by-id operation) rather
// than a batch of search results.
func (le *LinkEngine) StrengthenRecentlyAccessed(memoryID int64, now time.Time) error {
	others, err := le.store.RecentlyAccessedExcept(memoryID, now, coAccessWindow)
	if err != nil {
		return err
	}
	for _, other := range others {
		if err := le.strengthenPair(memoryID, other.ID); err != nil {
			return err
		}
	}
	return nil
}

func (le *LinkEngine) strengthenPair(a, b int64) error {
	link, err := le.store.FindLink(a, b)
	if err != nil {
		return err
	}
	if link == nil {
		_, err := le.store.InsertLink(a, b, RelationshipRelated, hebbianNewLinkStrength)
		return err
	}
	newStrength := link.Strength + hebbianStep
	if newStrength > hebbianMaxStrength {
		newStrength = hebbianMaxStrength
	}
	return le.store.SetLinkStrength(link.SourceID, link.TargetID, newStrength)
}

func stringSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}

func entitySet(entities []Entity) map[string]bool {
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[strings.ToLower(e.Text)] = true
	}
	return set
}

func intersectionSize(a, b map[string]bool) int {
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

func jaccardSets(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := intersectionSize(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// jaccardSimilarity measures stopword-filtered token overlap between two
// strings, used by the contradiction detector's title-similarity component.
func jaccardSimilarity(a, b string) float64 {
	return jaccardSets(tokenSet(a), tokenSet(b))
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "to": true, "of": true, "and": true, "or": true,
	"in": true, "on": true, "for": true, "with": true, "this": true, "that": true,
	"it": true, "we": true, "i": true, "you": true,
}

func tokenSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if w == "" || stopWords[w] {
			continue
		}
		set[w] = true
	}
	return set
}

// contentTokenSet is tokenSet's counterpart for the FTS-fallback link
// strategy: it drops short (<=2 char) tokens instead of a stopword list,
// matching the coarser filtering that makes sense when there's no semantic
// embedding to lean on.
func contentTokenSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if len(w) <= 2 {
			continue
		}
		set[w] = true
	}
	return set
}
