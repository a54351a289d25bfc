package cogmem

import (
	"context"
	"sort"
	"strings"
	"time"
)

const (
	weightFTS      = 0.30
	weightVector   = 0.30
	weightDecayed  = 0.25
	weightPriority = 0.10

	recencyBoostWithinHour = 0.10
	recencyBoostWithinDay  = 0.05
	categoryBoost          = 0.10
	linkBoostCap           = 0.15
	linkBoostScale         = 0.2
	tagBoostCap            = 0.10
	activationBoostCap     = 0.20

	softAccessTopN = 5

	vectorScanSimilarityFloor = 0.30
	vectorScanCapMultiplier   = 2
	vectorOnlyFTSScore        = 0.3
)

// SearchEngine runs a hybrid recall blending full-text rank, vector cosine
// similarity, decayed score, recency/category/link/tag affinity, and
// working-memory activation into one ranked list.
type SearchEngine struct {
	store             *Store
	embedder          EmbeddingProvider
	activation        *ActivationCache
	classifier        SectorClassifier
	salienceThreshold float64
}

// NewSearchEngine creates a search engine. embedder and classifier may be
// nil, in which case ranking skips the vector and category-affinity terms.
// salienceThreshold is the decayed-score floor below which a memory is
// excluded unless the caller explicitly asked to include decayed memories.
func NewSearchEngine(store *Store, embedder EmbeddingProvider, activation *ActivationCache, classifier SectorClassifier, salienceThreshold float64) *SearchEngine {
	if salienceThreshold <= 0 {
		salienceThreshold = 0.3
	}
	return &SearchEngine{store: store, embedder: embedder, activation: activation, classifier: classifier, salienceThreshold: salienceThreshold}
}

// Search runs a hybrid recall for opts.Query against opts.Filter, ranks the
// candidates, and soft-touches (TouchAccess) the top results so frequently
// recalled memories stay fresh without inflating salience on every read.
func (se *SearchEngine) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	filter := opts.Filter
	filter.IncludeDecayed = opts.IncludeDecayed

	var ftsRows []FTSRow
	var err error
	if opts.Query != "" {
		ftsRows, err = se.store.FullTextSearch(opts.Query, filter, limit*3)
		if err != nil {
			return nil, err
		}
	} else {
		mems, err := se.store.BulkSelect(filter, "last_accessed_at DESC", limit*3, 0)
		if err != nil {
			return nil, err
		}
		for _, m := range mems {
			ftsRows = append(ftsRows, FTSRow{Memory: m, Rank: 0})
		}
	}

	var queryVec []float32
	if se.embedder != nil && opts.Query != "" {
		queryVec, _ = se.embedder.Embed(ctx, opts.Query, "RETRIEVAL_QUERY")
	}

	// Independent vector scan (spec.md §4.8 step 2): runs alongside the FTS
	// candidate pass rather than re-scoring it, so a memory with a strong
	// embedding match but no lexical overlap with the query still surfaces.
	seen := make(map[int64]bool, len(ftsRows))
	for _, row := range ftsRows {
		seen[row.ID] = true
	}
	vectorOnly := make(map[int64]bool)
	if queryVec != nil {
		embedded, err := se.store.BulkSelect(filter, "", 0, 0)
		if err == nil {
			type scoredMemory struct {
				m   Memory
				sim float64
			}
			var matches []scoredMemory
			for _, m := range embedded {
				if len(m.Embedding) == 0 || seen[m.ID] {
					continue
				}
				if sim := CosineSimilarity(queryVec, m.Embedding); sim >= vectorScanSimilarityFloor {
					matches = append(matches, scoredMemory{m: m, sim: sim})
				}
			}
			sort.Slice(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })
			if maxMatches := vectorScanCapMultiplier * limit; len(matches) > maxMatches {
				matches = matches[:maxMatches]
			}
			for _, sc := range matches {
				ftsRows = append(ftsRows, FTSRow{Memory: sc.m, Rank: 0})
				vectorOnly[sc.m.ID] = true
				seen[sc.m.ID] = true
			}
		}
	}

	var queryCategory Category
	if se.classifier != nil && opts.Query != "" {
		queryCategory = se.classifier.Classify("", opts.Query)
	}

	var queryTags []string
	if len(opts.Filter.Tags) > 0 {
		queryTags = opts.Filter.Tags
	}

	// bm25() returns increasingly negative values for better matches, scaled
	// by corpus statistics that have no fixed range. Flip the sign and
	// normalize against the most negative (best) rank in this result set
	// so the best match in any given search always reaches ftsScore 1.0.
	worstRank := 0.0
	for _, row := range ftsRows {
		if row.Rank < worstRank {
			worstRank = row.Rank
		}
	}

	now := time.Now()
	results := make([]SearchResult, 0, len(ftsRows))
	for _, row := range ftsRows {
		m := row.Memory
		if !opts.IncludeDecayed && m.DecayedScore > 0 && m.DecayedScore < se.salienceThreshold {
			continue
		}

		ftsScore := 0.0
		if row.Rank != 0 && worstRank != 0 {
			ftsScore = row.Rank / worstRank
		} else if vectorOnly[m.ID] {
			ftsScore = vectorOnlyFTSScore
		}

		vecScore := 0.0
		if queryVec != nil && len(m.Embedding) > 0 {
			vecScore = CosineSimilarity(queryVec, m.Embedding)
		}

		priority := Priority(m, now)

		relevance := weightFTS*ftsScore + weightVector*vecScore + weightDecayed*m.DecayedScore + weightPriority*priority

		relevance += se.recencyBoost(m, now)

		if queryCategory != "" && m.Category == queryCategory {
			relevance += categoryBoost
		}

		relevance += se.linkBoost(m.ID, now)
		relevance += se.tagBoost(m.Tags, queryTags)

		if se.activation != nil {
			if level := se.activation.Level(m.ID, now); level > 0 {
				boost := level
				if boost > activationBoostCap {
					boost = activationBoostCap
				}
				relevance += boost
			}
		}

		results = append(results, SearchResult{
			Memory:         m,
			RelevanceScore: relevance,
			FTSScore:       ftsScore,
			VectorScore:    vecScore,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > limit {
		results = results[:limit]
	}

	se.softTouchTop(results)
	return results, nil
}

// recencyBoost rewards memories accessed very recently, independent of their
// persisted decayed score.
func (se *SearchEngine) recencyBoost(m Memory, now time.Time) float64 {
	age := now.Sub(m.LastAccessedAt)
	switch {
	case age < time.Hour:
		return recencyBoostWithinHour
	case age < 24*time.Hour:
		return recencyBoostWithinDay
	default:
		return 0
	}
}

// linkBoost estimates how well-connected and salient a memory's neighbors
// are: the strength-weighted mean of linked memories' salience, scaled down
// and capped so it nudges rather than dominates the ranking.
func (se *SearchEngine) linkBoost(id int64, now time.Time) float64 {
	links, err := se.store.GetLinks(id)
	if err != nil || len(links) == 0 {
		return 0
	}

	var weightedSum, weightTotal float64
	for _, link := range links {
		neighborID := link.TargetID
		if neighborID == id {
			neighborID = link.SourceID
		}
		neighbor, err := se.store.Get(neighborID)
		if err != nil || neighbor == nil {
			continue
		}
		weightedSum += neighbor.Salience * link.Strength
		weightTotal += link.Strength
	}
	if weightTotal == 0 {
		return 0
	}
	boost := (weightedSum / weightTotal) * linkBoostScale
	if boost > linkBoostCap {
		boost = linkBoostCap
	}
	return boost
}

// tagBoost rewards the fraction of query tags that partially match one of
// the memory's tags (substring, either direction), capped at tagBoostCap.
func (se *SearchEngine) tagBoost(memTags, queryTags []string) float64 {
	if len(queryTags) == 0 {
		return 0
	}
	matched := 0
	for _, qt := range queryTags {
		if tagMatches(qt, memTags) {
			matched++
		}
	}
	boost := (float64(matched) / float64(len(queryTags))) * tagBoostCap
	if boost > tagBoostCap {
		boost = tagBoostCap
	}
	return boost
}

func tagMatches(queryTag string, tags []string) bool {
	qt := strings.ToLower(queryTag)
	if qt == "" {
		return false
	}
	for _, t := range tags {
		mt := strings.ToLower(t)
		if mt == "" {
			continue
		}
		if strings.Contains(mt, qt) || strings.Contains(qt, mt) {
			return true
		}
	}
	return false
}

// softTouchTop updates last_accessed_at (not salience/access_count) for the
// top few results of a search, and boosts their working-memory activation,
// spreading across their links.
func (se *SearchEngine) softTouchTop(results []SearchResult) {
	n := softAccessTopN
	if n > len(results) {
		n = len(results)
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		id := results[i].ID
		se.store.TouchAccess(id)
		if se.activation != nil {
			links, _ := se.store.GetLinks(id)
			se.activation.Boost(id, activationDefaultBoost, links, now)
		}
	}
}
