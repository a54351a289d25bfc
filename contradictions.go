package cogmem

import (
	"regexp"
	"strings"
)

// contradictionPair is a pair of regexes: if one memory matches pos and
// another matches neg while discussing the same topic, they likely conflict.
// fragment, when set, extracts a captured noun phrase from each match; if
// the two fragments turn out to name the same thing (high Jaccard overlap)
// the pair is skipped, and it counts only when the fragments name different
// things: "use X" against "avoid Y" fires, while "use X" against "avoid X"
// does not.
type contradictionPair struct {
	name     string
	pos      *regexp.Regexp
	neg      *regexp.Regexp
	weight   float64 // 0.5-0.8: how strongly this pattern alone implies conflict
	fragment bool    // pos/neg each carry one capture group to compare
}

var contradictionPairs = []contradictionPair{
	{
		name:   "preference",
		pos:    regexp.MustCompile(`(?i)\b(always use|prefer|switch to)\b`),
		neg:    regexp.MustCompile(`(?i)\b(don't use|do not use|never use|stop using|avoid)\b`),
		weight: 0.6,
	},
	{
		name:   "status",
		pos:    regexp.MustCompile(`(?i)\b(works|working|fixed|resolved)\b`),
		neg:    regexp.MustCompile(`(?i)\b(doesn't work|does not work|broken|fails|failing)\b`),
		weight: 0.55,
	},
	{
		name:   "requirement",
		pos:    regexp.MustCompile(`(?i)\b(is required|must|should always)\b`),
		neg:    regexp.MustCompile(`(?i)\b(is optional|not required|should never)\b`),
		weight: 0.5,
	},
	{
		name:   "lifecycle",
		pos:    regexp.MustCompile(`(?i)\b(added|introduced|adopted)\b`),
		neg:    regexp.MustCompile(`(?i)\b(deprecated|removed|dropped)\b`),
		weight: 0.65,
	},
	{
		name:     "use-vs-avoid-target",
		pos:      regexp.MustCompile(`(?i)\buse\s+([a-z0-9_.+-]+)`),
		neg:      regexp.MustCompile(`(?i)\b(?:avoid|don't use|do not use)\s+([a-z0-9_.+-]+)`),
		weight:   0.8,
		fragment: true,
	},
}

const (
	fragmentJaccardCeiling = 0.80

	topicSameProjectWeight  = 0.3
	topicSameCategoryWeight = 0.2
	topicTagsWeight         = 0.3
	topicTitleWeight        = 0.2

	contradictionTopicFloor = 0.20
	contradictionScoreFloor = 0.40
	contradictionMinScore   = 0.30

	contradictionCandidateLimit = 200
)

// Contradiction records a suspected conflict between two memories.
type Contradiction struct {
	MemoryA    Memory
	MemoryB    Memory
	PatternHit string
	Topic      float64 // weighted project/category/tag/title similarity
	Score      float64 // matched pattern's weight * Topic
}

// topicSimilarity blends project/category match with tag and title overlap
// into a single estimate of whether two memories are discussing the same
// thing, independent of whether they agree or conflict about it.
func topicSimilarity(a, b Memory) float64 {
	var score float64
	if a.Project != "" && a.Project == b.Project {
		score += topicSameProjectWeight
	}
	if a.Category == b.Category {
		score += topicSameCategoryWeight
	}
	score += topicTagsWeight * jaccardSets(stringSet(a.Tags), stringSet(b.Tags))
	score += topicTitleWeight * jaccardSimilarity(a.Title, b.Title)
	return score
}

// CheckContradiction tests a single pair of memories for a conflicting claim
// on the same topic. Returns ok=false if there is no meaningful topic overlap
// or no pattern pair fires in opposite directions.
func CheckContradiction(a, b Memory) (Contradiction, bool) {
	if a.ID != 0 && a.ID == b.ID {
		return Contradiction{}, false
	}
	topic := topicSimilarity(a, b)
	if topic < contradictionTopicFloor {
		return Contradiction{}, false
	}

	textA := a.Title + " " + a.Content
	textB := b.Title + " " + b.Content

	var bestWeight float64
	var bestName string
	for _, pair := range contradictionPairs {
		aPos := pair.pos.FindStringSubmatch(textA)
		aNeg := pair.neg.FindStringSubmatch(textA)
		bPos := pair.pos.FindStringSubmatch(textB)
		bNeg := pair.neg.FindStringSubmatch(textB)

		var fired bool
		var fragA, fragB string
		switch {
		case aPos != nil && bNeg != nil:
			fired = true
			fragA, fragB = lastGroup(aPos), lastGroup(bNeg)
		case aNeg != nil && bPos != nil:
			fired = true
			fragA, fragB = lastGroup(aNeg), lastGroup(bPos)
		}
		if !fired {
			continue
		}
		if pair.fragment && jaccardSimilarity(fragA, fragB) > fragmentJaccardCeiling {
			continue
		}
		if pair.weight > bestWeight {
			bestWeight = pair.weight
			bestName = pair.name
		}
	}

	if bestWeight == 0 {
		return Contradiction{}, false
	}

	score := bestWeight * topic
	if score < contradictionMinScore {
		return Contradiction{}, false
	}
	return Contradiction{MemoryA: a, MemoryB: b, PatternHit: bestName, Topic: topic, Score: score}, true
}

func lastGroup(match []string) string {
	if len(match) == 0 {
		return ""
	}
	return match[len(match)-1]
}

// DetectAll scans a candidate set for pairwise contradictions scoring at
// least minScore. Callers typically bound the candidate set (e.g. the top
// 200 memories by salience*recency) so the O(n^2) comparison stays small.
func DetectAll(memories []Memory, minScore float64) []Contradiction {
	var out []Contradiction
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			if c, ok := CheckContradiction(memories[i], memories[j]); ok && c.Score >= minScore {
				out = append(out, c)
			}
		}
	}
	return out
}

// LinkAll persists a `contradicts` link for every detected contradiction,
// via the given link engine, and returns how many links were newly created
// (nil links from InsertLink's self-link/idempotency guard don't count).
func LinkAll(le *LinkEngine, contradictions []Contradiction) (int, error) {
	created := 0
	for _, c := range contradictions {
		link, err := le.CreateLink(c.MemoryA.ID, c.MemoryB.ID, RelationshipContradicts, c.Score)
		if err != nil {
			return created, err
		}
		if link != nil {
			created++
		}
	}
	return created, nil
}

// LinkAllTx is LinkAll run on a transaction an outer caller already holds
// open, so the consolidator can link contradictions as part of its single
// atomic pass.
func LinkAllTx(tx *Tx, le *LinkEngine, contradictions []Contradiction) (int, error) {
	created := 0
	for _, c := range contradictions {
		link, err := le.CreateLinkTx(tx, c.MemoryA.ID, c.MemoryB.ID, RelationshipContradicts, c.Score)
		if err != nil {
			return created, err
		}
		if link != nil {
			created++
		}
	}
	return created, nil
}

// summarizeContradiction formats a short human-readable description of a
// contradiction: both titles and the pattern that fired.
func summarizeContradiction(c Contradiction) string {
	return strings.TrimSpace(c.MemoryA.Title) + " <-> " + strings.TrimSpace(c.MemoryB.Title) + " (" + c.PatternHit + ")"
}
