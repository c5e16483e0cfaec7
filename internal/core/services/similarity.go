package services

import (
	"github.com/custodia-labs/kbase/internal/core/domain"
)

// Weights of the heuristic similarity blend. The sum of the maximum
// contributions is similarityNorm.
const (
	keyWeight      = 0.6
	valueWeight    = 0.4
	keywordWeight  = 0.3
	categoryWeight = 0.2
	similarityNorm = 1.5
)

// sequenceRatio returns the Ratcliff/Obershelp similarity of a and b:
// twice the number of matching runes divided by the total rune count.
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

// matchingRunes sums the lengths of the longest common substrings found by
// recursively splitting around each match.
func matchingRunes(a, b []rune) int {
	type span struct{ alo, ahi, blo, bhi int }
	total := 0
	stack := []span{{0, len(a), 0, len(b)}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, j, k := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		total += k
		stack = append(stack, span{s.alo, i, s.blo, j}, span{i + k, s.ahi, j + k, s.bhi})
	}
	return total
}

// longestMatch finds the longest common substring of a[alo:ahi] and
// b[blo:bhi], preferring the earliest in a and then in b.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo
	prev := make([]int, bhi-blo+1)
	cur := make([]int, bhi-blo+1)
	for i := alo; i < ahi; i++ {
		for j := blo; j < bhi; j++ {
			if a[i] == b[j] {
				k := prev[j-blo] + 1
				cur[j-blo+1] = k
				if k > bestk {
					besti, bestj, bestk = i-k+1, j-k+1, k
				}
			} else {
				cur[j-blo+1] = 0
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, bestk
}

// keywordJaccard returns the Jaccard index of the folded keyword sets, or 0
// when either set is empty.
func keywordJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]struct{}, len(a))
	for _, k := range a {
		sa[normalizeKey(k)] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, k := range b {
		sb[normalizeKey(k)] = struct{}{}
	}
	inter := 0
	for k := range sa {
		if _, ok := sb[k]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// recordSimilarity blends key, value, keyword and category similarity into
// a score in [0,1].
func recordSimilarity(a, b domain.Record) float64 {
	score := keyWeight*sequenceRatio(normalizeKey(a.Key), normalizeKey(b.Key)) +
		valueWeight*sequenceRatio(normalizeKey(a.Value), normalizeKey(b.Value)) +
		keywordWeight*keywordJaccard(a.Metadata.Keywords, b.Metadata.Keywords)
	if a.Metadata.Category != "" && normalizeKey(a.Metadata.Category) == normalizeKey(b.Metadata.Category) {
		score += categoryWeight
	}
	return min(score/similarityNorm, 1)
}

// heuristicGroups clusters records greedily: each unassigned record starts
// a group and absorbs every later unassigned record whose similarity to it
// reaches threshold. Every index appears in exactly one group.
func heuristicGroups(records []domain.Record, threshold float64) [][]int {
	assigned := make([]bool, len(records))
	var groups [][]int
	for i := range records {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []int{i}
		for j := i + 1; j < len(records); j++ {
			if !assigned[j] && recordSimilarity(records[i], records[j]) >= threshold {
				assigned[j] = true
				group = append(group, j)
			}
		}
		groups = append(groups, group)
	}
	return groups
}
