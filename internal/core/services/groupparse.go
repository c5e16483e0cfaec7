package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/kbase/internal/logger"
)

var (
	// strictGroupLine matches "GROUP: 0,1,2" with ASCII or full-width
	// punctuation.
	strictGroupLine = regexp.MustCompile(`(?i)^\s*[*#\-\s]*group\s*\d*\s*[:：]\s*([\d\s,，、]+?)\s*$`)

	groupWord = regexp.MustCompile(`(?i)group`)
	// groupLabel is an ordinal right after the word, as in "Group 2" or
	// "group #2".
	groupLabel = regexp.MustCompile(`^[\s*_]*#?\d+`)
	integers   = regexp.MustCompile(`\d+`)
)

// parseGroups reads an oracle grouping reply for n records. Strict
// "GROUP: i,j" lines are tried first, then any line mentioning "group"
// followed by numbers, where a number directly after the word is the
// group's label and not a member. Out-of-range and repeated indices are
// dropped.
//
// An empty reply means every record is a single and returns ok. A
// non-empty reply yielding no group returns !ok so the caller can fall
// back to the heuristic.
func parseGroups(text string, n int) (groups [][]int, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, true
	}
	lines := strings.Split(text, "\n")

	var candidates [][]int
	for _, line := range lines {
		if m := strictGroupLine.FindStringSubmatch(line); m != nil {
			candidates = append(candidates, parseIndices(m[1]))
		}
	}
	if len(candidates) == 0 {
		for _, line := range lines {
			loc := groupWord.FindStringIndex(line)
			if loc == nil {
				continue
			}
			rest := line[loc[1]:]
			if label := groupLabel.FindString(rest); label != "" {
				rest = rest[len(label):]
				if idx := parseIndices(rest); len(idx) < 2 {
					logger.Warn("merge: cannot tell group label from members in %q, ignored", strings.TrimSpace(line))
					continue
				}
			}
			if idx := parseIndices(rest); len(idx) > 0 {
				candidates = append(candidates, idx)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	seen := make([]bool, n)
	for _, c := range candidates {
		var group []int
		for _, i := range c {
			switch {
			case i < 0 || i >= n:
				logger.Warn("merge: oracle referenced record %d of %d, ignored", i, n)
			case seen[i]:
				logger.Warn("merge: oracle placed record %d in more than one group, ignored", i)
			default:
				seen[i] = true
				group = append(group, i)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	if len(groups) == 0 {
		return nil, false
	}
	return groups, true
}

func parseIndices(s string) []int {
	var out []int
	for _, m := range integers.FindAllString(s, -1) {
		i, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		out = append(out, i)
	}
	return out
}

// completeGroups adds a single-member group for every index in [0,n) that
// groups does not mention.
func completeGroups(groups [][]int, n int) [][]int {
	seen := make([]bool, n)
	for _, g := range groups {
		for _, i := range g {
			seen[i] = true
		}
	}
	out := append([][]int(nil), groups...)
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, []int{i})
		}
	}
	return out
}
