package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// mergedPair is one record produced by the merge oracle.
type mergedPair struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
	MergeNotes string   `json:"merge_notes"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseMerged reads a merge oracle reply. JSON (fenced or bare, with or
// without a "merged_qa" wrapper) is tried first, then "Q:"/"A:" lines.
func parseMerged(text string) (*mergedPair, error) {
	if p, ok := parseMergedJSON(text); ok {
		return p, nil
	}
	pairs := parsePairs(text)
	if len(pairs) > 0 {
		return &mergedPair{Question: pairs[0].Question, Answer: pairs[0].Answer}, nil
	}
	return nil, fmt.Errorf("%w: no merged record in reply", domain.ErrMalformedResponse)
}

func parseMergedJSON(text string) (*mergedPair, bool) {
	var candidates []string
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		var wrapped struct {
			MergedQA *mergedPair `json:"merged_qa"`
		}
		if err := json.Unmarshal([]byte(c), &wrapped); err == nil && wrapped.MergedQA != nil && wrapped.MergedQA.valid() {
			return wrapped.MergedQA, true
		}
		var bare mergedPair
		if err := json.Unmarshal([]byte(c), &bare); err == nil && bare.valid() {
			return &bare, true
		}
	}
	return nil, false
}

func (p *mergedPair) valid() bool {
	return strings.TrimSpace(p.Question) != "" && strings.TrimSpace(p.Answer) != ""
}

// qaPair is a question and answer read from free text.
type qaPair struct {
	Question string
	Answer   string
}

var (
	questionLine = regexp.MustCompile(`^\s*(?:\*\*)?(?:Q|Question|问题?)\s*(?:\*\*)?\s*[:：]\s*(?:\*\*)?\s*(.*)$`)
	answerLine   = regexp.MustCompile(`^\s*(?:\*\*)?(?:A|Answer|答案?)\s*(?:\*\*)?\s*[:：]\s*(?:\*\*)?\s*(.*)$`)
)

// parsePairs reads "Q: ..." / "A: ..." pairs. Lines that follow a question
// or answer without a new marker continue it. Pairs missing either side are
// dropped.
func parsePairs(text string) []qaPair {
	var (
		pairs []qaPair
		q, a  []string
		field *[]string
	)
	flush := func() {
		question := strings.TrimSpace(strings.Join(q, "\n"))
		answer := strings.TrimSpace(strings.Join(a, "\n"))
		answer = strings.TrimSpace(strings.TrimSuffix(answer, "---"))
		if question != "" && answer != "" {
			pairs = append(pairs, qaPair{Question: question, Answer: answer})
		}
		q, a, field = nil, nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		if m := questionLine.FindStringSubmatch(line); m != nil {
			flush()
			q = []string{m[1]}
			field = &q
			continue
		}
		if m := answerLine.FindStringSubmatch(line); m != nil && q != nil {
			a = []string{m[1]}
			field = &a
			continue
		}
		if field != nil {
			*field = append(*field, line)
		}
	}
	flush()
	return pairs
}
