package subtitle

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/normalisers/plaintext"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles .vtt and .srt caption files.
type Normaliser struct{}

// New creates a new subtitle normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Name returns the format name.
func (n *Normaliser) Name() string {
	return "subtitle"
}

// Extensions returns the file extensions this normaliser handles.
func (n *Normaliser) Extensions() []string {
	return []string{".vtt", ".srt"}
}

var (
	timing     = regexp.MustCompile(`^(?:\d{1,3}:)?\d{2}:\d{2}[.,]\d{3}\s+-->`)
	cueNumber  = regexp.MustCompile(`^\d+$`)
	voiceTag   = regexp.MustCompile(`<v(?:\.[\w.-]+)?\s+([^>]+)>`)
	styleTags  = regexp.MustCompile(`</?[a-z]+(?:\.[\w.-]+)*[^>]*>`)
	speakerCue = regexp.MustCompile(`^([^:]{1,40}):\s+(.*)$`)
)

// Normalise returns the caption text, one line per speaker turn.
func (n *Normaliser) Normalise(ctx context.Context, data []byte) (string, error) {
	text, err := plaintext.New().Normalise(ctx, data)
	if err != nil {
		return "", err
	}
	return Strip(text), nil
}

// Strip converts caption text to speaker turns.
func Strip(content string) string {
	var (
		turns   []string
		speaker string
		current []string
		skip    bool
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		line := strings.Join(current, " ")
		if speaker != "" {
			line = speaker + ": " + line
		}
		turns = append(turns, line)
		current = nil
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			skip = false
			continue
		case skip:
			continue
		case line == "WEBVTT" || strings.HasPrefix(line, "WEBVTT "):
			continue
		case strings.HasPrefix(line, "NOTE") || line == "STYLE" || line == "REGION":
			// Block runs until the next blank line.
			skip = true
			continue
		case timing.MatchString(line), cueNumber.MatchString(line):
			continue
		}

		who := ""
		if m := voiceTag.FindStringSubmatch(line); m != nil {
			who = strings.TrimSpace(m[1])
		}
		line = strings.TrimSpace(styleTags.ReplaceAllString(line, ""))
		if who == "" {
			if m := speakerCue.FindStringSubmatch(line); m != nil {
				who, line = m[1], m[2]
			}
		}
		if line == "" {
			continue
		}
		if who != "" && who != speaker {
			flush()
			speaker = who
		}
		if len(current) > 0 && current[len(current)-1] == line {
			continue
		}
		current = append(current, line)
	}
	flush()
	return strings.Join(turns, "\n")
}
