package file

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// LegacySourceID is assigned to records read from blocks without a
// metadata line.
const LegacySourceID = "existing_data"

const (
	fileTitle    = "# Knowledge Base"
	keyPrefix    = "## Q: "
	valuePrefix  = "**A:** "
	metaPrefix   = "<!-- kbase:record "
	metaSuffix   = " -->"
	blockDivider = "---"
	escapeMark   = `\`
)

// recordMeta is the machine-readable part of a record block.
type recordMeta struct {
	ID        string          `json:"id"`
	SourceID  string          `json:"source_id"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  domain.Metadata `json:"metadata"`
}

// encode renders records as the durable markdown document.
func encode(records []domain.Record, now time.Time) ([]byte, error) {
	sources := make(map[string]struct{})
	for _, r := range records {
		sources[r.SourceID] = struct{}{}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n\n", fileTitle)
	fmt.Fprintf(&buf, "Last updated: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Total records: %d\n", len(records))
	fmt.Fprintf(&buf, "Sources: %d\n\n", len(sources))
	fmt.Fprintf(&buf, "%s\n\n", blockDivider)

	for _, r := range records {
		meta, err := json.Marshal(recordMeta{
			ID:        r.ID,
			SourceID:  r.SourceID,
			CreatedAt: r.CreatedAt.UTC(),
			Metadata:  r.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		buf.WriteString(keyPrefix)
		buf.WriteString(escapeLines(collapseBlankLines(r.Key)))
		buf.WriteString("\n")
		buf.WriteString(metaPrefix)
		buf.Write(meta)
		buf.WriteString(metaSuffix)
		buf.WriteString("\n\n")
		buf.WriteString(valuePrefix)
		buf.WriteString(escapeLines(strings.TrimRight(r.Value, " \t\r\n")))
		buf.WriteString("\n\n")
		buf.WriteString(blockDivider)
		buf.WriteString("\n\n")
	}
	return buf.Bytes(), nil
}

// decode parses a durable document. Blocks without a metadata line get an
// id from newID, LegacySourceID as source and now as creation time.
func decode(data []byte, newID func() string, now time.Time) ([]domain.Record, error) {
	var (
		records []domain.Record
		block   []string
		lineNo  int
		start   int
	)
	flush := func() error {
		if block == nil {
			return nil
		}
		r, err := decodeBlock(block, newID, now)
		if err != nil {
			return fmt.Errorf("record at line %d: %w", start, err)
		}
		records = append(records, r)
		block = nil
		return nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.HasPrefix(line, keyPrefix) {
			if err := flush(); err != nil {
				return nil, err
			}
			start = lineNo
			block = []string{line}
			continue
		}
		if block != nil {
			block = append(block, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

func decodeBlock(lines []string, newID func() string, now time.Time) (domain.Record, error) {
	var (
		keyLines   []string
		valueLines []string
		meta       *recordMeta
		inValue    bool
	)
	keyLines = append(keyLines, strings.TrimPrefix(lines[0], keyPrefix))

	for _, line := range lines[1:] {
		switch {
		case inValue:
			valueLines = append(valueLines, unescapeLine(line))
		case strings.HasPrefix(line, valuePrefix) || line == strings.TrimSpace(valuePrefix):
			inValue = true
			valueLines = append(valueLines, strings.TrimPrefix(strings.TrimPrefix(line, valuePrefix), strings.TrimSpace(valuePrefix)))
		case strings.HasPrefix(line, metaPrefix) && strings.HasSuffix(line, metaSuffix):
			raw := strings.TrimSuffix(strings.TrimPrefix(line, metaPrefix), metaSuffix)
			var m recordMeta
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return domain.Record{}, fmt.Errorf("decode metadata: %w", err)
			}
			meta = &m
		case strings.TrimSpace(line) == "":
		default:
			keyLines = append(keyLines, unescapeLine(line))
		}
	}

	// Drop the trailing divider and the blank lines around it.
	for len(valueLines) > 0 {
		last := strings.TrimSpace(valueLines[len(valueLines)-1])
		if last != "" && last != blockDivider {
			break
		}
		valueLines = valueLines[:len(valueLines)-1]
		if last == blockDivider {
			break
		}
	}

	r := domain.Record{
		Key:   strings.TrimSpace(strings.Join(keyLines, "\n")),
		Value: strings.TrimRight(strings.Join(valueLines, "\n"), " \t\r\n"),
	}
	if meta != nil {
		r.ID = meta.ID
		r.SourceID = meta.SourceID
		r.CreatedAt = meta.CreatedAt
		r.Metadata = meta.Metadata
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if r.SourceID == "" {
		r.SourceID = LegacySourceID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r, nil
}

// collapseBlankLines removes empty lines, which would otherwise end the key
// section of a block.
func collapseBlankLines(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// reserved reports whether line, ignoring leading escape marks, would be
// read back as block structure.
func reserved(line string) bool {
	line = strings.TrimLeft(line, escapeMark)
	return strings.HasPrefix(line, keyPrefix) ||
		strings.HasPrefix(line, strings.TrimSpace(valuePrefix)) ||
		strings.HasPrefix(line, metaPrefix)
}

// escapeLines prefixes every line after the first that looks like block
// structure with one escape mark. The first line follows a prefix on the
// same line and never needs it.
func escapeLines(s string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		if reserved(lines[i]) {
			lines[i] = escapeMark + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeLine(line string) string {
	if strings.HasPrefix(line, escapeMark) && reserved(line) {
		return line[len(escapeMark):]
	}
	return line
}
