package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Payload keys understood by the extraction job.
const (
	PayloadPath = "path"
	PayloadText = "text"
)

// extractedConfidence is assigned to every record the extractor produces.
const extractedConfidence = 0.9

// Extractor turns cleaned transcripts into records through the extraction
// oracle and registers the result in the status ledger.
type Extractor struct {
	llm        driven.LLMService
	prompts    driven.PromptStore
	store      driving.KnowledgeStore
	persist    bool
	normaliser driven.TranscriptNormaliser
	splitter   driven.TextSplitter
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithNormaliser converts transcript files to plain text by format before
// extraction. Without one, files are read as-is.
func WithNormaliser(n driven.TranscriptNormaliser) ExtractorOption {
	return func(x *Extractor) { x.normaliser = n }
}

// WithSplitter sends long transcripts to the oracle in pieces. Without
// one, the whole transcript goes into a single prompt.
func WithSplitter(s driven.TextSplitter) ExtractorOption {
	return func(x *Extractor) { x.splitter = s }
}

// NewExtractor creates an extractor. llm may be nil, in which case every
// job fails with domain.ErrLLMUnavailable.
func NewExtractor(
	llm driven.LLMService,
	prompts driven.PromptStore,
	store driving.KnowledgeStore,
	persist bool,
	opts ...ExtractorOption,
) *Extractor {
	x := &Extractor{llm: llm, prompts: prompts, store: store, persist: persist}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Handle is the TaskHandler for domain.TaskKindExtract. The payload holds
// either a transcript path or the transcript text. The result is the
// number of records appended.
func (x *Extractor) Handle(ctx context.Context, task domain.Task) (any, error) {
	if x.llm == nil {
		return nil, domain.ErrLLMUnavailable
	}

	text, sourceID, err := x.transcript(ctx, task)
	if err != nil {
		return nil, err
	}

	chunks := []string{text}
	if x.splitter != nil {
		if split := x.splitter.Split(text); len(split) > 0 {
			chunks = split
		}
	}

	template := loadPrompt(x.prompts, driven.PromptExtract)
	seen := make(map[string]bool)
	var records []domain.Record
	for i, chunk := range chunks {
		reply, err := x.llm.Chat(ctx, []driven.ChatMessage{{Role: "user", Content: fmt.Sprintf(template, chunk)}},
			driven.ChatOptions{Temperature: 0.1})
		if err != nil {
			return nil, &domain.OracleError{Op: "extract", Err: err}
		}
		for _, p := range parsePairs(reply) {
			// Overlapping chunks can yield the same question twice.
			k := normalizeKey(p.Question)
			if seen[k] {
				continue
			}
			seen[k] = true
			records = append(records, domain.Record{
				Key:      p.Question,
				Value:    p.Answer,
				SourceID: sourceID,
				Metadata: domain.Metadata{
					Confidence: extractedConfidence,
					Extra:      map[string]any{"extraction_method": "llm", "chunk": i},
				},
			})
		}
	}
	if len(records) == 0 {
		logger.Warn("extract: no records found in %s", sourceID)
	}
	if err := x.store.Append(ctx, records, x.persist); err != nil {
		return nil, fmt.Errorf("extract %s: %w", sourceID, err)
	}

	meta := map[string]any{
		"record_count":    len(records),
		"chunk_count":     len(chunks),
		"extraction_time": time.Now().UTC().Format(time.RFC3339),
	}
	if err := x.store.UpdateStatus(ctx, sourceID, domain.StatusQAExtracted, meta); err != nil {
		return nil, fmt.Errorf("extract %s: %w", sourceID, err)
	}
	logger.Debug("extract: %d records from %s in %d chunks", len(records), sourceID, len(chunks))
	return len(records), nil
}

// transcript loads the task's transcript and normalises file content.
func (x *Extractor) transcript(ctx context.Context, task domain.Task) (text, sourceID string, err error) {
	text, sourceID, path, err := transcriptOf(task)
	if err != nil || path == "" || x.normaliser == nil {
		return text, sourceID, err
	}
	text, err = x.normaliser.Normalise(ctx, path, []byte(text))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("%w: transcript %s has no text", domain.ErrInvalidInput, path)
	}
	return text, sourceID, nil
}

// transcriptOf returns the transcript text and the source id for a task,
// and the file path when the text was read from disk.
func transcriptOf(task domain.Task) (text, sourceID, path string, err error) {
	sourceID = task.SourceID
	if t, ok := task.Payload[PayloadText].(string); ok && strings.TrimSpace(t) != "" {
		if sourceID == "" {
			return "", "", "", fmt.Errorf("%w: inline transcript needs a source id", domain.ErrInvalidInput)
		}
		return t, sourceID, "", nil
	}

	path, _ = task.Payload[PayloadPath].(string)
	if path == "" {
		path = sourceID
	}
	if path == "" {
		return "", "", "", fmt.Errorf("%w: extract task has no path or text", domain.ErrInvalidInput)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", "", fmt.Errorf("%w: transcript %s does not exist", domain.ErrInvalidInput, path)
		}
		return "", "", "", &domain.TransientIOError{Op: "read transcript", Err: err}
	}
	if sourceID == "" {
		sourceID = path
	}
	return string(data), sourceID, path, nil
}
