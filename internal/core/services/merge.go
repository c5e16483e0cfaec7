package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
)

// MergeEngine compacts a batch of records: exact duplicates are collapsed,
// candidate groups are found by the grouping oracle (with embeddings and
// clustering in front of it for large batches), and each group is merged
// into one record by the merge oracle.
//
// Oracle failures never fail a compaction. Grouping falls back to the
// similarity heuristic and a failed merge keeps the group's first record
// with the whole group's lineage.
type MergeEngine struct {
	llm       driven.LLMService
	prompts   driven.PromptStore
	prefilter *Prefilter
	metrics   driven.Metrics
	cfg       domain.CompactionConfig
	now       func() time.Time
	newID     func() string
	maxTokens int
}

// MergeEngineConfig holds optional collaborators of the merge engine.
type MergeEngineConfig struct {
	Compaction domain.CompactionConfig
	Embedder   driven.EmbeddingService
	Tokenizer  driven.Tokenizer
	Prompts    driven.PromptStore
	Metrics    driven.Metrics
	Now        func() time.Time
	NewID      func() string

	// MaxTokens caps each oracle reply. Zero means DefaultOracleMaxTokens.
	MaxTokens int
}

// DefaultOracleMaxTokens caps grouping and merge replies.
const DefaultOracleMaxTokens = 2048

// NewMergeEngine creates a merge engine. llm may be nil.
func NewMergeEngine(llm driven.LLMService, cfg MergeEngineConfig) *MergeEngine {
	defaults := domain.DefaultCompactionConfig()
	c := cfg.Compaction
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if c.FullAnalysisLimit <= 0 {
		c.FullAnalysisLimit = defaults.FullAnalysisLimit
	}
	if c.TargetBatchSize <= 0 {
		c.TargetBatchSize = defaults.TargetBatchSize
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = defaults.MinClusterSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaults.MinSamples
	}
	if c.MergeWorkers <= 0 {
		c.MergeWorkers = defaults.MergeWorkers
	}
	if c.EmbeddingWorkers <= 0 {
		c.EmbeddingWorkers = defaults.EmbeddingWorkers
	}
	if c.EmbeddingTokenBudget <= 0 {
		c.EmbeddingTokenBudget = defaults.EmbeddingTokenBudget
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultOracleMaxTokens
	}

	return &MergeEngine{
		llm:       llm,
		prompts:   cfg.Prompts,
		prefilter: NewPrefilter(cfg.Embedder, cfg.Tokenizer, c),
		metrics:   cfg.Metrics,
		cfg:       c,
		now:       cfg.Now,
		newID:     cfg.NewID,
		maxTokens: cfg.MaxTokens,
	}
}

// Compact merges records. The result never holds more records than the
// input and every input id is either kept or listed in a lineage. An error
// is returned only when ctx is cancelled.
func (e *MergeEngine) Compact(ctx context.Context, records []domain.Record) (*domain.CompactionResult, error) {
	start := e.now()
	result := &domain.CompactionResult{OriginalCount: len(records), GroupingMode: domain.GroupingNone}
	if len(records) == 0 {
		return result, nil
	}

	deduped, removed := exactDedup(records, start)
	result.DuplicatesRemoved = removed
	logger.Debug("merge: %d records, %d exact duplicates removed", len(records), removed)

	groups, mode := e.group(ctx, deduped)
	result.GroupingMode = mode

	merged, failures, err := e.mergeGroups(ctx, deduped, groups)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if len(g) > 1 {
			result.GroupsMerged++
		}
	}
	result.Records = merged
	result.MergeFailures = failures
	result.FinalCount = len(merged)
	result.Duration = e.now().Sub(start)

	logger.Debug("merge: %d -> %d records (%s grouping, %d groups merged, %d merge failures)",
		result.OriginalCount, result.FinalCount, mode, result.GroupsMerged, failures)
	return result, nil
}

// group partitions record indices into candidate groups.
func (e *MergeEngine) group(ctx context.Context, records []domain.Record) ([][]int, domain.GroupingMode) {
	if len(records) < 2 {
		return completeGroups(nil, len(records)), domain.GroupingNone
	}
	if len(records) <= e.cfg.FullAnalysisLimit {
		groups, heuristic := e.groupBatch(ctx, records)
		if heuristic {
			return groups, domain.GroupingHeuristic
		}
		return groups, domain.GroupingOracle
	}

	batches, mode := e.prefilter.Batches(ctx, records)
	var groups [][]int
	for _, batch := range batches {
		if len(batch) == 1 {
			groups = append(groups, batch)
			continue
		}
		sub := make([]domain.Record, len(batch))
		for i, idx := range batch {
			sub[i] = records[idx]
		}
		local, heuristic := e.groupBatch(ctx, sub)
		if heuristic {
			mode = domain.GroupingHeuristic
		}
		for _, g := range local {
			global := make([]int, len(g))
			for i, idx := range g {
				global[i] = batch[idx]
			}
			groups = append(groups, global)
		}
	}
	return groups, mode
}

// groupBatch asks the grouping oracle to partition one batch and falls back
// to the similarity heuristic. The second result reports the fallback.
func (e *MergeEngine) groupBatch(ctx context.Context, records []domain.Record) ([][]int, bool) {
	if e.llm == nil {
		return heuristicGroups(records, e.cfg.SimilarityThreshold), true
	}

	var list strings.Builder
	for i, r := range records {
		fmt.Fprintf(&list, "%d. Q: %s\n   A: %s\n\n", i, r.Key, r.Value)
	}
	prompt := fmt.Sprintf(e.loadPrompt(driven.PromptGroup), list.String())

	reply, err := e.call(ctx, "group", prompt)
	if err != nil {
		logger.Warn("merge: grouping oracle failed, using similarity heuristic: %v", err)
		return heuristicGroups(records, e.cfg.SimilarityThreshold), true
	}
	groups, ok := parseGroups(reply, len(records))
	if !ok {
		logger.Warn("merge: grouping reply unparseable, using similarity heuristic")
		return heuristicGroups(records, e.cfg.SimilarityThreshold), true
	}
	return completeGroups(groups, len(records)), false
}

// mergeGroups produces one record per group, merging groups of two or more
// concurrently. Output follows the position of each group's first member.
func (e *MergeEngine) mergeGroups(ctx context.Context, records []domain.Record, groups [][]int) ([]domain.Record, int, error) {
	sorted := make([][]int, len(groups))
	for i, g := range groups {
		sorted[i] = slices.Clone(g)
		slices.Sort(sorted[i])
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i][0] < sorted[j][0] })

	out := make([]domain.Record, len(sorted))
	var (
		mu       sync.Mutex
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MergeWorkers)
	for i, group := range sorted {
		if len(group) == 1 {
			out[i] = records[group[0]]
			continue
		}
		members := make([]domain.Record, len(group))
		for j, idx := range group {
			members[j] = records[idx]
		}
		g.Go(func() error {
			r, ok := e.mergeGroup(gctx, members)
			out[i] = r
			if !ok {
				mu.Lock()
				failures++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return out, failures, nil
}

// mergeGroup merges members through the oracle. On failure it returns the
// first member carrying the lineage of the others and false.
func (e *MergeEngine) mergeGroup(ctx context.Context, members []domain.Record) (domain.Record, bool) {
	now := e.now()
	keepFirst := func() domain.Record {
		var others []string
		for _, m := range members[1:] {
			others = append(others, m.CoveredIDs()...)
		}
		return members[0].WithLineage(domain.MergeMethodKeepFirst, now, others...)
	}
	if e.llm == nil {
		return keepFirst(), false
	}

	type mergeInput struct {
		Question   string   `json:"question"`
		Answer     string   `json:"answer"`
		Category   string   `json:"category,omitempty"`
		Keywords   []string `json:"keywords,omitempty"`
		Confidence float64  `json:"confidence"`
		SourceID   string   `json:"source_id"`
	}
	inputs := make([]mergeInput, len(members))
	for i, m := range members {
		inputs[i] = mergeInput{
			Question:   m.Key,
			Answer:     m.Value,
			Category:   m.Metadata.Category,
			Keywords:   m.Metadata.Keywords,
			Confidence: m.EffectiveConfidence(),
			SourceID:   m.SourceID,
		}
	}
	payload, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		logger.Warn("merge: encode group: %v", err)
		return keepFirst(), false
	}

	reply, err := e.call(ctx, "merge", fmt.Sprintf(e.loadPrompt(driven.PromptMerge), string(payload)))
	if err != nil {
		logger.Warn("merge: merge oracle failed for %d records, keeping first: %v", len(members), err)
		return keepFirst(), false
	}
	pair, err := parseMerged(reply)
	if err != nil {
		logger.Warn("merge: merge reply unusable for %d records, keeping first: %v", len(members), err)
		return keepFirst(), false
	}

	return e.synthesise(members, pair, now), true
}

// synthesise builds the merged record from the oracle's pair.
func (e *MergeEngine) synthesise(members []domain.Record, pair *mergedPair, now time.Time) domain.Record {
	created := members[0].CreatedAt
	sources := make(map[string]struct{})
	var keywords []string
	confidence := 0.0
	for _, m := range members {
		if m.CreatedAt.Before(created) {
			created = m.CreatedAt
		}
		sources[m.SourceID] = struct{}{}
		for _, k := range m.Metadata.Keywords {
			if !slices.Contains(keywords, k) {
				keywords = append(keywords, k)
			}
		}
		confidence = max(confidence, m.EffectiveConfidence())
	}

	source := members[0].SourceID
	if len(sources) > 1 {
		source = fmt.Sprintf("merged_from_%d_sources", len(sources))
	}
	category := pair.Category
	if category == "" {
		category = members[0].Metadata.Category
	}
	if len(pair.Keywords) > 0 {
		keywords = pair.Keywords
	}
	if pair.Confidence > 0 && pair.Confidence <= 1 {
		confidence = pair.Confidence
	}

	return domain.Record{
		ID:        e.newID(),
		Key:       strings.TrimSpace(pair.Question),
		Value:     strings.TrimSpace(pair.Answer),
		SourceID:  source,
		CreatedAt: created,
		Metadata: domain.Metadata{
			Category:    category,
			Keywords:    keywords,
			Confidence:  confidence,
			OriginalIDs: domain.UnionCoveredIDs(members...),
			MergeMethod: domain.MergeMethodOracle,
			MergeNotes:  pair.MergeNotes,
			MergedAt:    &now,
		},
	}
}

// call runs one oracle request and records its latency.
func (e *MergeEngine) call(ctx context.Context, op, prompt string) (string, error) {
	start := time.Now()
	var usage driven.TokenUsage
	reply, err := e.llm.Generate(ctx, prompt, driven.GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   e.maxTokens,
		Usage:       &usage,
	})
	if e.metrics != nil {
		e.metrics.RecordOracleCall(op, time.Since(start), usage, err)
	}
	logger.Debug("merge: %s oracle call used %d tokens", op, usage.Total())
	if err != nil {
		return "", &domain.OracleError{Op: op, Err: err}
	}
	return reply, nil
}

func (e *MergeEngine) loadPrompt(name string) string {
	return loadPrompt(e.prompts, name)
}

// loadPrompt loads a prompt from the store, falling back to the built-in
// template if the store is missing or fails.
func loadPrompt(store driven.PromptStore, name string) string {
	if store != nil {
		if p, err := store.Load(name); err == nil && strings.Contains(p, "%s") {
			return p
		}
	}
	return driven.DefaultPrompts[name]
}
