package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/custodia-labs/kbase/internal/cluster"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Embedding blend of key and value vectors.
const (
	embedKeyWeight   = 0.6
	embedValueWeight = 0.4

	// maxEmbedBatch caps the texts sent in one embedding request.
	maxEmbedBatch = 35
)

// Prefilter splits a large batch of records into coarse batches of likely
// duplicates so the grouping oracle only sees a few dozen records at a time.
type Prefilter struct {
	embedder  driven.EmbeddingService
	tokenizer driven.Tokenizer
	cfg       domain.CompactionConfig
}

// NewPrefilter creates a prefilter. embedder may be nil, in which case
// batches are cut sequentially. tokenizer may be nil, in which case token
// counts are estimated from text length.
func NewPrefilter(embedder driven.EmbeddingService, tokenizer driven.Tokenizer, cfg domain.CompactionConfig) *Prefilter {
	return &Prefilter{embedder: embedder, tokenizer: tokenizer, cfg: cfg}
}

// Batches returns coarse batches of record indices. Every index appears in
// exactly one batch.
func (p *Prefilter) Batches(ctx context.Context, records []domain.Record) ([][]int, domain.GroupingMode) {
	if p.embedder == nil {
		return chunkIndices(len(records), p.cfg.FullAnalysisLimit), domain.GroupingChunked
	}

	points, err := p.embed(ctx, records)
	if err != nil {
		logger.Warn("prefilter: embeddings unavailable, chunking sequentially: %v", err)
		return chunkIndices(len(records), p.cfg.FullAnalysisLimit), domain.GroupingChunked
	}

	res, err := cluster.HDBSCAN(points, cluster.Config{
		MinClusterSize: p.cfg.MinClusterSize,
		MinSamples:     p.cfg.MinSamples,
		Metric:         cluster.Cosine,
	})
	if err != nil {
		logger.Warn("prefilter: clustering failed, chunking sequentially: %v", err)
		return chunkIndices(len(records), p.cfg.FullAnalysisLimit), domain.GroupingChunked
	}

	batches := balanceClusters(res, points, p.cfg.TargetBatchSize)
	logger.Debug("prefilter: %d records, %d clusters, %d noise, %d batches",
		len(records), res.NumClusters, len(res.NoisePoints()), len(batches))
	return batches, domain.GroupingClustered
}

// embed returns one L2-normalised vector per record blending key and value
// embeddings.
func (p *Prefilter) embed(ctx context.Context, records []domain.Record) ([][]float64, error) {
	n := len(records)
	texts := make([]string, 0, 2*n)
	for _, r := range records {
		texts = append(texts, r.Key)
	}
	for _, r := range records {
		texts = append(texts, r.Value)
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.EmbeddingWorkers, 1))
	for _, batch := range p.embedBatches(texts) {
		g.Go(func() error {
			batchTexts := make([]string, len(batch))
			for i, idx := range batch {
				batchTexts[i] = texts[idx]
			}
			vecs, err := p.embedder.EmbedBatch(gctx, batchTexts)
			if err != nil {
				return &domain.OracleError{Op: "embed", Err: err}
			}
			if len(vecs) != len(batch) {
				return &domain.OracleError{
					Op:  "embed",
					Err: fmt.Errorf("%w: %d vectors for %d texts", domain.ErrMalformedResponse, len(vecs), len(batch)),
				}
			}
			for i, idx := range batch {
				vectors[idx] = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	points := make([][]float64, n)
	for i := 0; i < n; i++ {
		key, value := toFloat64(vectors[i]), toFloat64(vectors[n+i])
		if len(key) == 0 || len(key) != len(value) {
			return nil, fmt.Errorf("%w: embedding dimensions %d and %d", domain.ErrMalformedResponse, len(key), len(value))
		}
		v := make([]float64, len(key))
		floats.ScaleTo(v, embedKeyWeight, key)
		floats.AddScaled(v, embedValueWeight, value)
		if norm := floats.Norm(v, 2); norm > 0 {
			floats.Scale(1/norm, v)
		}
		points[i] = v
	}
	return points, nil
}

// embedBatches packs text indices into requests bounded by the token
// budget and maxEmbedBatch.
func (p *Prefilter) embedBatches(texts []string) [][]int {
	budget := p.cfg.EmbeddingTokenBudget
	var (
		batches [][]int
		cur     []int
		tokens  int
	)
	for i, t := range texts {
		n := p.countTokens(t)
		if len(cur) > 0 && (len(cur) >= maxEmbedBatch || (budget > 0 && tokens+n > budget)) {
			batches = append(batches, cur)
			cur, tokens = nil, 0
		}
		cur = append(cur, i)
		tokens += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func (p *Prefilter) countTokens(text string) int {
	if p.tokenizer != nil {
		return p.tokenizer.Count(text)
	}
	return len(text)/4 + 1
}

// balanceClusters turns clusters into batches near target size. Large
// clusters are ordered so similar records stay adjacent and then split;
// small clusters are packed together; noise points become single batches.
func balanceClusters(res cluster.Result, points [][]float64, target int) [][]int {
	target = max(target, 2)
	var (
		batches [][]int
		pending []int
	)
	for _, c := range res.Clusters() {
		if len(c) > target {
			batches = append(batches, chunkSlice(similarityOrder(c, points), target)...)
			continue
		}
		if len(pending)+len(c) > target {
			batches = append(batches, pending)
			pending = nil
		}
		pending = append(pending, c...)
	}
	if len(pending) > 0 {
		batches = append(batches, pending)
	}
	for _, i := range res.NoisePoints() {
		batches = append(batches, []int{i})
	}
	return batches
}

// similarityOrder walks a cluster greedily, always stepping to the most
// similar unvisited member of the last one.
func similarityOrder(members []int, points [][]float64) []int {
	visited := make([]bool, len(members))
	order := make([]int, 0, len(members))
	cur := 0
	visited[0] = true
	order = append(order, members[0])
	for len(order) < len(members) {
		best, bestSim := -1, -2.0
		for j, m := range members {
			if visited[j] {
				continue
			}
			if sim := floats.Dot(points[members[cur]], points[m]); sim > bestSim {
				best, bestSim = j, sim
			}
		}
		visited[best] = true
		order = append(order, members[best])
		cur = best
	}
	return order
}

func chunkIndices(n, size int) [][]int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return chunkSlice(idx, size)
}

func chunkSlice(idx []int, size int) [][]int {
	size = max(size, 1)
	var out [][]int
	for start := 0; start < len(idx); start += size {
		out = append(out, idx[start:min(start+size, len(idx))])
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
