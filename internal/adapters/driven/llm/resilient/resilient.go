// Package resilient wraps oracle services with a shared rate limit, a
// per-call timeout and retries for transient failures.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure the wrappers implement the interfaces.
var (
	_ driven.LLMService       = (*LLM)(nil)
	_ driven.EmbeddingService = (*Embedder)(nil)
)

const (
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 10 * time.Second
)

// Gate is the call policy shared by every wrapped service. One Gate per
// process keeps LLM and embedding calls under the same budget.
type Gate struct {
	limiter        *rate.Limiter
	maxRetries     int
	timeout        time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewGate builds a gate from oracle settings. A non-positive rate disables
// limiting.
func NewGate(s domain.OracleSettings) *Gate {
	limit := rate.Inf
	if s.RequestsPerSecond > 0 {
		limit = rate.Limit(s.RequestsPerSecond)
	}
	burst := s.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Gate{
		limiter:        rate.NewLimiter(limit, burst),
		maxRetries:     max(s.MaxRetries, 0),
		timeout:        s.Timeout,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
	}
}

// do runs fn under the rate limit and timeout, retrying transient errors.
func (g *Gate) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.backoffInitial
	exp.MaxInterval = g.backoffMax
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(g.maxRetries)), ctx)

	attempt := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		logger.Debug("oracle: %s failed, retrying in %s: %v", op, d, err)
	}
	return backoff.RetryNotify(attempt, policy, notify)
}

// retryable reports whether a failed call may succeed if repeated. Status
// errors decide for themselves; other errors are network or timeout
// failures and are retried unless the caller gave up.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *driven.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// LLM wraps an LLMService.
type LLM struct {
	inner driven.LLMService
	gate  *Gate
}

// WrapLLM returns inner guarded by gate. A nil inner stays nil.
func WrapLLM(inner driven.LLMService, gate *Gate) driven.LLMService {
	if inner == nil {
		return nil
	}
	return &LLM{inner: inner, gate: gate}
}

// Generate produces text completion from a prompt.
func (l *LLM) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	var out string
	err := l.gate.do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = l.inner.Generate(ctx, prompt, opts)
		return err
	})
	return out, err
}

// Chat conducts a multi-turn conversation.
func (l *LLM) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	var out string
	err := l.gate.do(ctx, "chat", func(ctx context.Context) error {
		var err error
		out, err = l.inner.Chat(ctx, messages, opts)
		return err
	})
	return out, err
}

// ModelName returns the wrapped model name.
func (l *LLM) ModelName() string { return l.inner.ModelName() }

// Ping is passed through without retries.
func (l *LLM) Ping(ctx context.Context) error { return l.inner.Ping(ctx) }

// Close releases the wrapped service.
func (l *LLM) Close() error { return l.inner.Close() }

// Embedder wraps an EmbeddingService.
type Embedder struct {
	inner driven.EmbeddingService
	gate  *Gate
}

// WrapEmbedder returns inner guarded by gate. A nil inner stays nil.
func WrapEmbedder(inner driven.EmbeddingService, gate *Gate) driven.EmbeddingService {
	if inner == nil {
		return nil
	}
	return &Embedder{inner: inner, gate: gate}
}

// Embed generates a vector embedding for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.gate.do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.inner.Embed(ctx, text)
		return err
	})
	return out, err
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.gate.do(ctx, "embed batch", func(ctx context.Context) error {
		var err error
		out, err = e.inner.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// Dimensions returns the wrapped vector size.
func (e *Embedder) Dimensions() int { return e.inner.Dimensions() }

// ModelName returns the wrapped model name.
func (e *Embedder) ModelName() string { return e.inner.ModelName() }

// Ping is passed through without retries.
func (e *Embedder) Ping(ctx context.Context) error { return e.inner.Ping(ctx) }

// Close releases the wrapped service.
func (e *Embedder) Close() error { return e.inner.Close() }
