// Package embedding wraps the inference provider with batching and rate-limit
// pacing for bulk embedding work.
package embedding

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quillworks/kbchat/inference"
	"github.com/quillworks/kbchat/kberr"
)

const (
	// DefaultBatchSize is how many texts are embedded per provider call group.
	DefaultBatchSize = 10
	// DefaultBatchInterval paces consecutive sub-batches to stay under
	// provider rate limits.
	DefaultBatchInterval = 100 * time.Millisecond
)

// Gateway converts text to vectors through the injected provider. Single
// embeds surface provider failures directly; batch embeds fail fast on the
// first failing sub-batch.
type Gateway struct {
	provider inference.Provider
	logger   *log.Logger

	batchSize int
	limiter   *rate.Limiter
}

// Option tweaks gateway behavior.
type Option func(*Gateway)

// WithBatchSize overrides the sub-batch size.
func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithBatchInterval overrides the pacing between sub-batches.
func WithBatchInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// NewGateway builds a gateway around the provider.
func NewGateway(provider inference.Provider, logger *log.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = log.Default()
	}

	g := &Gateway{
		provider:  provider,
		logger:    logger,
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Every(DefaultBatchInterval), 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed converts a single text to its vector.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, kberr.Wrap(kberr.KindEmbedding, err, "embed text")
	}
	if len(vectors) == 0 {
		return nil, kberr.New(kberr.KindEmbedding, "provider returned no vectors")
	}
	return vectors[0], nil
}

// EmbedBatch embeds every text, preserving order 1:1 with the input. The
// input is partitioned into sub-batches; texts within a sub-batch are
// embedded concurrently while consecutive sub-batches are paced by the rate
// limiter. Any failure aborts the whole call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	for batchStart := 0; batchStart < len(texts); batchStart += g.batchSize {
		batchIdx := batchStart / g.batchSize
		if batchIdx > 0 {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, kberr.Wrap(kberr.KindEmbedding, err, "wait for rate limiter before sub-batch %d", batchIdx)
			}
		}

		end := batchStart + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		var mu sync.Mutex

		for i := batchStart; i < end; i++ {
			idx := i
			group.Go(func() error {
				vectors, err := g.provider.Embed(groupCtx, []string{texts[idx]})
				if err != nil {
					return kberr.Wrap(kberr.KindEmbedding, err, "embed text %d in sub-batch %d", idx, batchIdx)
				}
				if len(vectors) == 0 {
					return kberr.New(kberr.KindEmbedding, "provider returned no vector for text %d in sub-batch %d", idx, batchIdx)
				}
				mu.Lock()
				results[idx] = vectors[0]
				mu.Unlock()
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	return results, nil
}
