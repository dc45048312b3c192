package embedding

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/kbchat/inference"
	"github.com/quillworks/kbchat/kberr"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	embedFn func(text string) ([]float32, error)
}

func (s *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := s.embedFn(text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (s *stubProvider) Complete(context.Context, []inference.Message, inference.CompleteOptions) (string, error) {
	return "", nil
}

var _ inference.Provider = (*stubProvider)(nil)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func lengthVector(text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func TestEmbedSingleText(t *testing.T) {
	provider := &stubProvider{embedFn: lengthVector}
	gateway := NewGateway(provider, quietLogger())

	vector, err := gateway.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, vector)
}

func TestEmbedWrapsProviderError(t *testing.T) {
	provider := &stubProvider{embedFn: func(string) ([]float32, error) {
		return nil, errors.New("upstream down")
	}}
	gateway := NewGateway(provider, quietLogger())

	_, err := gateway.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindEmbedding))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	gateway := NewGateway(&stubProvider{embedFn: lengthVector}, quietLogger())

	vectors, err := gateway.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	provider := &stubProvider{embedFn: lengthVector}
	gateway := NewGateway(provider, quietLogger(),
		WithBatchSize(4),
		WithBatchInterval(time.Millisecond),
	)

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = strings.Repeat("t", i+1)
	}

	vectors, err := gateway.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, vector := range vectors {
		require.Len(t, vector, 1)
		assert.Equal(t, float32(len(texts[i])), vector[0], "vector %d out of order", i)
	}
	assert.Equal(t, len(texts), provider.calls)
}

func TestEmbedBatchFailsFast(t *testing.T) {
	provider := &stubProvider{embedFn: func(text string) ([]float32, error) {
		if text == "poison" {
			return nil, errors.New("bad input")
		}
		return lengthVector(text)
	}}
	gateway := NewGateway(provider, quietLogger(),
		WithBatchSize(2),
		WithBatchInterval(time.Millisecond),
	)

	_, err := gateway.EmbedBatch(context.Background(), []string{"ok", "ok", "poison", "ok"})
	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindEmbedding))
	assert.Contains(t, err.Error(), "sub-batch 1")
}

func TestEmbedBatchHonorsCancellation(t *testing.T) {
	provider := &stubProvider{embedFn: lengthVector}
	gateway := NewGateway(provider, quietLogger(),
		WithBatchSize(1),
		WithBatchInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gateway.EmbedBatch(ctx, []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindEmbedding))
}
