package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// fakeEmbedder is a scriptable EmbeddingService for service tests.
type fakeEmbedder struct {
	mu    sync.Mutex
	dims  int
	calls int
	// embedFn overrides the default constant-vector behaviour.
	embedFn func(call int, texts []string) ([][]float32, error)
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{dims: dims}
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	fn := f.embedFn
	f.mu.Unlock()

	if fn != nil {
		return fn(call, texts)
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dims)
		vec[0] = 1
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Dimensions() int            { return f.dims }
func (f *fakeEmbedder) ModelName() string          { return "fake-model" }
func (f *fakeEmbedder) Ping(context.Context) error { return nil }
func (f *fakeEmbedder) Close() error               { return nil }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func batchChunks(n, tokens int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ID:         domain.ChunkID("doc-1", i),
			DocumentID: "doc-1",
			Ordinal:    i,
			Text:       fmt.Sprintf("chunk %d", i),
			TokenCount: tokens,
		}
	}
	return chunks
}

func TestEmbedChunks_AllSucceed(t *testing.T) {
	embedder := newFakeEmbedder(3)
	b := NewEmbeddingBatcher(embedder, BatcherConfig{})

	result, err := b.EmbedChunks(context.Background(), batchChunks(5, 100))
	require.NoError(t, err)
	assert.Len(t, result.Embedded, 5)
	assert.Empty(t, result.Failed)
}

func TestEmbedChunks_SplitsByCount(t *testing.T) {
	embedder := newFakeEmbedder(3)
	b := NewEmbeddingBatcher(embedder, BatcherConfig{MaxBatchSize: 2, Concurrency: 1})

	result, err := b.EmbedChunks(context.Background(), batchChunks(5, 10))
	require.NoError(t, err)
	assert.Len(t, result.Embedded, 5)
	assert.Equal(t, 3, embedder.callCount())
}

func TestEmbedChunks_SplitsByTokenBudget(t *testing.T) {
	embedder := newFakeEmbedder(3)
	b := NewEmbeddingBatcher(embedder, BatcherConfig{MaxBatchTokens: 250, Concurrency: 1})

	// 100-token chunks: two fit per batch, three batches for five chunks.
	result, err := b.EmbedChunks(context.Background(), batchChunks(5, 100))
	require.NoError(t, err)
	assert.Len(t, result.Embedded, 5)
	assert.Equal(t, 3, embedder.callCount())
}

func TestEmbedChunks_OversizedChunkStillBatched(t *testing.T) {
	embedder := newFakeEmbedder(3)
	b := NewEmbeddingBatcher(embedder, BatcherConfig{MaxBatchTokens: 50, Concurrency: 1})

	result, err := b.EmbedChunks(context.Background(), batchChunks(2, 100))
	require.NoError(t, err)
	assert.Len(t, result.Embedded, 2)
	assert.Equal(t, 2, embedder.callCount())
}

func TestEmbedChunks_RetriesTransientFailures(t *testing.T) {
	embedder := newFakeEmbedder(3)
	embedder.embedFn = func(call int, texts []string) ([][]float32, error) {
		if call < 2 {
			return nil, fmt.Errorf("overloaded: %w", domain.ErrEmbeddingUnavailable)
		}
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 0, 0}
		}
		return vectors, nil
	}
	b := NewEmbeddingBatcher(embedder, BatcherConfig{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	})

	result, err := b.EmbedChunks(context.Background(), batchChunks(2, 10))
	require.NoError(t, err)
	assert.Len(t, result.Embedded, 2)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 3, embedder.callCount())
}

func TestEmbedChunks_ExhaustedRetriesFailPerChunk(t *testing.T) {
	embedder := newFakeEmbedder(3)
	embedder.embedFn = func(_ int, _ []string) ([][]float32, error) {
		return nil, fmt.Errorf("overloaded: %w", domain.ErrEmbeddingUnavailable)
	}
	b := NewEmbeddingBatcher(embedder, BatcherConfig{
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	})

	result, err := b.EmbedChunks(context.Background(), batchChunks(3, 10))
	require.NoError(t, err)
	assert.Empty(t, result.Embedded)
	require.Len(t, result.Failed, 3)
	for _, failErr := range result.Failed {
		assert.ErrorIs(t, failErr, domain.ErrEmbeddingFailed)
	}
}

func TestEmbedChunks_OneBatchFailsSiblingsSucceed(t *testing.T) {
	embedder := newFakeEmbedder(3)
	embedder.embedFn = func(_ int, texts []string) ([][]float32, error) {
		// Single-chunk batches: only the middle chunk's batch ever fails.
		if texts[0] == "chunk 1" {
			return nil, fmt.Errorf("overloaded: %w", domain.ErrEmbeddingUnavailable)
		}
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 0, 0}
		}
		return vectors, nil
	}
	b := NewEmbeddingBatcher(embedder, BatcherConfig{
		MaxBatchSize:   1,
		Concurrency:    1,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	})

	result, err := b.EmbedChunks(context.Background(), batchChunks(3, 10))
	require.NoError(t, err)

	// Sibling batches are unaffected by the exhausted one.
	assert.Len(t, result.Embedded, 2)
	assert.Contains(t, result.Embedded, 0)
	assert.Contains(t, result.Embedded, 2)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[1], domain.ErrEmbeddingFailed)
}

func TestEmbedChunks_FatalErrorNotRetried(t *testing.T) {
	embedder := newFakeEmbedder(3)
	embedder.embedFn = func(_ int, _ []string) ([][]float32, error) {
		return nil, errors.New("invalid model")
	}
	b := NewEmbeddingBatcher(embedder, BatcherConfig{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		Concurrency:    1,
	})

	result, err := b.EmbedChunks(context.Background(), batchChunks(2, 10))
	require.NoError(t, err)
	assert.Len(t, result.Failed, 2)
	assert.Equal(t, 1, embedder.callCount())
}

func TestEmbedChunks_DimensionMismatch(t *testing.T) {
	embedder := newFakeEmbedder(3)
	embedder.embedFn = func(_ int, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 2} // wrong size
		}
		return vectors, nil
	}
	b := NewEmbeddingBatcher(embedder, BatcherConfig{})

	result, err := b.EmbedChunks(context.Background(), batchChunks(1, 10))
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[0], domain.ErrDimensionMismatch)
}

func TestEmbedChunks_ContextCancelled(t *testing.T) {
	embedder := newFakeEmbedder(3)
	embedder.embedFn = func(_ int, _ []string) ([][]float32, error) {
		return nil, fmt.Errorf("overloaded: %w", domain.ErrEmbeddingUnavailable)
	}
	b := NewEmbeddingBatcher(embedder, BatcherConfig{
		MaxRetries:     10,
		RetryBaseDelay: time.Hour, // cancellation must interrupt the backoff
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.EmbedChunks(ctx, batchChunks(1, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedChunks_Empty(t *testing.T) {
	b := NewEmbeddingBatcher(newFakeEmbedder(3), BatcherConfig{})
	result, err := b.EmbedChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Embedded)
	assert.Empty(t, result.Failed)
}
