package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auhdhd/knowledge-agent/pkg/embedding"
	"github.com/auhdhd/knowledge-agent/pkg/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) (*embedding.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = f.vector
	}
	return &embedding.Result{Vectors: vectors}, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }

type fakeStore struct {
	matches []vectorstore.Match
	err     error
	gotK    int
}

func (f *fakeStore) EnsureReady(context.Context) error { return nil }
func (f *fakeStore) Upsert(context.Context, []vectorstore.Entry) error {
	return nil
}
func (f *fakeStore) Search(_ context.Context, _ []float32, k int) ([]vectorstore.Match, error) {
	f.gotK = k
	return f.matches, f.err
}
func (f *fakeStore) Count(context.Context) (int64, error) { return int64(len(f.matches)), nil }
func (f *fakeStore) Close() error                         { return nil }

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vector: []float32{1, 0, 0}}

	t.Run("JoinsChunksWithSeparator", func(t *testing.T) {
		store := &fakeStore{matches: []vectorstore.Match{
			{Entry: vectorstore.Entry{ID: "c1", Content: "first chunk", Source: "kb.txt", ChunkIndex: 0}, Score: 0.9},
			{Entry: vectorstore.Entry{ID: "c2", Content: "second chunk", Source: "kb.txt", ChunkIndex: 4}, Score: 0.8},
		}}
		service := NewService(emb, store, &Config{TopK: 3})

		result, err := service.Retrieve(ctx, "what is retrieval?")
		require.NoError(t, err)

		assert.True(t, result.Found)
		assert.Equal(t, "first chunk\n\n---\n\nsecond chunk", result.Context)
		require.Len(t, result.Sources, 2)
		assert.Equal(t, "c1", result.Sources[0].ID)
		assert.Equal(t, float32(0.9), result.Sources[0].Score)
		assert.Equal(t, 3, store.gotK)
	})

	t.Run("EmptyResultIsNotAnError", func(t *testing.T) {
		service := NewService(emb, &fakeStore{}, nil)

		result, err := service.Retrieve(ctx, "unknown topic")
		require.NoError(t, err)
		assert.False(t, result.Found)
		assert.Empty(t, result.Context)
		assert.Empty(t, result.Sources)
	})

	t.Run("MinScoreFiltersWeakMatches", func(t *testing.T) {
		store := &fakeStore{matches: []vectorstore.Match{
			{Entry: vectorstore.Entry{ID: "good", Content: "relevant"}, Score: 0.8},
			{Entry: vectorstore.Entry{ID: "weak", Content: "noise"}, Score: 0.1},
		}}
		service := NewService(emb, store, &Config{TopK: 3, MinScore: 0.5})

		result, err := service.Retrieve(ctx, "query")
		require.NoError(t, err)
		assert.Equal(t, "relevant", result.Context)
		require.Len(t, result.Sources, 1)
	})

	t.Run("NoCutoffKeepsNegativeScores", func(t *testing.T) {
		store := &fakeStore{matches: []vectorstore.Match{
			{Entry: vectorstore.Entry{ID: "c1", Content: "closest available"}, Score: -0.2},
		}}
		service := NewService(emb, store, nil)

		// Without an explicit cutoff, retrieval hands back whatever the
		// store ranked best, even when nothing is truly close.
		result, err := service.Retrieve(ctx, "query")
		require.NoError(t, err)
		assert.True(t, result.Found)
		require.Len(t, result.Sources, 1)
		assert.Equal(t, float32(-0.2), result.Sources[0].Score)
	})

	t.Run("EmbeddingErrorPropagates", func(t *testing.T) {
		service := NewService(&fakeEmbedder{err: errors.New("api down")}, &fakeStore{}, nil)

		_, err := service.Retrieve(ctx, "query")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding query")
	})

	t.Run("SearchErrorPropagates", func(t *testing.T) {
		service := NewService(emb, &fakeStore{err: errors.New("store down")}, nil)

		_, err := service.Retrieve(ctx, "query")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "searching knowledge base")
	})

	t.Run("RejectsEmptyQuery", func(t *testing.T) {
		service := NewService(emb, &fakeStore{}, nil)
		_, err := service.Retrieve(ctx, "   ")
		require.Error(t, err)
	})
}
