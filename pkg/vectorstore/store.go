// Package vectorstore provides the vector index behind retrieval. Two
// backends implement the same Store interface: a Weaviate class for
// shared deployments and a local on-disk index for development.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNotReady is returned when the store is used before EnsureReady
// has succeeded.
var ErrNotReady = errors.New("vector store is not ready")

// Entry is one stored chunk with its embedding.
type Entry struct {
	ID         string            `json:"id"`
	Vector     []float32         `json:"vector"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	ChunkIndex int               `json:"chunk_index"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Match is a search hit. Score is cosine similarity in [-1, 1]; higher
// is closer.
type Match struct {
	Entry Entry   `json:"entry"`
	Score float32 `json:"score"`
}

// Store is the vector index interface the ingest and retrieval layers
// depend on.
type Store interface {
	// EnsureReady prepares the backing index, creating it when absent.
	EnsureReady(ctx context.Context) error
	// Upsert writes entries, replacing any existing entry with the
	// same ID.
	Upsert(ctx context.Context, entries []Entry) error
	// Search returns the k entries nearest to vector, best first.
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	// Count reports the number of stored entries.
	Count(ctx context.Context) (int64, error)
	Close() error
}

func checkDimensions(want, got int) error {
	if want > 0 && got != want {
		return fmt.Errorf("vector has %d dimensions, want %d", got, want)
	}
	return nil
}

// cosineSimilarity computes the cosine of the angle between two
// equal-length vectors. Zero vectors score zero.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
