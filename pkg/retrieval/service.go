// Package retrieval answers "what does the knowledge base say about
// this" by embedding a query and searching the vector store.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/auhdhd/knowledge-agent/pkg/embedding"
	"github.com/auhdhd/knowledge-agent/pkg/vectorstore"
)

// contextSeparator joins retrieved chunks into one context block.
const contextSeparator = "\n\n---\n\n"

var (
	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_agent_retrievals_total",
		Help: "Retrieval attempts by outcome.",
	}, []string{"outcome"})

	retrievalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledge_agent_retrieval_latency_seconds",
		Help:    "End-to-end retrieval latency including the query embedding.",
		Buckets: prometheus.DefBuckets,
	})
)

// Config holds retrieval settings.
type Config struct {
	TopK     int     `json:"top_k"`
	MinScore float32 `json:"min_score"` // similarity cutoff; zero disables it
}

// DefaultConfig returns the retrieval defaults.
func DefaultConfig() *Config {
	return &Config{TopK: 3}
}

// Source identifies where a piece of retrieved context came from.
type Source struct {
	ID         string  `json:"id"`
	Document   string  `json:"document"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// Result is the outcome of a retrieval. Found is false when the search
// succeeded but nothing relevant was stored; that is not an error.
type Result struct {
	Context string        `json:"context"`
	Sources []Source      `json:"sources"`
	Found   bool          `json:"found"`
	Elapsed time.Duration `json:"elapsed"`
}

// Retriever is the interface the agent depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*Result, error)
}

// Service implements Retriever against an embedder and a vector store.
type Service struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	config   *Config
	logger   *slog.Logger
}

// NewService creates a retrieval service. A nil config gets defaults.
func NewService(embedder embedding.Embedder, store vectorstore.Store, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TopK < 1 {
		config.TopK = DefaultConfig().TopK
	}
	return &Service{
		embedder: embedder,
		store:    store,
		config:   config,
		logger:   slog.Default().With("component", "retrieval"),
	}
}

// Retrieve embeds the query, searches the store, and assembles the
// context block the agent hands to the LLM.
func (s *Service) Retrieve(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	start := time.Now()

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		retrievalsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.store.Search(ctx, vector, s.config.TopK)
	if err != nil {
		retrievalsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}

	result := &Result{Elapsed: time.Since(start)}
	var parts []string
	for _, match := range matches {
		if s.config.MinScore != 0 && match.Score < s.config.MinScore {
			continue
		}
		parts = append(parts, match.Entry.Content)
		result.Sources = append(result.Sources, Source{
			ID:         match.Entry.ID,
			Document:   match.Entry.Source,
			ChunkIndex: match.Entry.ChunkIndex,
			Score:      match.Score,
		})
	}

	retrievalLatency.Observe(result.Elapsed.Seconds())

	if len(parts) == 0 {
		retrievalsTotal.WithLabelValues("empty").Inc()
		s.logger.Info("no relevant documents found", "query", query)
		return result, nil
	}

	result.Context = strings.Join(parts, contextSeparator)
	result.Found = true
	retrievalsTotal.WithLabelValues("found").Inc()

	s.logger.Debug("retrieved context",
		"query", query,
		"chunks", len(parts),
		"elapsed", result.Elapsed,
	)
	return result, nil
}
