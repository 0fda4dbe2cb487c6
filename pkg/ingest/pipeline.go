// Package ingest builds the knowledge index: it loads corpus files,
// splits them into chunks, embeds the chunks, and writes them to the
// vector store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/auhdhd/knowledge-agent/pkg/chunking"
	"github.com/auhdhd/knowledge-agent/pkg/document"
	"github.com/auhdhd/knowledge-agent/pkg/embedding"
	"github.com/auhdhd/knowledge-agent/pkg/vectorstore"
)

// Stats summarizes one pipeline run.
type Stats struct {
	Documents  int           `json:"documents"`
	Chunks     int           `json:"chunks"`
	Vectors    int           `json:"vectors"`
	TokensUsed int           `json:"tokens_used"`
	CacheHits  int           `json:"cache_hits"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Pipeline runs the ingestion stages in order.
type Pipeline struct {
	loader   *document.Loader
	splitter *chunking.Splitter
	embedder embedding.Embedder
	store    vectorstore.Store
	logger   *slog.Logger
}

// NewPipeline wires the ingestion stages together.
func NewPipeline(loader *document.Loader, splitter *chunking.Splitter, embedder embedding.Embedder, store vectorstore.Store) *Pipeline {
	return &Pipeline{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		store:    store,
		logger:   slog.Default().With("component", "ingest-pipeline"),
	}
}

// Run ingests the given paths. Directories are loaded non-recursively,
// files individually. The run aborts on the first hard error; an empty
// corpus is an error before any embedding call is made.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	p.logger.Info("starting ingestion", "paths", paths)

	if err := p.store.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("preparing vector store: %w", err)
	}

	var docs []*document.Document
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("knowledge path %q: %w", path, err)
		}
		if info.IsDir() {
			loaded, err := p.loader.LoadDir(path)
			if err != nil {
				return nil, err
			}
			docs = append(docs, loaded...)
			continue
		}
		doc, err := p.loader.LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents found in the knowledge corpus")
	}
	stats.Documents = len(docs)
	p.logger.Info("loaded documents", "count", len(docs))

	var chunks []chunking.Chunk
	for _, doc := range docs {
		chunks = append(chunks, p.splitter.Split(doc)...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("text splitting resulted in no chunks")
	}
	stats.Chunks = len(chunks)
	p.logger.Info("split documents", "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	embedded, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	stats.Vectors = len(embedded.Vectors)
	stats.TokensUsed = embedded.Usage.TotalTokens
	stats.CacheHits = embedded.CacheHits
	p.logger.Info("generated embeddings",
		"vectors", stats.Vectors,
		"tokens", stats.TokensUsed,
		"cache_hits", stats.CacheHits,
	)

	entries := make([]vectorstore.Entry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = vectorstore.Entry{
			ID:         chunk.ID,
			Vector:     embedded.Vectors[i],
			Content:    chunk.Content,
			Source:     chunk.Source,
			ChunkIndex: chunk.Index,
		}
	}
	if err := p.store.Upsert(ctx, entries); err != nil {
		return nil, fmt.Errorf("writing vector store: %w", err)
	}

	stats.Elapsed = time.Since(start)
	p.logger.Info("ingestion complete",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}
