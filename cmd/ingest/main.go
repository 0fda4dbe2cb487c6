// Package main builds the knowledge index from corpus files. Run it
// before starting the agent, and again whenever the corpus changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/auhdhd/knowledge-agent/internal/wiring"
	"github.com/auhdhd/knowledge-agent/pkg/chunking"
	"github.com/auhdhd/knowledge-agent/pkg/config"
	"github.com/auhdhd/knowledge-agent/pkg/document"
	"github.com/auhdhd/knowledge-agent/pkg/ingest"
)

func main() {
	var (
		envFile      = flag.String("env", "", "path to .env file (default .env)")
		backend      = flag.String("backend", "", "vector backend: local or weaviate (overrides VECTOR_BACKEND)")
		file         = flag.String("file", "", "knowledge file or directory (overrides KNOWLEDGE_FILE)")
		chunkSize    = flag.Int("chunk-size", 0, "target chunk size in characters (overrides CHUNK_SIZE)")
		chunkOverlap = flag.Int("chunk-overlap", -1, "overlap between chunks (overrides CHUNK_OVERLAP)")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Backend = config.Backend(*backend)
	}
	if *file != "" {
		cfg.KnowledgeFile = *file
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}
	if *chunkOverlap >= 0 {
		cfg.ChunkOverlap = *chunkOverlap
	}
	if err := cfg.Validate(config.ModeIngest); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Please ensure the variables are set in your .env file or environment.")
		os.Exit(1)
	}

	wiring.SetupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := wiring.BuildEmbedder(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "embedding client error: %v\n", err)
		os.Exit(1)
	}

	store, err := wiring.BuildStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vector store error: %v\n", err)
		os.Exit(1)
	}

	pipeline := ingest.NewPipeline(
		document.NewLoader(),
		chunking.NewSplitter(&chunking.Config{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			MinChunkSize: 20,
		}),
		embedder,
		store,
	)

	fmt.Printf("Ingesting %q into the %s backend...\n", cfg.KnowledgeFile, cfg.Backend)

	stats, err := pipeline.Run(ctx, []string{cfg.KnowledgeFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestion failed: %v\n", err)
		store.Close()
		os.Exit(1)
	}
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "saving index failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Ingestion complete.")
	fmt.Printf("  Documents : %d\n", stats.Documents)
	fmt.Printf("  Chunks    : %d\n", stats.Chunks)
	fmt.Printf("  Vectors   : %d\n", stats.Vectors)
	fmt.Printf("  Tokens    : %d\n", stats.TokensUsed)
	fmt.Printf("  Elapsed   : %s\n", stats.Elapsed)
}
