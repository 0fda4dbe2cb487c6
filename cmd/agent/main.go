// Package main runs the knowledge agent: an interactive REPL by
// default, or an HTTP server with -serve for the container's published
// port.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/auhdhd/knowledge-agent/internal/wiring"
	"github.com/auhdhd/knowledge-agent/pkg/agent"
	"github.com/auhdhd/knowledge-agent/pkg/chunking"
	"github.com/auhdhd/knowledge-agent/pkg/config"
	"github.com/auhdhd/knowledge-agent/pkg/document"
	"github.com/auhdhd/knowledge-agent/pkg/ingest"
	"github.com/auhdhd/knowledge-agent/pkg/llm"
	"github.com/auhdhd/knowledge-agent/pkg/retrieval"
	"github.com/auhdhd/knowledge-agent/pkg/server"
)

func main() {
	var (
		envFile = flag.String("env", "", "path to .env file (default .env)")
		backend = flag.String("backend", "", "vector backend: local or weaviate (overrides VECTOR_BACKEND)")
		topK    = flag.Int("top-k", 0, "chunks to retrieve per query (overrides TOP_K)")
		serve   = flag.Bool("serve", false, "run the HTTP server instead of the REPL")
		addr    = flag.String("addr", "", "listen address for -serve (overrides LISTEN_ADDR)")
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
	if *topK > 0 {
		cfg.TopK = *topK
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if err := cfg.Validate(config.ModeChat); err != nil {
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
	defer store.Close()

	chatClient, err := llm.NewClient(&llm.Config{
		APIKey:         cfg.OpenRouterAPIKey,
		BaseURL:        cfg.OpenRouterBaseURL,
		DefaultModel:   cfg.OpenRouterModel,
		RequestTimeout: cfg.LLMTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "LLM client error: %v\n", err)
		os.Exit(1)
	}

	retriever := retrieval.NewService(embedder, store, &retrieval.Config{TopK: cfg.TopK})
	agentCfg := agent.DefaultConfig()
	agentCfg.Model = cfg.OpenRouterModel
	ag := agent.New(chatClient, retriever, agentCfg)

	if *serve {
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
		srv := server.New(&server.Config{
			ListenAddr:      cfg.ListenAddr,
			ShutdownTimeout: server.DefaultConfig().ShutdownTimeout,
			RequestTimeout:  server.DefaultConfig().RequestTimeout,
		}, ag, pipeline, store)
		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := store.EnsureReady(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vector store error: %v\n", err)
		os.Exit(1)
	}
	runREPL(ctx, ag, store)
}

// runREPL is the interactive loop: read a question, print the answer,
// until "exit" or EOF.
func runREPL(ctx context.Context, ag *agent.Agent, store interface {
	Count(ctx context.Context) (int64, error)
}) {
	fmt.Println("Knowledge Agent CLI. Type 'exit' to quit.")
	if count, err := store.Count(ctx); err == nil {
		if count == 0 {
			fmt.Println("Note: the knowledge base is empty. Run the ingest tool to build it.")
		} else {
			fmt.Printf("Knowledge base contains %d chunks.\n", count)
		}
	}
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "exit") {
			fmt.Println("Exiting. Goodbye!")
			return
		}
		if input == "" {
			continue
		}

		answer, err := ag.Ask(ctx, "cli", input)
		if err != nil && answer == nil {
			fmt.Printf("An error occurred while processing your query: %v\n", err)
			continue
		}
		fmt.Printf("Agent: %s\n", answer.Text)
		if answer.Grounded {
			for _, src := range answer.Sources {
				fmt.Printf("  [source: %s chunk %d, score %.3f]\n", src.Document, src.ChunkIndex, src.Score)
			}
		}
		fmt.Println()
	}
}
