// Package config holds runtime configuration for the knowledge agent.
// Configuration is environment-first: an optional .env file is loaded,
// then environment variables override built-in defaults. Command-line
// flags in the cmd binaries override both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend identifies which vector store backend the agent uses.
type Backend string

const (
	BackendLocal    Backend = "local"
	BackendWeaviate Backend = "weaviate"
)

// Mode identifies which parts of the configuration must be present.
type Mode string

const (
	// ModeChat covers the REPL and the HTTP query path: the agent needs
	// an LLM endpoint and a populated vector store.
	ModeChat Mode = "chat"
	// ModeIngest covers the ingestion pipeline: embeddings plus a store,
	// no LLM required.
	ModeIngest Mode = "ingest"
)

// Config holds all configuration for the knowledge agent.
type Config struct {
	// LLM (OpenRouter, OpenAI-compatible chat completions)
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	LLMTimeout        time.Duration

	// Embeddings (OpenAI-compatible embeddings endpoint)
	OpenAIAPIKey        string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingBatchSize  int

	// Vector store
	Backend        Backend
	WeaviateHost   string
	WeaviateScheme string
	WeaviateAPIKey string
	WeaviateIndex  string
	LocalIndexPath string

	// Ingestion
	KnowledgeFile string
	ChunkSize     int
	ChunkOverlap  int

	// Retrieval
	TopK int

	// Serving
	ListenAddr string

	// Optional Redis embedding cache; empty disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel string
}

// Default returns a configuration with the built-in defaults. The
// chunking and retrieval defaults match the knowledge base the agent
// ships with (short prose documents, small chunks).
func Default() *Config {
	return &Config{
		OpenRouterModel:   "anthropic/claude-3-haiku",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		LLMTimeout:        120 * time.Second,

		EmbeddingBaseURL:    "https://api.openai.com/v1",
		EmbeddingModel:      "text-embedding-ada-002",
		EmbeddingDimensions: 1536,
		EmbeddingBatchSize:  64,

		Backend:        BackendLocal,
		WeaviateScheme: "https",
		WeaviateIndex:  "KnowledgeChunk",
		LocalIndexPath: "knowledge.index",

		KnowledgeFile: "knowledge.txt",
		ChunkSize:     500,
		ChunkOverlap:  50,

		TopK:       3,
		ListenAddr: ":8000",
		LogLevel:   "info",
	}
}

// Load reads configuration from the environment, first loading the
// given .env file if it exists. envFile may be empty, in which case
// ".env" is tried.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env file is not an error; the environment may already
	// carry everything.
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := Default()

	if val := os.Getenv("OPENROUTER_API_KEY"); val != "" {
		cfg.OpenRouterAPIKey = val
	}
	if val := os.Getenv("OPENROUTER_MODEL"); val != "" {
		cfg.OpenRouterModel = val
	}
	if val := os.Getenv("OPENROUTER_BASE_URL"); val != "" {
		cfg.OpenRouterBaseURL = strings.TrimRight(val, "/")
	}
	if val := os.Getenv("LLM_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.LLMTimeout = d
		}
	}

	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		cfg.OpenAIAPIKey = val
	}
	if val := os.Getenv("EMBEDDING_BASE_URL"); val != "" {
		cfg.EmbeddingBaseURL = strings.TrimRight(val, "/")
	}
	if val := os.Getenv("EMBEDDING_MODEL"); val != "" {
		cfg.EmbeddingModel = val
	}
	if val := os.Getenv("EMBEDDING_DIMENSIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.EmbeddingDimensions = n
		}
	}
	if val := os.Getenv("EMBEDDING_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.EmbeddingBatchSize = n
		}
	}

	if val := os.Getenv("VECTOR_BACKEND"); val != "" {
		cfg.Backend = Backend(strings.ToLower(val))
	}
	if val := os.Getenv("WEAVIATE_HOST"); val != "" {
		cfg.WeaviateHost = val
	}
	if val := os.Getenv("WEAVIATE_SCHEME"); val != "" {
		cfg.WeaviateScheme = val
	}
	if val := os.Getenv("WEAVIATE_API_KEY"); val != "" {
		cfg.WeaviateAPIKey = val
	}
	if val := os.Getenv("WEAVIATE_INDEX"); val != "" {
		cfg.WeaviateIndex = val
	}
	if val := os.Getenv("LOCAL_INDEX_PATH"); val != "" {
		cfg.LocalIndexPath = val
	}

	if val := os.Getenv("KNOWLEDGE_FILE"); val != "" {
		cfg.KnowledgeFile = val
	}
	if val := os.Getenv("CHUNK_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if val := os.Getenv("CHUNK_OVERLAP"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			cfg.ChunkOverlap = n
		}
	}

	if val := os.Getenv("TOP_K"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.TopK = n
		}
	}

	if val := os.Getenv("LISTEN_ADDR"); val != "" {
		cfg.ListenAddr = val
	}

	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.RedisAddr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.RedisPassword = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.RedisDB = n
		}
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = strings.ToLower(val)
	}

	return cfg, nil
}

// Validate checks that the configuration required for the given mode is
// present and coherent. All missing variables are reported together so
// the operator can fix the .env file in one pass.
func (c *Config) Validate(mode Mode) error {
	var missing []string

	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if mode == ModeChat && c.OpenRouterAPIKey == "" {
		missing = append(missing, "OPENROUTER_API_KEY")
	}
	if c.Backend == BackendWeaviate {
		if c.WeaviateHost == "" {
			missing = append(missing, "WEAVIATE_HOST")
		}
		if c.WeaviateIndex == "" {
			missing = append(missing, "WEAVIATE_INDEX")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Backend {
	case BackendLocal, BackendWeaviate:
	default:
		return fmt.Errorf("unknown vector backend %q (want %q or %q)", c.Backend, BackendLocal, BackendWeaviate)
	}

	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top-k must be at least 1, got %d", c.TopK)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.EmbeddingDimensions)
	}

	return nil
}

// SlogLevel maps the configured level string onto slog's levels.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
