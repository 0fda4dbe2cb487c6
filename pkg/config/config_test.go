package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, "anthropic/claude-3-haiku", cfg.OpenRouterModel)
		assert.Equal(t, "text-embedding-ada-002", cfg.EmbeddingModel)
		assert.Equal(t, 1536, cfg.EmbeddingDimensions)
		assert.Equal(t, BackendLocal, cfg.Backend)
		assert.Equal(t, 500, cfg.ChunkSize)
		assert.Equal(t, 50, cfg.ChunkOverlap)
		assert.Equal(t, 3, cfg.TopK)
		assert.Equal(t, ":8000", cfg.ListenAddr)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("OPENROUTER_MODEL", "anthropic/claude-3-sonnet")
		t.Setenv("CHUNK_SIZE", "1000")
		t.Setenv("CHUNK_OVERLAP", "200")
		t.Setenv("TOP_K", "5")
		t.Setenv("VECTOR_BACKEND", "weaviate")
		t.Setenv("WEAVIATE_HOST", "vectors.example.com")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, "anthropic/claude-3-sonnet", cfg.OpenRouterModel)
		assert.Equal(t, 1000, cfg.ChunkSize)
		assert.Equal(t, 200, cfg.ChunkOverlap)
		assert.Equal(t, 5, cfg.TopK)
		assert.Equal(t, BackendWeaviate, cfg.Backend)
		assert.Equal(t, "vectors.example.com", cfg.WeaviateHost)
	})

	t.Run("InvalidNumbersKeepDefaults", func(t *testing.T) {
		t.Setenv("CHUNK_SIZE", "not-a-number")
		t.Setenv("TOP_K", "-2")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, 500, cfg.ChunkSize)
		assert.Equal(t, 3, cfg.TopK)
	})

	t.Run("DotEnvFile", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("KNOWLEDGE_FILE=corpus.txt\n"), 0o644))

		cfg, err := Load(envFile)
		require.NoError(t, err)
		assert.Equal(t, "corpus.txt", cfg.KnowledgeFile)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.OpenAIAPIKey = "sk-test"
		cfg.OpenRouterAPIKey = "or-test"
		return cfg
	}

	t.Run("ValidChat", func(t *testing.T) {
		assert.NoError(t, base().Validate(ModeChat))
	})

	t.Run("ReportsAllMissingKeys", func(t *testing.T) {
		cfg := Default()
		cfg.Backend = BackendWeaviate
		cfg.WeaviateIndex = ""

		err := cfg.Validate(ModeChat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OPENAI_API_KEY")
		assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")
		assert.Contains(t, err.Error(), "WEAVIATE_HOST")
		assert.Contains(t, err.Error(), "WEAVIATE_INDEX")
	})

	t.Run("IngestDoesNotNeedLLMKey", func(t *testing.T) {
		cfg := base()
		cfg.OpenRouterAPIKey = ""
		assert.NoError(t, cfg.Validate(ModeIngest))
	})

	t.Run("OverlapMustBeSmallerThanChunkSize", func(t *testing.T) {
		cfg := base()
		cfg.ChunkOverlap = cfg.ChunkSize

		err := cfg.Validate(ModeChat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overlap")
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		cfg := base()
		cfg.Backend = Backend("pinecone")

		err := cfg.Validate(ModeChat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown vector backend")
	})
}
