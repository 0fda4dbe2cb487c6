// Package wiring builds the agent's components from configuration.
// Both binaries share it so the REPL, the server, and the ingest tool
// agree on how a backend is constructed.
package wiring

import (
	"context"
	"log/slog"
	"os"

	"github.com/auhdhd/knowledge-agent/pkg/config"
	"github.com/auhdhd/knowledge-agent/pkg/embedding"
	"github.com/auhdhd/knowledge-agent/pkg/vectorstore"
)

// SetupLogging installs the default slog logger at the configured
// level, writing to stderr so stdout stays clean for the REPL.
func SetupLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	slog.SetDefault(slog.New(handler))
}

// BuildEmbedder constructs the embedding client with its cache stack:
// an in-memory LRU, layered over Redis when REDIS_ADDR is set.
func BuildEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	var cache embedding.Cache = embedding.NewMemoryCache(0)
	if cfg.RedisAddr != "" {
		redisCache, err := embedding.NewRedisCache(ctx, &embedding.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			// The cache is an optimization; a missing Redis must not
			// keep the agent from starting.
			slog.Warn("redis cache unavailable, using memory cache only", "error", err)
		} else {
			cache = embedding.NewTieredCache(cache, redisCache)
		}
	}

	embCfg := embedding.DefaultConfig()
	embCfg.APIKey = cfg.OpenAIAPIKey
	embCfg.BaseURL = cfg.EmbeddingBaseURL
	embCfg.Model = cfg.EmbeddingModel
	embCfg.Dimensions = cfg.EmbeddingDimensions
	embCfg.BatchSize = cfg.EmbeddingBatchSize

	return embedding.NewClient(embCfg, cache)
}

// BuildStore constructs the configured vector store backend.
func BuildStore(cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Backend {
	case config.BackendWeaviate:
		return vectorstore.NewWeaviateStore(&vectorstore.WeaviateConfig{
			Host:       cfg.WeaviateHost,
			Scheme:     cfg.WeaviateScheme,
			APIKey:     cfg.WeaviateAPIKey,
			ClassName:  cfg.WeaviateIndex,
			Dimensions: cfg.EmbeddingDimensions,
		})
	default:
		return vectorstore.NewLocalStore(&vectorstore.LocalConfig{
			Path:       cfg.LocalIndexPath,
			Dimensions: cfg.EmbeddingDimensions,
		})
	}
}
