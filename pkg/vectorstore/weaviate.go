package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateConfig holds connection settings for the Weaviate backend.
type WeaviateConfig struct {
	Host       string `json:"host"`
	Scheme     string `json:"scheme"`
	APIKey     string `json:"api_key"`
	ClassName  string `json:"class_name"`
	Dimensions int    `json:"dimensions"`
}

// WeaviateStore keeps chunk vectors in a Weaviate class. Vectors are
// supplied by the embedding client, so the class uses no vectorizer
// module and cosine distance.
type WeaviateStore struct {
	client *weaviate.Client
	config *WeaviateConfig
	logger *slog.Logger

	mu    sync.RWMutex
	ready bool
}

// NewWeaviateStore creates the store and its underlying client. The
// index itself is created lazily by EnsureReady.
func NewWeaviateStore(config *WeaviateConfig) (*WeaviateStore, error) {
	if config == nil {
		return nil, fmt.Errorf("weaviate config cannot be nil")
	}
	if config.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	if config.ClassName == "" {
		return nil, fmt.Errorf("weaviate class name is required")
	}
	if config.Scheme == "" {
		config.Scheme = "https"
	}

	var authConfig auth.Config
	if config.APIKey != "" {
		authConfig = auth.ApiKey{Value: config.APIKey}
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:       config.Host,
		Scheme:     config.Scheme,
		AuthConfig: authConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	return &WeaviateStore{
		client: client,
		config: config,
		logger: slog.Default().With("component", "weaviate-store"),
	}, nil
}

// EnsureReady creates the class if it does not exist yet.
func (w *WeaviateStore) EnsureReady(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().
		WithClassName(w.config.ClassName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("checking class %q: %w", w.config.ClassName, err)
	}

	if !exists {
		w.logger.Info("creating weaviate class", "class", w.config.ClassName)
		class := &models.Class{
			Class:       w.config.ClassName,
			Description: "Knowledge base chunks with precomputed embeddings",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: []*models.Property{
				{
					Name:        "content",
					DataType:    []string{"text"},
					Description: "Chunk text",
				},
				{
					Name:        "source",
					DataType:    []string{"text"},
					Description: "Originating knowledge file",
				},
				{
					Name:        "chunkIndex",
					DataType:    []string{"int"},
					Description: "Position of the chunk within its document",
				},
			},
		}
		if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			// Another writer may have raced us to creation.
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("creating class %q: %w", w.config.ClassName, err)
			}
		}
	} else {
		w.logger.Debug("weaviate class already exists", "class", w.config.ClassName)
	}

	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()
	return nil
}

func (w *WeaviateStore) isReady() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Upsert writes entries into the class in one batch.
func (w *WeaviateStore) Upsert(ctx context.Context, entries []Entry) error {
	if !w.isReady() {
		return ErrNotReady
	}
	if len(entries) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(entries))
	for _, entry := range entries {
		if err := checkDimensions(w.config.Dimensions, len(entry.Vector)); err != nil {
			return fmt.Errorf("entry %s: %w", entry.ID, err)
		}
		objects = append(objects, &models.Object{
			Class: w.config.ClassName,
			ID:    strfmt.UUID(entry.ID),
			Properties: map[string]interface{}{
				"content":    entry.Content,
				"source":     entry.Source,
				"chunkIndex": entry.ChunkIndex,
			},
			Vector: models.C11yVector(entry.Vector),
		})
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch upsert failed: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate rejected object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}

	w.logger.Info("upserted entries", "count", len(entries), "class", w.config.ClassName)
	return nil
}

// Search runs a nearVector query and maps distance back to cosine
// similarity (score = 1 - distance).
func (w *WeaviateStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if !w.isReady() {
		return nil, ErrNotReady
	}
	if err := checkDimensions(w.config.Dimensions, len(vector)); err != nil {
		return nil, err
	}
	if k < 1 {
		k = 1
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.config.ClassName).
		WithNearVector(nearVector).
		WithFields(fields...).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search failed: %s", result.Errors[0].Message)
	}

	matches := make([]Match, 0, k)
	if result.Data == nil {
		return matches, nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return matches, nil
	}
	items, ok := data[w.config.ClassName].([]interface{})
	if !ok {
		return matches, nil
	}

	for _, item := range items {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		match := Match{}
		if val, ok := itemMap["content"].(string); ok {
			match.Entry.Content = val
		}
		if val, ok := itemMap["source"].(string); ok {
			match.Entry.Source = val
		}
		if val, ok := itemMap["chunkIndex"].(float64); ok {
			match.Entry.ChunkIndex = int(val)
		}
		if additional, ok := itemMap["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				match.Entry.ID = id
			}
			if distance, ok := additional["distance"].(float64); ok {
				match.Score = float32(1 - distance)
			}
		}
		matches = append(matches, match)
	}

	return matches, nil
}

// Count reports how many objects the class holds.
func (w *WeaviateStore) Count(ctx context.Context) (int64, error) {
	if !w.isReady() {
		return 0, ErrNotReady
	}

	result, err := w.client.GraphQL().Aggregate().
		WithClassName(w.config.ClassName).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate aggregate failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("weaviate aggregate failed: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	items, ok := data[w.config.ClassName].([]interface{})
	if !ok || len(items) == 0 {
		return 0, nil
	}
	itemMap, ok := items[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := itemMap["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int64(count), nil
}

// Close is a no-op; the Weaviate client holds no persistent
// connections of its own.
func (w *WeaviateStore) Close() error { return nil }
