// Package embedding generates vector embeddings for text through an
// OpenAI-compatible /v1/embeddings endpoint, with caching and retry.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds embedding client settings.
type Config struct {
	APIKey         string        `json:"api_key"`
	BaseURL        string        `json:"base_url"`
	Model          string        `json:"model"`
	Dimensions     int           `json:"dimensions"`
	BatchSize      int           `json:"batch_size"`
	MaxRetries     int           `json:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay"`
	RequestTimeout time.Duration `json:"request_timeout"`
	CacheTTL       time.Duration `json:"cache_ttl"`
}

// DefaultConfig returns settings for OpenAI's ada-002 model.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		Model:          "text-embedding-ada-002",
		Dimensions:     1536,
		BatchSize:      64,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RequestTimeout: 60 * time.Second,
		CacheTTL:       24 * time.Hour,
	}
}

// Usage tracks token consumption reported by the API.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Result is the outcome of an embedding call.
type Result struct {
	Vectors     [][]float32 `json:"vectors"`
	Usage       Usage       `json:"usage"`
	CacheHits   int         `json:"cache_hits"`
	CacheMisses int         `json:"cache_misses"`
}

// Embedder is the interface the retrieval and ingest layers depend on.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) (*Result, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	config     *Config
	httpClient *http.Client
	cache      Cache
	logger     *slog.Logger
}

// NewClient creates an embedding client. cache may be nil to disable
// caching.
func NewClient(config *Config, cache Cache) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		cache:      cache,
		logger:     slog.Default().With("component", "embedding-client"),
	}, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.config.Dimensions
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// EmbedTexts embeds a slice of texts, preserving order. Cached vectors
// are reused; only misses are sent to the API, in batches.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) (*Result, error) {
	if len(texts) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	result := &Result{Vectors: make([][]float32, len(texts))}

	// Cache lookup pass.
	var missIdx []int
	for i, text := range texts {
		if c.cache == nil {
			missIdx = append(missIdx, i)
			continue
		}
		if vec, ok := c.cache.Get(ctx, c.cacheKey(text)); ok {
			result.Vectors[i] = vec
			result.CacheHits++
			cacheHits.Inc()
			continue
		}
		cacheMisses.Inc()
		missIdx = append(missIdx, i)
	}
	result.CacheMisses = len(missIdx)

	// Batch the misses.
	for lo := 0; lo < len(missIdx); lo += c.config.BatchSize {
		hi := lo + c.config.BatchSize
		if hi > len(missIdx) {
			hi = len(missIdx)
		}
		batch := missIdx[lo:hi]
		inputs := make([]string, len(batch))
		for j, idx := range batch {
			inputs[j] = texts[idx]
		}

		vectors, usage, err := c.embedBatch(ctx, inputs)
		if err != nil {
			requestsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		requestsTotal.WithLabelValues("success").Inc()
		result.Usage.PromptTokens += usage.PromptTokens
		result.Usage.TotalTokens += usage.TotalTokens

		for j, idx := range batch {
			result.Vectors[idx] = vectors[j]
			if c.cache != nil {
				c.cache.Set(ctx, c.cacheKey(texts[idx]), vectors[j], c.config.CacheTTL)
			}
		}
	}

	requestLatency.Observe(time.Since(start).Seconds())
	c.logger.Debug("embedded texts",
		"count", len(texts),
		"cache_hits", result.CacheHits,
		"tokens", result.Usage.TotalTokens,
	)
	return result, nil
}

type apiRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type apiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, Usage, error) {
	payload, err := json.Marshal(apiRequest{Input: inputs, Model: c.config.Model})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshal embedding request: %w", err)
	}

	var lastErr error
	delay := c.config.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, Usage{}, ctx.Err()
			}
			delay *= 2
		}

		vectors, usage, retryable, err := c.doRequest(ctx, payload, len(inputs))
		if err == nil {
			return vectors, usage, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.Warn("embedding request failed, retrying",
			"attempt", attempt+1, "error", err)
	}
	return nil, Usage{}, fmt.Errorf("embedding request failed after retries: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, payload []byte, want int) ([][]float32, Usage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, Usage{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Usage{}, true, fmt.Errorf("embedding HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Usage{}, true, fmt.Errorf("reading embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, Usage{}, retryable, fmt.Errorf("embedding API returned status %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, Usage{}, false, fmt.Errorf("decode embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, Usage{}, false, fmt.Errorf("embedding API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != want {
		return nil, Usage{}, false, fmt.Errorf("embedding API returned %d vectors, want %d",
			len(parsed.Data), want)
	}

	vectors := make([][]float32, want)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, Usage{}, false, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		if c.config.Dimensions > 0 && len(d.Embedding) != c.config.Dimensions {
			return nil, Usage{}, false, fmt.Errorf("embedding has %d dimensions, want %d",
				len(d.Embedding), c.config.Dimensions)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, parsed.Usage, false, nil
}

func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.config.Model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
