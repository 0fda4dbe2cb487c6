package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		DefaultModel: "test-model",
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func chatHandler(t *testing.T, reply string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)

		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}
}

func TestChat(t *testing.T) {
	ctx := context.Background()

	t.Run("ReturnsFirstChoice", func(t *testing.T) {
		server := httptest.NewServer(chatHandler(t, "Hello from the model."))
		defer server.Close()

		client := newTestChatClient(t, server.URL)
		resp, err := client.Chat(ctx, &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)

		assert.Equal(t, "Hello from the model.", resp.Content)
		assert.Equal(t, "test-model", resp.Model)
		assert.Equal(t, 15, resp.Usage.TotalTokens)
	})

	t.Run("UsesDefaultModelWhenUnset", func(t *testing.T) {
		var gotModel string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req ChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotModel = req.Model
			json.NewEncoder(w).Encode(map[string]any{
				"model":   req.Model,
				"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
			})
		}))
		defer server.Close()

		client := newTestChatClient(t, server.URL)
		_, err := client.Chat(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		require.NoError(t, err)
		assert.Equal(t, "test-model", gotModel)
	})

	t.Run("RetriesOnRateLimit", func(t *testing.T) {
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			chatHandler(t, "after retry").ServeHTTP(w, r)
		}))
		defer server.Close()

		client := newTestChatClient(t, server.URL)
		resp, err := client.Chat(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		require.NoError(t, err)
		assert.Equal(t, "after retry", resp.Content)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("DoesNotRetryOnAuthFailure", func(t *testing.T) {
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := newTestChatClient(t, server.URL)
		_, err := client.Chat(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		require.Error(t, err)
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("EmptyChoicesIsAnError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer server.Close()

		client := newTestChatClient(t, server.URL)
		_, err := client.Chat(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no choices")
	})

	t.Run("RejectsEmptyRequest", func(t *testing.T) {
		client := newTestChatClient(t, "http://unused.invalid")
		_, err := client.Chat(ctx, &ChatRequest{})
		require.Error(t, err)
	})
}

func TestNewClient(t *testing.T) {
	t.Run("RequiresAPIKey", func(t *testing.T) {
		_, err := NewClient(&Config{})
		require.Error(t, err)
	})
}
