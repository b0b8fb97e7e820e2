package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
	})
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient("dummy-key",
		WithBackoff(time.Millisecond),
		WithRequestOptions(option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0)),
	)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestClient_Generate(t *testing.T) {
	var gotFormat atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if rf, ok := body["response_format"].(map[string]any); ok {
			gotFormat.Store(rf["type"])
		}
		writeCompletion(w, `{"entities":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	out, err := client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, out)
	assert.Nil(t, gotFormat.Load(), "通常モードではresponse_formatを送らない")

	out, err = client.JSON().Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, out)
	assert.Equal(t, "json_object", gotFormat.Load())
}

func TestClient_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	resp, err := newTestClient(t, server).GenerateCompletion(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 5, resp.TokensUsed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestClient_InvalidJSONInJSONMode(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(w, "not json")
	}))
	defer server.Close()

	_, err := newTestClient(t, server).JSON().Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrInvalidResponseFormat)
	assert.Equal(t, int32(1+JSONParseMaxRetries), calls.Load())
}

func TestClient_NonRetryableError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Generate(context.Background(), "hi")
	assert.ErrorContains(t, err, "OpenAI API call failed")
	assert.Equal(t, int32(1), calls.Load())
}
