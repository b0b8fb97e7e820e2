package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
	assert.Equal(t, MaxEmbeddingBatchSize, embedder.MaxBatchSize())
}

func TestNewEmbedderEmptyOptionsKeepDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key", WithEmbeddingModel(""), WithEmbeddingDimension(0))

	assert.Equal(t, DefaultEmbeddingModel, embedder.ModelName())
	assert.Equal(t, DefaultEmbeddingDimension, embedder.Dimension())
}

func newEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)

		var body struct {
			Input      json.RawMessage `json:"input"`
			Dimensions int             `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var inputs []string
		if err := json.Unmarshal(body.Input, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(body.Input, &single))
			inputs = []string{single}
		}

		// 順序の入れ替えに耐えることを確認するため逆順で返す
		data := make([]map[string]any, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(inputs[i])), float64(body.Dimensions)},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestEmbedder_BatchEmbed(t *testing.T) {
	server := newEmbeddingServer(t)
	defer server.Close()

	embedder := NewEmbedder("dummy-key",
		WithEmbeddingDimension(8),
		WithEmbedderRequestOptions(option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0)),
	)

	vectors, err := embedder.BatchEmbed(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 8}, vectors[0])
	assert.Equal(t, []float32{3, 8}, vectors[1])

	vector, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 8}, vector)
}

func TestEmbedder_BatchEmbedValidation(t *testing.T) {
	embedder := NewEmbedder("dummy-key")

	_, err := embedder.BatchEmbed(context.Background(), nil)
	assert.Error(t, err)

	_, err = embedder.BatchEmbed(context.Background(), make([]string, MaxEmbeddingBatchSize+1))
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestWithEmbeddingBatchLimit(t *testing.T) {
	assert.Equal(t, 16, NewEmbedder("dummy-key", WithEmbeddingBatchLimit(16)).MaxBatchSize())
	assert.Equal(t, MaxEmbeddingBatchSize, NewEmbedder("dummy-key", WithEmbeddingBatchLimit(500)).MaxBatchSize())
	assert.Equal(t, MaxEmbeddingBatchSize, NewEmbedder("dummy-key", WithEmbeddingBatchLimit(0)).MaxBatchSize())

	_, err := NewEmbedder("dummy-key", WithEmbeddingBatchLimit(2)).BatchEmbed(context.Background(), []string{"a", "b", "c"})
	assert.ErrorContains(t, err, "exceeds maximum of 2")
}

func TestOrderEmbeddings(t *testing.T) {
	tests := []struct {
		name    string
		data    []openai.Embedding
		n       int
		want    [][]float32
		wantErr string
	}{
		{
			name: "index順に並べ直す",
			data: []openai.Embedding{{Index: 1, Embedding: []float64{2}}, {Index: 0, Embedding: []float64{1}}},
			n:    2,
			want: [][]float32{{1}, {2}},
		},
		{
			name:    "件数不一致",
			data:    []openai.Embedding{{Index: 0, Embedding: []float64{1}}},
			n:       2,
			wantErr: "count mismatch",
		},
		{
			name:    "範囲外のindex",
			data:    []openai.Embedding{{Index: 3, Embedding: []float64{1}}},
			n:       1,
			wantErr: "out of range",
		},
		{
			name:    "重複したindex",
			data:    []openai.Embedding{{Index: 0, Embedding: []float64{1}}, {Index: 0, Embedding: []float64{2}}},
			n:       2,
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := orderEmbeddings(tt.data, tt.n)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
