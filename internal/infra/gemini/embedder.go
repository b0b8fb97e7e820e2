package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/jinford/graph-rag/internal/core/ingestion"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimension は出力次元の既定値
	DefaultEmbeddingDimension = 768
	// MaxEmbeddingBatchSize は1リクエストで送る最大テキスト数
	MaxEmbeddingBatchSize = 100
)

// Embedder は Gemini の EmbedContent でテキストをベクトルに変換する
type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*Embedder)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(e *Embedder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithEmbeddingDimension は出力次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(e *Embedder) {
		if dimension > 0 {
			e.dimension = dimension
		}
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(ctx context.Context, cfg Config, opts ...EmbedderOption) (*Embedder, error) {
	client, err := newGenaiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e := &Embedder{
		client:    client,
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// BatchEmbed は入力と同じ順序でベクトルを返す
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > MaxEmbeddingBatchSize {
		return nil, fmt.Errorf("batch size exceeds maximum of %d", MaxEmbeddingBatchSize)
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	outputDim := int32(e.dimension)
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range result.Embeddings {
		if embedding == nil || len(embedding.Values) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch at %d: expected %d", i, e.dimension)
		}
		vectors[i] = embedding.Values
	}

	return vectors, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す
func (e *Embedder) MaxBatchSize() int {
	return MaxEmbeddingBatchSize
}

var (
	_ ingestion.Embedder = (*Embedder)(nil)
	_ retrieval.Embedder = (*Embedder)(nil)
)
