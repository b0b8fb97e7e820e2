package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/graph-rag/internal/core/ingestion"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

const (
	// DefaultEmbeddingModel はモデル未指定時の埋め込みモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension は text-embedding-3-small の標準次元
	DefaultEmbeddingDimension = 1536
	// MaxEmbeddingBatchSize は1リクエストあたりの入力数の上限
	MaxEmbeddingBatchSize = 100
)

// Embedder は OpenAI Embeddings API による埋め込みプロバイダ
type Embedder struct {
	client     openai.Client
	model      string
	dimension  int
	batchLimit int
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*Embedder, *[]option.RequestOption)

// WithEmbeddingModel はモデル名を上書きする（空文字は無視）
func WithEmbeddingModel(model string) EmbedderOption {
	return func(e *Embedder, _ *[]option.RequestOption) {
		if model != "" {
			e.model = model
		}
	}
}

// WithEmbeddingDimension は出力次元を上書きする（0以下は無視）
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(e *Embedder, _ *[]option.RequestOption) {
		if dimension > 0 {
			e.dimension = dimension
		}
	}
}

// WithEmbeddingBatchLimit は1リクエストの入力数を絞る。MaxEmbeddingBatchSize を超える値は切り詰める
func WithEmbeddingBatchLimit(limit int) EmbedderOption {
	return func(e *Embedder, _ *[]option.RequestOption) {
		if limit > 0 {
			e.batchLimit = min(limit, MaxEmbeddingBatchSize)
		}
	}
}

// WithEmbedderRequestOptions はSDKのリクエストオプション（BaseURLなど）を追加する
func WithEmbedderRequestOptions(opts ...option.RequestOption) EmbedderOption {
	return func(_ *Embedder, reqOpts *[]option.RequestOption) {
		*reqOpts = append(*reqOpts, opts...)
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		model:      DefaultEmbeddingModel,
		dimension:  DefaultEmbeddingDimension,
		batchLimit: MaxEmbeddingBatchSize,
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(e, &reqOpts)
	}
	e.client = openai.NewClient(reqOpts...)
	return e
}

// Embed は単一テキストの埋め込みを返す
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// BatchEmbed は texts と同じ順序で埋め込みを返す
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	switch {
	case len(texts) == 0:
		return nil, fmt.Errorf("no texts provided")
	case len(texts) > e.batchLimit:
		return nil, fmt.Errorf("batch size %d exceeds maximum of %d", len(texts), e.batchLimit)
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(e.model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions: openai.Int(int64(e.dimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return orderEmbeddings(resp.Data, len(texts))
}

// orderEmbeddings はレスポンスの index に従ってベクトルを入力順へ並べ直す
func orderEmbeddings(data []openai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", n, len(data))
	}

	out := make([][]float32, n)
	for _, d := range data {
		idx := int(d.Index)
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("embedding index out of range: %d", d.Index)
		}
		if out[idx] != nil {
			return nil, fmt.Errorf("duplicate embedding index: %d", d.Index)
		}
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		out[idx] = vector
	}
	return out, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string { return e.model }

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int { return e.dimension }

// MaxBatchSize は1回の BatchEmbed で受け付ける最大件数を返す
func (e *Embedder) MaxBatchSize() int { return e.batchLimit }

var (
	_ ingestion.Embedder = (*Embedder)(nil)
	_ retrieval.Embedder = (*Embedder)(nil)
)
