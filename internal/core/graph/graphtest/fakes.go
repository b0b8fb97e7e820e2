package graphtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder は単語のハッシュを次元に割り当てる決定的なEmbedder
// 共通する単語が多いテキスト同士ほど類似度が高くなる
type HashEmbedder struct {
	Dim int
	Err error
	// BatchLimit はMaxBatchSizeが返す値（0の場合は100）
	BatchLimit int

	mu    sync.Mutex
	calls int
}

// NewHashEmbedder は指定次元の HashEmbedder を作成する
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{Dim: dimension}
}

// Embed はテキストをベクトルに変換する
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	return HashVector(text, e.Dim), nil
}

// BatchEmbed は複数テキストをベクトルに変換する
func (e *HashEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// MaxBatchSize は1回のBatchEmbedで処理できる最大件数を返す
func (e *HashEmbedder) MaxBatchSize() int {
	if e.BatchLimit <= 0 {
		return 100
	}
	return e.BatchLimit
}

// Dimension はベクトル次元数を返す（0の場合は32）
func (e *HashEmbedder) Dimension() int {
	if e.Dim <= 0 {
		return 32
	}
	return e.Dim
}

// ModelName は固定のモデル名を返す
func (e *HashEmbedder) ModelName() string {
	return "hash"
}

// Calls はEmbed呼び出し回数を返す
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// HashVector はテキストの単語ハッシュからベクトルを生成する
func HashVector(text string, dimension int) []float32 {
	if dimension <= 0 {
		dimension = 32
	}
	v := make([]float32, dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dimension)]++
	}
	return v
}

// GeneratorFunc は関数をGeneratorとして扱うアダプタ
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate はプロンプトから文章を生成する
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
