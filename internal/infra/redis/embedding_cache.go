package redis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix はキャッシュキーの接頭辞
	DefaultPrefix = "graphrag:embedding:"

	// DefaultTTL はキャッシュエントリの有効期間
	DefaultTTL = 7 * 24 * time.Hour
)

// Embedder はキャッシュ対象の埋め込みプロバイダ
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatchSize() int
	ModelName() string
	Dimension() int
}

// Options は Redis 接続とキャッシュの設定
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewClient は Options から go-redis クライアントを作成する
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// CachedEmbedder はテキストの埋め込みを Redis にキャッシュするデコレータ
// キャッシュの障害は呼び出し元に伝えず、下位のプロバイダへ委譲する
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// CacheOption は CachedEmbedder のオプション設定
type CacheOption func(*CachedEmbedder)

// WithPrefix はキャッシュキーの接頭辞を上書きする
func WithPrefix(prefix string) CacheOption {
	return func(c *CachedEmbedder) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL はキャッシュの有効期間を上書きする（0は無期限）
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedEmbedder) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedEmbedder) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedEmbedder は inner を Redis キャッシュで包む
func NewCachedEmbedder(inner Embedder, client *redis.Client, opts ...CacheOption) *CachedEmbedder {
	c := &CachedEmbedder{
		inner:  inner,
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed は単一テキストの埋め込みを返す
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vector, decodeErr := decodeVector(data); decodeErr == nil {
			return vector, nil
		}
		c.logger.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("embedding cache read failed", "error", err)
	}

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, encodeVector(vector), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	return vector, nil
}

// BatchEmbed はキャッシュ済みのテキストを除いた分だけ下位プロバイダに問い合わせる
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	vectors := make([][]float32, len(texts))
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		values = nil
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if vector, decodeErr := decodeVector([]byte(s)); decodeErr == nil {
			vectors[i] = vector
		}
	}

	var missIdx []int
	var missTexts []string
	for i, vector := range vectors {
		if vector == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	embedded, err := c.inner.BatchEmbed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(missTexts), len(embedded))
	}

	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		vectors[i] = embedded[j]
		pipe.Set(ctx, keys[i], encodeVector(embedded[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err, "count", len(missIdx))
	}

	c.logger.Debug("embedding cache", "hits", len(texts)-len(missIdx), "misses", len(missIdx))
	return vectors, nil
}

// MaxBatchSize は下位プロバイダのバッチ上限を返す
func (c *CachedEmbedder) MaxBatchSize() int {
	return c.inner.MaxBatchSize()
}

// ModelName は下位プロバイダのモデル名を返す
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Dimension は下位プロバイダのベクトル次元数を返す
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// key はモデル名と次元数を含めてキーを作る。どちらかが変わると別エントリになる
func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + c.inner.ModelName() + ":" + strconv.Itoa(c.inner.Dimension()) + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding: %d bytes", len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}
