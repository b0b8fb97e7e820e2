package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/graph-rag/internal/core/graph/graphtest"
)

func newTestCache(t *testing.T, inner Embedder) (*CachedEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := NewClient(Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCachedEmbedder(inner, client, WithLogger(logger)), mr
}

func TestCachedEmbedder_Embed(t *testing.T) {
	ctx := context.Background()
	inner := graphtest.NewHashEmbedder(8)
	cache, mr := newTestCache(t, inner)

	first, err := cache.Embed(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls())
	assert.Len(t, mr.Keys(), 1)

	second, err := cache.Embed(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls(), "2回目はキャッシュから返す")

	ttl := mr.TTL(mr.Keys()[0])
	assert.Equal(t, DefaultTTL, ttl)
}

func TestCachedEmbedder_BatchEmbedPartialHits(t *testing.T) {
	ctx := context.Background()
	inner := graphtest.NewHashEmbedder(8)
	cache, _ := newTestCache(t, inner)

	_, err := cache.Embed(ctx, "jane doe")
	require.NoError(t, err)
	require.Equal(t, 1, inner.Calls())

	vectors, err := cache.BatchEmbed(ctx, []string{"acme corp", "jane doe", "founded"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, 3, inner.Calls(), "キャッシュ済みの1件は問い合わせない")

	for i, text := range []string{"acme corp", "jane doe", "founded"} {
		assert.Equal(t, graphtest.HashVector(text, 8), vectors[i])
	}

	_, err = cache.BatchEmbed(ctx, []string{"acme corp", "jane doe", "founded"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.Calls())
}

func TestCachedEmbedder_KeyIncludesDimension(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := NewClient(Options{Addr: mr.Addr()})
	defer client.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	small := graphtest.NewHashEmbedder(8)
	_, err = NewCachedEmbedder(small, client, WithLogger(logger)).Embed(ctx, "Acme Corp")
	require.NoError(t, err)

	// 同じモデル名でも次元数が違えば別エントリになる
	large := graphtest.NewHashEmbedder(16)
	cache := NewCachedEmbedder(large, client, WithLogger(logger))
	vector, err := cache.Embed(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.Len(t, vector, 16)
	assert.Equal(t, 1, large.Calls(), "次元数の違うキャッシュは使わない")
	assert.Len(t, mr.Keys(), 2)
	assert.Contains(t, cache.key("Acme Corp"), ":hash:16:")
	assert.Equal(t, 16, cache.Dimension())
}

func TestCachedEmbedder_ProviderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	inner := graphtest.NewHashEmbedder(8)
	inner.Err = errors.New("provider down")
	cache, mr := newTestCache(t, inner)

	_, err := cache.Embed(ctx, "anything")
	assert.Error(t, err)
	_, err = cache.BatchEmbed(ctx, []string{"a", "b"})
	assert.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCachedEmbedder_RedisUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := NewClient(Options{Addr: addr})
	defer client.Close()
	cache := NewCachedEmbedder(graphtest.NewHashEmbedder(8), client, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	vector, err := cache.Embed(ctx, "still works")
	require.NoError(t, err)
	assert.Equal(t, graphtest.HashVector("still works", 8), vector)

	vectors, err := cache.BatchEmbed(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}

func TestCachedEmbedder_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	inner := graphtest.NewHashEmbedder(8)
	cache, mr := newTestCache(t, inner)

	require.NoError(t, mr.Set(cache.key("broken"), "xyz"))

	vector, err := cache.Embed(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, graphtest.HashVector("broken", 8), vector)
	assert.Equal(t, 1, inner.Calls())
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
