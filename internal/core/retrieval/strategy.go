package retrieval

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// Query は戦略に渡す検索条件（クエリベクトルは計算済み）
type Query struct {
	TenantID  uuid.UUID
	Workspace string
	Vector    []float32
	TopK      int
	Threshold float64
}

func (q Query) search(limit int) graph.SearchQuery {
	return graph.SearchQuery{
		TenantID:  q.TenantID,
		Workspace: q.Workspace,
		Vector:    q.Vector,
		Threshold: q.Threshold,
		Limit:     max(limit, 1),
	}
}

func (q Query) withTopK(topK int) Query {
	q.TopK = max(topK, 1)
	return q
}

// Strategy は検索戦略
// ストアの障害は戦略の内部で縮退処理し、結果を返す
type Strategy interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

// base は各戦略が共有するストア操作と縮退処理
type base struct {
	store    graph.Searcher
	settings Settings
	logger   *slog.Logger
}

// searchPrimary は主検索を実行し、0件だった場合は閾値を下げて1回だけ再試行する
// エラーはハードエラー（呼び出し元で縮退させる）として返す
func searchPrimary[T any](
	ctx context.Context,
	b *base,
	q Query,
	limit int,
	search func(context.Context, graph.SearchQuery) ([]T, error),
) ([]T, error) {
	sq := q.search(limit)
	hits, err := search(ctx, sq)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 || sq.Threshold <= b.settings.RetryThreshold {
		return hits, nil
	}

	b.logger.Debug("検索結果が0件のため閾値を下げて再試行します",
		"threshold", sq.Threshold,
		"retryThreshold", b.settings.RetryThreshold,
	)
	sq.Threshold = b.settings.RetryThreshold
	return search(ctx, sq)
}

// fallback は類似度を使わずにテナントのチャンクを直接取得する
// 直接取得にも失敗した場合は空の結果を返す
func (b *base) fallback(ctx context.Context, q Query, cause error) *Result {
	b.logger.Warn("類似検索に失敗したためチャンクを直接取得します", "tenantID", q.TenantID, "error", cause)

	chunks, err := b.store.ListChunks(ctx, q.TenantID, q.Workspace, max(q.TopK, 1))
	if err != nil {
		b.logger.Error("チャンクの直接取得に失敗しました", "tenantID", q.TenantID, "error", err)
		return &Result{Degraded: true}
	}

	scored := make([]graph.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, graph.ScoredChunk{Chunk: c, Similarity: b.settings.FallbackSimilarity})
	}
	return &Result{Chunks: scored, Degraded: true}
}

// directChunks はチャンクの類似検索の結果を返す（naive と mix が共有する）
func (b *base) directChunks(ctx context.Context, q Query) *Result {
	hits, err := searchPrimary(ctx, b, q, q.TopK, b.store.SearchChunks)
	if err != nil {
		return b.fallback(ctx, q, err)
	}
	return &Result{Chunks: hits}
}

// linkedChunks はIDで指定したチャンクを一律の類似度で取得する
// 取得に失敗した場合はログに記録して空を返す
func (b *base) linkedChunks(ctx context.Context, q Query, ids []uuid.UUID) []graph.ScoredChunk {
	if len(ids) == 0 {
		return nil
	}
	chunks, err := b.store.ChunksByIDs(ctx, q.TenantID, ids)
	if err != nil {
		b.logger.Warn("関連チャンクの取得に失敗しました", "tenantID", q.TenantID, "chunks", len(ids), "error", err)
		return nil
	}
	return withSimilarity(chunks, ids, b.settings.LinkedChunkSimilarity)
}
