package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jinford/graph-rag/internal/core/graph"
)

const (
	// DefaultEmbeddingWorkerCount はデフォルトのEmbeddingワーカー数（I/O バウンド）
	DefaultEmbeddingWorkerCount = 4
	// DefaultEmbeddingBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbeddingBatchSize = 100
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
)

// Embedder はバッチEmbedding生成インターフェース
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	// MaxBatchSize は1回のリクエストで処理できる最大件数
	MaxBatchSize() int
}

// embeddingWriter はチャンクのベクトルを保存するインターフェース
type embeddingWriter interface {
	UpdateChunkEmbeddings(ctx context.Context, tenantID uuid.UUID, embeddings map[uuid.UUID][]float32) error
}

// PipelineConfig はEmbedding付与処理の設定
type PipelineConfig struct {
	// EmbeddingWorkerCount はEmbedding生成ワーカー数
	EmbeddingWorkerCount int
	// EmbeddingBatchSize はEmbeddingバッチサイズ（Embedder.MaxBatchSize()でクリップされる）
	EmbeddingBatchSize int
	// RequestsPerMinute はBatchEmbed呼び出しの上限（0は無制限）
	RequestsPerMinute int
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		EmbeddingWorkerCount: DefaultEmbeddingWorkerCount,
		EmbeddingBatchSize:   DefaultEmbeddingBatchSize,
	}
}

// EmbeddingPipeline はチャンクをバッチに分けてワーカーでEmbeddingを付与する
type EmbeddingPipeline struct {
	store    embeddingWriter
	embedder Embedder
	config   *PipelineConfig
	logger   *slog.Logger
	limiter  *rate.Limiter

	// 実際に使用するバッチサイズ（Embedder.MaxBatchSize()でクリップ済み）
	effectiveBatchSize int
}

// NewEmbeddingPipeline は新しいEmbeddingPipelineを作成する
func NewEmbeddingPipeline(store embeddingWriter, embedder Embedder, config *PipelineConfig, logger *slog.Logger) *EmbeddingPipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.EmbeddingWorkerCount <= 0 {
		config.EmbeddingWorkerCount = DefaultEmbeddingWorkerCount
	}

	effectiveBatchSize := config.EmbeddingBatchSize
	maxBatchSize := embedder.MaxBatchSize()
	if maxBatchSize <= 0 {
		logger.Warn("Embedder.MaxBatchSize()が無効な値を返しました。フォールバック値を使用します",
			"returned", maxBatchSize,
			"fallback", MinBatchSize,
		)
		maxBatchSize = MinBatchSize
	}
	if effectiveBatchSize > maxBatchSize {
		logger.Info("EmbeddingBatchSizeをEmbedderの最大値でクリップ",
			"configured", effectiveBatchSize,
			"max", maxBatchSize,
		)
		effectiveBatchSize = maxBatchSize
	}
	if effectiveBatchSize <= 0 {
		effectiveBatchSize = MinBatchSize
	}

	p := &EmbeddingPipeline{
		store:              store,
		embedder:           embedder,
		config:             config,
		logger:             logger,
		effectiveBatchSize: effectiveBatchSize,
	}
	if config.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60), 1)
	}
	return p
}

type pipelineCounters struct {
	attempted  atomic.Int64
	embedded   atomic.Int64
	failed     atomic.Int64
	mismatches atomic.Int64
}

// Run はチャンクにEmbeddingを付与して保存する
// バッチ単位の失敗は統計に記録して処理を続ける。コンテキスト終了後に未処理のチャンクは失敗として数える
func (p *EmbeddingPipeline) Run(ctx context.Context, tenantID uuid.UUID, chunks []*graph.Chunk) EmbedStats {
	if len(chunks) == 0 {
		return EmbedStats{}
	}

	batchChan := make(chan []*graph.Chunk)

	// Stage 1: バッチ分割
	go func() {
		defer close(batchChan)
		for start := 0; start < len(chunks); start += p.effectiveBatchSize {
			end := min(start+p.effectiveBatchSize, len(chunks))
			select {
			case batchChan <- chunks[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: Embedding生成・保存ワーカー
	var counters pipelineCounters
	var wg sync.WaitGroup
	wg.Add(p.config.EmbeddingWorkerCount)
	for i := 0; i < p.config.EmbeddingWorkerCount; i++ {
		go func() {
			defer wg.Done()
			for batch := range batchChan {
				p.processBatch(ctx, tenantID, batch, &counters)
			}
		}()
	}
	wg.Wait()

	stats := EmbedStats{
		Embedded:   int(counters.embedded.Load()),
		Failed:     int(counters.failed.Load()) + len(chunks) - int(counters.attempted.Load()),
		Mismatches: int(counters.mismatches.Load()),
	}

	if stats.Failed > 0 || stats.Mismatches > 0 {
		p.logger.Warn("Embedding付与完了（一部失敗あり）",
			"tenantID", tenantID,
			"embedded", stats.Embedded,
			"failed", stats.Failed,
			"mismatches", stats.Mismatches,
		)
	}
	return stats
}

func (p *EmbeddingPipeline) processBatch(ctx context.Context, tenantID uuid.UUID, batch []*graph.Chunk, counters *pipelineCounters) {
	counters.attempted.Add(int64(len(batch)))

	texts := make([]string, 0, len(batch))
	for _, c := range batch {
		texts = append(texts, c.Content)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			counters.failed.Add(int64(len(batch)))
			return
		}
	}

	vectors, err := p.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		p.logger.Error("バッチEmbedding生成に失敗",
			"batchSize", len(texts),
			"error", err,
		)
		counters.failed.Add(int64(len(batch)))
		return
	}

	if len(vectors) != len(batch) {
		p.logger.Error("Embeddingベクトル数が不一致",
			"expected", len(batch),
			"actual", len(vectors),
		)
		// 件数が合わない場合はどのベクトルがどのチャンクのものか判断できない
		counters.mismatches.Add(1)
		counters.failed.Add(int64(len(batch)))
		return
	}

	embeddings := make(map[uuid.UUID][]float32, len(batch))
	for i := range batch {
		if len(vectors[i]) == 0 {
			counters.failed.Add(1)
			continue
		}
		embeddings[batch[i].ID] = vectors[i]
	}
	if len(embeddings) == 0 {
		return
	}

	if err := p.store.UpdateChunkEmbeddings(ctx, tenantID, embeddings); err != nil {
		p.logger.Error("バッチEmbedding保存に失敗",
			"count", len(embeddings),
			"error", err,
		)
		counters.failed.Add(int64(len(embeddings)))
		return
	}
	counters.embedded.Add(int64(len(embeddings)))
}
