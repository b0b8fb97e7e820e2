package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jinford/graph-rag/internal/core/graph"
)

const (
	// DefaultMinChunkLength はこの文字数未満のチャンクをノイズとして読み飛ばす
	DefaultMinChunkLength = 20
	// DefaultConcurrency はチャンク抽出の同時実行数（I/O バウンド）
	DefaultConcurrency = 4
	// DefaultEmbeddingBatchSize はエンティティ・リレーションのEmbeddingバッチサイズ
	DefaultEmbeddingBatchSize = 100
)

// Generator は生成モデルの呼び出しインターフェース
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder はバッチEmbedding生成インターフェース
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkInput は抽出対象のチャンク
type ChunkInput struct {
	ID   uuid.UUID
	Text string
}

// Request はドキュメント1件分の抽出リクエスト
type Request struct {
	DocumentID uuid.UUID
	TenantID   uuid.UUID
	Workspace  string
	Chunks     []ChunkInput
}

// Result は抽出処理の結果
type Result struct {
	EntitiesCreated  int `json:"entitiesCreated"`
	RelationsCreated int `json:"relationsCreated"`
	ChunksProcessed  int `json:"chunksProcessed"`
	ChunksSkipped    int `json:"chunksSkipped"`
	ChunksFailed     int `json:"chunksFailed"`
}

// Config はパイプラインの設定
type Config struct {
	MinChunkLength     int
	Concurrency        int
	EmbeddingBatchSize int
	// RequestsPerMinute は生成モデル呼び出しの上限（0以下で無制限）
	RequestsPerMinute int
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		MinChunkLength:     DefaultMinChunkLength,
		Concurrency:        DefaultConcurrency,
		EmbeddingBatchSize: DefaultEmbeddingBatchSize,
	}
}

// Pipeline はチャンク群から重複排除済みのナレッジグラフを構築する
type Pipeline struct {
	generator Generator
	embedder  Embedder
	store     graph.Writer
	config    Config
	limiter   *rate.Limiter
	logger    *slog.Logger
	newID     func() uuid.UUID
}

// Option は Pipeline のオプション設定
type Option func(*Pipeline)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithConfig は設定を上書きする
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.config = cfg
	}
}

// WithIDGenerator はID生成関数を差し替える
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(p *Pipeline) {
		p.newID = newID
	}
}

// NewPipeline は新しい Pipeline を作成する
// embedder が nil の場合、エンティティ・リレーションはベクトルなしで保存される
func NewPipeline(generator Generator, embedder Embedder, store graph.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		generator: generator,
		embedder:  embedder,
		store:     store,
		config:    DefaultConfig(),
		logger:    slog.Default(),
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.config.MinChunkLength <= 0 {
		p.config.MinChunkLength = DefaultMinChunkLength
	}
	if p.config.Concurrency <= 0 {
		p.config.Concurrency = DefaultConcurrency
	}
	if p.config.EmbeddingBatchSize <= 0 {
		p.config.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	if p.config.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(p.config.RequestsPerMinute)/60), 1)
	}

	return p
}

type chunkStatus int

const (
	chunkSkipped chunkStatus = iota
	chunkProcessed
	chunkFailed
)

// ProcessEntitiesForDocument はドキュメントのチャンクからエンティティとリレーションを抽出して保存する
// 回復不能な失敗はログに記録し、作成数0の結果を返す（エラーは返さない）
func (p *Pipeline) ProcessEntitiesForDocument(ctx context.Context, req Request) Result {
	logger := p.logger.With("documentID", req.DocumentID, "tenantID", req.TenantID)

	if req.TenantID == uuid.Nil {
		logger.Error("テナントIDが指定されていないため抽出をスキップします")
		return Result{}
	}
	if len(req.Chunks) == 0 {
		logger.Info("抽出対象のチャンクがありません")
		return Result{}
	}

	logger.Info("エンティティ抽出を開始", "chunks", len(req.Chunks))

	extractions, result := p.extractChunks(ctx, req.Chunks, logger)

	builder := newGraphBuilder(req.TenantID, req.Workspace, p.newID)
	entities, relations := builder.build(extractions)

	logger.Info("抽出候補を統合しました",
		"entities", len(entities),
		"relations", len(relations),
		"invalidEntities", builder.stats.InvalidEntities,
		"invalidRelations", builder.stats.InvalidRelations,
		"unresolvedRelations", builder.stats.UnresolvedRelations,
		"duplicateRelations", builder.stats.DuplicateRelations,
	)

	if len(entities) == 0 {
		return result
	}

	p.attachEmbeddings(ctx, entities, relations, logger)

	if err := p.store.InsertEntities(ctx, req.TenantID, entities); err != nil {
		logger.Error("エンティティの一括保存に失敗しました", "error", err, "entities", len(entities))
		return result
	}
	result.EntitiesCreated = len(entities)
	result.RelationsCreated = p.insertRelations(ctx, req.TenantID, relations, logger)

	logger.Info("エンティティ抽出が完了しました",
		"entitiesCreated", result.EntitiesCreated,
		"relationsCreated", result.RelationsCreated,
		"chunksProcessed", result.ChunksProcessed,
		"chunksSkipped", result.ChunksSkipped,
		"chunksFailed", result.ChunksFailed,
	)
	return result
}

// extractChunks はチャンクごとの抽出をワーカープールで実行する
// 結果はチャンクの順序で返す
func (p *Pipeline) extractChunks(ctx context.Context, chunks []ChunkInput, logger *slog.Logger) ([]chunkExtraction, Result) {
	extracted := make([]chunkExtraction, len(chunks))
	statuses := make([]chunkStatus, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.config.Concurrency)

	for i, chunk := range chunks {
		if utf8.RuneCountInString(strings.TrimSpace(chunk.Text)) < p.config.MinChunkLength {
			statuses[i] = chunkSkipped
			continue
		}

		g.Go(func() error {
			extraction, err := p.extractChunk(ctx, chunk.Text)
			if err != nil {
				logger.Warn("チャンクの抽出に失敗しました", "chunkIndex", i, "chunkID", chunk.ID, "error", err)
				statuses[i] = chunkFailed
				return nil
			}
			extracted[i] = chunkExtraction{ChunkID: chunk.ID, Extraction: extraction}
			statuses[i] = chunkProcessed
			return nil
		})
	}
	_ = g.Wait()

	var result Result
	out := make([]chunkExtraction, 0, len(chunks))
	for i, status := range statuses {
		switch status {
		case chunkProcessed:
			result.ChunksProcessed++
			out = append(out, extracted[i])
		case chunkFailed:
			result.ChunksFailed++
		default:
			result.ChunksSkipped++
		}
	}
	return out, result
}

func (p *Pipeline) extractChunk(ctx context.Context, text string) (Extraction, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Extraction{}, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	response, err := p.generator.Generate(ctx, BuildPrompt(text))
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to generate extraction: %w", err)
	}
	return ParseExtraction(response), nil
}

// attachEmbeddings はエンティティとリレーションのEmbeddingを生成して設定する
// 生成に失敗したバッチはベクトルなしのまま保存する
func (p *Pipeline) attachEmbeddings(ctx context.Context, entities []*graph.Entity, relations []*graph.Relation, logger *slog.Logger) {
	if p.embedder == nil {
		return
	}

	entityTexts := make([]string, len(entities))
	for i, e := range entities {
		entityTexts[i] = EntityEmbeddingText(e)
	}
	for i, vec := range p.embedBatches(ctx, entityTexts, logger) {
		entities[i].Embedding = vec
	}

	relationTexts := make([]string, len(relations))
	for i, r := range relations {
		relationTexts[i] = RelationEmbeddingText(r)
	}
	for i, vec := range p.embedBatches(ctx, relationTexts, logger) {
		relations[i].Embedding = vec
	}
}

func (p *Pipeline) embedBatches(ctx context.Context, texts []string, logger *slog.Logger) [][]float32 {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += p.config.EmbeddingBatchSize {
		end := min(start+p.config.EmbeddingBatchSize, len(texts))

		vectors, err := p.embedder.BatchEmbed(ctx, texts[start:end])
		if err != nil {
			logger.Warn("Embedding生成に失敗しました", "error", err, "batchStart", start, "batchSize", end-start)
			continue
		}
		if len(vectors) != end-start {
			logger.Warn("Embedding数が一致しません", "expected", end-start, "actual", len(vectors))
			continue
		}
		copy(out[start:end], vectors)
	}
	return out
}

// insertRelations はリレーションを一括保存し、失敗時は1件ずつの保存に切り替える
// 保存できた件数を返す
func (p *Pipeline) insertRelations(ctx context.Context, tenantID uuid.UUID, relations []*graph.Relation, logger *slog.Logger) int {
	if len(relations) == 0 {
		return 0
	}

	err := p.store.InsertRelations(ctx, tenantID, relations)
	if err == nil {
		return len(relations)
	}
	logger.Warn("リレーションの一括保存に失敗したため1件ずつ保存します", "error", err, "relations", len(relations))

	inserted := 0
	for i, rel := range relations {
		if ctx.Err() != nil {
			logger.Warn("コンテキストが終了したためリレーション保存を中断します", "inserted", inserted, "remaining", len(relations)-i)
			break
		}
		if err := p.store.InsertRelation(ctx, tenantID, rel); err != nil {
			logger.Debug("リレーションの保存に失敗しました",
				"source", rel.SourceEntityName,
				"type", rel.Type,
				"target", rel.TargetEntityName,
				"error", err,
			)
			continue
		}
		inserted++
	}
	return inserted
}

// EntityEmbeddingText はエンティティのEmbedding対象テキストを返す
func EntityEmbeddingText(e *graph.Entity) string {
	if e.Description == "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.Type)
	}
	return fmt.Sprintf("%s (%s): %s", e.Name, e.Type, e.Description)
}

// RelationEmbeddingText はリレーションのEmbedding対象テキストを返す
func RelationEmbeddingText(r *graph.Relation) string {
	if r.Description == "" {
		return fmt.Sprintf("%s %s %s", r.SourceEntityName, r.Type, r.TargetEntityName)
	}
	return fmt.Sprintf("%s %s %s: %s", r.SourceEntityName, r.Type, r.TargetEntityName, r.Description)
}
