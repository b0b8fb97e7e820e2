package container

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jinford/graph-rag/internal/core/answer"
	"github.com/jinford/graph-rag/internal/core/extraction"
	"github.com/jinford/graph-rag/internal/core/graph"
	"github.com/jinford/graph-rag/internal/core/ingestion"
	"github.com/jinford/graph-rag/internal/core/retrieval"
	"github.com/jinford/graph-rag/internal/infra/postgres"
	infraredis "github.com/jinford/graph-rag/internal/infra/redis"
	"github.com/jinford/graph-rag/internal/infra/tokenizer"
	"github.com/jinford/graph-rag/internal/platform/config"
	"github.com/jinford/graph-rag/internal/platform/database"
)

// Embedder はコンテナが扱う埋め込みプロバイダ
type Embedder = infraredis.Embedder

// Generator はコンテナが扱う生成モデル
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TokenCounter はトークン数の計測と切り詰め
type TokenCounter interface {
	CountTokens(text string) int
	Truncate(text string, maxTokens int) string
}

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Ingestion  *ingestion.Service
	Extraction *extraction.Pipeline
	Retrieval  *retrieval.Engine
	Answer     *answer.Service

	store    graph.Store
	pgStore  *postgres.Store
	logger   *slog.Logger
	database *database.Database
	redis    *goredis.Client
}

type containerOptions struct {
	logger           *slog.Logger
	embedder         Embedder
	extractGenerator Generator
	answerGenerator  Generator
	tokenCounter     TokenCounter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerGenerator は抽出用と回答用の生成モデルを注入する
func WithContainerGenerator(extract, answer Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.extractGenerator = extract
		opts.answerGenerator = answer
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// NewContainer は設定からコンテナを生成する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := database.New(ctx, cfg.Database.ConnString())
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(ctx, cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する
func NewContainerWithDB(ctx context.Context, cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := newOptions(opts)
	pgStore := postgres.NewStore(db.Pool,
		postgres.WithDimension(cfg.EmbeddingDimension()),
		postgres.WithLogger(options.logger),
	)

	c, err := assemble(ctx, cfg, pgStore, options)
	if err != nil {
		return nil, err
	}
	c.pgStore = pgStore
	c.database = db
	return c, nil
}

// NewContainerWithStore は任意の graph.Store でコンテナを生成する（テスト・組み込み用）
func NewContainerWithStore(ctx context.Context, cfg *config.Config, store graph.Store, opts ...ContainerOption) (*ServiceContainer, error) {
	return assemble(ctx, cfg, store, newOptions(opts))
}

func newOptions(opts []ContainerOption) containerOptions {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	return options
}

func assemble(ctx context.Context, cfg *config.Config, store graph.Store, options containerOptions) (*ServiceContainer, error) {
	c := &ServiceContainer{store: store, logger: options.logger}

	// Embedder
	embedder := options.embedder
	if embedder == nil {
		var err error
		embedder, err = newEmbedder(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
	}
	if cfg.Redis.Enabled() {
		c.redis = infraredis.NewClient(infraredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		embedder = infraredis.NewCachedEmbedder(embedder, c.redis,
			infraredis.WithTTL(cfg.Redis.TTL),
			infraredis.WithLogger(options.logger),
		)
	}

	// Generator
	extractGen, answerGen := options.extractGenerator, options.answerGenerator
	if extractGen == nil || answerGen == nil {
		var err error
		extractGen, answerGen, err = newGenerators(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("LLMクライアント初期化に失敗しました: %w", err)
		}
	}

	// TokenCounter
	counter := options.tokenCounter
	if counter == nil {
		var err error
		counter, err = tokenizer.NewCounter()
		if err != nil {
			return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
		}
	}

	c.Extraction = extraction.NewPipeline(extractGen, embedder, store,
		extraction.WithLogger(options.logger),
		extraction.WithConfig(extraction.Config{
			MinChunkLength:     cfg.Extraction.MinChunkLength,
			Concurrency:        cfg.Extraction.Concurrency,
			EmbeddingBatchSize: cfg.Extraction.EmbeddingBatchSize,
			RequestsPerMinute:  cfg.Extraction.RequestsPerMinute,
		}),
	)

	c.Ingestion = ingestion.NewService(store, embedder, c.Extraction,
		ingestion.WithServiceLogger(options.logger),
		ingestion.WithTokenCounter(counter),
		ingestion.WithPipelineConfig(&ingestion.PipelineConfig{
			EmbeddingWorkerCount: cfg.Embedding.WorkerCount,
			EmbeddingBatchSize:   cfg.Embedding.BatchSize,
			RequestsPerMinute:    cfg.Embedding.RequestsPerMinute,
		}),
	)

	settings := retrieval.DefaultSettings()
	settings.DefaultTopK = cfg.Retrieval.DefaultTopK
	settings.DefaultThreshold = cfg.Retrieval.DefaultThreshold
	settings.MediaTopK = cfg.Retrieval.MediaTopK
	settings.MediaThreshold = cfg.Retrieval.MediaThreshold
	settings.RetryThreshold = cfg.Retrieval.RetryThreshold
	c.Retrieval = retrieval.NewEngine(store, embedder,
		retrieval.WithEngineLogger(options.logger),
		retrieval.WithSettings(settings),
	)

	c.Answer = answer.NewService(c.Retrieval, answerGen, store,
		answer.WithServiceLogger(options.logger),
		answer.WithTruncator(counter, cfg.Generation.MaxContextTokens),
	)

	options.logger.Debug("container assembled",
		"generationProvider", cfg.Generation.Provider,
		"embeddingProvider", cfg.Embedding.Provider,
		"embeddingModel", embedder.ModelName(),
		"redisCache", cfg.Redis.Enabled(),
	)
	return c, nil
}

// Migrate はデータベーススキーマを作成する
func (c *ServiceContainer) Migrate(ctx context.Context) error {
	if c.pgStore == nil {
		return fmt.Errorf("database is not configured")
	}
	return c.pgStore.Migrate(ctx)
}

// Store はGraph Storeを返す
func (c *ServiceContainer) Store() graph.Store {
	return c.store
}

// Close は内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
