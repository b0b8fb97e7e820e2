package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/extraction"
	"github.com/jinford/graph-rag/internal/core/graph"
)

// TokenCounter はトークン数のカウントインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// Extractor はドキュメント単位のエンティティ抽出インターフェース
type Extractor interface {
	ProcessEntitiesForDocument(ctx context.Context, req extraction.Request) extraction.Result
}

// Service はドキュメントのライフサイクル（取り込み・Embedding付与・抽出・削除）を提供する
type Service struct {
	store        graph.DocumentStore
	embedder     Embedder
	extractor    Extractor
	tokenCounter TokenCounter
	pipeline     *EmbeddingPipeline
	validate     *validator.Validate
	logger       *slog.Logger
	now          func() time.Time
}

type serviceOptions struct {
	tokenCounter   TokenCounter
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithServiceLogger は Service にロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithTokenCounter はトークン数が未指定のチャンクに使うカウンターを設定する
func WithTokenCounter(counter TokenCounter) ServiceOption {
	return func(o *serviceOptions) {
		o.tokenCounter = counter
	}
}

// WithPipelineConfig はEmbedding付与の設定を上書きする
func WithPipelineConfig(cfg *PipelineConfig) ServiceOption {
	return func(o *serviceOptions) {
		o.pipelineConfig = cfg
	}
}

// NewService は新しいServiceを作成する
func NewService(store graph.DocumentStore, embedder Embedder, extractor Extractor, opts ...ServiceOption) *Service {
	options := serviceOptions{
		pipelineConfig: DefaultPipelineConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Service{
		store:        store,
		embedder:     embedder,
		extractor:    extractor,
		tokenCounter: options.tokenCounter,
		pipeline:     NewEmbeddingPipeline(store, embedder, options.pipelineConfig, options.logger),
		validate:     validator.New(),
		logger:       options.logger,
		now:          time.Now,
	}
}

// ImportDocument はドキュメントとチャンクを1トランザクションで登録する
func (s *Service) ImportDocument(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.TenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid import request: %w", err)
	}

	now := s.now()
	doc := &graph.Document{
		ID:        uuid.New(),
		TenantID:  req.TenantID,
		Workspace: req.Workspace,
		FileName:  req.FileName,
		FileType:  req.FileType,
		CreatedAt: now,
	}

	chunks := make([]*graph.Chunk, 0, len(req.Chunks))
	totalTokens := 0
	for i, in := range req.Chunks {
		tokens := in.TokenCount
		if tokens == 0 && s.tokenCounter != nil {
			tokens = s.tokenCounter.CountTokens(in.Content)
		}
		totalTokens += tokens

		chunks = append(chunks, &graph.Chunk{
			ID:         uuid.New(),
			TenantID:   req.TenantID,
			DocumentID: doc.ID,
			Workspace:  req.Workspace,
			Ordinal:    i,
			Content:    in.Content,
			TokenCount: tokens,
			ChunkType:  graph.ParseChunkType(in.ChunkType),
			StartTime:  in.StartTime,
			EndTime:    in.EndTime,
			Metadata:   in.Metadata,
			CreatedAt:  now,
		})
	}

	if err := s.store.CreateDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.logger.Info("ドキュメントを取り込みました",
		"documentID", doc.ID,
		"tenantID", req.TenantID,
		"fileName", req.FileName,
		"chunks", len(chunks),
		"totalTokens", totalTokens,
	)

	return &ImportResult{DocumentID: doc.ID, Chunks: len(chunks), TotalTokens: totalTokens}, nil
}

// EmbedDocument はEmbedding未付与のチャンクにベクトルを付与する
func (s *Service) EmbedDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*EmbedStats, error) {
	if _, err := s.findDocument(ctx, tenantID, documentID); err != nil {
		return nil, err
	}

	chunks, err := s.store.ListChunksWithoutEmbedding(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks without embedding: %w", err)
	}

	s.logger.Info("Embedding付与を開始", "documentID", documentID, "tenantID", tenantID, "chunks", len(chunks))
	stats := s.pipeline.Run(ctx, tenantID, chunks)
	return &stats, nil
}

// ExtractDocument はドキュメントのチャンクからナレッジグラフを構築する
func (s *Service) ExtractDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*extraction.Result, error) {
	doc, err := s.findDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	chunks, err := s.store.ListChunksByDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	inputs := make([]extraction.ChunkInput, 0, len(chunks))
	for _, c := range chunks {
		inputs = append(inputs, extraction.ChunkInput{ID: c.ID, Text: c.Content})
	}

	result := s.extractor.ProcessEntitiesForDocument(ctx, extraction.Request{
		DocumentID: doc.ID,
		TenantID:   tenantID,
		Workspace:  doc.Workspace,
		Chunks:     inputs,
	})
	return &result, nil
}

// DeleteDocument はドキュメントとチャンクを削除し、ナレッジグラフから出典を取り除く
func (s *Service) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*graph.DeleteStats, error) {
	if _, err := s.findDocument(ctx, tenantID, documentID); err != nil {
		return nil, err
	}

	stats, err := s.store.DeleteDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}

	s.logger.Info("ドキュメントを削除しました",
		"documentID", documentID,
		"tenantID", tenantID,
		"chunksDeleted", stats.ChunksDeleted,
		"entitiesDeleted", stats.EntitiesDeleted,
		"entitiesShrunk", stats.EntitiesShrunk,
		"relationsDeleted", stats.RelationsDeleted,
	)
	return &stats, nil
}

func (s *Service) findDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*graph.Document, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	found, err := s.store.FindDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	doc, ok := found.Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return doc, nil
}
