package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/graph"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

// DefaultMaxContextTokens はプロンプトに埋め込むコンテキストの最大トークン数
const DefaultMaxContextTokens = 6000

// Retriever は検索インターフェース
type Retriever interface {
	Retrieve(ctx context.Context, params retrieval.Params) (*retrieval.Result, error)
}

// Generator は回答生成インターフェース
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// MetaSource は引用に付与するドキュメント情報の取得インターフェース
type MetaSource interface {
	DocumentMeta(ctx context.Context, tenantID uuid.UUID, documentIDs []uuid.UUID) (map[uuid.UUID]graph.DocumentMeta, error)
}

// Truncator はトークン数に基づいてテキストを切り詰める
type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// Service は検索結果を根拠に回答を生成する
type Service struct {
	retriever        Retriever
	generator        Generator
	meta             MetaSource
	truncator        Truncator
	maxContextTokens int
	logger           *slog.Logger
}

type ServiceOption func(*Service)

// WithServiceLogger はロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTruncator はコンテキストの切り詰めに使うトークナイザーを設定する
func WithTruncator(truncator Truncator, maxTokens int) ServiceOption {
	return func(s *Service) {
		s.truncator = truncator
		if maxTokens > 0 {
			s.maxContextTokens = maxTokens
		}
	}
}

// NewService は新しいServiceを作成する
// meta が nil の場合、引用にファイル情報を付与しない
func NewService(retriever Retriever, generator Generator, meta MetaSource, opts ...ServiceOption) *Service {
	svc := &Service{
		retriever:        retriever,
		generator:        generator,
		meta:             meta,
		maxContextTokens: DefaultMaxContextTokens,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Ask は質問に対して検索結果を根拠に回答を生成する
func (s *Service) Ask(ctx context.Context, params Params) (*Result, error) {
	retrieved, err := s.retriever.Retrieve(ctx, retrieval.Params{
		Query:     params.Query,
		TenantID:  params.TenantID,
		Mode:      params.Mode,
		Workspace: params.Workspace,
		TopK:      params.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	contextText := retrieved.Context
	if s.truncator != nil && contextText != "" {
		contextText = s.truncator.Truncate(contextText, s.maxContextTokens)
	}

	s.logger.Info("generating answer",
		"tenantID", params.TenantID,
		"mode", retrieved.Mode,
		"chunks", len(retrieved.Chunks),
		"contextLength", len(contextText),
	)

	answer, err := s.generator.Generate(ctx, BuildPrompt(params.Query, contextText))
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	citations := s.buildCitations(ctx, params.TenantID, retrieved)

	s.logger.Info("ask completed",
		"answerLength", len(answer),
		"citations", len(citations),
	)

	return &Result{
		Answer:    answer,
		Citations: citations,
		Retrieval: retrieved,
	}, nil
}

// buildCitations は検索結果のチャンクから引用を作成する
// ドキュメント情報の取得に失敗した場合はファイル情報なしで返す
func (s *Service) buildCitations(ctx context.Context, tenantID uuid.UUID, retrieved *retrieval.Result) []Citation {
	if len(retrieved.Chunks) == 0 {
		return []Citation{}
	}

	var metas map[uuid.UUID]graph.DocumentMeta
	if s.meta != nil {
		m, err := s.meta.DocumentMeta(ctx, tenantID, retrieved.DocumentIDs())
		if err != nil {
			s.logger.Warn("引用のドキュメント情報取得に失敗しました", "tenantID", tenantID, "error", err)
		} else {
			metas = m
		}
	}

	citations := make([]Citation, 0, len(retrieved.Chunks))
	for i, sc := range retrieved.Chunks {
		c := sc.Chunk
		meta := metas[c.DocumentID]
		citations = append(citations, Citation{
			Rank:       i + 1,
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			FileName:   meta.FileName,
			FileType:   meta.FileType,
			ChunkType:  c.ChunkType,
			StartTime:  c.StartTime,
			EndTime:    c.EndTime,
			Similarity: sc.Similarity,
		})
	}
	return citations
}
