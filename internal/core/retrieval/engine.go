package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// Embedder はクエリのEmbedding生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Params は検索パラメータ
type Params struct {
	Query     string
	TenantID  uuid.UUID
	Mode      Mode   // 空の場合は mix
	Workspace string // 空の場合はテナント全体
	TopK      int    // 0以下の場合は DefaultTopK
}

// Engine はクエリを受け取り、モードに応じた戦略で検索する
type Engine struct {
	embedder   Embedder
	settings   Settings
	logger     *slog.Logger
	strategies map[Mode]Strategy
}

// EngineOption は Engine のオプション設定
type EngineOption func(*engineOptions)

type engineOptions struct {
	settings Settings
	logger   *slog.Logger
}

// WithEngineLogger はロガーを設定する
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithSettings は調整値を設定する
func WithSettings(settings Settings) EngineOption {
	return func(o *engineOptions) {
		o.settings = settings
	}
}

// NewEngine は新しい Engine を作成する
func NewEngine(store graph.Searcher, embedder Embedder, opts ...EngineOption) *Engine {
	o := engineOptions{settings: DefaultSettings(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	settings := o.settings.withDefaults()

	b := &base{store: store, settings: settings, logger: o.logger}
	local := &LocalStrategy{base: b}
	global := &GlobalStrategy{base: b}

	return &Engine{
		embedder: embedder,
		settings: settings,
		logger:   o.logger,
		strategies: map[Mode]Strategy{
			ModeNaive:  &NaiveStrategy{base: b},
			ModeLocal:  local,
			ModeGlobal: global,
			ModeHybrid: &HybridStrategy{base: b, local: local, global: global},
			ModeMix:    &MixStrategy{base: b},
		},
	}
}

// Settings は適用中の調整値を返す
func (e *Engine) Settings() Settings {
	return e.settings
}

// Retrieve はクエリに関連するチャンク・エンティティ・リレーションを取得する
// エラーを返すのは入力不正とクエリのEmbedding生成失敗のみで、
// ストアの障害は縮退した（空の場合もある）結果として返す
func (e *Engine) Retrieve(ctx context.Context, params Params) (*Result, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if params.TenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	mode, err := ParseMode(string(params.Mode))
	if err != nil {
		return nil, err
	}

	tuning := e.settings.Tune(query, params.TopK)

	logger := e.logger.With("tenantID", params.TenantID, "mode", mode)
	logger.Info("executing retrieval",
		"topK", tuning.TopK,
		"threshold", tuning.Threshold,
		"media", tuning.Media,
	)

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedQuery, err)
	}

	result, err := e.strategies[mode].Search(ctx, Query{
		TenantID:  params.TenantID,
		Workspace: params.Workspace,
		Vector:    vector,
		TopK:      tuning.TopK,
		Threshold: tuning.Threshold,
	})
	if err != nil {
		logger.Error("検索戦略の実行に失敗しました", "error", err)
		result = &Result{Degraded: true}
	}
	if result == nil {
		result = &Result{}
	}
	result.Mode = mode
	result.Tuning = tuning
	result.Context = BuildContext(result)

	logger.Info("retrieval completed",
		"chunks", len(result.Chunks),
		"entities", len(result.Entities),
		"relations", len(result.Relations),
		"degraded", result.Degraded,
	)
	return result, nil
}
