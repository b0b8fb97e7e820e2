package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

var (
	// ErrTenantRequired はテナントIDが指定されていない場合のエラー
	ErrTenantRequired = errors.New("tenant id is required")

	// ErrTenantMismatch は書き込み対象レコードのテナントが呼び出し元と一致しない場合のエラー
	ErrTenantMismatch = errors.New("record tenant does not match caller tenant")
)

// SearchQuery は類似検索のパラメータ
type SearchQuery struct {
	TenantID  uuid.UUID
	Workspace string // 空の場合はテナント全体を対象にする
	Vector    []float32
	Threshold float64
	Limit     int
}

// Validate は検索パラメータを検証する
func (q SearchQuery) Validate() error {
	if q.TenantID == uuid.Nil {
		return ErrTenantRequired
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("query vector is required")
	}
	if q.Limit <= 0 {
		return fmt.Errorf("limit must be positive: %d", q.Limit)
	}
	return nil
}

// Searcher はテナントにスコープされた読み取り操作
type Searcher interface {
	// SearchChunks はチャンクの類似検索を実行する（閾値以上、類似度降順で最大Limit件）
	SearchChunks(ctx context.Context, q SearchQuery) ([]ScoredChunk, error)
	// SearchEntities はエンティティの類似検索を実行する
	SearchEntities(ctx context.Context, q SearchQuery) ([]ScoredEntity, error)
	// SearchRelations はリレーションの類似検索を実行する
	SearchRelations(ctx context.Context, q SearchQuery) ([]ScoredRelation, error)

	// ChunksByIDs はIDを指定してチャンクを取得する
	ChunksByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Chunk, error)
	// EntitiesByIDs はIDを指定してエンティティを取得する
	EntitiesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Entity, error)
	// ListChunks は類似度を使わずにテナントのチャンクを取得する（縮退時のフォールバック用）
	ListChunks(ctx context.Context, tenantID uuid.UUID, workspace string, limit int) ([]*Chunk, error)
}

// Writer は抽出パイプラインが使う書き込み操作
// 一括挿入は1バッチ単位でアトミックに実行される
type Writer interface {
	InsertEntities(ctx context.Context, tenantID uuid.UUID, entities []*Entity) error
	InsertRelations(ctx context.Context, tenantID uuid.UUID, relations []*Relation) error
	InsertRelation(ctx context.Context, tenantID uuid.UUID, relation *Relation) error
}

// DocumentStore はドキュメントとチャンクのライフサイクル操作
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document, chunks []*Chunk) error
	FindDocument(ctx context.Context, tenantID, documentID uuid.UUID) (mo.Option[*Document], error)
	DocumentMeta(ctx context.Context, tenantID uuid.UUID, documentIDs []uuid.UUID) (map[uuid.UUID]DocumentMeta, error)
	ListChunksByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]*Chunk, error)
	ListChunksWithoutEmbedding(ctx context.Context, tenantID, documentID uuid.UUID) ([]*Chunk, error)
	UpdateChunkEmbeddings(ctx context.Context, tenantID uuid.UUID, embeddings map[uuid.UUID][]float32) error
	DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) (DeleteStats, error)
}

// Store はGraph Storeの全操作を統合するインターフェース
type Store interface {
	Searcher
	Writer
	DocumentStore
}

// CheckEntityTenants は全エンティティが指定テナントに属することを検証する
func CheckEntityTenants(tenantID uuid.UUID, entities []*Entity) error {
	if tenantID == uuid.Nil {
		return ErrTenantRequired
	}
	for _, e := range entities {
		if e.TenantID != tenantID {
			return fmt.Errorf("%w: entity %s", ErrTenantMismatch, e.ID)
		}
	}
	return nil
}

// CheckRelationTenants は全リレーションが指定テナントに属することを検証する
func CheckRelationTenants(tenantID uuid.UUID, relations []*Relation) error {
	if tenantID == uuid.Nil {
		return ErrTenantRequired
	}
	for _, r := range relations {
		if r.TenantID != tenantID {
			return fmt.Errorf("%w: relation %s", ErrTenantMismatch, r.ID)
		}
	}
	return nil
}

// CheckChunkTenants は全チャンクが指定テナントに属することを検証する
func CheckChunkTenants(tenantID uuid.UUID, chunks []*Chunk) error {
	if tenantID == uuid.Nil {
		return ErrTenantRequired
	}
	for _, c := range chunks {
		if c.TenantID != tenantID {
			return fmt.Errorf("%w: chunk %s", ErrTenantMismatch, c.ID)
		}
	}
	return nil
}
