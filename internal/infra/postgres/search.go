package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/graph-rag/internal/core/graph"
)

const chunkColumns = `id, tenant_id, document_id, workspace, ordinal, content, token_count, chunk_type, start_time, end_time, metadata, created_at`

const entityColumns = `id, tenant_id, workspace, name, type, description, source_chunk_ids, created_at`

// 類似度は 1 - コサイン距離。HNSWインデックスを使うため距離の昇順で並べる
const searchChunksSQL = `SELECT ` + chunkColumns + `, 1 - (embedding <=> $1) AS similarity
FROM chunks
WHERE tenant_id = $2
  AND embedding IS NOT NULL
  AND ($3::text = '' OR workspace = $3)
  AND 1 - (embedding <=> $1) >= $4
ORDER BY embedding <=> $1
LIMIT $5`

const searchEntitiesSQL = `SELECT ` + entityColumns + `, 1 - (embedding <=> $1) AS similarity
FROM entities
WHERE tenant_id = $2
  AND embedding IS NOT NULL
  AND ($3::text = '' OR workspace = $3)
  AND 1 - (embedding <=> $1) >= $4
ORDER BY embedding <=> $1
LIMIT $5`

const searchRelationsSQL = `SELECT r.id, r.tenant_id, r.workspace, r.source_entity_id, s.name, r.target_entity_id, t.name,
       r.type, r.description, r.source_chunk_ids, r.created_at, 1 - (r.embedding <=> $1) AS similarity
FROM relations r
JOIN entities s ON s.id = r.source_entity_id
JOIN entities t ON t.id = r.target_entity_id
WHERE r.tenant_id = $2
  AND r.embedding IS NOT NULL
  AND ($3::text = '' OR r.workspace = $3)
  AND 1 - (r.embedding <=> $1) >= $4
ORDER BY r.embedding <=> $1
LIMIT $5`

func scanChunk(row pgx.Row, extra ...any) (*graph.Chunk, error) {
	var (
		id, tenantID, documentID pgtype.UUID
		chunkType                string
		startTime, endTime       pgtype.Float8
		metadata                 []byte
		c                        graph.Chunk
	)
	dest := append([]any{
		&id, &tenantID, &documentID, &c.Workspace, &c.Ordinal, &c.Content, &c.TokenCount,
		&chunkType, &startTime, &endTime, &metadata, &c.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	c.ID = PgtypeToUUID(id)
	c.TenantID = PgtypeToUUID(tenantID)
	c.DocumentID = PgtypeToUUID(documentID)
	c.ChunkType = graph.ParseChunkType(chunkType)
	c.StartTime = Float8ToOption(startTime)
	c.EndTime = Float8ToOption(endTime)
	c.Metadata = JSONBToMetadata(metadata)
	return &c, nil
}

func scanEntity(row pgx.Row, extra ...any) (*graph.Entity, error) {
	var (
		id, tenantID pgtype.UUID
		entityType   string
		chunkIDs     []pgtype.UUID
		e            graph.Entity
	)
	dest := append([]any{
		&id, &tenantID, &e.Workspace, &e.Name, &entityType, &e.Description, &chunkIDs, &e.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	e.ID = PgtypeToUUID(id)
	e.TenantID = PgtypeToUUID(tenantID)
	e.Type = graph.EntityType(entityType)
	e.SourceChunkIDs = PgtypeToUUIDs(chunkIDs)
	return &e, nil
}

func scanRelation(row pgx.Row, extra ...any) (*graph.Relation, error) {
	var (
		id, tenantID, sourceID, targetID pgtype.UUID
		chunkIDs                         []pgtype.UUID
		r                                graph.Relation
	)
	dest := append([]any{
		&id, &tenantID, &r.Workspace, &sourceID, &r.SourceEntityName, &targetID, &r.TargetEntityName,
		&r.Type, &r.Description, &chunkIDs, &r.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r.ID = PgtypeToUUID(id)
	r.TenantID = PgtypeToUUID(tenantID)
	r.SourceEntityID = PgtypeToUUID(sourceID)
	r.TargetEntityID = PgtypeToUUID(targetID)
	r.SourceChunkIDs = PgtypeToUUIDs(chunkIDs)
	return &r, nil
}

func searchArgs(q graph.SearchQuery) []any {
	return []any{
		pgvector.NewVector(q.Vector),
		UUIDToPgtype(q.TenantID),
		q.Workspace,
		q.Threshold,
		q.Limit,
	}
}

// SearchChunks はチャンクの類似検索を実行する
func (s *Store) SearchChunks(ctx context.Context, q graph.SearchQuery) ([]graph.ScoredChunk, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, searchChunksSQL, searchArgs(q)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []graph.ScoredChunk
	for rows.Next() {
		var similarity float64
		c, err := scanChunk(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, graph.ScoredChunk{Chunk: c, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	return results, nil
}

// SearchEntities はエンティティの類似検索を実行する
func (s *Store) SearchEntities(ctx context.Context, q graph.SearchQuery) ([]graph.ScoredEntity, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, searchEntitiesSQL, searchArgs(q)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var results []graph.ScoredEntity
	for rows.Next() {
		var similarity float64
		e, err := scanEntity(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		results = append(results, graph.ScoredEntity{Entity: e, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	return results, nil
}

// SearchRelations はリレーションの類似検索を実行する。端点の名前を結合して返す
func (s *Store) SearchRelations(ctx context.Context, q graph.SearchQuery) ([]graph.ScoredRelation, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, searchRelationsSQL, searchArgs(q)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search relations: %w", err)
	}
	defer rows.Close()

	var results []graph.ScoredRelation
	for rows.Next() {
		var similarity float64
		r, err := scanRelation(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		results = append(results, graph.ScoredRelation{Relation: r, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search relations: %w", err)
	}
	return results, nil
}

// ChunksByIDs はIDを指定してチャンクを取得する
func (s *Store) ChunksByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*graph.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = $1 AND id = ANY($2::uuid[]) ORDER BY document_id, ordinal`,
		UUIDToPgtype(tenantID), UUIDsToPgtype(ids))
}

// EntitiesByIDs はIDを指定してエンティティを取得する
func (s *Store) EntitiesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*graph.Entity, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE tenant_id = $1 AND id = ANY($2::uuid[])`,
		UUIDToPgtype(tenantID), UUIDsToPgtype(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	defer rows.Close()

	var entities []*graph.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	return entities, nil
}

// ListChunks は類似度を使わずにテナントのチャンクを取得する
func (s *Store) ListChunks(ctx context.Context, tenantID uuid.UUID, workspace string, limit int) ([]*graph.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}

	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = $1 AND ($2::text = '' OR workspace = $2) ORDER BY created_at DESC, ordinal LIMIT $3`,
		UUIDToPgtype(tenantID), workspace, limit)
}

func (s *Store) queryChunks(ctx context.Context, sql string, args ...any) ([]*graph.Chunk, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*graph.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	return chunks, nil
}
