package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/graph-rag/internal/core/graph"
)

const insertDocumentSQL = `INSERT INTO documents (id, tenant_id, workspace, file_name, file_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const insertChunkSQL = `INSERT INTO chunks (id, tenant_id, document_id, workspace, ordinal, content, token_count, chunk_type, start_time, end_time, metadata, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const updateChunkEmbeddingSQL = `UPDATE chunks SET embedding = $1 WHERE tenant_id = $2 AND id = $3`

// 削除されたチャンクIDを配列から取り除く（順序は保持）
const pruneChunkIDsExpr = `ARRAY(SELECT c FROM unnest(source_chunk_ids) AS c WHERE c <> ALL($2::uuid[]))`

const (
	deleteRelationsSQL = `DELETE FROM relations
WHERE tenant_id = $1
  AND ((cardinality(source_chunk_ids) > 0 AND source_chunk_ids <@ $2::uuid[])
    OR source_entity_id IN (SELECT id FROM entities WHERE tenant_id = $1 AND cardinality(source_chunk_ids) > 0 AND source_chunk_ids <@ $2::uuid[])
    OR target_entity_id IN (SELECT id FROM entities WHERE tenant_id = $1 AND cardinality(source_chunk_ids) > 0 AND source_chunk_ids <@ $2::uuid[]))`

	shrinkRelationsSQL = `UPDATE relations SET source_chunk_ids = ` + pruneChunkIDsExpr + `
WHERE tenant_id = $1 AND source_chunk_ids && $2::uuid[]`

	deleteEntitiesSQL = `DELETE FROM entities
WHERE tenant_id = $1 AND cardinality(source_chunk_ids) > 0 AND source_chunk_ids <@ $2::uuid[]`

	shrinkEntitiesSQL = `UPDATE entities SET source_chunk_ids = ` + pruneChunkIDsExpr + `
WHERE tenant_id = $1 AND source_chunk_ids && $2::uuid[]`
)

// CreateDocument はドキュメントとチャンクを1トランザクション・1バッチで登録する
func (s *Store) CreateDocument(ctx context.Context, doc *graph.Document, chunks []*graph.Chunk) error {
	if err := graph.CheckChunkTenants(doc.TenantID, chunks); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(insertDocumentSQL,
		UUIDToPgtype(doc.ID),
		UUIDToPgtype(doc.TenantID),
		doc.Workspace,
		doc.FileName,
		doc.FileType,
		createdAt(doc.CreatedAt),
	)
	for _, c := range chunks {
		metadata, err := MetadataToJSONB(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		batch.Queue(insertChunkSQL,
			UUIDToPgtype(c.ID),
			UUIDToPgtype(c.TenantID),
			UUIDToPgtype(c.DocumentID),
			c.Workspace,
			c.Ordinal,
			c.Content,
			c.TokenCount,
			string(c.ChunkType),
			OptionToFloat8(c.StartTime),
			OptionToFloat8(c.EndTime),
			metadata,
			VectorParam(c.Embedding),
			createdAt(c.CreatedAt),
		)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, batch, func(i int) string {
			if i == 0 {
				return "insert document"
			}
			return fmt.Sprintf("insert chunk %d", chunks[i-1].Ordinal)
		})
	})
}

// FindDocument はテナント内のドキュメントを取得する
func (s *Store) FindDocument(ctx context.Context, tenantID, documentID uuid.UUID) (mo.Option[*graph.Document], error) {
	var (
		id, tenant pgtype.UUID
		doc        graph.Document
	)
	if tenantID == uuid.Nil {
		return mo.None[*graph.Document](), graph.ErrTenantRequired
	}
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, workspace, file_name, file_type, created_at FROM documents WHERE tenant_id = $1 AND id = $2`,
		UUIDToPgtype(tenantID), UUIDToPgtype(documentID),
	).Scan(&id, &tenant, &doc.Workspace, &doc.FileName, &doc.FileType, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*graph.Document](), nil
		}
		return mo.None[*graph.Document](), fmt.Errorf("failed to get document: %w", err)
	}

	doc.ID = PgtypeToUUID(id)
	doc.TenantID = PgtypeToUUID(tenant)
	return mo.Some(&doc), nil
}

// DocumentMeta は引用用のファイル名と種別を取得する
func (s *Store) DocumentMeta(ctx context.Context, tenantID uuid.UUID, documentIDs []uuid.UUID) (map[uuid.UUID]graph.DocumentMeta, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	out := make(map[uuid.UUID]graph.DocumentMeta, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, file_name, file_type FROM documents WHERE tenant_id = $1 AND id = ANY($2::uuid[])`,
		UUIDToPgtype(tenantID), UUIDsToPgtype(documentIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get document meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   pgtype.UUID
			meta graph.DocumentMeta
		)
		if err := rows.Scan(&id, &meta.FileName, &meta.FileType); err != nil {
			return nil, fmt.Errorf("failed to scan document meta: %w", err)
		}
		out[PgtypeToUUID(id)] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get document meta: %w", err)
	}
	return out, nil
}

// ListChunksByDocument はドキュメントのチャンクを順序通りに返す
func (s *Store) ListChunksByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]*graph.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = $1 AND document_id = $2 ORDER BY ordinal`,
		UUIDToPgtype(tenantID), UUIDToPgtype(documentID))
}

// ListChunksWithoutEmbedding は埋め込み未付与のチャンクを返す
func (s *Store) ListChunksWithoutEmbedding(ctx context.Context, tenantID, documentID uuid.UUID) ([]*graph.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = $1 AND document_id = $2 AND embedding IS NULL ORDER BY ordinal`,
		UUIDToPgtype(tenantID), UUIDToPgtype(documentID))
}

// UpdateChunkEmbeddings はチャンクに埋め込みを付与する
func (s *Store) UpdateChunkEmbeddings(ctx context.Context, tenantID uuid.UUID, embeddings map[uuid.UUID][]float32) error {
	if tenantID == uuid.Nil {
		return graph.ErrTenantRequired
	}
	if len(embeddings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	ids := make([]uuid.UUID, 0, len(embeddings))
	for id, vector := range embeddings {
		batch.Queue(updateChunkEmbeddingSQL, VectorParam(vector), UUIDToPgtype(tenantID), UUIDToPgtype(id))
		ids = append(ids, id)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, batch, func(i int) string {
			return "update chunk embedding " + ids[i].String()
		})
	})
}

// DeleteDocument はドキュメントとチャンクを削除し、グラフの出典リストを縮める
// 出典が空になったエンティティは削除され、端点を失ったリレーションも削除される
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) (graph.DeleteStats, error) {
	var stats graph.DeleteStats
	if tenantID == uuid.Nil {
		return stats, graph.ErrTenantRequired
	}

	tenant := UUIDToPgtype(tenantID)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockTenantGraph(ctx, tx, tenantID); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `SELECT id FROM chunks WHERE tenant_id = $1 AND document_id = $2`, tenant, UUIDToPgtype(documentID))
		if err != nil {
			return fmt.Errorf("failed to list document chunks: %w", err)
		}
		chunkIDs, err := pgx.CollectRows(rows, pgx.RowTo[pgtype.UUID])
		if err != nil {
			return fmt.Errorf("failed to scan chunk ids: %w", err)
		}

		if len(chunkIDs) > 0 {
			steps := []struct {
				sql    string
				target *int
			}{
				{deleteRelationsSQL, &stats.RelationsDeleted},
				{shrinkRelationsSQL, nil},
				{deleteEntitiesSQL, &stats.EntitiesDeleted},
				{shrinkEntitiesSQL, &stats.EntitiesShrunk},
			}
			for _, step := range steps {
				tag, err := tx.Exec(ctx, step.sql, tenant, chunkIDs)
				if err != nil {
					return fmt.Errorf("failed to update graph sources: %w", err)
				}
				if step.target != nil {
					*step.target = int(tag.RowsAffected())
				}
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`, tenant, UUIDToPgtype(documentID))
		if err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		stats.ChunksDeleted = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE tenant_id = $1 AND id = $2`, tenant, UUIDToPgtype(documentID)); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return graph.DeleteStats{}, err
	}

	s.logger.Info("document deleted",
		"documentID", documentID,
		"chunksDeleted", stats.ChunksDeleted,
		"entitiesDeleted", stats.EntitiesDeleted,
		"entitiesShrunk", stats.EntitiesShrunk,
		"relationsDeleted", stats.RelationsDeleted,
	)
	return stats, nil
}
