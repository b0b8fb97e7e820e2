package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jinford/graph-rag/internal/core/graph"
)

const insertEntitySQL = `INSERT INTO entities (id, tenant_id, workspace, name, type, description, embedding, source_chunk_ids, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const insertRelationSQL = `INSERT INTO relations (id, tenant_id, workspace, source_entity_id, target_entity_id, type, description, embedding, source_chunk_ids, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func entityArgs(e *graph.Entity) []any {
	return []any{
		UUIDToPgtype(e.ID),
		UUIDToPgtype(e.TenantID),
		e.Workspace,
		e.Name,
		string(e.Type),
		e.Description,
		VectorParam(e.Embedding),
		UUIDsToPgtype(e.SourceChunkIDs),
		createdAt(e.CreatedAt),
	}
}

func relationArgs(r *graph.Relation) []any {
	return []any{
		UUIDToPgtype(r.ID),
		UUIDToPgtype(r.TenantID),
		r.Workspace,
		UUIDToPgtype(r.SourceEntityID),
		UUIDToPgtype(r.TargetEntityID),
		r.Type,
		r.Description,
		VectorParam(r.Embedding),
		UUIDsToPgtype(r.SourceChunkIDs),
		createdAt(r.CreatedAt),
	}
}

// sendBatch はキューに積んだ文を1往復で送信し、先頭から順に結果を確かめる
// 失敗した文は label で識別する
func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, label func(i int) string) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to %s: %w", label(i), err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return nil
}

// InsertEntities はエンティティを1トランザクション・1バッチで一括挿入する
func (s *Store) InsertEntities(ctx context.Context, tenantID uuid.UUID, entities []*graph.Entity) error {
	if err := graph.CheckEntityTenants(tenantID, entities); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entities {
		batch.Queue(insertEntitySQL, entityArgs(e)...)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, batch, func(i int) string {
			return "insert entity " + entities[i].Name
		})
	})
}

// InsertRelations はリレーションを1トランザクション・1バッチで一括挿入する
func (s *Store) InsertRelations(ctx context.Context, tenantID uuid.UUID, relations []*graph.Relation) error {
	if err := graph.CheckRelationTenants(tenantID, relations); err != nil {
		return err
	}
	if len(relations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range relations {
		batch.Queue(insertRelationSQL, relationArgs(r)...)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, batch, func(i int) string {
			return "insert relation " + relations[i].ID.String()
		})
	})
}

// InsertRelation はリレーションを1件挿入する
func (s *Store) InsertRelation(ctx context.Context, tenantID uuid.UUID, relation *graph.Relation) error {
	if err := graph.CheckRelationTenants(tenantID, []*graph.Relation{relation}); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertRelationSQL, relationArgs(relation)...); err != nil {
		return fmt.Errorf("failed to insert relation %s: %w", relation.ID, err)
	}
	return nil
}
