package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/graph-rag/internal/core/graph"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(mock, WithDimension(3), WithLogger(logger)), mock
}

var chunkColumnNames = []string{
	"id", "tenant_id", "document_id", "workspace", "ordinal", "content", "token_count",
	"chunk_type", "start_time", "end_time", "metadata", "created_at",
}

func TestSchemaSQL(t *testing.T) {
	ddl := SchemaSQL(768)
	assert.Contains(t, ddl, "vector(768)")
	assert.NotContains(t, ddl, "{{dimension}}")
	assert.Contains(t, ddl, "USING hnsw (embedding vector_cosine_ops)")
}

func TestStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SearchChunks(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	chunkID := uuid.New()
	docID := uuid.New()
	now := time.Now()

	rows := pgxmock.NewRows(append(chunkColumnNames, "similarity")).
		AddRow(chunkID.String(), tenantID.String(), docID.String(), "ws", 2, "podcast intro", 3,
			"audio_segment", 1.5, nil, []byte(`{"speaker":"jane"}`), now, 0.91)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chunks")).
		WithArgs(pgxmock.AnyArg(), UUIDToPgtype(tenantID), "ws", 0.3, 5).
		WillReturnRows(rows)

	results, err := store.SearchChunks(context.Background(), graph.SearchQuery{
		TenantID: tenantID, Workspace: "ws", Vector: []float32{1, 0, 0}, Threshold: 0.3, Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	c := results[0].Chunk
	assert.Equal(t, chunkID, c.ID)
	assert.Equal(t, docID, c.DocumentID)
	assert.Equal(t, 2, c.Ordinal)
	assert.Equal(t, graph.ChunkTypeAudioSegment, c.ChunkType)
	assert.Equal(t, mo.Some(1.5), c.StartTime)
	assert.True(t, c.EndTime.IsAbsent())
	assert.Equal(t, "jane", c.Metadata["speaker"])
	assert.InDelta(t, 0.91, results[0].Similarity, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SearchRequiresTenant(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.SearchEntities(context.Background(), graph.SearchQuery{Vector: []float32{1}, Limit: 1})
	assert.ErrorIs(t, err, graph.ErrTenantRequired)
	_, err = store.ChunksByIDs(context.Background(), uuid.Nil, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, graph.ErrTenantRequired)
	_, err = store.FindDocument(context.Background(), uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, graph.ErrTenantRequired)
	_, err = store.DocumentMeta(context.Background(), uuid.Nil, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, graph.ErrTenantRequired)
	_, err = store.ListChunksWithoutEmbedding(context.Background(), uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, graph.ErrTenantRequired)
	assert.NoError(t, mock.ExpectationsWereMet(), "テナント未指定ではクエリを発行しない")
}

func TestStore_SearchRelations(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	relID, srcID, dstID, chunkID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "workspace", "source_entity_id", "name", "target_entity_id", "name",
		"type", "description", "source_chunk_ids", "created_at", "similarity",
	}).AddRow(relID.String(), tenantID.String(), "", srcID.String(), "Jane Doe", dstID.String(), "Acme Corp",
		"WORKS_FOR", "employment", []pgtype.UUID{UUIDToPgtype(chunkID)}, time.Now(), 0.8)

	mock.ExpectQuery(regexp.QuoteMeta("FROM relations r")).
		WithArgs(pgxmock.AnyArg(), UUIDToPgtype(tenantID), "", 0.1, 3).
		WillReturnRows(rows)

	results, err := store.SearchRelations(context.Background(), graph.SearchQuery{
		TenantID: tenantID, Vector: []float32{0, 1, 0}, Threshold: 0.1, Limit: 3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0].Relation
	assert.Equal(t, "Jane Doe", r.SourceEntityName)
	assert.Equal(t, "Acme Corp", r.TargetEntityName)
	assert.Equal(t, srcID, r.SourceEntityID)
	assert.Equal(t, []uuid.UUID{chunkID}, r.SourceChunkIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ByIDsEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	chunks, err := store.ChunksByIDs(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	entities, err := store.EntitiesByIDs(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sampleEntities(tenantID uuid.UUID, names ...string) []*graph.Entity {
	out := make([]*graph.Entity, 0, len(names))
	for _, n := range names {
		out = append(out, &graph.Entity{
			ID: uuid.New(), TenantID: tenantID, Name: n, Type: graph.EntityTypeOrganization,
			Embedding: []float32{1, 0, 0}, SourceChunkIDs: []uuid.UUID{uuid.New()},
		})
	}
	return out
}

func TestStore_InsertEntities(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	entities := sampleEntities(tenantID, "Acme Corp", "Jane Doe")

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	for _, e := range entities {
		batch.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).
			WithArgs(UUIDToPgtype(e.ID), UUIDToPgtype(tenantID), "", e.Name, "ORGANIZATION", "",
				pgxmock.AnyArg(), UUIDsToPgtype(e.SourceChunkIDs), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.InsertEntities(context.Background(), tenantID, entities))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertEntitiesRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	entities := sampleEntities(tenantID, "Acme Corp", "Jane Doe")

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := store.InsertEntities(context.Background(), tenantID, entities)
	assert.ErrorContains(t, err, "unique violation")
	assert.ErrorContains(t, err, "insert entity Jane Doe")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertTenantMismatch(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.InsertEntities(context.Background(), uuid.New(), sampleEntities(uuid.New(), "Other"))
	assert.ErrorIs(t, err, graph.ErrTenantMismatch)

	err = store.InsertRelation(context.Background(), uuid.New(), &graph.Relation{ID: uuid.New(), TenantID: uuid.New()})
	assert.ErrorIs(t, err, graph.ErrTenantMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertRelation(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	rel := &graph.Relation{
		ID: uuid.New(), TenantID: tenantID, SourceEntityID: uuid.New(), TargetEntityID: uuid.New(),
		Type: "FOUNDED", SourceChunkIDs: []uuid.UUID{uuid.New()},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO relations")).
		WithArgs(UUIDToPgtype(rel.ID), UUIDToPgtype(tenantID), "", UUIDToPgtype(rel.SourceEntityID),
			UUIDToPgtype(rel.TargetEntityID), "FOUNDED", "", nil, UUIDsToPgtype(rel.SourceChunkIDs), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertRelation(context.Background(), tenantID, rel))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateDocument(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	doc := &graph.Document{ID: uuid.New(), TenantID: tenantID, FileName: "talk.mp3", FileType: "audio/mpeg"}
	chunks := []*graph.Chunk{
		{ID: uuid.New(), TenantID: tenantID, DocumentID: doc.ID, Ordinal: 0, Content: "intro", ChunkType: graph.ChunkTypeAudioSegment, StartTime: mo.Some(0.0), EndTime: mo.Some(4.5)},
	}

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs(UUIDToPgtype(doc.ID), UUIDToPgtype(tenantID), "", "talk.mp3", "audio/mpeg", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO chunks")).
		WithArgs(UUIDToPgtype(chunks[0].ID), UUIDToPgtype(tenantID), UUIDToPgtype(doc.ID), "", 0, "intro", 0,
			"audio_segment", pgtype.Float8{Float64: 0, Valid: true}, pgtype.Float8{Float64: 4.5, Valid: true},
			pgxmock.AnyArg(), nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreateDocument(context.Background(), doc, chunks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateDocumentRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	doc := &graph.Document{ID: uuid.New(), TenantID: tenantID, FileName: "notes.txt", FileType: "text/plain"}
	chunks := []*graph.Chunk{
		{ID: uuid.New(), TenantID: tenantID, DocumentID: doc.ID, Ordinal: 0, Content: "first", ChunkType: graph.ChunkTypeText},
		{ID: uuid.New(), TenantID: tenantID, DocumentID: doc.ID, Ordinal: 1, Content: "second", ChunkType: graph.ChunkTypeText},
	}

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO chunks")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(regexp.QuoteMeta("INSERT INTO chunks")).WillReturnError(errors.New("check violation"))
	mock.ExpectRollback()

	err := store.CreateDocument(context.Background(), doc, chunks)
	assert.ErrorContains(t, err, "insert chunk 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertRelations(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := uuid.New()
	relations := []*graph.Relation{
		{ID: uuid.New(), TenantID: tenantID, SourceEntityID: uuid.New(), TargetEntityID: uuid.New(), Type: "FOUNDED"},
		{ID: uuid.New(), TenantID: tenantID, SourceEntityID: uuid.New(), TargetEntityID: uuid.New(), Type: "WORKS_FOR"},
	}

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	for _, r := range relations {
		batch.ExpectExec(regexp.QuoteMeta("INSERT INTO relations")).
			WithArgs(UUIDToPgtype(r.ID), UUIDToPgtype(tenantID), "", UUIDToPgtype(r.SourceEntityID),
				UUIDToPgtype(r.TargetEntityID), r.Type, "", nil, UUIDsToPgtype(nil), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.InsertRelations(context.Background(), tenantID, relations))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindDocument(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID, docID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE tenant_id = $1 AND id = $2")).
		WithArgs(UUIDToPgtype(tenantID), UUIDToPgtype(docID)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "workspace", "file_name", "file_type", "created_at"}).
			AddRow(docID.String(), tenantID.String(), "ws", "report.pdf", "application/pdf", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE tenant_id = $1 AND id = $2")).
		WillReturnError(pgx.ErrNoRows)

	found, err := store.FindDocument(context.Background(), tenantID, docID)
	require.NoError(t, err)
	doc, ok := found.Get()
	require.True(t, ok)
	assert.Equal(t, "report.pdf", doc.FileName)

	missing, err := store.FindDocument(context.Background(), tenantID, uuid.New())
	require.NoError(t, err)
	assert.True(t, missing.IsAbsent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DocumentMeta(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID, docID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, file_name, file_type FROM documents")).
		WithArgs(UUIDToPgtype(tenantID), UUIDsToPgtype([]uuid.UUID{docID})).
		WillReturnRows(pgxmock.NewRows([]string{"id", "file_name", "file_type"}).
			AddRow(docID.String(), "talk.mp3", "audio/mpeg"))

	meta, err := store.DocumentMeta(context.Background(), tenantID, []uuid.UUID{docID})
	require.NoError(t, err)
	assert.Equal(t, graph.DocumentMeta{FileName: "talk.mp3", FileType: "audio/mpeg"}, meta[docID])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateChunkEmbeddings(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID, chunkID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectBatch().ExpectExec(regexp.QuoteMeta("UPDATE chunks SET embedding = $1")).
		WithArgs(pgxmock.AnyArg(), UUIDToPgtype(tenantID), UUIDToPgtype(chunkID)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.UpdateChunkEmbeddings(context.Background(), tenantID, map[uuid.UUID][]float32{chunkID: {1, 2, 3}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteDocument(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID, docID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(tenantLockID("graph", tenantID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM chunks WHERE tenant_id = $1 AND document_id = $2")).
		WithArgs(UUIDToPgtype(tenantID), UUIDToPgtype(docID)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.NewString()).AddRow(uuid.NewString()))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM relations")).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE relations SET source_chunk_ids")).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM entities")).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE entities SET source_chunk_ids")).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chunks")).
		WithArgs(UUIDToPgtype(tenantID), UUIDToPgtype(docID)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents")).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	stats, err := store.DeleteDocument(context.Background(), tenantID, docID)
	require.NoError(t, err)
	assert.Equal(t, graph.DeleteStats{ChunksDeleted: 2, EntitiesDeleted: 1, EntitiesShrunk: 1, RelationsDeleted: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteDocumentRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID, docID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM chunks")).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.NewString()))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM relations")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	stats, err := store.DeleteDocument(context.Background(), tenantID, docID)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection reset"))
	assert.Equal(t, graph.DeleteStats{}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteDocumentLockFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := store.DeleteDocument(context.Background(), uuid.New(), uuid.New())
	assert.ErrorContains(t, err, "failed to acquire advisory lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantLockID(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, tenantLockID("graph", a), tenantLockID("graph", a))
	assert.NotEqual(t, tenantLockID("graph", a), tenantLockID("graph", b))
	assert.NotEqual(t, tenantLockID("graph", a), tenantLockID("document", a))
}
