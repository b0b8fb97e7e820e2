package postgres

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// UUIDsToPgtype converts []uuid.UUID to []pgtype.UUID (uuid[])
func UUIDsToPgtype(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, len(ids))
	for i, id := range ids {
		out[i] = UUIDToPgtype(id)
	}
	return out
}

// PgtypeToUUIDs converts []pgtype.UUID to []uuid.UUID
func PgtypeToUUIDs(ids []pgtype.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id.Valid {
			out = append(out, id.Bytes)
		}
	}
	return out
}

// OptionToFloat8 converts mo.Option[float64] to pgtype.Float8 (nullable)
func OptionToFloat8(v mo.Option[float64]) pgtype.Float8 {
	f, ok := v.Get()
	if !ok {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: f, Valid: true}
}

// Float8ToOption converts pgtype.Float8 to mo.Option[float64]
func Float8ToOption(v pgtype.Float8) mo.Option[float64] {
	if !v.Valid {
		return mo.None[float64]()
	}
	return mo.Some(v.Float64)
}

// VectorParam は埋め込みをクエリパラメータに変換する（未付与はNULL）
func VectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// MetadataToJSONB converts graph.Metadata to []byte (JSONB)
func MetadataToJSONB(m graph.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// JSONBToMetadata converts []byte (JSONB) to graph.Metadata
func JSONBToMetadata(b []byte) graph.Metadata {
	if len(b) == 0 {
		return nil
	}
	var m graph.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
