package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const lockNamespace = "graph-rag"

// tenantLockID はテナント単位のアドバイザリロックIDを返す
func tenantLockID(scope string, tenantID uuid.UUID) int64 {
	h := sha256.New()
	h.Write([]byte(lockNamespace))
	h.Write([]byte(scope))
	h.Write(tenantID[:])
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// lockTenantGraph はテナントのグラフ出典更新を直列化する
// pg_advisory_xact_lock を使うためトランザクション終了時に解放される
func lockTenantGraph(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tenantLockID("graph", tenantID)); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
