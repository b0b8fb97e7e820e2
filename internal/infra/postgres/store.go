package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jinford/graph-rag/internal/core/graph"
)

//go:embed schema.sql
var schemaSQL string

// DefaultDimension はスキーマのベクトル列の既定次元
const DefaultDimension = 1536

// DBPool は Store が利用するコネクションプールの操作
// *pgxpool.Pool と pgxmock のプールの両方が満たす
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store は PostgreSQL + pgvector による graph.Store 実装
type Store struct {
	pool      DBPool
	dimension int
	logger    *slog.Logger
}

// StoreOption は Store のオプション設定
type StoreOption func(*Store)

// WithDimension はベクトル列の次元を設定する
func WithDimension(dimension int) StoreOption {
	return func(s *Store) {
		if dimension > 0 {
			s.dimension = dimension
		}
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore は新しい Store を作成する
func NewStore(pool DBPool, opts ...StoreOption) *Store {
	s := &Store{
		pool:      pool,
		dimension: DefaultDimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ graph.Store = (*Store)(nil)

// SchemaSQL はベクトル次元を埋め込んだスキーマDDLを返す
func SchemaSQL(dimension int) string {
	return strings.ReplaceAll(schemaSQL, "{{dimension}}", strconv.Itoa(dimension))
}

// Migrate はスキーマを作成する（冪等）
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, SchemaSQL(s.dimension)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("schema migrated", "dimension", s.dimension)
	return nil
}

// inTx はトランザクション内で fn を実行する。fn がエラーを返した場合はロールバックする
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
