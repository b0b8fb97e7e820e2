package ingestion

import (
	"errors"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// ErrDocumentNotFound は指定したドキュメントが存在しない場合のエラー
var ErrDocumentNotFound = errors.New("document not found")

// ChunkInput は取り込み対象のチャンク
// チャンク分割は上流で済んでいる前提
type ChunkInput struct {
	Content    string             `json:"content" validate:"required"`
	ChunkType  string             `json:"chunkType"`
	TokenCount int                `json:"tokenCount" validate:"gte=0"`
	StartTime  mo.Option[float64] `json:"startTime"`
	EndTime    mo.Option[float64] `json:"endTime"`
	Metadata   graph.Metadata     `json:"metadata,omitempty"`
}

// ImportRequest はドキュメント取り込みのリクエスト
type ImportRequest struct {
	TenantID  uuid.UUID    `json:"tenantID"`
	Workspace string       `json:"workspace" validate:"max=255"`
	FileName  string       `json:"fileName" validate:"required,max=1024"`
	FileType  string       `json:"fileType" validate:"max=255"`
	Chunks    []ChunkInput `json:"chunks" validate:"required,min=1,dive"`
}

// ImportResult はドキュメント取り込みの結果
type ImportResult struct {
	DocumentID  uuid.UUID `json:"documentID"`
	Chunks      int       `json:"chunks"`
	TotalTokens int       `json:"totalTokens"`
}

// EmbedStats はEmbedding付与処理の統計
type EmbedStats struct {
	Embedded   int `json:"embedded"`
	Failed     int `json:"failed"`
	Mismatches int `json:"mismatches"`
}
