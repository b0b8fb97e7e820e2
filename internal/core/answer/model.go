package answer

import (
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/graph-rag/internal/core/graph"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

// Params は質問応答のパラメータを表す
type Params struct {
	TenantID  uuid.UUID      // テナントID（必須）
	Query     string         // ユーザーの質問文
	Mode      retrieval.Mode // 検索モード（デフォルト: mix）
	Workspace string         // ワークスペース（空の場合はテナント全体）
	TopK      int            // 取得件数（デフォルト: 10）
}

// Result は質問応答の結果を表す
type Result struct {
	Answer    string            `json:"answer"`
	Citations []Citation        `json:"citations"`
	Retrieval *retrieval.Result `json:"-"`
}

// Citation は回答の根拠となったチャンクの参照を表す
type Citation struct {
	Rank       int                `json:"rank"`
	ChunkID    uuid.UUID          `json:"chunkID"`
	DocumentID uuid.UUID          `json:"documentID"`
	FileName   string             `json:"fileName,omitempty"`
	FileType   string             `json:"fileType,omitempty"`
	ChunkType  graph.ChunkType    `json:"chunkType"`
	StartTime  mo.Option[float64] `json:"startTime"`
	EndTime    mo.Option[float64] `json:"endTime"`
	Similarity float64            `json:"similarity"`
}
