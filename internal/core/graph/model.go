package graph

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// === Chunk ===

// ChunkType はチャンクの意味的な種別を表す
type ChunkType string

const (
	ChunkTypeText         ChunkType = "text"
	ChunkTypeTable        ChunkType = "table"
	ChunkTypeImageCaption ChunkType = "image_caption"
	ChunkTypeAudioSegment ChunkType = "audio_segment"
	ChunkTypeVideoSegment ChunkType = "video_segment"
)

// ParseChunkType は文字列をChunkTypeに変換する（未知の値はtextとして扱う）
func ParseChunkType(s string) ChunkType {
	switch t := ChunkType(strings.ToLower(strings.TrimSpace(s))); t {
	case ChunkTypeText, ChunkTypeTable, ChunkTypeImageCaption, ChunkTypeAudioSegment, ChunkTypeVideoSegment:
		return t
	default:
		return ChunkTypeText
	}
}

// IsMedia は音声・動画セグメントかどうかを返す
func (t ChunkType) IsMedia() bool {
	return t == ChunkTypeAudioSegment || t == ChunkTypeVideoSegment
}

// Metadata はチャンクに付随する任意のメタデータ
type Metadata map[string]any

// Chunk はドキュメントから抽出された連続したテキスト区間を表す
type Chunk struct {
	ID         uuid.UUID          `json:"id"`
	TenantID   uuid.UUID          `json:"tenantID"`
	DocumentID uuid.UUID          `json:"documentID"`
	Workspace  string             `json:"workspace"`
	Ordinal    int                `json:"ordinal"`
	Content    string             `json:"content"`
	TokenCount int                `json:"tokenCount"`
	ChunkType  ChunkType          `json:"chunkType"`
	StartTime  mo.Option[float64] `json:"startTime"` // メディアのみ（秒）
	EndTime    mo.Option[float64] `json:"endTime"`   // メディアのみ（秒）
	Embedding  []float32          `json:"-"`
	Metadata   Metadata           `json:"metadata,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// === Entity ===

// EntityType はエンティティの種別タグ
type EntityType string

const (
	EntityTypePerson       EntityType = "PERSON"
	EntityTypeOrganization EntityType = "ORGANIZATION"
	EntityTypeLocation     EntityType = "LOCATION"
	EntityTypeEvent        EntityType = "EVENT"
	EntityTypeConcept      EntityType = "CONCEPT"
	EntityTypeTechnology   EntityType = "TECHNOLOGY"
	EntityTypeProduct      EntityType = "PRODUCT"
	EntityTypeDate         EntityType = "DATE"
)

// EntityTypes は抽出対象のエンティティ種別一覧（プロンプトに埋め込む順序）
var EntityTypes = []EntityType{
	EntityTypePerson,
	EntityTypeOrganization,
	EntityTypeLocation,
	EntityTypeEvent,
	EntityTypeConcept,
	EntityTypeTechnology,
	EntityTypeProduct,
	EntityTypeDate,
}

// ParseEntityType は大文字小文字を区別せずにEntityTypeへ変換する
// 分類に含まれない値は CONCEPT として扱う
func ParseEntityType(s string) EntityType {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range EntityTypes {
		if t == known {
			return t
		}
	}
	return EntityTypeConcept
}

// Entity は1つ以上のチャンクから抽出・統合された名前付きの対象を表す
type Entity struct {
	ID             uuid.UUID   `json:"id"`
	TenantID       uuid.UUID   `json:"tenantID"`
	Workspace      string      `json:"workspace"`
	Name           string      `json:"name"`
	Type           EntityType  `json:"type"`
	Description    string      `json:"description"`
	Embedding      []float32   `json:"-"`
	SourceChunkIDs []uuid.UUID `json:"sourceChunkIDs"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// === Relation ===

// Relation は2つのエンティティ間の有向・型付きエッジを表す
type Relation struct {
	ID               uuid.UUID   `json:"id"`
	TenantID         uuid.UUID   `json:"tenantID"`
	Workspace        string      `json:"workspace"`
	SourceEntityID   uuid.UUID   `json:"sourceEntityID"`
	SourceEntityName string      `json:"sourceEntityName"`
	TargetEntityID   uuid.UUID   `json:"targetEntityID"`
	TargetEntityName string      `json:"targetEntityName"`
	Type             string      `json:"type"`
	Description      string      `json:"description"`
	Embedding        []float32   `json:"-"`
	SourceChunkIDs   []uuid.UUID `json:"sourceChunkIDs"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// === Document ===

// Document はチャンクを所有するアップロード済みドキュメントを表す
type Document struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenantID"`
	Workspace string    `json:"workspace"`
	FileName  string    `json:"fileName"`
	FileType  string    `json:"fileType"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocumentMeta は引用表示用のドキュメント情報
type DocumentMeta struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// DeleteStats はドキュメント削除の結果を表す
type DeleteStats struct {
	ChunksDeleted    int
	EntitiesDeleted  int
	EntitiesShrunk   int
	RelationsDeleted int
}

// === 類似検索の結果 ===

// ScoredChunk は類似度付きのチャンク
type ScoredChunk struct {
	Chunk      *Chunk
	Similarity float64
}

// ScoredEntity は類似度付きのエンティティ
type ScoredEntity struct {
	Entity     *Entity
	Similarity float64
}

// ScoredRelation は類似度付きのリレーション
type ScoredRelation struct {
	Relation   *Relation
	Similarity float64
}
