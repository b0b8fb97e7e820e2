package extraction

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// chunkExtraction はチャンクIDで印付けされた抽出候補
type chunkExtraction struct {
	ChunkID    uuid.UUID
	Extraction Extraction
}

// mergeStats は統合処理の統計
type mergeStats struct {
	InvalidEntities     int // 名前の検証で除外したエンティティ候補
	InvalidRelations    int // エンドポイント名の検証で除外したリレーション候補
	UnresolvedRelations int // エンドポイントが既知のエンティティに解決できなかったリレーション
	DuplicateRelations  int // (source, type, target) が重複したリレーション
}

type mergedEntity struct {
	entity       *graph.Entity
	descriptions []string
	seenDesc     map[string]bool
	seenChunks   map[uuid.UUID]bool
}

type relationKey struct {
	source uuid.UUID
	typ    string
	target uuid.UUID
}

// graphBuilder は全チャンクの抽出候補を正規化名で統合する
// 並行実行は想定しない（抽出完了後に単一のgoroutineで使う）
type graphBuilder struct {
	tenantID  uuid.UUID
	workspace string
	now       time.Time
	newID     func() uuid.UUID

	order    []string
	entities map[string]*mergedEntity
	stats    mergeStats
}

func newGraphBuilder(tenantID uuid.UUID, workspace string, newID func() uuid.UUID) *graphBuilder {
	if newID == nil {
		newID = uuid.New
	}
	return &graphBuilder{
		tenantID:  tenantID,
		workspace: workspace,
		now:       time.Now(),
		newID:     newID,
		entities:  make(map[string]*mergedEntity),
	}
}

// build は抽出候補からエンティティとリレーションを構築する
// エンティティを全チャンク分統合してから名前→IDの対応表でリレーションを解決する
func (b *graphBuilder) build(extractions []chunkExtraction) ([]*graph.Entity, []*graph.Relation) {
	for _, ce := range extractions {
		for _, raw := range ce.Extraction.Entities {
			b.addEntity(ce.ChunkID, raw)
		}
	}

	entities := b.entityList()
	relations := b.resolveRelations(extractions)
	return entities, relations
}

func (b *graphBuilder) addEntity(chunkID uuid.UUID, raw RawEntity) {
	name := Truncate(raw.Name, MaxNameLength)
	if !IsValidName(name) {
		b.stats.InvalidEntities++
		return
	}
	key := NormalizeName(name)
	desc := Truncate(raw.Description, MaxDescriptionLength)

	m, ok := b.entities[key]
	if !ok {
		m = &mergedEntity{
			entity: &graph.Entity{
				ID:        b.newID(),
				TenantID:  b.tenantID,
				Workspace: b.workspace,
				Name:      name,
				Type:      NormalizeEntityType(raw.Type),
				CreatedAt: b.now,
			},
			seenDesc:   make(map[string]bool),
			seenChunks: make(map[uuid.UUID]bool),
		}
		b.entities[key] = m
		b.order = append(b.order, key)
	}

	if desc != "" && !m.seenDesc[desc] {
		m.seenDesc[desc] = true
		m.descriptions = append(m.descriptions, desc)
	}
	if chunkID != uuid.Nil && !m.seenChunks[chunkID] {
		m.seenChunks[chunkID] = true
		m.entity.SourceChunkIDs = append(m.entity.SourceChunkIDs, chunkID)
	}
}

func (b *graphBuilder) entityList() []*graph.Entity {
	out := make([]*graph.Entity, 0, len(b.order))
	for _, key := range b.order {
		m := b.entities[key]
		m.entity.Description = Truncate(strings.Join(m.descriptions, "\n"), MaxDescriptionLength)
		out = append(out, m.entity)
	}
	return out
}

// lookup は正規化名でエンティティを引く
func (b *graphBuilder) lookup(name string) (*graph.Entity, bool) {
	m, ok := b.entities[NormalizeName(Truncate(name, MaxNameLength))]
	if !ok {
		return nil, false
	}
	return m.entity, true
}

func (b *graphBuilder) resolveRelations(extractions []chunkExtraction) []*graph.Relation {
	seen := make(map[relationKey]bool)
	var out []*graph.Relation

	for _, ce := range extractions {
		for _, raw := range ce.Extraction.Relations {
			if !IsValidName(raw.Source) || !IsValidName(raw.Target) {
				b.stats.InvalidRelations++
				continue
			}
			source, okSource := b.lookup(raw.Source)
			target, okTarget := b.lookup(raw.Target)
			if !okSource || !okTarget {
				b.stats.UnresolvedRelations++
				continue
			}

			relType := NormalizeRelationType(raw.Type)
			key := relationKey{source: source.ID, typ: relType, target: target.ID}
			if seen[key] {
				b.stats.DuplicateRelations++
				continue
			}
			seen[key] = true

			rel := &graph.Relation{
				ID:               b.newID(),
				TenantID:         b.tenantID,
				Workspace:        b.workspace,
				SourceEntityID:   source.ID,
				SourceEntityName: source.Name,
				TargetEntityID:   target.ID,
				TargetEntityName: target.Name,
				Type:             relType,
				Description:      Truncate(raw.Description, MaxDescriptionLength),
				CreatedAt:        b.now,
			}
			if ce.ChunkID != uuid.Nil {
				rel.SourceChunkIDs = []uuid.UUID{ce.ChunkID}
			}
			out = append(out, rel)
		}
	}
	return out
}
