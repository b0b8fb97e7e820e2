package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// GlobalStrategy はクエリに近いリレーションを起点に、端点のエンティティと出典チャンクを集める
type GlobalStrategy struct {
	*base
}

func (s *GlobalStrategy) Search(ctx context.Context, q Query) (*Result, error) {
	relations, err := searchPrimary(ctx, s.base, q, q.TopK, s.store.SearchRelations)
	if err != nil {
		return s.fallback(ctx, q, err), nil
	}
	if len(relations) == 0 {
		return &Result{}, nil
	}

	entities := s.endpointEntities(ctx, q, relations)

	chunks := s.linkedChunks(ctx, q, linkedChunkIDs(nil, relations, nil))
	if len(chunks) > q.TopK {
		chunks = chunks[:q.TopK]
	}

	return &Result{Chunks: chunks, Entities: entities, Relations: relations}, nil
}

// endpointEntities はリレーションの端点エンティティを取得する
// ストアから取得できなかった端点はリレーションが保持する名前で補う
func (s *GlobalStrategy) endpointEntities(ctx context.Context, q Query, relations []graph.ScoredRelation) []graph.ScoredEntity {
	var ids []uuid.UUID
	names := make(map[uuid.UUID]string)
	for _, sr := range relations {
		r := sr.Relation
		for _, ep := range []struct {
			id   uuid.UUID
			name string
		}{{r.SourceEntityID, r.SourceEntityName}, {r.TargetEntityID, r.TargetEntityName}} {
			if _, ok := names[ep.id]; ok {
				continue
			}
			names[ep.id] = ep.name
			ids = append(ids, ep.id)
		}
	}

	found := make(map[uuid.UUID]*graph.Entity)
	entities, err := s.store.EntitiesByIDs(ctx, q.TenantID, ids)
	if err != nil {
		s.logger.Warn("リレーション端点のエンティティ取得に失敗しました", "tenantID", q.TenantID, "error", err)
	}
	for _, e := range entities {
		found[e.ID] = e
	}

	out := make([]graph.ScoredEntity, 0, len(ids))
	for _, id := range ids {
		e, ok := found[id]
		if !ok {
			e = &graph.Entity{ID: id, TenantID: q.TenantID, Workspace: q.Workspace, Name: names[id]}
		}
		out = append(out, graph.ScoredEntity{Entity: e, Similarity: s.settings.RelationEntitySimilarity})
	}
	return out
}
