package retrieval

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// MixStrategy はチャンクの直接検索にエンティティ・リレーション由来のチャンクを加える
// 直接検索のヒットは naive と同一で、TopKへの切り詰めでは関連チャンクから先に落とす
type MixStrategy struct {
	*base
}

func (s *MixStrategy) Search(ctx context.Context, q Query) (*Result, error) {
	half := max(q.TopK/2, 1)

	var (
		direct    *Result
		entities  []graph.ScoredEntity
		relations []graph.ScoredRelation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		direct = s.directChunks(gctx, q)
		return nil
	})
	g.Go(func() error {
		hits, err := s.store.SearchEntities(gctx, q.search(half))
		if err != nil {
			s.logger.Warn("mix: エンティティ検索に失敗しました", "tenantID", q.TenantID, "error", err)
			return nil
		}
		entities = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.store.SearchRelations(gctx, q.search(half))
		if err != nil {
			s.logger.Warn("mix: リレーション検索に失敗しました", "tenantID", q.TenantID, "error", err)
			return nil
		}
		relations = hits
		return nil
	})
	_ = g.Wait()

	directSet := newChunkSet()
	directSet.add(direct.Chunks...)

	linkedSet := newChunkSet()
	linkedSet.add(s.linkedChunks(ctx, q, linkedChunkIDs(entities, relations, directSet.has))...)

	chunks := directSet.sorted()
	if len(chunks) > q.TopK {
		chunks = chunks[:q.TopK]
	}
	if room := q.TopK - len(chunks); room > 0 {
		linked := linkedSet.sorted()
		if len(linked) > room {
			linked = linked[:room]
		}
		chunks = append(chunks, linked...)
		sortChunks(chunks)
	}

	entitySet := newEntitySet()
	entitySet.add(entities...)
	sortRelations(relations)

	return &Result{
		Chunks:    chunks,
		Entities:  entitySet.sorted(),
		Relations: relations,
		Degraded:  direct.Degraded,
	}, nil
}
