package retrieval

import "context"

// LocalStrategy はクエリに近いエンティティを起点に、その出典チャンクを集める
type LocalStrategy struct {
	*base
}

func (s *LocalStrategy) Search(ctx context.Context, q Query) (*Result, error) {
	entities, err := searchPrimary(ctx, s.base, q, q.TopK, s.store.SearchEntities)
	if err != nil {
		return s.fallback(ctx, q, err), nil
	}
	if len(entities) == 0 {
		return &Result{}, nil
	}

	chunks := s.linkedChunks(ctx, q, linkedChunkIDs(entities, nil, nil))
	if len(chunks) > q.TopK {
		chunks = chunks[:q.TopK]
	}

	return &Result{Chunks: chunks, Entities: entities}, nil
}
