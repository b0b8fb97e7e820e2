package retrieval

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// HybridStrategy は local と global を並行実行して結果を統合する
// TopKは local に切り上げ、global に切り捨てで配分する
type HybridStrategy struct {
	*base
	local  *LocalStrategy
	global *GlobalStrategy
}

func (s *HybridStrategy) Search(ctx context.Context, q Query) (*Result, error) {
	localQuery := q.withTopK((q.TopK + 1) / 2)
	globalQuery := q.withTopK(q.TopK / 2)

	var localResult, globalResult *Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.local.Search(gctx, localQuery)
		if err != nil {
			s.logger.Warn("local検索に失敗しました", "error", err)
			res = &Result{}
		}
		localResult = res
		return nil
	})
	g.Go(func() error {
		res, err := s.global.Search(gctx, globalQuery)
		if err != nil {
			s.logger.Warn("global検索に失敗しました", "error", err)
			res = &Result{}
		}
		globalResult = res
		return nil
	})
	_ = g.Wait()

	chunks := newChunkSet()
	chunks.add(localResult.Chunks...)
	chunks.add(globalResult.Chunks...)

	entities := newEntitySet()
	entities.add(localResult.Entities...)
	entities.add(globalResult.Entities...)

	merged := chunks.sorted()
	if len(merged) > q.TopK {
		merged = merged[:q.TopK]
	}
	relations := globalResult.Relations
	sortRelations(relations)

	return &Result{
		Chunks:    merged,
		Entities:  entities.sorted(),
		Relations: relations,
		Degraded:  localResult.Degraded || globalResult.Degraded,
	}, nil
}
