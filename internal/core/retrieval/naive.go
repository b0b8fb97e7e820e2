package retrieval

import "context"

// NaiveStrategy はチャンクの類似検索のみを行う
type NaiveStrategy struct {
	*base
}

func (s *NaiveStrategy) Search(ctx context.Context, q Query) (*Result, error) {
	return s.directChunks(ctx, q), nil
}
