package retrieval

import (
	"sort"

	"github.com/google/uuid"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// Result は検索結果
// 各リストは類似度の降順に並ぶ
type Result struct {
	Mode      Mode                   `json:"mode"`
	Chunks    []graph.ScoredChunk    `json:"chunks"`
	Entities  []graph.ScoredEntity   `json:"entities"`
	Relations []graph.ScoredRelation `json:"relations"`
	Tuning    Tuning                 `json:"tuning"`
	// Degraded は類似検索が使えずに直接取得へ縮退したことを示す
	Degraded bool `json:"degraded"`
	// Context はプロンプトに埋め込む整形済みテキスト（結果が空なら空文字列）
	Context string `json:"context"`
}

// IsEmpty は何も取得できなかったかどうかを返す
func (r *Result) IsEmpty() bool {
	return r == nil || (len(r.Chunks) == 0 && len(r.Entities) == 0 && len(r.Relations) == 0)
}

// DocumentIDs は結果のチャンクが属するドキュメントIDを出現順に返す
func (r *Result) DocumentIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, sc := range r.Chunks {
		if sc.Chunk == nil || seen[sc.Chunk.DocumentID] {
			continue
		}
		seen[sc.Chunk.DocumentID] = true
		ids = append(ids, sc.Chunk.DocumentID)
	}
	return ids
}

// chunkSet はIDごとに最大類似度を保持しながらチャンクを統合する
type chunkSet struct {
	order []uuid.UUID
	items map[uuid.UUID]graph.ScoredChunk
}

func newChunkSet() *chunkSet {
	return &chunkSet{items: make(map[uuid.UUID]graph.ScoredChunk)}
}

func (s *chunkSet) add(chunks ...graph.ScoredChunk) {
	for _, sc := range chunks {
		if sc.Chunk == nil {
			continue
		}
		cur, ok := s.items[sc.Chunk.ID]
		if !ok {
			s.order = append(s.order, sc.Chunk.ID)
			s.items[sc.Chunk.ID] = sc
			continue
		}
		if sc.Similarity > cur.Similarity {
			s.items[sc.Chunk.ID] = sc
		}
	}
}

func (s *chunkSet) has(id uuid.UUID) bool {
	_, ok := s.items[id]
	return ok
}

func (s *chunkSet) sorted() []graph.ScoredChunk {
	out := make([]graph.ScoredChunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	sortChunks(out)
	return out
}

// entitySet はIDごとに最大類似度を保持しながらエンティティを統合する
type entitySet struct {
	order []uuid.UUID
	items map[uuid.UUID]graph.ScoredEntity
}

func newEntitySet() *entitySet {
	return &entitySet{items: make(map[uuid.UUID]graph.ScoredEntity)}
}

func (s *entitySet) add(entities ...graph.ScoredEntity) {
	for _, se := range entities {
		if se.Entity == nil {
			continue
		}
		cur, ok := s.items[se.Entity.ID]
		if !ok {
			s.order = append(s.order, se.Entity.ID)
			s.items[se.Entity.ID] = se
			continue
		}
		if se.Similarity > cur.Similarity {
			s.items[se.Entity.ID] = se
		}
	}
}

func (s *entitySet) sorted() []graph.ScoredEntity {
	out := make([]graph.ScoredEntity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func sortChunks(chunks []graph.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Similarity > chunks[j].Similarity })
}

func sortRelations(relations []graph.ScoredRelation) {
	sort.SliceStable(relations, func(i, j int) bool { return relations[i].Similarity > relations[j].Similarity })
}

// linkedChunkIDs はエンティティ・リレーションの出典チャンクIDを順序を保って重複なく集める
// exclude に含まれるIDは除外する
func linkedChunkIDs(entities []graph.ScoredEntity, relations []graph.ScoredRelation, exclude func(uuid.UUID) bool) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	add := func(list []uuid.UUID) {
		for _, id := range list {
			if seen[id] || (exclude != nil && exclude(id)) {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, se := range entities {
		add(se.Entity.SourceChunkIDs)
	}
	for _, sr := range relations {
		add(sr.Relation.SourceChunkIDs)
	}
	return ids
}

// withSimilarity はチャンクに一律の類似度を付与する
// 順序は ids の順に揃える
func withSimilarity(chunks []*graph.Chunk, ids []uuid.UUID, similarity float64) []graph.ScoredChunk {
	byID := make(map[uuid.UUID]*graph.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	out := make([]graph.ScoredChunk, 0, len(chunks))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, graph.ScoredChunk{Chunk: c, Similarity: similarity})
		}
	}
	return out
}
