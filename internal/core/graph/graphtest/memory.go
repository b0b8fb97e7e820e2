// Package graphtest はテスト用のインメモリGraph Storeを提供する
package graphtest

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// SearchCall は類似検索呼び出しの記録
type SearchCall struct {
	Kind      string // "chunk" | "entity" | "relation"
	TenantID  uuid.UUID
	Threshold float64
	Limit     int
}

// MemoryStore は graph.Store のインメモリ実装
// 類似度はコサイン類似度で計算する
type MemoryStore struct {
	mu sync.Mutex

	documents map[uuid.UUID]*graph.Document
	chunks    []*graph.Chunk
	entities  []*graph.Entity
	relations []*graph.Relation

	// 障害注入用
	SearchChunksErr    error
	SearchEntitiesErr  error
	SearchRelationsErr error
	ListChunksErr      error
	InsertEntitiesErr  error
	InsertRelationsErr error
	InsertRelationFunc func(rel *graph.Relation) error

	searchCalls []SearchCall
}

// NewMemoryStore は空の MemoryStore を作成する
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{documents: make(map[uuid.UUID]*graph.Document)}
}

var _ graph.Store = (*MemoryStore)(nil)

// AddChunks はテストデータとしてチャンクを直接登録する
func (s *MemoryStore) AddChunks(chunks ...*graph.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
}

// AddEntities はテストデータとしてエンティティを直接登録する
func (s *MemoryStore) AddEntities(entities ...*graph.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, entities...)
}

// AddRelations はテストデータとしてリレーションを直接登録する
func (s *MemoryStore) AddRelations(relations ...*graph.Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations = append(s.relations, relations...)
}

// Entities は登録済みエンティティのコピーを返す
func (s *MemoryStore) Entities() []*graph.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entities)
}

// Relations は登録済みリレーションのコピーを返す
func (s *MemoryStore) Relations() []*graph.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.relations)
}

// Chunks は登録済みチャンクのコピーを返す
func (s *MemoryStore) Chunks() []*graph.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks)
}

// SearchCalls は記録された類似検索呼び出しを返す
func (s *MemoryStore) SearchCalls() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.searchCalls)
}

func (s *MemoryStore) record(kind string, q graph.SearchQuery) {
	s.searchCalls = append(s.searchCalls, SearchCall{Kind: kind, TenantID: q.TenantID, Threshold: q.Threshold, Limit: q.Limit})
}

func workspaceMatches(filter, workspace string) bool {
	return filter == "" || filter == workspace
}

func (s *MemoryStore) SearchChunks(ctx context.Context, q graph.SearchQuery) ([]graph.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("chunk", q)
	if s.SearchChunksErr != nil {
		return nil, s.SearchChunksErr
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var hits []graph.ScoredChunk
	for _, c := range s.chunks {
		if c.TenantID != q.TenantID || !workspaceMatches(q.Workspace, c.Workspace) || len(c.Embedding) == 0 {
			continue
		}
		if sim := Cosine(q.Vector, c.Embedding); sim >= q.Threshold {
			hits = append(hits, graph.ScoredChunk{Chunk: c, Similarity: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *MemoryStore) SearchEntities(ctx context.Context, q graph.SearchQuery) ([]graph.ScoredEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("entity", q)
	if s.SearchEntitiesErr != nil {
		return nil, s.SearchEntitiesErr
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var hits []graph.ScoredEntity
	for _, e := range s.entities {
		if e.TenantID != q.TenantID || !workspaceMatches(q.Workspace, e.Workspace) || len(e.Embedding) == 0 {
			continue
		}
		if sim := Cosine(q.Vector, e.Embedding); sim >= q.Threshold {
			hits = append(hits, graph.ScoredEntity{Entity: e, Similarity: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *MemoryStore) SearchRelations(ctx context.Context, q graph.SearchQuery) ([]graph.ScoredRelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("relation", q)
	if s.SearchRelationsErr != nil {
		return nil, s.SearchRelationsErr
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var hits []graph.ScoredRelation
	for _, r := range s.relations {
		if r.TenantID != q.TenantID || !workspaceMatches(q.Workspace, r.Workspace) || len(r.Embedding) == 0 {
			continue
		}
		if sim := Cosine(q.Vector, r.Embedding); sim >= q.Threshold {
			hits = append(hits, graph.ScoredRelation{Relation: r, Similarity: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *MemoryStore) ChunksByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*graph.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*graph.Chunk
	for _, c := range s.chunks {
		if c.TenantID == tenantID && slices.Contains(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) EntitiesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*graph.Entity, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*graph.Entity
	for _, e := range s.entities {
		if e.TenantID == tenantID && slices.Contains(ids, e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListChunks(ctx context.Context, tenantID uuid.UUID, workspace string, limit int) ([]*graph.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, graph.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListChunksErr != nil {
		return nil, s.ListChunksErr
	}

	var out []*graph.Chunk
	for _, c := range s.chunks {
		if len(out) >= limit {
			break
		}
		if c.TenantID == tenantID && workspaceMatches(workspace, c.Workspace) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertEntities(ctx context.Context, tenantID uuid.UUID, entities []*graph.Entity) error {
	if err := graph.CheckEntityTenants(tenantID, entities); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertEntitiesErr != nil {
		return s.InsertEntitiesErr
	}
	s.entities = append(s.entities, entities...)
	return nil
}

func (s *MemoryStore) InsertRelations(ctx context.Context, tenantID uuid.UUID, relations []*graph.Relation) error {
	if err := graph.CheckRelationTenants(tenantID, relations); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertRelationsErr != nil {
		return s.InsertRelationsErr
	}
	s.relations = append(s.relations, relations...)
	return nil
}

func (s *MemoryStore) InsertRelation(ctx context.Context, tenantID uuid.UUID, relation *graph.Relation) error {
	if err := graph.CheckRelationTenants(tenantID, []*graph.Relation{relation}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertRelationFunc != nil {
		if err := s.InsertRelationFunc(relation); err != nil {
			return err
		}
	}
	s.relations = append(s.relations, relation)
	return nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *graph.Document, chunks []*graph.Chunk) error {
	if err := graph.CheckChunkTenants(doc.TenantID, chunks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return fmt.Errorf("document already exists: %s", doc.ID)
	}
	s.documents[doc.ID] = doc
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *MemoryStore) FindDocument(ctx context.Context, tenantID, documentID uuid.UUID) (mo.Option[*graph.Document], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok || doc.TenantID != tenantID {
		return mo.None[*graph.Document](), nil
	}
	return mo.Some(doc), nil
}

func (s *MemoryStore) DocumentMeta(ctx context.Context, tenantID uuid.UUID, documentIDs []uuid.UUID) (map[uuid.UUID]graph.DocumentMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]graph.DocumentMeta)
	for _, id := range documentIDs {
		if doc, ok := s.documents[id]; ok && doc.TenantID == tenantID {
			out[id] = graph.DocumentMeta{FileName: doc.FileName, FileType: doc.FileType}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListChunksByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]*graph.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.Chunk
	for _, c := range s.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStore) ListChunksWithoutEmbedding(ctx context.Context, tenantID, documentID uuid.UUID) ([]*graph.Chunk, error) {
	chunks, err := s.ListChunksByDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(chunks, func(c *graph.Chunk) bool { return len(c.Embedding) > 0 }), nil
}

func (s *MemoryStore) UpdateChunkEmbeddings(ctx context.Context, tenantID uuid.UUID, embeddings map[uuid.UUID][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if v, ok := embeddings[c.ID]; ok && c.TenantID == tenantID {
			c.Embedding = v
		}
	}
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) (graph.DeleteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats graph.DeleteStats
	deleted := make(map[uuid.UUID]bool)
	s.chunks = slices.DeleteFunc(s.chunks, func(c *graph.Chunk) bool {
		if c.TenantID == tenantID && c.DocumentID == documentID {
			deleted[c.ID] = true
			return true
		}
		return false
	})
	stats.ChunksDeleted = len(deleted)

	removedEntities := make(map[uuid.UUID]bool)
	s.entities = slices.DeleteFunc(s.entities, func(e *graph.Entity) bool {
		if e.TenantID != tenantID {
			return false
		}
		before := len(e.SourceChunkIDs)
		e.SourceChunkIDs = slices.DeleteFunc(e.SourceChunkIDs, func(id uuid.UUID) bool { return deleted[id] })
		if len(e.SourceChunkIDs) == 0 && before > 0 {
			removedEntities[e.ID] = true
			return true
		}
		if len(e.SourceChunkIDs) < before {
			stats.EntitiesShrunk++
		}
		return false
	})
	stats.EntitiesDeleted = len(removedEntities)

	s.relations = slices.DeleteFunc(s.relations, func(r *graph.Relation) bool {
		if r.TenantID != tenantID {
			return false
		}
		if removedEntities[r.SourceEntityID] || removedEntities[r.TargetEntityID] {
			stats.RelationsDeleted++
			return true
		}
		before := len(r.SourceChunkIDs)
		r.SourceChunkIDs = slices.DeleteFunc(r.SourceChunkIDs, func(id uuid.UUID) bool { return deleted[id] })
		if len(r.SourceChunkIDs) == 0 && before > 0 {
			stats.RelationsDeleted++
			return true
		}
		return false
	})

	if doc, ok := s.documents[documentID]; ok && doc.TenantID == tenantID {
		delete(s.documents, documentID)
	}
	return stats, nil
}

// Cosine は2つのベクトルのコサイン類似度を返す
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
