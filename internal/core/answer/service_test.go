package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/graph-rag/internal/core/graph"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

type stubRetriever struct {
	result *retrieval.Result
	err    error
	params retrieval.Params
}

// Retrieve は Engine と同じく整形済みコンテキストを埋めて返す
func (r *stubRetriever) Retrieve(ctx context.Context, params retrieval.Params) (*retrieval.Result, error) {
	r.params = params
	if r.result != nil && r.result.Context == "" {
		r.result.Context = retrieval.BuildContext(r.result)
	}
	return r.result, r.err
}

type stubGenerator struct {
	answer string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

type stubMeta struct {
	metas map[uuid.UUID]graph.DocumentMeta
	err   error
}

func (m *stubMeta) DocumentMeta(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]graph.DocumentMeta, error) {
	return m.metas, m.err
}

// runeTruncator は文字数をトークン数とみなして切り詰める
type runeTruncator struct{}

func (runeTruncator) Truncate(text string, maxTokens int) string {
	r := []rune(text)
	if len(r) <= maxTokens {
		return text
	}
	return string(r[:maxTokens])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_Ask(t *testing.T) {
	tenantID := uuid.New()
	docID := uuid.New()
	chunk := &graph.Chunk{
		ID: uuid.New(), TenantID: tenantID, DocumentID: docID,
		Content:   "Jane Doe founded Acme Corp in 1999.",
		ChunkType: graph.ChunkTypeVideoSegment,
		StartTime: mo.Some(12.5), EndTime: mo.Some(30.0),
	}
	retriever := &stubRetriever{result: &retrieval.Result{
		Mode:   retrieval.ModeMix,
		Chunks: []graph.ScoredChunk{{Chunk: chunk, Similarity: 0.9}},
		Entities: []graph.ScoredEntity{
			{Entity: &graph.Entity{Name: "Jane Doe", Type: graph.EntityTypePerson}, Similarity: 0.8},
		},
	}}
	gen := &stubGenerator{answer: "Jane Doe founded Acme Corp [1]."}
	meta := &stubMeta{metas: map[uuid.UUID]graph.DocumentMeta{docID: {FileName: "history.mp4", FileType: "video/mp4"}}}

	svc := NewService(retriever, gen, meta, WithServiceLogger(discardLogger()))
	res, err := svc.Ask(context.Background(), Params{
		TenantID: tenantID, Query: "Who founded Acme?", Mode: retrieval.ModeMix, Workspace: "ws", TopK: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe founded Acme Corp [1].", res.Answer)
	assert.Equal(t, retrieval.Params{Query: "Who founded Acme?", TenantID: tenantID, Mode: retrieval.ModeMix, Workspace: "ws", TopK: 5}, retriever.params)

	assert.Contains(t, gen.prompt, "## Entities")
	assert.Contains(t, gen.prompt, "Jane Doe founded Acme Corp in 1999.")
	assert.Contains(t, gen.prompt, "Who founded Acme?")

	require.Len(t, res.Citations, 1)
	c := res.Citations[0]
	assert.Equal(t, 1, c.Rank)
	assert.Equal(t, chunk.ID, c.ChunkID)
	assert.Equal(t, "history.mp4", c.FileName)
	assert.Equal(t, "video/mp4", c.FileType)
	assert.Equal(t, graph.ChunkTypeVideoSegment, c.ChunkType)
	assert.Equal(t, 12.5, c.StartTime.OrEmpty())
	assert.Equal(t, 0.9, c.Similarity)
}

func TestService_Ask_EmptyContextUsesHedgedPrompt(t *testing.T) {
	gen := &stubGenerator{answer: "I could not find that."}
	svc := NewService(&stubRetriever{result: &retrieval.Result{Mode: retrieval.ModeMix}}, gen, nil, WithServiceLogger(discardLogger()))

	res, err := svc.Ask(context.Background(), Params{TenantID: uuid.New(), Query: "Unknown?"})
	require.NoError(t, err)

	assert.Contains(t, gen.prompt, "No relevant information was found")
	assert.Empty(t, res.Citations)
	assert.NotNil(t, res.Citations)
}

func TestService_Ask_UsesRetrievedContext(t *testing.T) {
	chunk := &graph.Chunk{ID: uuid.New(), Content: "raw chunk text"}
	gen := &stubGenerator{answer: "ok"}
	svc := NewService(
		&stubRetriever{result: &retrieval.Result{
			Chunks:  []graph.ScoredChunk{{Chunk: chunk, Similarity: 0.5}},
			Context: "prepared context block",
		}},
		gen, nil,
		WithServiceLogger(discardLogger()),
	)

	_, err := svc.Ask(context.Background(), Params{TenantID: uuid.New(), Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, gen.prompt, "prepared context block")
	assert.NotContains(t, gen.prompt, "raw chunk text")
}

func TestService_Ask_MetaFailureIsNotFatal(t *testing.T) {
	chunk := &graph.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Content: "text"}
	svc := NewService(
		&stubRetriever{result: &retrieval.Result{Chunks: []graph.ScoredChunk{{Chunk: chunk, Similarity: 0.5}}}},
		&stubGenerator{answer: "ok"},
		&stubMeta{err: errors.New("db down")},
		WithServiceLogger(discardLogger()),
	)

	res, err := svc.Ask(context.Background(), Params{TenantID: uuid.New(), Query: "q"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 1)
	assert.Empty(t, res.Citations[0].FileName)
}

func TestService_Ask_TruncatesContext(t *testing.T) {
	chunk := &graph.Chunk{ID: uuid.New(), Content: "0123456789 this tail must be cut off"}
	gen := &stubGenerator{answer: "ok"}
	svc := NewService(
		&stubRetriever{result: &retrieval.Result{Chunks: []graph.ScoredChunk{{Chunk: chunk, Similarity: 0.5}}}},
		gen, nil,
		WithServiceLogger(discardLogger()),
		WithTruncator(runeTruncator{}, 40),
	)

	_, err := svc.Ask(context.Background(), Params{TenantID: uuid.New(), Query: "q"})
	require.NoError(t, err)
	assert.NotContains(t, gen.prompt, "must be cut off")
}

func TestService_Ask_Errors(t *testing.T) {
	t.Run("検索エラーは伝播する", func(t *testing.T) {
		svc := NewService(&stubRetriever{err: retrieval.ErrEmptyQuery}, &stubGenerator{}, nil, WithServiceLogger(discardLogger()))
		_, err := svc.Ask(context.Background(), Params{TenantID: uuid.New()})
		assert.ErrorIs(t, err, retrieval.ErrEmptyQuery)
	})

	t.Run("生成エラーは伝播する", func(t *testing.T) {
		svc := NewService(&stubRetriever{result: &retrieval.Result{}}, &stubGenerator{err: errors.New("model down")}, nil, WithServiceLogger(discardLogger()))
		_, err := svc.Ask(context.Background(), Params{TenantID: uuid.New(), Query: "q"})
		assert.ErrorContains(t, err, "model down")
	})
}
