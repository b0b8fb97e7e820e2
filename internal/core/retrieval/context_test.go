package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/graph-rag/internal/core/graph"
)

func TestBuildContext(t *testing.T) {
	result := &Result{
		Entities: []graph.ScoredEntity{
			{Entity: &graph.Entity{Name: "Jane Doe", Type: graph.EntityTypePerson, Description: "CEO of Acme Corp"}, Similarity: 0.9},
			{Entity: &graph.Entity{Name: "Ghost"}, Similarity: 0.6},
		},
		Relations: []graph.ScoredRelation{
			{Relation: &graph.Relation{SourceEntityName: "Jane Doe", Type: "FOUNDED", TargetEntityName: "Acme Corp", Description: "in 1999"}, Similarity: 0.8},
		},
		Chunks: []graph.ScoredChunk{
			{Chunk: &graph.Chunk{Content: "Jane Doe founded Acme Corp in 1999.\n"}, Similarity: 0.8734},
			{Chunk: &graph.Chunk{Content: "Acme Corp is based in Tokyo."}, Similarity: 0.6},
		},
	}

	want := "## Entities\n" +
		"- Jane Doe (PERSON): CEO of Acme Corp\n" +
		"- Ghost\n" +
		"\n" +
		"## Relationships\n" +
		"- Jane Doe → FOUNDED → Acme Corp: in 1999\n" +
		"\n" +
		"## Source Documents\n" +
		"[1] (similarity: 0.873)\n" +
		"Jane Doe founded Acme Corp in 1999.\n" +
		"\n" +
		"[2] (similarity: 0.600)\n" +
		"Acme Corp is based in Tokyo.\n"

	assert.Equal(t, want, BuildContext(result))
}

func TestBuildContext_OmitsEmptySections(t *testing.T) {
	result := &Result{
		Chunks: []graph.ScoredChunk{{Chunk: &graph.Chunk{Content: "only text"}, Similarity: 0.5}},
	}
	got := BuildContext(result)

	assert.Equal(t, "## Source Documents\n[1] (similarity: 0.500)\nonly text\n", got)
	assert.NotContains(t, got, "## Entities")
	assert.NotContains(t, got, "## Relationships")
}

func TestBuildContext_Empty(t *testing.T) {
	assert.Equal(t, "", BuildContext(&Result{}))
	assert.Equal(t, "", BuildContext(nil))
}
