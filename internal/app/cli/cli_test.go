package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/graph-rag/internal/core/answer"
	"github.com/jinford/graph-rag/internal/core/graph"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

const importJSON = `{
  "workspace": "podcasts",
  "fileName": "episode-12.mp3",
  "fileType": "audio/mpeg",
  "chunks": [
    {"content": "Welcome to the show.", "chunkType": "audio_segment", "startTime": 0, "endTime": 12.5},
    {"content": "Today we talk about Acme.", "tokenCount": 6}
  ]
}`

func TestLoadImportRequest(t *testing.T) {
	t.Run("ファイルから読み込む", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.json")
		require.NoError(t, os.WriteFile(path, []byte(importJSON), 0o600))

		req, err := loadImportRequest(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "podcasts", req.Workspace)
		assert.Equal(t, "episode-12.mp3", req.FileName)
		require.Len(t, req.Chunks, 2)
		assert.Equal(t, mo.Some(12.5), req.Chunks[0].EndTime)
		assert.Equal(t, 6, req.Chunks[1].TokenCount)
	})

	t.Run("標準入力から読み込む", func(t *testing.T) {
		req, err := loadImportRequest("-", strings.NewReader(importJSON))
		require.NoError(t, err)
		assert.Len(t, req.Chunks, 2)
	})

	t.Run("パス未指定", func(t *testing.T) {
		_, err := loadImportRequest("", nil)
		assert.Error(t, err)
	})

	t.Run("存在しないファイル", func(t *testing.T) {
		_, err := loadImportRequest(filepath.Join(t.TempDir(), "missing.json"), nil)
		assert.ErrorContains(t, err, "failed to open import file")
	})

	t.Run("不正なJSON", func(t *testing.T) {
		_, err := loadImportRequest("-", strings.NewReader("{"))
		assert.ErrorContains(t, err, "failed to decode import file")
	})
}

func TestRenderRetrievalResult(t *testing.T) {
	docID := uuid.New()
	result := &retrieval.Result{
		Mode:   retrieval.ModeLocal,
		Tuning: retrieval.Tuning{TopK: 10, Threshold: 0.2},
		Chunks: []graph.ScoredChunk{{
			Chunk:      &graph.Chunk{ID: uuid.New(), DocumentID: docID, ChunkType: graph.ChunkTypeText, Content: "Acme builds widgets\nfor everyone"},
			Similarity: 0.91,
		}},
		Entities: []graph.ScoredEntity{{
			Entity:     &graph.Entity{Name: "Acme", Type: "ORGANIZATION", Description: "widget maker"},
			Similarity: 0.88,
		}},
		Relations: []graph.ScoredRelation{{
			Relation:   &graph.Relation{SourceEntityName: "Jane Doe", TargetEntityName: "Acme", Type: "WORKS_FOR"},
			Similarity: 0.75,
		}},
	}

	var buf bytes.Buffer
	renderRetrievalResult(&buf, result)
	out := buf.String()

	assert.Contains(t, out, "mode=local")
	assert.Contains(t, out, "Acme builds widgets for everyone")
	assert.Contains(t, out, "0.9100")
	assert.Contains(t, out, "WORKS_FOR")
	assert.Contains(t, out, "Jane Doe")
}

func TestRenderRetrievalResult_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderRetrievalResult(&buf, &retrieval.Result{Mode: retrieval.ModeMix, Degraded: true})

	assert.Contains(t, buf.String(), "degraded=true")
	assert.Contains(t, buf.String(), "該当する結果はありません")
}

func TestRenderCitations(t *testing.T) {
	var buf bytes.Buffer
	renderCitations(&buf, []answer.Citation{
		{Rank: 1, FileName: "episode-12.mp3", ChunkType: graph.ChunkTypeAudioSegment, StartTime: mo.Some(12.0), EndTime: mo.Some(30.5), Similarity: 0.5},
		{Rank: 2, FileName: "notes.txt", ChunkType: graph.ChunkTypeText, Similarity: 0.25},
	})

	out := buf.String()
	assert.Contains(t, out, "episode-12.mp3")
	assert.Contains(t, out, "12.0s-30.5s")
	assert.Contains(t, out, "notes.txt")
}

func TestFormatTimeRange(t *testing.T) {
	assert.Equal(t, "-", formatTimeRange(mo.None[float64](), mo.Some(3.0)))
	assert.Equal(t, "4.0s", formatTimeRange(mo.Some(4.0), mo.None[float64]()))
	assert.Equal(t, "1.5s-2.0s", formatTimeRange(mo.Some(1.5), mo.Some(2.0)))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "a b c", truncateString("a\nb\t c", 10))
	assert.Equal(t, "日本語の...", truncateString("日本語のテキスト", 4))
}
