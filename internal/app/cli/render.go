package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/mo"

	"github.com/jinford/graph-rag/internal/core/answer"
	"github.com/jinford/graph-rag/internal/core/extraction"
	"github.com/jinford/graph-rag/internal/core/graph"
	"github.com/jinford/graph-rag/internal/core/ingestion"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

const previewLength = 60

// === 取り込み系 ===

func renderImportResult(w io.Writer, r *ingestion.ImportResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Document ID", "Chunks", "Total Tokens")
	table.Append(r.DocumentID.String(), fmt.Sprint(r.Chunks), fmt.Sprint(r.TotalTokens))
	table.Render()
}

func renderEmbedStats(w io.Writer, s *ingestion.EmbedStats) {
	table := tablewriter.NewWriter(w)
	table.Header("Embedded", "Failed", "Mismatches")
	table.Append(fmt.Sprint(s.Embedded), fmt.Sprint(s.Failed), fmt.Sprint(s.Mismatches))
	table.Render()
}

func renderExtractionResult(w io.Writer, r *extraction.Result) {
	table := tablewriter.NewWriter(w)
	table.Header("Entities", "Relations", "Processed", "Skipped", "Failed")
	table.Append(
		fmt.Sprint(r.EntitiesCreated),
		fmt.Sprint(r.RelationsCreated),
		fmt.Sprint(r.ChunksProcessed),
		fmt.Sprint(r.ChunksSkipped),
		fmt.Sprint(r.ChunksFailed),
	)
	table.Render()
}

func renderDeleteStats(w io.Writer, s *graph.DeleteStats) {
	table := tablewriter.NewWriter(w)
	table.Header("Chunks", "Entities Deleted", "Entities Shrunk", "Relations Deleted")
	table.Append(
		fmt.Sprint(s.ChunksDeleted),
		fmt.Sprint(s.EntitiesDeleted),
		fmt.Sprint(s.EntitiesShrunk),
		fmt.Sprint(s.RelationsDeleted),
	)
	table.Render()
}

// === 検索系 ===

func renderRetrievalResult(w io.Writer, r *retrieval.Result) {
	fmt.Fprintf(w, "mode=%s topK=%d threshold=%.2f media=%t degraded=%t\n",
		r.Mode, r.Tuning.TopK, r.Tuning.Threshold, r.Tuning.Media, r.Degraded)

	if r.IsEmpty() {
		fmt.Fprintln(w, "該当する結果はありません")
		return
	}

	if len(r.Entities) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Entity", "Type", "Similarity", "Description")
		for _, e := range r.Entities {
			table.Append(e.Entity.Name, string(e.Entity.Type), formatSimilarity(e.Similarity), truncateString(e.Entity.Description, previewLength))
		}
		table.Render()
	}

	if len(r.Relations) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Source", "Type", "Target", "Similarity")
		for _, rel := range r.Relations {
			table.Append(rel.Relation.SourceEntityName, rel.Relation.Type, rel.Relation.TargetEntityName, formatSimilarity(rel.Similarity))
		}
		table.Render()
	}

	if len(r.Chunks) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("#", "Chunk ID", "Type", "Similarity", "Content")
		for i, c := range r.Chunks {
			table.Append(fmt.Sprint(i+1), c.Chunk.ID.String(), string(c.Chunk.ChunkType), formatSimilarity(c.Similarity), truncateString(c.Chunk.Content, previewLength))
		}
		table.Render()
	}
}

func renderCitations(w io.Writer, citations []answer.Citation) {
	table := tablewriter.NewWriter(w)
	table.Header("#", "File", "Type", "Time", "Similarity")
	for _, c := range citations {
		table.Append(fmt.Sprint(c.Rank), c.FileName, string(c.ChunkType), formatTimeRange(c.StartTime, c.EndTime), formatSimilarity(c.Similarity))
	}
	table.Render()
}

// === ヘルパー関数 ===

func formatSimilarity(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// formatTimeRange はメディアチャンクの再生位置を "12.0s-30.5s" 形式にする
func formatTimeRange(start, end mo.Option[float64]) string {
	s, ok := start.Get()
	if !ok {
		return "-"
	}
	if e, ok := end.Get(); ok {
		return fmt.Sprintf("%.1fs-%.1fs", s, e)
	}
	return fmt.Sprintf("%.1fs", s)
}

// truncateString は改行を空白に置き換え、maxLen文字で切り詰める
func truncateString(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
