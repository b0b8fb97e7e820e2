package retrieval

import (
	"fmt"
	"strings"
)

// BuildContext は検索結果をプロンプトに埋め込むテキストに整形する
// 空のセクションは出力せず、結果が空の場合は空文字を返す
func BuildContext(result *Result) string {
	if result.IsEmpty() {
		return ""
	}

	var sections []string

	if len(result.Entities) > 0 {
		var sb strings.Builder
		sb.WriteString("## Entities\n")
		for _, se := range result.Entities {
			e := se.Entity
			sb.WriteString("- ")
			sb.WriteString(e.Name)
			if e.Type != "" {
				fmt.Fprintf(&sb, " (%s)", e.Type)
			}
			if e.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(e.Description)
			}
			sb.WriteString("\n")
		}
		sections = append(sections, sb.String())
	}

	if len(result.Relations) > 0 {
		var sb strings.Builder
		sb.WriteString("## Relationships\n")
		for _, sr := range result.Relations {
			r := sr.Relation
			fmt.Fprintf(&sb, "- %s → %s → %s", r.SourceEntityName, r.Type, r.TargetEntityName)
			if r.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(r.Description)
			}
			sb.WriteString("\n")
		}
		sections = append(sections, sb.String())
	}

	if len(result.Chunks) > 0 {
		var sb strings.Builder
		sb.WriteString("## Source Documents\n")
		for i, sc := range result.Chunks {
			fmt.Fprintf(&sb, "[%d] (similarity: %.3f)\n", i+1, sc.Similarity)
			sb.WriteString(strings.TrimSpace(sc.Chunk.Content))
			sb.WriteString("\n\n")
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n")+"\n")
	}

	return strings.Join(sections, "\n")
}
