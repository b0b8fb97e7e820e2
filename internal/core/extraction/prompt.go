package extraction

import (
	"strings"

	"github.com/jinford/graph-rag/internal/core/graph"
)

// SuggestedRelationTypes はプロンプトで推奨するリレーション種別（強制はしない）
var SuggestedRelationTypes = []string{
	"WORKS_FOR",
	"FOUNDED",
	"LOCATED_IN",
	"CREATED",
	"PARTICIPATED_IN",
	"PART_OF",
	"OWNS",
	"USES",
	"RELATED_TO",
}

const extractionInstruction = `You are an information extraction system that builds a knowledge graph.

Extract the important entities and the relations between them from the text below.

Entity types (use exactly one of these for "type"): {{ENTITY_TYPES}}
Preferred relation types: {{RELATION_TYPES}}

Rules:
- Use the entity name as it appears in the text.
- The "source" and "target" of every relation must be the exact "name" of an entity you listed.
- Keep each description to one or two sentences grounded in the text.
- If the text contains no meaningful entities, return empty arrays.

Return only a JSON object with this structure:
{
  "entities": [{"name": "string", "type": "string", "description": "string"}],
  "relations": [{"source": "string", "target": "string", "type": "string", "description": "string"}]
}

Text:
`

// buildInstruction は分類を埋め込んだ固定の指示文を返す
func buildInstruction() string {
	types := make([]string, 0, len(graph.EntityTypes))
	for _, t := range graph.EntityTypes {
		types = append(types, string(t))
	}

	r := strings.NewReplacer(
		"{{ENTITY_TYPES}}", strings.Join(types, ", "),
		"{{RELATION_TYPES}}", strings.Join(SuggestedRelationTypes, ", "),
	)
	return r.Replace(extractionInstruction)
}

var instruction = buildInstruction()

// BuildPrompt はチャンク本文に対する抽出プロンプトを構築する
func BuildPrompt(text string) string {
	var sb strings.Builder
	sb.Grow(len(instruction) + len(text))
	sb.WriteString(instruction)
	sb.WriteString(text)
	return sb.String()
}
