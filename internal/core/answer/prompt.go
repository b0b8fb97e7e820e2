package answer

import "strings"

// BuildPrompt は検索コンテキストと質問から回答生成用のプロンプトを構築する
// コンテキストが空の場合は、情報が見つからなかった旨を伝えるよう指示する
func BuildPrompt(query, contextText string) string {
	var sb strings.Builder

	sb.WriteString("You are a knowledge assistant that answers questions using a knowledge graph and source documents.\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("- Use only the information in the context below.\n")
	sb.WriteString("- Cite source documents with their bracketed numbers, for example [1].\n")
	sb.WriteString("- If the context does not contain the answer, say so instead of guessing.\n")
	sb.WriteString("- Answer in the same language as the question.\n\n")

	if strings.TrimSpace(contextText) == "" {
		sb.WriteString("## Context\n")
		sb.WriteString("(No relevant information was found in the knowledge base.)\n")
		sb.WriteString("Tell the user that no relevant information was found, and suggest how they could rephrase the question.\n\n")
	} else {
		sb.WriteString("## Context\n")
		sb.WriteString(contextText)
		if !strings.HasSuffix(contextText, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("## Answer\n")

	return sb.String()
}
