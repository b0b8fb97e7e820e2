package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding はトークン数の計測に使うエンコーディング
const DefaultEncoding = "cl100k_base"

// Counter は tiktoken でトークン数の計測と切り詰めを行う
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は cl100k_base エンコーディングで Counter を作成する
func NewCounter() (*Counter, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &Counter{encoding: enc}, nil
}

// CountTokens はテキストのトークン数を返す
func (c *Counter) CountTokens(text string) int {
	if c == nil || c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Truncate はテキストを先頭から maxTokens トークン以内に収める
// maxTokens が0以下の場合はそのまま返す
func (c *Counter) Truncate(text string, maxTokens int) string {
	if c == nil || c.encoding == nil || maxTokens <= 0 {
		return text
	}

	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}

	return c.encoding.Decode(tokens[:maxTokens])
}
