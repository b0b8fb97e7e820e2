package extraction

import (
	"encoding/json"
	"strings"
)

// RawEntity はモデル出力から読み取ったエンティティ候補
type RawEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// RawRelation はモデル出力から読み取ったリレーション候補
type RawRelation struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Extraction はチャンク1件分の抽出結果
type Extraction struct {
	Entities  []RawEntity   `json:"entities"`
	Relations []RawRelation `json:"relations"`
}

// IsEmpty はエンティティもリレーションも含まないかどうかを返す
func (e Extraction) IsEmpty() bool {
	return len(e.Entities) == 0 && len(e.Relations) == 0
}

// ParseExtraction はモデルの応答から抽出結果を読み取る
// 応答は信頼できない入力として扱い、前後の会話文を許容して最初にJSONとして
// 解釈できる波括弧の区間を使う。解釈に失敗した場合や配列でないフィールドは空として扱う。
func ParseExtraction(response string) Extraction {
	var out Extraction

	object, ok := FindJSONObject(response)
	if !ok {
		return out
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return out
	}

	out.Entities = decodeArray[RawEntity](fields["entities"])
	out.Relations = decodeArray[RawRelation](fields["relations"])
	return out
}

// decodeArray はJSON配列を要素ごとにデコードする
// 配列でない値は空、デコードできない要素は読み飛ばす
func decodeArray[T any](raw json.RawMessage) []T {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}

	out := make([]T, 0, len(elems))
	for _, elem := range elems {
		var v T
		if err := json.Unmarshal(elem, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// FindJSONObject は文字列中で最初にJSONオブジェクトとして解釈できる
// 釣り合いの取れた {...} 区間を返す。文字列リテラル内の波括弧は数えない。
func FindJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}

		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace は s[start] の '{' に対応する '}' の位置を返す
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
