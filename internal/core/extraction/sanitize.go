package extraction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jinford/graph-rag/internal/core/graph"
)

const (
	// MaxNameLength はエンティティ名・エンドポイント名の最大文字数
	MaxNameLength = 500
	// MaxTypeLength は種別タグの最大文字数
	MaxTypeLength = 100
	// MaxDescriptionLength は説明文の最大文字数
	MaxDescriptionLength = 2000
	// MinNameLength は有効な名前の最小文字数
	MinNameLength = 2

	// TruncationMarker は切り詰めた値の末尾に付与する記号
	TruncationMarker = "..."

	// DefaultRelationType はリレーション種別が空の場合に使う値
	DefaultRelationType = "RELATED_TO"
)

// Truncate は前後の空白を除去し、maxLen文字（rune単位）を超える場合は
// 末尾をTruncationMarkerにしてちょうどmaxLen文字に切り詰める
func Truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	markerLen := utf8.RuneCountInString(TruncationMarker)
	if maxLen <= markerLen {
		return string([]rune(s)[:maxLen])
	}
	runes := []rune(s)
	return string(runes[:maxLen-markerLen]) + TruncationMarker
}

// NormalizeName はエンティティ名を統合キーに変換する
// 小文字化・前後の空白除去・連続する空白の1つへの圧縮を行う
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// IsValidName は名前がエンティティ名として有効かどうかを判定する
// 2文字未満、または数字・空白・記号のみで構成される名前は無効
func IsValidName(name string) bool {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinNameLength {
		return false
	}
	for _, r := range name {
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return true
		}
	}
	return false
}

// NormalizeEntityType はエンティティ種別を大文字の分類タグに変換する
func NormalizeEntityType(t string) graph.EntityType {
	return graph.ParseEntityType(Truncate(t, MaxTypeLength))
}

// NormalizeRelationType はリレーション種別を大文字・アンダースコア区切りに変換する
func NormalizeRelationType(t string) string {
	fields := strings.FieldsFunc(strings.ToUpper(t), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	if len(fields) == 0 {
		return DefaultRelationType
	}
	return Truncate(strings.Join(fields, "_"), MaxTypeLength)
}
