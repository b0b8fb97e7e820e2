package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// Mode は検索戦略の種類
type Mode string

const (
	// ModeNaive はチャンクの類似検索のみ
	ModeNaive Mode = "naive"
	// ModeLocal はエンティティ検索を起点に関連チャンクを集める
	ModeLocal Mode = "local"
	// ModeGlobal はリレーション検索を起点にエンティティとチャンクを集める
	ModeGlobal Mode = "global"
	// ModeHybrid は local と global を並行実行して統合する
	ModeHybrid Mode = "hybrid"
	// ModeMix はチャンク・エンティティ・リレーションの直接検索を統合する
	ModeMix Mode = "mix"
)

// DefaultMode はモード未指定時に使う戦略
const DefaultMode = ModeMix

// Modes は利用可能なモードの一覧
var Modes = []Mode{ModeNaive, ModeLocal, ModeGlobal, ModeHybrid, ModeMix}

var (
	// ErrEmptyQuery はクエリが空の場合のエラー
	ErrEmptyQuery = errors.New("query is required")
	// ErrUnknownMode は未知のモードが指定された場合のエラー
	ErrUnknownMode = errors.New("unknown retrieval mode")
	// ErrEmbedQuery はクエリのEmbedding生成に失敗した場合のエラー
	ErrEmbedQuery = errors.New("failed to embed query")
)

// ParseMode は文字列をModeに変換する（空文字はDefaultMode）
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultMode, nil
	}
	for _, m := range Modes {
		if Mode(s) == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) String() string {
	return string(m)
}
