package retrieval

import "strings"

const (
	// DefaultTopK はTopK未指定時の取得件数
	DefaultTopK = 10
	// DefaultThreshold は通常クエリの類似度閾値
	DefaultThreshold = 0.3
	// MediaThreshold は音声・動画クエリの類似度閾値
	MediaThreshold = 0.15
	// MediaTopK は音声・動画クエリの最小取得件数
	MediaTopK = 20
	// RetryThreshold は0件だった場合の再試行時の閾値
	RetryThreshold = 0.1

	// LinkedChunkSimilarity はエンティティ・リレーション経由で取得したチャンクに付与する類似度
	LinkedChunkSimilarity = 0.6
	// RelationEntitySimilarity はリレーションの端点として取得したエンティティに付与する類似度
	RelationEntitySimilarity = 0.6
	// FallbackSimilarity は縮退時に直接取得したチャンクに付与する類似度
	FallbackSimilarity = 0.5
)

var videoKeywords = []string{
	"video", "movie", "film", "clip", "footage", "scene",
	"動画", "映像", "ビデオ", "シーン", "録画",
}

var audioKeywords = []string{
	"audio", "podcast", "recording", "speech", "song", "music", "sound",
	"音声", "録音", "ポッドキャスト", "音楽", "発言", "話した",
}

// Settings は検索の調整値
type Settings struct {
	DefaultTopK              int
	DefaultThreshold         float64
	MediaThreshold           float64
	MediaTopK                int
	RetryThreshold           float64
	LinkedChunkSimilarity    float64
	RelationEntitySimilarity float64
	FallbackSimilarity       float64
}

// DefaultSettings はデフォルトの調整値を返す
func DefaultSettings() Settings {
	return Settings{
		DefaultTopK:              DefaultTopK,
		DefaultThreshold:         DefaultThreshold,
		MediaThreshold:           MediaThreshold,
		MediaTopK:                MediaTopK,
		RetryThreshold:           RetryThreshold,
		LinkedChunkSimilarity:    LinkedChunkSimilarity,
		RelationEntitySimilarity: RelationEntitySimilarity,
		FallbackSimilarity:       FallbackSimilarity,
	}
}

// withDefaults は未設定の値をデフォルトで埋める
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.DefaultTopK <= 0 {
		s.DefaultTopK = d.DefaultTopK
	}
	if s.DefaultThreshold <= 0 {
		s.DefaultThreshold = d.DefaultThreshold
	}
	if s.MediaThreshold <= 0 {
		s.MediaThreshold = d.MediaThreshold
	}
	if s.MediaTopK <= 0 {
		s.MediaTopK = d.MediaTopK
	}
	if s.RetryThreshold <= 0 {
		s.RetryThreshold = d.RetryThreshold
	}
	if s.LinkedChunkSimilarity <= 0 {
		s.LinkedChunkSimilarity = d.LinkedChunkSimilarity
	}
	if s.RelationEntitySimilarity <= 0 {
		s.RelationEntitySimilarity = d.RelationEntitySimilarity
	}
	if s.FallbackSimilarity <= 0 {
		s.FallbackSimilarity = d.FallbackSimilarity
	}
	return s
}

// Tuning はクエリごとに決まる取得件数と閾値
type Tuning struct {
	TopK      int
	Threshold float64
	Media     bool
}

// Tune はクエリの内容からTopKと閾値を決める
// 音声・動画を指すクエリでは閾値を下げ、取得件数を増やす
func (s Settings) Tune(query string, topK int) Tuning {
	s = s.withDefaults()
	if topK <= 0 {
		topK = s.DefaultTopK
	}
	if IsMediaQuery(query) {
		return Tuning{
			TopK:      max(topK, s.MediaTopK),
			Threshold: s.MediaThreshold,
			Media:     true,
		}
	}
	return Tuning{TopK: topK, Threshold: s.DefaultThreshold}
}

// TuneParameters はデフォルト設定でクエリを調整する
func TuneParameters(query string, topK int) Tuning {
	return DefaultSettings().Tune(query, topK)
}

// IsMediaQuery はクエリが音声・動画コンテンツを指しているかを判定する
func IsMediaQuery(query string) bool {
	q := strings.ToLower(query)
	return containsAny(q, videoKeywords) || containsAny(q, audioKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
