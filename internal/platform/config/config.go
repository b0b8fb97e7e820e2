package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// プロバイダ名
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Database   DatabaseConfig
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	Gemini     GeminiConfig
	Generation GenerationConfig
	Embedding  EmbeddingConfig
	Redis      RedisConfig
	Extraction ExtractionConfig
	Retrieval  RetrievalConfig
	Log        LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int `validate:"gt=0"`
	LLMModel           string
}

// AnthropicConfig はAnthropic API設定
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int `validate:"gt=0"`
}

// GeminiConfig はGemini API設定
type GeminiConfig struct {
	APIKey             string
	Model              string
	EmbeddingModel     string
	EmbeddingDimension int `validate:"gt=0"`
}

// GenerationConfig は生成モデルの選択と共通パラメータ
type GenerationConfig struct {
	Provider         string        `validate:"oneof=openai anthropic gemini"`
	Temperature      float64       `validate:"gte=0,lte=2"`
	Timeout          time.Duration `validate:"gt=0"`
	MaxContextTokens int           `validate:"gt=0"`
}

// EmbeddingConfig は埋め込みプロバイダの選択
type EmbeddingConfig struct {
	Provider          string `validate:"oneof=openai gemini"`
	WorkerCount       int    `validate:"gt=0"`
	BatchSize         int    `validate:"gt=0"`
	// RequestsPerMinute はチャンクEmbedding付与のAPI呼び出し上限（0は無制限）
	RequestsPerMinute int    `validate:"gte=0"`
}

// RedisConfig は埋め込みキャッシュの設定（Addrが空の場合は無効）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
	TTL      time.Duration
}

// Enabled はキャッシュが有効かどうかを返す
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// ExtractionConfig はエンティティ抽出の設定
type ExtractionConfig struct {
	MinChunkLength     int `validate:"gte=0"`
	Concurrency        int `validate:"gt=0"`
	EmbeddingBatchSize int `validate:"gt=0"`
	RequestsPerMinute  int `validate:"gte=0"`
}

// RetrievalConfig は検索の調整値
type RetrievalConfig struct {
	DefaultTopK      int     `validate:"gt=0"`
	DefaultThreshold float64 `validate:"gte=0,lte=1"`
	MediaTopK        int     `validate:"gt=0"`
	MediaThreshold   float64 `validate:"gte=0,lte=1"`
	RetryThreshold   float64 `validate:"gte=0,lte=1"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "graphrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "graphrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		},
		Anthropic: AnthropicConfig{
			APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
			Model:     getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens: getEnvAsInt("ANTHROPIC_MAX_TOKENS", 4096),
		},
		Gemini: GeminiConfig{
			APIKey:             getEnv("GEMINI_API_KEY", ""),
			Model:              getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			EmbeddingModel:     getEnv("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001"),
			EmbeddingDimension: getEnvAsInt("GEMINI_EMBEDDING_DIMENSION", 768),
		},
		Generation: GenerationConfig{
			Provider:         getEnv("GENERATION_PROVIDER", ProviderOpenAI),
			Temperature:      getEnvAsFloat("GENERATION_TEMPERATURE", 0.2),
			Timeout:          getEnvAsDuration("GENERATION_TIMEOUT", 60*time.Second),
			MaxContextTokens: getEnvAsInt("ANSWER_MAX_CONTEXT_TOKENS", 6000),
		},
		Embedding: EmbeddingConfig{
			Provider:          getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
			WorkerCount:       getEnvAsInt("EMBEDDING_WORKERS", 4),
			BatchSize:         getEnvAsInt("EMBEDDING_BATCH_SIZE", 100),
			RequestsPerMinute: getEnvAsInt("EMBEDDING_REQUESTS_PER_MINUTE", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_EMBEDDING_TTL", 7*24*time.Hour),
		},
		Extraction: ExtractionConfig{
			MinChunkLength:     getEnvAsInt("EXTRACTION_MIN_CHUNK_LENGTH", 20),
			Concurrency:        getEnvAsInt("EXTRACTION_CONCURRENCY", 4),
			EmbeddingBatchSize: getEnvAsInt("EXTRACTION_EMBEDDING_BATCH_SIZE", 100),
			RequestsPerMinute:  getEnvAsInt("EXTRACTION_REQUESTS_PER_MINUTE", 0),
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:      getEnvAsInt("RETRIEVAL_TOP_K", 10),
			DefaultThreshold: getEnvAsFloat("RETRIEVAL_THRESHOLD", 0.3),
			MediaTopK:        getEnvAsInt("RETRIEVAL_MEDIA_TOP_K", 20),
			MediaThreshold:   getEnvAsFloat("RETRIEVAL_MEDIA_THRESHOLD", 0.15),
			RetryThreshold:   getEnvAsFloat("RETRIEVAL_RETRY_THRESHOLD", 0.1),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate は設定値を検証します
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EmbeddingDimension は選択中の埋め込みプロバイダのベクトル次元を返します
func (c *Config) EmbeddingDimension() int {
	if c.Embedding.Provider == ProviderGemini {
		return c.Gemini.EmbeddingDimension
	}
	return c.OpenAI.EmbeddingDimension
}

// ConnString はpgx用の接続文字列を返します
func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "30s"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
