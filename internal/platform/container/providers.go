package container

import (
	"context"
	"fmt"

	"github.com/jinford/graph-rag/internal/infra/anthropic"
	"github.com/jinford/graph-rag/internal/infra/gemini"
	"github.com/jinford/graph-rag/internal/infra/openai"
	"github.com/jinford/graph-rag/internal/platform/config"
)

// newEmbedder は EMBEDDING_PROVIDER に応じた Embedder を生成する
func newEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderGemini:
		return gemini.NewEmbedder(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey},
			gemini.WithEmbeddingModel(cfg.Gemini.EmbeddingModel),
			gemini.WithEmbeddingDimension(cfg.Gemini.EmbeddingDimension),
		)
	case config.ProviderOpenAI, "":
		if cfg.OpenAI.APIKey == "" {
			return nil, openai.ErrAPIKeyNotSet
		}
		return openai.NewEmbedder(cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithEmbeddingBatchLimit(cfg.Embedding.BatchSize),
		), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

// newGenerators は GENERATION_PROVIDER に応じて抽出用（JSON応答）と回答用の生成モデルを返す
func newGenerators(ctx context.Context, cfg *config.Config) (Generator, Generator, error) {
	gen := cfg.Generation

	switch gen.Provider {
	case config.ProviderAnthropic:
		client, err := anthropic.NewClient(cfg.Anthropic.APIKey,
			anthropic.WithModel(cfg.Anthropic.Model),
			anthropic.WithMaxTokens(cfg.Anthropic.MaxTokens),
			anthropic.WithTimeout(gen.Timeout),
			anthropic.WithTemperature(gen.Temperature),
		)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	case config.ProviderGemini:
		client, err := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey},
			gemini.WithModel(cfg.Gemini.Model),
			gemini.WithTimeout(gen.Timeout),
			gemini.WithTemperature(float32(gen.Temperature)),
		)
		if err != nil {
			return nil, nil, err
		}
		return client.JSON(), client, nil
	case config.ProviderOpenAI, "":
		client, err := openai.NewClient(cfg.OpenAI.APIKey,
			openai.WithModel(cfg.OpenAI.LLMModel),
			openai.WithTimeout(gen.Timeout),
			openai.WithTemperature(gen.Temperature),
		)
		if err != nil {
			return nil, nil, err
		}
		return client.JSON(), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported generation provider: %s", gen.Provider)
	}
}
