package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	// DefaultModel はデフォルトで使用する生成モデル
	DefaultModel = "gemini-2.0-flash"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("Gemini API key not set: please set GEMINI_API_KEY environment variable")

	// ErrEmptyResponse は応答にテキストが含まれない場合のエラー
	ErrEmptyResponse = errors.New("no response generated from Gemini API")
)

// Config は genai クライアントの接続設定
type Config struct {
	APIKey string
	// BaseURL は空の場合SDKのデフォルトエンドポイントを使う
	BaseURL string
}

func newGenaiClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return client, nil
}

// Client は Gemini を使ったテキスト生成クライアント
type Client struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	temperature float32
	jsonMode    bool
}

// ClientOption は Client のオプション設定
type ClientOption func(*Client)

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTemperature は生成時のtemperatureを設定する
func WithTemperature(temperature float32) ClientOption {
	return func(c *Client) {
		c.temperature = temperature
	}
}

// NewClient は新しい Client を作成する
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	client, err := newGenaiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		client:  client,
		model:   DefaultModel,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// JSON は application/json で応答する Client のコピーを返す（抽出用）
func (c *Client) JSON() *Client {
	cp := *c
	cp.jsonMode = true
	return &cp
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Generate はプロンプトからテキストを生成する
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if c.jsonMode {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, config)
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	// 最初にテキストを含む候補を採用する
	var sb strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					sb.WriteString(part.Text)
				}
			}
			if sb.Len() > 0 {
				break
			}
		}
	}

	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}

	return sb.String(), nil
}
