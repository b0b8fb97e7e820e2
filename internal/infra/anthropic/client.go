package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel はデフォルトで使用するClaudeモデル
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens は1回の生成で許可する最大出力トークン数
	DefaultMaxTokens = 4096

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("Anthropic API key not set: please set ANTHROPIC_API_KEY environment variable")

	// ErrEmptyResponse は応答にテキストが含まれない場合のエラー
	ErrEmptyResponse = errors.New("no response generated from Claude API")
)

// Client は Anthropic Messages API を使ったテキスト生成クライアント
type Client struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	timeout     time.Duration
	temperature float64
}

type clientOptions struct {
	model          string
	maxTokens      int
	timeout        time.Duration
	temperature    float64
	requestOptions []option.RequestOption
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithMaxTokens は最大出力トークン数を上書きする
func WithMaxTokens(maxTokens int) ClientOption {
	return func(o *clientOptions) {
		if maxTokens > 0 {
			o.maxTokens = maxTokens
		}
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithTemperature は生成時のtemperatureを設定する（0は未指定扱い）
func WithTemperature(temperature float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = temperature
	}
}

// WithRequestOptions はSDKのリクエストオプションを追加する
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(o *clientOptions) {
		o.requestOptions = append(o.requestOptions, opts...)
	}
}

// NewClient はAPIキーを指定して Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	requestOptions := append([]option.RequestOption{option.WithAPIKey(apiKey)}, options.requestOptions...)

	return &Client{
		client:      anthropic.NewClient(requestOptions...),
		model:       options.model,
		maxTokens:   options.maxTokens,
		timeout:     options.timeout,
		temperature: options.temperature,
	}, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Generate はプロンプトを単一のユーザーメッセージとして送り、テキストブロックを連結して返す
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}

	return sb.String(), nil
}
