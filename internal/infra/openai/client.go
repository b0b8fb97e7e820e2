package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second

	// JSONParseMaxRetries はJSON解析エラー時の最大リトライ回数
	JSONParseMaxRetries = 1
)

// ResponseFormatJSON はJSONオブジェクトでの応答を要求するフォーマット指定
const ResponseFormatJSON = "json"

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrInvalidResponseFormat は不正なレスポンス形式のエラー
	ErrInvalidResponseFormat = errors.New("invalid response format")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// CompletionRequest は1回の生成リクエスト
type CompletionRequest struct {
	Prompt         string
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // "json" の場合はJSONモード
}

// CompletionResponse は生成結果
type CompletionResponse struct {
	Content    string
	TokensUsed int
	Model      string
}

// Client は OpenAI API を使用した LLM クライアント実装
type Client struct {
	client         openai.Client
	model          string
	timeout        time.Duration
	temperature    float64
	baseBackoff    time.Duration
	responseFormat string
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

type clientOptions struct {
	model          string
	timeout        time.Duration
	temperature    float64
	baseBackoff    time.Duration
	requestOptions []option.RequestOption
}

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
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

// WithTemperature は生成時のtemperatureを設定する
func WithTemperature(temperature float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = temperature
	}
}

// WithBackoff はレート制限時のリトライ間隔の基底時間を設定する
func WithBackoff(base time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.baseBackoff = base
	}
}

// WithRequestOptions はSDKのリクエストオプション（BaseURLなど）を追加する
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
		model:       DefaultModel,
		timeout:     DefaultTimeout,
		baseBackoff: BaseBackoff,
	}
	for _, opt := range opts {
		opt(&options)
	}

	requestOptions := append([]option.RequestOption{option.WithAPIKey(apiKey)}, options.requestOptions...)

	return &Client{
		client:      openai.NewClient(requestOptions...),
		model:       options.model,
		timeout:     options.timeout,
		temperature: options.temperature,
		baseBackoff: options.baseBackoff,
	}, nil
}

// JSON はJSONモードで応答する Client のコピーを返す（抽出用）
func (c *Client) JSON() *Client {
	cp := *c
	cp.responseFormat = ResponseFormatJSON
	return &cp
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Generate はプロンプトからテキストを生成する
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.GenerateCompletion(ctx, CompletionRequest{
		Prompt:         prompt,
		Temperature:    c.temperature,
		ResponseFormat: c.responseFormat,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateCompletion は OpenAI API を使用してテキストを生成する
func (c *Client) GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	var jsonParseRetries int
	for {
		resp, err := c.generateWithRetry(ctx, model, req)
		if err != nil {
			return CompletionResponse{}, err
		}

		if req.ResponseFormat == ResponseFormatJSON {
			if !isValidJSON(resp.Content) {
				jsonParseRetries++
				if jsonParseRetries > JSONParseMaxRetries {
					return CompletionResponse{}, fmt.Errorf("%w: JSON parse failed after %d retries", ErrInvalidResponseFormat, JSONParseMaxRetries)
				}
				continue
			}
		}

		return resp, nil
	}
}

func (c *Client) generateWithRetry(ctx context.Context, model string, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseBackoff
			if backoffDuration > MaxBackoff {
				backoffDuration = MaxBackoff
			}

			select {
			case <-ctx.Done():
				return CompletionResponse{}, ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(req.Prompt),
			},
			Temperature: openai.Float(req.Temperature),
		}

		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		if req.ResponseFormat == ResponseFormatJSON {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{
					Type: "json_object",
				},
			}
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err

			if isRateLimitError(err) {
				continue
			}

			return CompletionResponse{}, fmt.Errorf("OpenAI API call failed: %w", err)
		}

		if len(completion.Choices) == 0 {
			return CompletionResponse{}, fmt.Errorf("no completion choices returned")
		}

		return CompletionResponse{
			Content:    completion.Choices[0].Message.Content,
			TokensUsed: int(completion.Usage.TotalTokens),
			Model:      string(completion.Model),
		}, nil
	}

	return CompletionResponse{}, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}
