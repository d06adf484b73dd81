// Package llm invokes the code-generation model.
//
// The production client speaks the OpenAI chat completions protocol, which
// local runtimes such as Ollama expose under /v1. Each Invoke is a single
// request: the SDK's automatic retries are disabled so one generation never
// turns into several model calls.
package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for a local Ollama runtime.
const (
	DefaultBaseURL = "http://127.0.0.1:11434/v1"
	DefaultModel   = "deepseek-coder-v2"
	DefaultTimeout = 5 * time.Minute
)

// Client produces a raw text completion for a prompt.
type Client interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config configures an OpenAIClient.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature *float64
	Logger      *slog.Logger
}

// OpenAIClient implements Client against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	maxTokens   int
	temperature *float64
	logger      *slog.Logger
}

// NewOpenAIClient creates a client. Empty fields fall back to the local
// Ollama defaults.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		// Ollama ignores the key but the SDK requires one.
		cfg.APIKey = "ollama"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Invoke sends prompt as a single user message and returns the content of
// the first choice.
func (c *OpenAIClient) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ClientError{Kind: KindInvalidResponse, Message: "model returned no choices"}
	}

	c.logger.Debug("model responded",
		"model", c.model,
		"finish_reason", resp.Choices[0].FinishReason,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// Ping checks that the endpoint is reachable and serves the configured
// model by listing models.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.client.Models.Get(ctx, c.model); err != nil {
		return classify(err)
	}
	return nil
}
