package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/resilience"
)

const systemPrompt = "You are a careful product claims auditor. Answer with a single JSON object and nothing else."

// Client implements ports.InferenceClient with any OpenAI-compatible chat
// completions endpoint.
type Client struct {
	client   *goopenai.Client
	model    string
	timeout  time.Duration
	executor *resilience.Executor
}

type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai client", errors.New("api key is required"))
	}
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		client:   goopenai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		executor: cfg.Executor,
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "openai generate", errors.New("empty prompt"))
	}

	request := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	call := func(callCtx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(callCtx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, request)
		if err != nil {
			return "", normalizeError(err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("openai generate: empty choices")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}

	var (
		text string
		err  error
	)
	if c.executor != nil {
		text, err = resilience.Do(ctx, c.executor, "openai.generate", call, resilience.ClassifyHTTP)
	} else {
		text, err = call(ctx)
	}
	if err != nil {
		return "", resilience.WrapTemporary("openai generate", err, resilience.ClassifyHTTP)
	}
	return text, nil
}

// normalizeError maps client library errors onto the shared HTTP status error
// so retries and breaker accounting match the other adapters.
func normalizeError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &resilience.HTTPStatusError{
			Service:    "openai",
			Operation:  "generate",
			StatusCode: apiErr.HTTPStatusCode,
			Status:     apiErr.Type,
			Body:       apiErr.Message,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &resilience.HTTPStatusError{
			Service:    "openai",
			Operation:  "generate",
			StatusCode: reqErr.HTTPStatusCode,
			Status:     reqErr.HTTPStatus,
			Body:       reqErr.Error(),
		}
	}
	return err
}
