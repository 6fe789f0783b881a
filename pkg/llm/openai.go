package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient speaks the chat completions API. Any compatible server
// (LM Studio, vLLM, a proxy) works through the base URL.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// OpenAIConfig configures NewOpenAIClient. BaseURL empty means the public
// OpenAI endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// One call is one breaker attempt; retries belong to the caller.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", ErrBackend, m.Role)
		}
	}
	if options != nil {
		params.Temperature = openai.Float(options.Temperature)
		if options.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(options.MaxTokens))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices in response", ErrBackend)
	}
	return &Response{Content: completion.Choices[0].Message.Content}, nil
}
