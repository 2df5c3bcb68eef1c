// Package llm builds the eino chat model used for minutes generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/nickigann03/ai-secretary/internal/config"
)

// DefaultTemperature keeps minutes extraction close to deterministic.
const DefaultTemperature float32 = 0.1

var ErrMissingCredentials = errors.New("missing language model api key")

// Completer sends one system+user exchange and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// newChatModel is swapped in tests.
var newChatModel = buildChatModel

// Client wraps an eino chat model for a single provider.
type Client struct {
	provider  string
	modelName string
	chat      model.BaseChatModel
	err       error
}

// New builds a client for the named provider. A missing API key does not fail
// construction: every call returns ErrMissingCredentials instead.
func New(ctx context.Context, provider string, cfg config.ProviderConfig) (*Client, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	c := &Client{provider: provider, modelName: cfg.Model}
	if strings.TrimSpace(cfg.APIKey) == "" {
		c.err = fmt.Errorf("%w for provider %s", ErrMissingCredentials, provider)
		return c, nil
	}
	chat, err := newChatModel(ctx, provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	c.chat = chat
	return c, nil
}

func buildChatModel(ctx context.Context, provider string, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	switch provider {
	case "groq", "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" && provider == "groq" {
			baseURL = config.DefaultGroqBaseURL
		}
		modelName := cfg.Model
		if modelName == "" && provider == "groq" {
			modelName = config.DefaultGroqModel
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 4096,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// Provider names the configured backend, e.g. "groq".
func (c *Client) Provider() string {
	return c.provider
}

// Complete runs one low-temperature completion.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	msgs := make([]*schema.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	msgs = append(msgs, schema.UserMessage(user))
	out, err := c.chat.Generate(ctx, msgs, model.WithTemperature(DefaultTemperature))
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", c.provider, err)
	}
	if out == nil {
		return "", fmt.Errorf("%s completion returned no message", c.provider)
	}
	return out.Content, nil
}

// Ping sends a tiny prompt to confirm the key and model work.
func (c *Client) Ping(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	_, err := c.chat.Generate(ctx, []*schema.Message{schema.UserMessage("Test")})
	if err != nil {
		return fmt.Errorf("%s ping: %w", c.provider, err)
	}
	return nil
}
