package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"pdfqa/internal/config"
)

// Generation parameters are fixed for every request.
const (
	Temperature     float32 = 0.2
	MaxOutputTokens         = 500
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// ollama ignores the key on its OpenAI-compatible endpoint but the client
// requires one.
const ollamaPlaceholderKey = "ollama"

// NewChatModel builds the chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	var chatModel model.BaseChatModel
	var err error

	temperature := Temperature
	maxTokens := MaxOutputTokens
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model name is required")
	}

	switch strings.ToLower(cfg.Name) {
	case ProviderOllama, "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = ollamaPlaceholderKey
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     baseURL,
			APIKey:      apiKey,
			Model:       cfg.Model,
			Timeout:     timeout,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai provider requires an api key")
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Timeout:     timeout,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	case ProviderClaude:
		if cfg.APIKey == "" {
			return nil, errors.New("claude provider requires an api key")
		}
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     baseURLPtr,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, errors.New("gemini provider requires an api key")
		}
		client, clientErr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     cfg.APIKey,
			HTTPClient: &http.Client{Timeout: timeout},
		})
		if clientErr != nil {
			return nil, fmt.Errorf("create gemini client: %w", clientErr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       cfg.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Name, err)
	}
	return chatModel, nil
}
