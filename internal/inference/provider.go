package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/malakmagdy1/RealStateFlutter/internal/config"
	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
)

// New builds the gateway for the provider selected in cfg.Assistant.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (Gateway, error) {
	name := strings.ToLower(cfg.Assistant.Provider)
	prov, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", name)
	}
	opts := Options{
		Model:           prov.Model,
		Timeout:         time.Duration(cfg.Assistant.TimeoutSeconds) * time.Second,
		MaxOutputTokens: cfg.Assistant.MaxOutputTokens,
		Temperature:     cfg.Assistant.Temperature,
	}
	apiKey := prov.Key()

	switch name {
	case "gemini":
		return NewGemini(ctx, GeminiConfig{Options: opts, APIKey: apiKey, BaseURL: prov.BaseURL}, log)
	case "openai":
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: prov.BaseURL,
			Model:   prov.Model,
			APIKey:  apiKey,
			Timeout: opts.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return NewChatModel(name, m, opts, log), nil
	case "claude":
		var baseURL *string
		if prov.BaseURL != "" {
			baseURL = &prov.BaseURL
		}
		maxTokens := opts.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = config.DefaultMaxOutputTokens
		}
		m, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     prov.Model,
			BaseURL:   baseURL,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create claude model: %w", err)
		}
		return NewChatModel(name, m, opts, log), nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", name)
	}
}
