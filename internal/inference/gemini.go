package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini API gateway.
type GeminiConfig struct {
	Options
	APIKey     string
	BaseURL    string
	TopK       float32
	TopP       float32
	HTTPClient *http.Client
}

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	opts   Options
	topK   float32
	topP   float32
	log    *logger.Logger
}

// NewGemini builds the gateway. The API key is handed to the SDK and never logged.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *logger.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	opts := cfg.Options.withDefaults()
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	topK, topP := cfg.TopK, cfg.TopP
	if topK <= 0 {
		topK = 40
	}
	if topP <= 0 {
		topP = 0.95
	}
	return &Gemini{
		client: client,
		opts:   opts,
		topK:   topK,
		topP:   topP,
		log:    log.With("component", "InferenceGateway", "provider", "gemini", "model", opts.Model),
	}, nil
}

// Generate performs one GenerateContent call bounded by the configured timeout.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens, temperature := g.opts.resolve(req)
	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		TopK:            genai.Ptr(g.topK),
		TopP:            genai.Ptr(g.topP),
		MaxOutputTokens: int32(maxTokens),
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(callCtx, g.opts.Model, contents, config)
	latency := time.Since(start)
	if err != nil {
		mapped := g.classify(callCtx, err)
		g.log.Warn("generate content failed", "latency_ms", latency.Milliseconds(), "kind", mapped)
		return "", mapped
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		g.log.Warn("prompt blocked", "reason", string(resp.PromptFeedback.BlockReason))
		return "", fmt.Errorf("%w: prompt blocked (%s)", ErrProviderRejected, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no candidates", ErrProviderMalformedResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response stopped for safety", ErrProviderRejected)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrProviderMalformedResponse)
	}
	g.log.Debug("generate content ok", "latency_ms", latency.Milliseconds(), "turns", len(contents))
	return text, nil
}

func (g *Gemini) classify(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d", classifyStatus(apiErr.Code), apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fmt.Errorf("%w: status %d", classifyStatus(apiErrPtr.Code), apiErrPtr.Code)
	}
	if isTransport(ctx, err) {
		return ErrProviderUnavailable
	}
	// anything else came back over a working connection but could not be decoded
	return ErrProviderMalformedResponse
}
