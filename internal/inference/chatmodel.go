package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

// statusCoder is implemented by SDK errors that carry the HTTP status.
type statusCoder interface {
	StatusCode() int
}

// ChatModel adapts any eino chat model (OpenAI, Claude) to the Gateway interface.
type ChatModel struct {
	model    model.BaseChatModel
	opts     Options
	provider string
	log      *logger.Logger
}

// NewChatModel wraps m. provider is only used for logging.
func NewChatModel(provider string, m model.BaseChatModel, opts Options, log *logger.Logger) *ChatModel {
	opts = opts.withDefaults()
	return &ChatModel{
		model:    m,
		opts:     opts,
		provider: provider,
		log:      log.With("component", "InferenceGateway", "provider", provider, "model", opts.Model),
	}
}

// Generate performs one non-streaming call.
func (c *ChatModel) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens, temperature := c.opts.resolve(req)
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := c.model.Generate(callCtx, toSchemaMessages(req),
		model.WithTemperature(temperature),
		model.WithMaxTokens(maxTokens),
	)
	latency := time.Since(start)
	if err != nil {
		mapped := c.classify(callCtx, err)
		c.log.Warn("chat model call failed", "latency_ms", latency.Milliseconds(), "kind", mapped)
		return "", mapped
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", fmt.Errorf("%w: empty text", ErrProviderMalformedResponse)
	}
	c.log.Debug("chat model call ok", "latency_ms", latency.Milliseconds(), "turns", len(req.Turns))
	return strings.TrimSpace(out.Content), nil
}

func (c *ChatModel) classify(ctx context.Context, err error) error {
	if isTransport(ctx, err) {
		return ErrProviderUnavailable
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return fmt.Errorf("%w: status %d", classifyStatus(sc.StatusCode()), sc.StatusCode())
	}
	return ErrProviderUnavailable
}

func toSchemaMessages(req Request) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	for _, t := range req.Turns {
		switch t.Role {
		case models.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	return msgs
}
