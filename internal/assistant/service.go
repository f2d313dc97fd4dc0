package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/malakmagdy1/RealStateFlutter/internal/catalog"
	"github.com/malakmagdy1/RealStateFlutter/internal/conversation"
	"github.com/malakmagdy1/RealStateFlutter/internal/inference"
	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/prompt"
)

// ErrValidation marks malformed input rejected before any side effect.
var ErrValidation = errors.New("invalid request")

func validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

const (
	MaxMessageRunes   = 2000
	MaxQuestionRunes  = 1000
	MaxRecommendLimit = 20
	DefaultRecommend  = 10
	MinCompareUnits   = 2
	MaxCompareUnits   = 5
	ChatPropertyLimit = 5
	SalesMaxTokens    = 500
	DefaultStyle      = "formal"
)

// PropertySource is the read-only property data the assistant draws context from.
type PropertySource interface {
	GetUnit(ctx context.Context, id int64) (*models.Unit, error)
	GetUnits(ctx context.Context, ids []int64) ([]*models.Unit, error)
	SearchUnits(ctx context.Context, f catalog.Filter, limit int) ([]*models.Unit, error)
	GetCompound(ctx context.Context, id int64) (*models.Compound, error)
	CompoundStats(ctx context.Context, comp *models.Compound) (*models.MarketStats, error)
	LocationStats(ctx context.Context, location string) (*models.MarketStats, error)
	MarketStats(ctx context.Context) (*models.MarketStats, error)
}

// Runner executes provider calls on behalf of a user, e.g. worker.Dispatcher.
type Runner interface {
	Do(ctx context.Context, userID int64, fn func(ctx context.Context) error) error
}

// Service coordinates the conversation store, prompt builder and inference
// gateway for every assistant request.
type Service struct {
	store      *conversation.Store
	builder    *prompt.Builder
	gateway    inference.Gateway
	runner     Runner
	catalog    PropertySource
	classifier IntentClassifier
	log        *logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithRunner routes provider calls through r.
func WithRunner(r Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithCatalog enables unit lookups and chat property search.
func WithCatalog(c PropertySource) Option {
	return func(s *Service) { s.catalog = c }
}

// WithClassifier replaces the keyword intent classifier.
func WithClassifier(c IntentClassifier) Option {
	return func(s *Service) { s.classifier = c }
}

func NewService(store *conversation.Store, builder *prompt.Builder, gateway inference.Gateway, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		builder:    builder,
		gateway:    gateway,
		classifier: KeywordClassifier{},
		log:        log.With("service", "AssistantService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChatRequest is one chat turn. An empty ConversationID starts a new conversation.
type ChatRequest struct {
	Message        string
	ConversationID string
	Language       string
}

type ChatResult struct {
	ConversationID string
	Message        string
	MessagesCount  int
	Properties     []*models.Unit
}

// Chat runs one turn. Nothing is persisted unless the provider answers; the
// user and assistant messages are then committed together.
func (s *Service) Chat(ctx context.Context, userID int64, req ChatRequest) (*ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, validation("message is required")
	}
	if utf8.RuneCountInString(message) > MaxMessageRunes {
		return nil, validation("message must be at most %d characters", MaxMessageRunes)
	}
	log := s.log.With("user_id", userID)

	conv, isNew, err := s.store.Resolve(ctx, userID, req.ConversationID, req.Language, message)
	if err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			log.Error("resolve conversation failed", "conversation_id", req.ConversationID, "error", err)
		}
		return nil, err
	}
	log = log.With("conversation_id", conv.ID)
	lang := conv.Language
	if req.Language != "" {
		lang = prompt.NormalizeLanguage(req.Language)
	}

	var history []models.Turn
	if !isNew {
		history, err = s.store.History(ctx, conv.ID, s.builder.HistoryTurns())
		if err != nil {
			log.Error("load history failed", "error", err)
			return nil, err
		}
	}

	var (
		records    []prompt.Record
		properties []*models.Unit
	)
	if s.catalog != nil && s.classifier != nil {
		if intent := s.classifier.Classify(message); intent.PropertySearch {
			properties, err = s.catalog.SearchUnits(ctx, intent.Filter, ChatPropertyLimit)
			if err != nil {
				// listings are optional context for chat
				log.Warn("property search failed", "error", err)
				properties = nil
			}
			for _, u := range properties {
				records = append(records, prompt.UnitRecord(u))
			}
		}
	}

	payload := s.builder.BuildTurn(lang, prompt.PersonaGeneral, history, records, message)
	reply, err := s.generate(ctx, userID, payload, 0)
	if err != nil {
		log.Error("chat inference failed", "error", err)
		return nil, err
	}

	turn, err := s.store.CommitTurn(ctx, conv, isNew, message, reply)
	if err != nil {
		log.Error("commit turn failed", "error", err)
		return nil, err
	}
	log.Info("chat turn completed", "messages_count", turn.MessagesCount, "new", isNew)
	return &ChatResult{
		ConversationID: conv.ID,
		Message:        reply,
		MessagesCount:  turn.MessagesCount,
		Properties:     properties,
	}, nil
}

// ListConversations pages the user's conversations, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, userID int64, page, pageSize int) (*models.ConversationPage, error) {
	return s.store.List(ctx, userID, page, pageSize)
}

// GetConversation returns an owned conversation with its messages.
func (s *Service) GetConversation(ctx context.Context, userID int64, id string) (*models.Conversation, []*models.Message, error) {
	return s.store.Get(ctx, userID, id)
}

// DeleteConversation removes an owned conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, userID int64, id string) error {
	if err := s.store.Delete(ctx, userID, id); err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			s.log.Error("delete conversation failed", "user_id", userID, "conversation_id", id, "error", err)
		}
		return err
	}
	return nil
}

// generate sends payload through the runner when one is configured.
func (s *Service) generate(ctx context.Context, userID int64, payload prompt.Payload, maxTokens int) (string, error) {
	req := inference.Request{
		System:          payload.System,
		Turns:           payload.Turns,
		MaxOutputTokens: maxTokens,
	}
	var reply string
	call := func(ctx context.Context) error {
		text, err := s.gateway.Generate(ctx, req)
		if err != nil {
			return err
		}
		reply = text
		return nil
	}
	var err error
	if s.runner != nil {
		err = s.runner.Do(ctx, userID, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}
