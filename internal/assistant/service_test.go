package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/malakmagdy1/RealStateFlutter/internal/catalog"
	"github.com/malakmagdy1/RealStateFlutter/internal/config"
	"github.com/malakmagdy1/RealStateFlutter/internal/conversation"
	"github.com/malakmagdy1/RealStateFlutter/internal/inference"
	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/prompt"
	"github.com/malakmagdy1/RealStateFlutter/internal/storage"
	"github.com/malakmagdy1/RealStateFlutter/internal/worker"
)

type fakeGateway struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	requests []inference.Request
}

func (f *fakeGateway) Generate(ctx context.Context, req inference.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("call provider: %w", inference.ErrProviderUnavailable)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGateway) last() inference.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type testEnv struct {
	db      *sql.DB
	svc     *Service
	gateway *fakeGateway
	builder *prompt.Builder
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	seed(t, db)

	gw := &fakeGateway{reply: "تمام، عندي اقتراحات مناسبة ليك."}
	builder := prompt.NewBuilder(prompt.MustLoadDefault(), 10)
	store := conversation.NewStore(db, storage.SQLite, logger.Nop())
	cat := catalog.New(db, storage.SQLite, nil, logger.Nop())
	opts = append([]Option{WithCatalog(cat)}, opts...)
	svc := NewService(store, builder, gw, logger.Nop(), opts...)
	return &testEnv{db: db, svc: svc, gateway: gw, builder: builder}
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES
			(1, 'agent1@example.com', 'one', 'x', CURRENT_TIMESTAMP),
			(2, 'agent2@example.com', 'two', 'x', CURRENT_TIMESTAMP)`,
		`INSERT INTO companies (id, name) VALUES (1, 'Palm Hills Developments')`,
		`INSERT INTO compounds (id, company_id, project, location, total_units, available_units) VALUES
			(10, 1, 'Palm Hills', 'New Cairo', 3, 2)`,
		`INSERT INTO units (id, compound_id, unit_number, unit_type, area, price, bedrooms, bathrooms, available) VALUES
			(100, 10, 'A-101', 'apartment', 150, 3000000, 3, 2, 1),
			(101, 10, 'A-102', 'apartment', 120, 2400000, 2, 1, 1),
			(102, 10, 'V-7', 'villa', 400, 12000000, 5, 4, 0)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestChatStartsConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.Chat(ctx, 1, ChatRequest{Message: "  hello there  ", Language: "en"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if res.ConversationID == "" || res.MessagesCount != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Message != env.gateway.reply {
		t.Fatalf("reply not returned")
	}
	conv, msgs, err := env.svc.GetConversation(ctx, 1, res.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation error: %v", err)
	}
	if conv.MessagesCount != 2 || len(msgs) != 2 || conv.Language != "en" || conv.TitleOrEmpty() != "hello there" {
		t.Fatalf("unexpected conversation: %+v (%d messages)", conv, len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hello there" || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected messages: %+v %+v", msgs[0], msgs[1])
	}
	req := env.gateway.last()
	if req.System != env.builder.SystemPrompt("en", prompt.PersonaGeneral) {
		t.Fatalf("general english persona not used")
	}
	if len(req.Turns) != 1 || req.Turns[0].Content != "hello there" {
		t.Fatalf("unexpected turns: %+v", req.Turns)
	}
}

func TestChatContinuesWithHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Chat(ctx, 1, ChatRequest{Message: "first question"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	env.gateway.reply = "second answer"
	second, err := env.svc.Chat(ctx, 1, ChatRequest{Message: "second question", ConversationID: first.ConversationID})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if second.ConversationID != first.ConversationID || second.MessagesCount != 4 {
		t.Fatalf("unexpected result: %+v", second)
	}
	req := env.gateway.last()
	if len(req.Turns) != 3 {
		t.Fatalf("expected 2 history turns and the new one, got %d", len(req.Turns))
	}
	if req.Turns[0].Role != models.RoleUser || req.Turns[0].Content != "first question" || req.Turns[1].Role != models.RoleAssistant {
		t.Fatalf("history out of order: %+v", req.Turns)
	}
	if req.System != env.builder.SystemPrompt("ar", prompt.PersonaGeneral) {
		t.Fatalf("default arabic persona not used")
	}
}

func TestChatForeignConversationIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owned, err := env.svc.Chat(ctx, 2, ChatRequest{Message: "mine"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	callsBefore := env.gateway.calls()
	convs, msgs := env.count(t, "ai_conversations"), env.count(t, "ai_messages")

	_, err = env.svc.Chat(ctx, 1, ChatRequest{Message: "let me in", ConversationID: owned.ConversationID})
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if env.gateway.calls() != callsBefore {
		t.Fatalf("provider called for a foreign conversation")
	}
	if env.count(t, "ai_conversations") != convs || env.count(t, "ai_messages") != msgs {
		t.Fatalf("rows written for a foreign conversation")
	}
	if _, _, err := env.svc.GetConversation(ctx, 1, owned.ConversationID); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("foreign read: expected ErrNotFound, got %v", err)
	}
	if err := env.svc.DeleteConversation(ctx, 1, owned.ConversationID); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("foreign delete: expected ErrNotFound, got %v", err)
	}
	page, err := env.svc.ListConversations(ctx, 1, 1, 20)
	if err != nil || page.Total != 0 {
		t.Fatalf("foreign list leaked: %+v %v", page, err)
	}
}

func TestChatProviderTimeoutPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.svc.Chat(ctx, 1, ChatRequest{Message: "will time out"})
	if !errors.Is(err, inference.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if env.count(t, "ai_conversations") != 0 || env.count(t, "ai_messages") != 0 {
		t.Fatalf("failed turn left rows behind")
	}
}

func TestChatProviderFailureKeepsExistingConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.Chat(ctx, 1, ChatRequest{Message: "first"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	env.gateway.err = inference.ErrProviderRejected
	if _, err := env.svc.Chat(ctx, 1, ChatRequest{Message: "second", ConversationID: res.ConversationID}); !errors.Is(err, inference.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	conv, msgs, err := env.svc.GetConversation(ctx, 1, res.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation error: %v", err)
	}
	if conv.MessagesCount != 2 || len(msgs) != 2 {
		t.Fatalf("unanswered turn persisted: count=%d rows=%d", conv.MessagesCount, len(msgs))
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []string{"", "   ", strings.Repeat("ب", MaxMessageRunes+1)}
	for _, msg := range cases {
		if _, err := env.svc.Chat(context.Background(), 1, ChatRequest{Message: msg}); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	}
	if env.gateway.calls() != 0 {
		t.Fatalf("provider called for invalid input")
	}
	// the cap counts characters, not bytes
	if _, err := env.svc.Chat(context.Background(), 1, ChatRequest{Message: strings.Repeat("ب", MaxMessageRunes)}); err != nil {
		t.Fatalf("2000 arabic characters rejected: %v", err)
	}
}

func TestChatAttachesMatchingProperties(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.Chat(context.Background(), 1, ChatRequest{Message: "عايز شقة 3 غرف في التجمع"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(res.Properties) != 1 || res.Properties[0].ID != 100 {
		t.Fatalf("expected unit 100, got %+v", res.Properties)
	}
	final := env.gateway.last().Turns[0].Content
	if !strings.Contains(final, "A-101") || !strings.HasSuffix(final, "عايز شقة 3 غرف في التجمع") {
		t.Fatalf("unit context not prepended: %q", final)
	}
	if res.MessagesCount != 2 {
		t.Fatalf("messages_count = %d", res.MessagesCount)
	}
}

func TestChatThroughDispatcher(t *testing.T) {
	d := worker.NewDispatcher(worker.Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8}, logger.Nop())
	defer d.Stop()
	env := newTestEnv(t, WithRunner(d))

	res, err := env.svc.Chat(context.Background(), 1, ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if res.MessagesCount != 2 || res.Message != env.gateway.reply {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCompareBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids := func(n int) []PropertyInput {
		out := make([]PropertyInput, n)
		for i := range out {
			out[i] = PropertyInput{UnitID: 100 + int64(i%3)}
		}
		return out
	}
	for _, n := range []int{0, 1, 6} {
		if _, err := env.svc.Compare(ctx, 1, CompareRequest{Properties: ids(n)}); !errors.Is(err, ErrValidation) {
			t.Fatalf("compare %d: expected ErrValidation, got %v", n, err)
		}
	}
	if env.gateway.calls() != 0 {
		t.Fatalf("provider called for invalid compare")
	}

	res, err := env.svc.Compare(ctx, 1, CompareRequest{Properties: ids(2), Language: "en"})
	if err != nil {
		t.Fatalf("Compare error: %v", err)
	}
	if len(res.Units) != 2 || res.Comparison == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	req := env.gateway.last()
	if req.System != env.builder.SystemPrompt("en", prompt.PersonaComparison) {
		t.Fatalf("comparison persona not used")
	}
	if !strings.Contains(req.Turns[0].Content, "Compare the following 2 units") {
		t.Fatalf("compare task not rendered: %q", req.Turns[0].Content)
	}

	if _, err := env.svc.Compare(ctx, 1, CompareRequest{Properties: []PropertyInput{{UnitID: 100}, {UnitID: 999}}}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
	if env.count(t, "ai_messages") != 0 {
		t.Fatalf("compare must not persist messages")
	}
}

func TestDescribe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Describe(ctx, 1, DescribeRequest{Property: PropertyInput{UnitID: 100}, Style: "poetic"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown style, got %v", err)
	}
	if _, err := env.svc.Describe(ctx, 1, DescribeRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing property, got %v", err)
	}
	both := PropertyInput{UnitID: 100, Attributes: map[string]interface{}{"area": 90}}
	if _, err := env.svc.Describe(ctx, 1, DescribeRequest{Property: both}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for two variants, got %v", err)
	}

	attrs := map[string]interface{}{
		"type":     "villa",
		"location": map[string]interface{}{"city": "Sheikh Zayed"},
	}
	text, err := env.svc.Describe(ctx, 1, DescribeRequest{Property: PropertyInput{Attributes: attrs}, Style: "Luxury", Language: "en"})
	if err != nil || text == "" {
		t.Fatalf("Describe error: %v", err)
	}
	content := env.gateway.last().Turns[0].Content
	if !strings.Contains(content, "location.city: Sheikh Zayed") || !strings.Contains(content, "upscale") {
		t.Fatalf("unexpected describe prompt: %q", content)
	}
}

func TestRecommend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Recommend(ctx, 1, RecommendRequest{Limit: MaxRecommendLimit + 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for limit, got %v", err)
	}

	res, err := env.svc.Recommend(ctx, 1, RecommendRequest{Preferences: Preferences{UnitType: "apartment", MaxPrice: 2500000}})
	if err != nil {
		t.Fatalf("Recommend error: %v", err)
	}
	if len(res.Units) != 1 || res.Units[0].ID != 101 || res.Analysis == "" {
		t.Fatalf("unexpected recommendations: %+v", res)
	}

	candidates := []*models.Unit{
		{ID: 1, UnitType: "villa", Bedrooms: 4, Price: 9000000, Available: true},
		{ID: 2, UnitType: "villa", Bedrooms: 4, Price: 8000000, Available: false},
		{ID: 3, UnitType: "villa", Bedrooms: 4, Price: 7000000, Available: true},
		{ID: 4, UnitType: "apartment", Bedrooms: 4, Price: 3000000, Available: true},
	}
	res, err = env.svc.Recommend(ctx, 1, RecommendRequest{
		Preferences: Preferences{UnitType: "Villa", Bedrooms: 4},
		Candidates:  candidates,
		Limit:       1,
	})
	if err != nil {
		t.Fatalf("Recommend error: %v", err)
	}
	if len(res.Units) != 1 || res.Units[0].ID != 1 {
		t.Fatalf("candidates not filtered then capped: %+v", res.Units)
	}

	calls := env.gateway.calls()
	res, err = env.svc.Recommend(ctx, 1, RecommendRequest{Preferences: Preferences{MinPrice: 50000000}})
	if err != nil || len(res.Units) != 0 || env.gateway.calls() != calls {
		t.Fatalf("empty recommendation should skip the provider: %+v %v", res, err)
	}
}

func TestAsk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Ask(ctx, 1, AskRequest{Question: strings.Repeat("x", MaxQuestionRunes+1)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := env.svc.Ask(ctx, 1, AskRequest{Question: "is it close to the ring road?", CompoundID: 10, Language: "en"}); err != nil {
		t.Fatalf("Ask error: %v", err)
	}
	content := env.gateway.last().Turns[0].Content
	if !strings.Contains(content, "Palm Hills") || !strings.HasSuffix(content, "is it close to the ring road?") {
		t.Fatalf("compound context missing: %q", content)
	}
	if _, err := env.svc.Ask(ctx, 1, AskRequest{Question: "?", CompoundID: 77}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
}

func TestAskWithUnitAndCompound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Ask(context.Background(), 1, AskRequest{
		Question:   "how does this unit compare to the rest of the project?",
		UnitID:     100,
		CompoundID: 10,
		Language:   "en",
	})
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}
	content := env.gateway.last().Turns[0].Content
	if !strings.Contains(content, "A-101") {
		t.Fatalf("unit context missing: %q", content)
	}
	if !strings.Contains(content, "Total units") {
		t.Fatalf("compound context missing: %q", content)
	}
}

// countingCatalog records how often compounds are looked up.
type countingCatalog struct {
	*catalog.Catalog
	mu        sync.Mutex
	compounds int
}

func (c *countingCatalog) GetCompound(ctx context.Context, id int64) (*models.Compound, error) {
	c.mu.Lock()
	c.compounds++
	c.mu.Unlock()
	return c.Catalog.GetCompound(ctx, id)
}

func TestMarketInsightLoadsCompoundOnce(t *testing.T) {
	env := newTestEnv(t)
	counter := &countingCatalog{Catalog: catalog.New(env.db, storage.SQLite, nil, logger.Nop())}
	store := conversation.NewStore(env.db, storage.SQLite, logger.Nop())
	svc := NewService(store, env.builder, env.gateway, logger.Nop(), WithCatalog(counter))

	res, err := svc.MarketInsight(context.Background(), 1, MarketRequest{CompoundID: 10, Language: "en"})
	if err != nil {
		t.Fatalf("MarketInsight error: %v", err)
	}
	if res.Stats == nil || res.Stats.TotalUnits != 3 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if counter.compounds != 1 {
		t.Fatalf("compound loaded %d times, want 1", counter.compounds)
	}
}

func TestMarketInsight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.MarketInsight(ctx, 1, MarketRequest{CompoundID: 10, Language: "en"})
	if err != nil {
		t.Fatalf("MarketInsight error: %v", err)
	}
	if res.Stats == nil || res.Stats.TotalUnits != 3 || res.Insight == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	content := env.gateway.last().Turns[0].Content
	if !strings.Contains(content, "Average price: 5,800,000 EGP") {
		t.Fatalf("stats not rendered: %q", content)
	}
	if _, err := env.svc.MarketInsight(ctx, 1, MarketRequest{Location: "Alexandria"}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
	supplied := &models.MarketStats{Scope: "Zayed", AveragePrice: 4000000, TotalUnits: 12}
	res, err = env.svc.MarketInsight(ctx, 1, MarketRequest{Stats: supplied})
	if err != nil || res.Stats != supplied {
		t.Fatalf("supplied stats not used: %v", err)
	}
}

func TestSalesAssist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.SalesAssist(ctx, 1, SalesRequest{Message: ""}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := env.svc.SalesAssist(ctx, 1, SalesRequest{Message: "the client says it is too expensive", Language: "en"}); err != nil {
		t.Fatalf("SalesAssist error: %v", err)
	}
	req := env.gateway.last()
	if req.MaxOutputTokens != SalesMaxTokens {
		t.Fatalf("max tokens = %d", req.MaxOutputTokens)
	}
	if req.System != env.builder.SystemPrompt("en", prompt.PersonaSales) {
		t.Fatalf("sales persona not used")
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{}
	cases := []struct {
		msg      string
		search   bool
		bedrooms int
		unitType string
	}{
		{"ازيك النهارده؟", false, 0, ""},
		{"محتاج فيلا 4 غرف", true, 4, "villa"},
		{"looking for a 2 bedroom apartment", true, 2, "apartment"},
		{"عايز دوبلكس", true, 0, "duplex"},
		{"show me 3 bedroom flats", true, 3, "apartment"},
		{"what is the area of this unit?", true, 0, ""},
		{"I need advice on the community, is it a good opportunity?", false, 0, ""},
		{"can you find me the contract template", false, 0, ""},
		{"عايز أعرف مواعيد الشغل", false, 0, ""},
	}
	for _, tc := range cases {
		got := c.Classify(tc.msg)
		if got.PropertySearch != tc.search || got.Filter.Bedrooms != tc.bedrooms || got.Filter.UnitType != tc.unitType {
			t.Fatalf("Classify(%q) = %+v", tc.msg, got)
		}
		if got.PropertySearch && !got.Filter.AvailableOnly {
			t.Fatalf("search must be limited to available units")
		}
	}
}
