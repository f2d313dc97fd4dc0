package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/storage"
)

var (
	// ErrNotFound covers both missing conversations and conversations owned by someone else.
	ErrNotFound = errors.New("conversation not found")
	// ErrStore marks persistence faults; callers treat them as transient.
	ErrStore = errors.New("conversation store failure")
	// ErrInvalidMessage rejects empty content or unknown roles.
	ErrInvalidMessage = errors.New("invalid message")
)

const (
	TitleMaxRunes   = 50
	DefaultPageSize = 20
	MaxPageSize     = 100
	DefaultLanguage = "ar"
)

// Store persists conversations and their ordered messages.
type Store struct {
	db      *sql.DB
	dialect storage.Dialect
	log     *logger.Logger
	now     func() time.Time
}

// NewStore builds a store over an already migrated database.
func NewStore(db *sql.DB, dialect storage.Dialect, log *logger.Logger) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		log:     log.With("component", "ConversationStore"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TurnResult is what CommitTurn persisted.
type TurnResult struct {
	User          *models.Message
	Assistant     *models.Message
	MessagesCount int
}

// DeriveTitle truncates the first user message into a conversation title.
func DeriveTitle(firstMessage string) *string {
	s := strings.Join(strings.Fields(firstMessage), " ")
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > TitleMaxRunes {
		s = string([]rune(s)[:TitleMaxRunes]) + "..."
	}
	return &s
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en":
		return "en"
	default:
		return DefaultLanguage
	}
}

// GetOrCreate returns the caller's conversation when conversationID resolves to one
// they own, otherwise it creates a new conversation for them.
func (s *Store) GetOrCreate(ctx context.Context, userID int64, conversationID, language, firstMessage string) (*models.Conversation, error) {
	if conversationID != "" {
		conv, err := s.getOwned(ctx, s.db, userID, conversationID, false)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	conv := s.newConversation(userID, language, firstMessage)
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO ai_conversations (id, user_id, title, language, messages_count, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`),
		conv.ID, conv.UserID, conv.Title, conv.Language, conv.CreatedAt, conv.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("create conversation: %w: %w", ErrStore, err)
	}
	return conv, nil
}

// Resolve looks up a conversation without writing anything. An empty id yields an
// unsaved conversation (isNew true) that CommitTurn will insert; an id the caller
// does not own yields ErrNotFound.
func (s *Store) Resolve(ctx context.Context, userID int64, conversationID, language, firstMessage string) (*models.Conversation, bool, error) {
	if conversationID == "" {
		return s.newConversation(userID, language, firstMessage), true, nil
	}
	conv, err := s.getOwned(ctx, s.db, userID, conversationID, false)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func (s *Store) newConversation(userID int64, language, firstMessage string) *models.Conversation {
	now := s.now()
	return &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     DeriveTitle(firstMessage),
		Language:  normalizeLanguage(language),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendMessage adds one message and refreshes the conversation counters atomically.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	if !role.Valid() || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidMessage
	}
	var msg *models.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		now := s.now()
		m, err := s.insertMessage(ctx, tx, conversationID, role, content, now)
		if err != nil {
			return err
		}
		if _, err := s.refreshCount(ctx, tx, conversationID, now); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CommitTurn persists a completed exchange: the conversation row when it is new,
// the user message, then the assistant reply, and the recomputed count, all in
// one transaction. Nothing is written if any step fails.
func (s *Store) CommitTurn(ctx context.Context, conv *models.Conversation, isNew bool, userContent, assistantContent string) (*TurnResult, error) {
	if conv == nil || strings.TrimSpace(userContent) == "" || strings.TrimSpace(assistantContent) == "" {
		return nil, ErrInvalidMessage
	}
	result := &TurnResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if isNew {
			if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
				`INSERT INTO ai_conversations (id, user_id, title, language, messages_count, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`),
				conv.ID, conv.UserID, conv.Title, normalizeLanguage(conv.Language), conv.CreatedAt, now,
			); err != nil {
				return fmt.Errorf("create conversation: %w: %w", ErrStore, err)
			}
		} else if _, err := s.getOwned(ctx, tx, conv.UserID, conv.ID, true); err != nil {
			return err
		}

		userMsg, err := s.insertMessage(ctx, tx, conv.ID, models.RoleUser, userContent, now)
		if err != nil {
			return err
		}
		aiMsg, err := s.insertMessage(ctx, tx, conv.ID, models.RoleAssistant, assistantContent, now)
		if err != nil {
			return err
		}
		count, err := s.refreshCount(ctx, tx, conv.ID, now)
		if err != nil {
			return err
		}
		result.User, result.Assistant, result.MessagesCount = userMsg, aiMsg, count
		return nil
	})
	if err != nil {
		return nil, err
	}
	conv.MessagesCount = result.MessagesCount
	conv.UpdatedAt = result.Assistant.CreatedAt
	return result, nil
}

// History returns the conversation's turns in ascending order. A positive limit
// keeps only the most recent turns, still oldest first.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	query := `SELECT role, content FROM ai_messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w: %w", ErrStore, err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan history: %w: %w", ErrStore, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w: %w", ErrStore, err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Get returns an owned conversation with all of its messages.
func (s *Store) Get(ctx context.Context, userID int64, conversationID string) (*models.Conversation, []*models.Message, error) {
	conv, err := s.getOwned(ctx, s.db, userID, conversationID, false)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT id, conversation_id, role, content, created_at FROM ai_messages WHERE conversation_id = ? ORDER BY created_at, id`),
		conversationID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w: %w", ErrStore, err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w: %w", ErrStore, err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w: %w", ErrStore, err)
	}
	return conv, msgs, nil
}

// Delete removes an owned conversation and its messages.
func (s *Store) Delete(ctx context.Context, userID int64, conversationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getOwned(ctx, tx, userID, conversationID, true); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM ai_messages WHERE conversation_id = ?`), conversationID); err != nil {
			return fmt.Errorf("delete messages: %w: %w", ErrStore, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM ai_conversations WHERE id = ? AND user_id = ?`), conversationID, userID); err != nil {
			return fmt.Errorf("delete conversation: %w: %w", ErrStore, err)
		}
		return nil
	})
}

// List pages through a user's conversations, most recently updated first.
func (s *Store) List(ctx context.Context, userID int64, page, pageSize int) (*models.ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	out := &models.ConversationPage{Page: page, PageSize: pageSize, Items: []*models.Conversation{}}

	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*) FROM ai_conversations WHERE user_id = ?`), userID,
	).Scan(&out.Total); err != nil {
		return nil, fmt.Errorf("count conversations: %w: %w", ErrStore, err)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT id, user_id, title, language, messages_count, created_at, updated_at
		FROM ai_conversations WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`),
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w: %w", ErrStore, err)
	}
	defer rows.Close()
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w: %w", ErrStore, err)
		}
		out.Items = append(out.Items, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w: %w", ErrStore, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv  models.Conversation
		title sql.NullString
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &title, &conv.Language, &conv.MessagesCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		conv.Title = &title.String
	}
	return &conv, nil
}

// getOwned loads the conversation only when it belongs to userID. With lock set,
// the row is locked for the rest of the transaction on server databases.
func (s *Store) getOwned(ctx context.Context, q querier, userID int64, conversationID string, lock bool) (*models.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, ErrNotFound
	}
	query := `SELECT id, user_id, title, language, messages_count, created_at, updated_at
		FROM ai_conversations WHERE id = ? AND user_id = ?`
	if lock {
		query += s.dialect.ForUpdate()
	}
	conv, err := scanConversation(q.QueryRowContext(ctx, s.dialect.Rebind(query), conversationID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w: %w", ErrStore, err)
	}
	return conv, nil
}

func (s *Store) lockConversation(ctx context.Context, tx *sql.Tx, conversationID string) error {
	var id string
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT id FROM ai_conversations WHERE id = ?`+s.dialect.ForUpdate()), conversationID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock conversation: %w: %w", ErrStore, err)
	}
	return nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, role models.Role, content string, at time.Time) (*models.Message, error) {
	id, err := s.dialect.InsertID(ctx, tx,
		`INSERT INTO ai_messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, string(role), content, at,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w: %w", ErrStore, err)
	}
	return &models.Message{ID: id, ConversationID: conversationID, Role: role, Content: content, CreatedAt: at}, nil
}

// refreshCount recomputes messages_count from the message rows; it is never
// adjusted incrementally.
func (s *Store) refreshCount(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) (int, error) {
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE ai_conversations
		SET messages_count = (SELECT COUNT(*) FROM ai_messages WHERE conversation_id = ?), updated_at = ?
		WHERE id = ?`),
		conversationID, at, conversationID,
	); err != nil {
		return 0, fmt.Errorf("update message count: %w: %w", ErrStore, err)
	}
	var count int
	if err := tx.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT messages_count FROM ai_conversations WHERE id = ?`), conversationID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("read message count: %w: %w", ErrStore, err)
	}
	return count, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", ErrStore, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Warn("rollback failed", "error", rbErr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w: %w", ErrStore, err)
	}
	return nil
}
