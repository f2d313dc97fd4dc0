package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/storage"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
)

const (
	MinPasswordLength = 6
	// bcrypt ignores input past 72 bytes
	maxPasswordBytes = 72
)

// Service handles user registration and credential checks.
type Service struct {
	db      *sql.DB
	dialect storage.Dialect
	log     *logger.Logger
	cost    int
}

func NewService(db *sql.DB, dialect storage.Dialect, log *logger.Logger) *Service {
	return &Service{
		db:      db,
		dialect: dialect,
		log:     log.With("service", "AccountService"),
		cost:    bcrypt.DefaultCost,
	}
}

// Register creates a user. Emails are stored lower-cased.
func (s *Service) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < MinPasswordLength || len(password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password must be %d to %d characters", ErrInvalidInput, MinPasswordLength, maxPasswordBytes)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	id, err := s.dialect.InsertID(ctx, s.db,
		`INSERT INTO users (email, name, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		email, name, string(hash), now,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", "user_id", id)
	return &models.User{ID: id, Email: email, Name: name, PasswordHash: string(hash), CreatedAt: now}, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.scanUser(s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`), email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Get returns the user by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT id, email, name, password_hash, created_at FROM users WHERE id = ?`), id))
}

// Delete removes a user; tokens and conversations cascade.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}
