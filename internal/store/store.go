// Package store persists conversations in Postgres. Each conversation is a
// single row owning its messages as a JSONB array, scoped by user on every
// query so one principal can never read another's threads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

type Store struct {
	DB *sql.DB
}

// Conversation statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// DefaultTTL is how long an idle conversation is retained before the
// retention sweep removes it.
const DefaultTTL = 90 * 24 * time.Hour

var ErrNotFound = errors.New("conversation not found")

// Conversation is a threaded exchange between one user and the agent.
type Conversation struct {
	ID           string
	UserID       string
	Title        string
	Messages     []models.Message
	Status       string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// ConversationSummary is the projection used by the list endpoint: no
// message bodies, just a preview of the latest turn.
type ConversationSummary struct {
	ID           string
	Title        string
	Status       string
	LastActiveAt time.Time
	Preview      string
}

// New constructs the Store from configuration.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, BuildDSN(cfg))
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// BuildDSN resolves the Postgres DSN: an explicit URL wins, otherwise the
// DSN is composed from the individual connection fields.
func BuildDSN(cfg config.PostgresConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
}

// CreateConversation inserts a new empty conversation owned by userID.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        title,
		Messages:     []models.Message{},
		Status:       StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(DefaultTTL),
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, messages, status, created_at, last_active_at, expires_at)
		 VALUES ($1,$2,$3,'[]'::jsonb,$4,$5,$6,$7)`,
		conv.ID, conv.UserID, conv.Title, conv.Status, conv.CreatedAt, conv.LastActiveAt, conv.ExpiresAt)
	if err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// GetConversation loads one conversation scoped to the owning user.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (Conversation, bool, error) {
	var conv Conversation
	var rawMessages []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, title, messages, status, created_at, last_active_at, expires_at
		 FROM conversations WHERE id=$1 AND user_id=$2`,
		id, userID).Scan(&conv.ID, &conv.UserID, &conv.Title, &rawMessages, &conv.Status,
		&conv.CreatedAt, &conv.LastActiveAt, &conv.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	if len(rawMessages) > 0 {
		if err := json.Unmarshal(rawMessages, &conv.Messages); err != nil {
			return Conversation{}, false, fmt.Errorf("decode messages: %w", err)
		}
	}
	return conv, true, nil
}

// AppendMessages appends turns to a conversation and refreshes its activity
// timestamp and retention deadline.
func (s *Store) AppendMessages(ctx context.Context, id, userID string, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx,
		`UPDATE conversations
		 SET messages = messages || $3::jsonb, last_active_at = $4, expires_at = $5
		 WHERE id=$1 AND user_id=$2`,
		id, userID, payload, now, now.Add(DefaultTTL))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns summaries for one user ordered by most recent
// activity. Filtering and paging policy belongs to the caller.
func (s *Store) ListConversations(ctx context.Context, userID, status string, limit, offset int) ([]ConversationSummary, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, title, status, last_active_at,
		        COALESCE(messages->(jsonb_array_length(messages)-1)->>'content', '')
		 FROM conversations
		 WHERE user_id=$1 AND status=$2
		 ORDER BY last_active_at DESC
		 OFFSET $3 LIMIT $4`,
		userID, status, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title, &c.Status, &c.LastActiveAt, &c.Preview); err != nil {
			return nil, err
		}
		c.Preview = truncateRunes(c.Preview, 200)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTitle renames a conversation. Titles are capped at 200 characters.
func (s *Store) UpdateTitle(ctx context.Context, id, userID, title string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET title=$3 WHERE id=$1 AND user_id=$2`,
		id, userID, truncateRunes(title, 200))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes conversations whose retention deadline has passed
// and reports how many were swept.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM conversations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
