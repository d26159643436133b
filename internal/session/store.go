package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/verity0/verity/internal/log"
)

// DB is the subset of pgxpool.Pool the store needs. Consumer-defined so
// tests can substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists conversations. Safe for concurrent use; concurrent
// appends to the same conversation serialize on a row lock.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a Store. logger must not be nil.
func NewStore(db DB, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "session"),
	}
}

// CreateConversation starts a new thread. An empty title is allowed; it is
// usually filled in later from the first user message.
func (s *Store) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	title = TruncateTitle(strings.TrimSpace(title))

	var c Conversation
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (title)
		VALUES ($1)
		RETURNING id, title, created_at, updated_at`,
		title).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID)
	return c, nil
}

// GetConversation loads one conversation.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1`,
		id).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return c, nil
}

// ListConversations returns conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, limit, offset int32) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}
	return out, nil
}

// SetTitle updates the conversation title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET title = $2, updated_at = now()
		WHERE id = $1`,
		id, TruncateTitle(strings.TrimSpace(title)))
	if err != nil {
		return fmt.Errorf("updating title for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	return nil
}

// DeleteConversation removes a conversation and its turns.
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// AppendTurn adds one turn at the next sequence number. The conversation
// row is locked so concurrent appends cannot collide on a sequence.
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, role Role, text string, sources []string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyText
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return Turn{}, fmt.Errorf("marshaling sources: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() {
		// No-op after commit.
		_ = tx.Rollback(ctx)
	}()

	var exists uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, fmt.Errorf("conversation %s: %w", conversationID, ErrConversationNotFound)
	}
	if err != nil {
		return Turn{}, fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	turn := Turn{
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		Sources:        sources,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversation_messages (conversation_id, sequence_number, role, content, sources)
		SELECT $1, coalesce(max(sequence_number), 0) + 1, $2, $3, $4
		FROM conversation_messages
		WHERE conversation_id = $1
		RETURNING id, sequence_number, created_at`,
		conversationID, string(role), text, sourcesJSON).
		Scan(&turn.ID, &turn.Sequence, &turn.CreatedAt)
	if err != nil {
		return Turn{}, fmt.Errorf("appending turn to %s: %w", conversationID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID); err != nil {
		return Turn{}, fmt.Errorf("touching conversation %s: %w", conversationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Turn{}, fmt.Errorf("committing turn: %w", err)
	}
	return turn, nil
}

// SearchTurns finds conversations whose messages contain the query text,
// case-insensitively. One hit per conversation, newest matching turn
// first, snippet cut to 200 runes.
func (s *Store) SearchTurns(ctx context.Context, query string, limit int32) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, title, role, content, created_at
		FROM (
			SELECT DISTINCT ON (c.id)
				c.id, c.title, m.role, m.content, m.created_at
			FROM conversation_messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.content ILIKE '%' || $1 || '%'
			ORDER BY c.id, m.created_at DESC
		) hits
		ORDER BY created_at DESC
		LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching turns: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var (
			h    SearchHit
			role string
			text string
		)
		if err := rows.Scan(&h.ConversationID, &h.Title, &role, &text, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		h.Role = Role(role)
		h.Snippet = truncateRunes(text, 200)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search hits: %w", err)
	}
	return out, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// RecentTurns returns the newest turns in chronological order. limit goes
// through NormalizeHistoryLimit.
func (s *Store) RecentTurns(ctx context.Context, conversationID uuid.UUID, limit int32) ([]Turn, error) {
	limit = NormalizeHistoryLimit(limit)

	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, sequence_number, role, content, sources, created_at
		FROM (
			SELECT id, conversation_id, sequence_number, role, content, sources, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		) recent
		ORDER BY sequence_number ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t           Turn
			role        string
			sourcesJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Sequence, &role,
			&t.Text, &sourcesJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = Role(role)
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &t.Sources); err != nil {
				s.logger.Warn("unparsable turn sources", "turn_id", t.ID, "error", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}
	return turns, nil
}
