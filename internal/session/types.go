// Package session persists conversations and their turns in PostgreSQL.
//
// The pipeline itself never writes here; the API layer loads recent turns
// before a pipeline run and appends the user/assistant pair afterwards.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TitleMaxLength caps conversation titles.
const TitleMaxLength = 100

// History limits. Zero or negative requests fall back to the default.
const (
	DefaultHistoryLimit int32 = 20
	MinHistoryLimit     int32 = 2
	MaxHistoryLimit     int32 = 500
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyText indicates an attempt to append a turn with no content.
	ErrEmptyText = errors.New("turn text is empty")
)

// Conversation is one chat thread.
type Conversation struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one persisted message of a conversation. Sequence numbers are
// dense and start at 1.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sequence       int32
	Role           Role
	Text           string
	Sources        []string // knowledge document IDs cited by an assistant turn
	CreatedAt      time.Time
}

// SearchHit is one conversation surfaced by a keyword search, carrying
// its newest matching turn.
type SearchHit struct {
	ConversationID uuid.UUID
	Title          string
	Role           Role
	Snippet        string
	CreatedAt      time.Time
}

// NormalizeHistoryLimit clamps limit into the allowed range, substituting
// the default for zero and negative values.
func NormalizeHistoryLimit(limit int32) int32 {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit < MinHistoryLimit {
		return MinHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// TruncateTitle trims the title to TitleMaxLength runes.
func TruncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= TitleMaxLength {
		return title
	}
	return string(runes[:TitleMaxLength-3]) + "..."
}
