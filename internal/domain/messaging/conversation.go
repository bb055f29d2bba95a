package messaging

import (
	"errors"
	"strings"
	"time"

	"tradeup/internal/domain/user"
)

var (
	ErrIDRequired           = errors.New("messaging: id is required")
	ErrParticipantRequired  = errors.New("messaging: participant id is required")
	ErrSelfMessage          = errors.New("messaging: sender and receiver must differ")
	ErrContentRequired      = errors.New("messaging: content is required")
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	ErrConversationExists   = errors.New("messaging: conversation already exists")
	ErrMessageNotOwned      = errors.New("messaging: message participants do not match conversation")
)

// PreviewLimit caps the cached last-message snippet on a conversation.
const PreviewLimit = 100

type ConversationID string

// Conversation is the single canonical thread between two participants.
// ParticipantA and ParticipantB are stored in canonical order (A < B), so the
// thread identity is independent of who wrote first.
type Conversation struct {
	ID                 ConversationID
	ParticipantA       user.ID
	ParticipantB       user.ID
	ListingID          string
	LastMessagePreview string
	LastMessageAt      time.Time
	CreatedAt          time.Time
}

// CanonicalPair validates and sorts two participant ids into storage order.
func CanonicalPair(a, b user.ID) (user.ID, user.ID, error) {
	first := user.ID(strings.TrimSpace(string(a)))
	second := user.ID(strings.TrimSpace(string(b)))
	if first == "" || second == "" {
		return "", "", ErrParticipantRequired
	}
	if first == second {
		return "", "", ErrSelfMessage
	}
	if second < first {
		first, second = second, first
	}
	return first, second, nil
}

type CreateConversationParams struct {
	ID        ConversationID
	Sender    user.ID
	Receiver  user.ID
	ListingID string
	Now       time.Time
}

func NewConversation(params CreateConversationParams) (*Conversation, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	a, b, err := CanonicalPair(params.Sender, params.Receiver)
	if err != nil {
		return nil, err
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Conversation{
		ID:            ConversationID(id),
		ParticipantA:  a,
		ParticipantB:  b,
		ListingID:     strings.TrimSpace(params.ListingID),
		LastMessageAt: now,
		CreatedAt:     now,
	}, nil
}

func (c *Conversation) Has(id user.ID) bool {
	return id != "" && (id == c.ParticipantA || id == c.ParticipantB)
}

// Other returns the counterpart of the given participant.
func (c *Conversation) Other(id user.ID) (user.ID, bool) {
	switch id {
	case c.ParticipantA:
		return c.ParticipantB, true
	case c.ParticipantB:
		return c.ParticipantA, true
	default:
		return "", false
	}
}

// RecordMessage refreshes the last-message cache after an append.
func (c *Conversation) RecordMessage(content string, at time.Time) {
	c.LastMessagePreview = Preview(content)
	if at.IsZero() {
		at = time.Now()
	}
	c.LastMessageAt = at.UTC()
}

// Preview trims and truncates content to PreviewLimit runes.
func Preview(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= PreviewLimit {
		return string(runes)
	}
	return string(runes[:PreviewLimit])
}
