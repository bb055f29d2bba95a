package messaging

import (
	"strings"
	"time"

	"tradeup/internal/domain/user"
)

type MessageID string

// Message is one entry in a conversation's append-only ledger. IsRead flips to
// true exactly once, when the receiver opens the conversation.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       user.ID
	ReceiverID     user.ID
	Content        string
	IsRead         bool
	CreatedAt      time.Time
}

type CreateMessageParams struct {
	ID             MessageID
	ConversationID ConversationID
	Sender         user.ID
	Receiver       user.ID
	Content        string
	Now            time.Time
}

func NewMessage(params CreateMessageParams) (*Message, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	sender := user.ID(strings.TrimSpace(string(params.Sender)))
	receiver := user.ID(strings.TrimSpace(string(params.Receiver)))
	if sender == "" || receiver == "" {
		return nil, ErrParticipantRequired
	}
	if sender == receiver {
		return nil, ErrSelfMessage
	}
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, ErrContentRequired
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Message{
		ID:             MessageID(id),
		ConversationID: params.ConversationID,
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		CreatedAt:      now.UTC(),
	}, nil
}

// BelongsTo reports whether the message participant set matches the conversation.
func (m *Message) BelongsTo(c *Conversation) bool {
	if c == nil || m.ConversationID != c.ID {
		return false
	}
	return c.Has(m.SenderID) && c.Has(m.ReceiverID)
}
