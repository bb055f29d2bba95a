package messaging

import (
	"context"

	"tradeup/internal/domain/user"
)

// Repository persists conversations and their message ledgers.
//
// CreateConversation must be guarded by a storage-level uniqueness constraint on
// the canonical participant pair and return ErrConversationExists on a
// duplicate; the lookup-then-create fast path in the service is best effort
// only. AppendMessage persists the message together with the conversation's
// refreshed last-message cache as one unit.
type Repository interface {
	ConversationByID(ctx context.Context, id ConversationID) (*Conversation, error)
	ConversationByParticipants(ctx context.Context, a, b user.ID) (*Conversation, error)
	ConversationsByParticipant(ctx context.Context, id user.ID) ([]Conversation, error)
	CreateConversation(ctx context.Context, conversation *Conversation) error

	AppendMessage(ctx context.Context, conversation *Conversation, message *Message) error
	MessagesByConversation(ctx context.Context, id ConversationID) ([]Message, error)
	MarkRead(ctx context.Context, id ConversationID, receiver user.ID) (int64, error)
	CountUnread(ctx context.Context, id ConversationID, receiver user.ID) (int64, error)
	CountUnreadTotal(ctx context.Context, receiver user.ID) (int64, error)
}
