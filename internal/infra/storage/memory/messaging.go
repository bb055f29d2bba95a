package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainmsg "tradeup/internal/domain/messaging"
	domainuser "tradeup/internal/domain/user"
)

type pairKey struct {
	a domainuser.ID
	b domainuser.ID
}

// MessagingRepository keeps conversations and message ledgers in memory. The
// mutex stands in for the storage-level guarantees the mongo repository gets
// from its unique index and ordered queries.
type MessagingRepository struct {
	mu            sync.RWMutex
	conversations map[domainmsg.ConversationID]*domainmsg.Conversation
	byPair        map[pairKey]domainmsg.ConversationID
	messages      map[domainmsg.ConversationID][]*domainmsg.Message
	seq           int64
	order         map[domainmsg.MessageID]int64
}

func NewMessagingRepository() *MessagingRepository {
	return &MessagingRepository{
		conversations: make(map[domainmsg.ConversationID]*domainmsg.Conversation),
		byPair:        make(map[pairKey]domainmsg.ConversationID),
		messages:      make(map[domainmsg.ConversationID][]*domainmsg.Message),
		order:         make(map[domainmsg.MessageID]int64),
	}
}

func (r *MessagingRepository) ConversationByID(ctx context.Context, id domainmsg.ConversationID) (*domainmsg.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conversation, ok := r.conversations[id]; ok {
		return cloneConversation(conversation), nil
	}
	return nil, domainmsg.ErrConversationNotFound
}

func (r *MessagingRepository) ConversationByParticipants(ctx context.Context, a, b domainuser.ID) (*domainmsg.Conversation, error) {
	first, second, err := domainmsg.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey{a: first, b: second}]
	if !ok {
		return nil, domainmsg.ErrConversationNotFound
	}
	return cloneConversation(r.conversations[id]), nil
}

func (r *MessagingRepository) ConversationsByParticipant(ctx context.Context, id domainuser.ID) ([]domainmsg.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domainmsg.Conversation, 0)
	for _, conversation := range r.conversations {
		if conversation.Has(id) {
			result = append(result, *cloneConversation(conversation))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return lastActivity(result[i]).After(lastActivity(result[j]))
	})
	return result, nil
}

func (r *MessagingRepository) CreateConversation(ctx context.Context, conversation *domainmsg.Conversation) error {
	if conversation == nil {
		return domainmsg.ErrParticipantRequired
	}
	key := pairKey{a: conversation.ParticipantA, b: conversation.ParticipantB}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPair[key]; ok {
		return domainmsg.ErrConversationExists
	}
	if _, ok := r.conversations[conversation.ID]; ok {
		return domainmsg.ErrConversationExists
	}
	r.byPair[key] = conversation.ID
	r.conversations[conversation.ID] = cloneConversation(conversation)
	return nil
}

func (r *MessagingRepository) AppendMessage(ctx context.Context, conversation *domainmsg.Conversation, message *domainmsg.Message) error {
	if conversation == nil || message == nil {
		return domainmsg.ErrParticipantRequired
	}
	if !message.BelongsTo(conversation) {
		return domainmsg.ErrMessageNotOwned
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conversations[conversation.ID]
	if !ok {
		return domainmsg.ErrConversationNotFound
	}
	r.seq++
	r.order[message.ID] = r.seq
	r.messages[conversation.ID] = append(r.messages[conversation.ID], cloneMessage(message))
	stored.LastMessagePreview = conversation.LastMessagePreview
	stored.LastMessageAt = conversation.LastMessageAt
	return nil
}

func (r *MessagingRepository) MessagesByConversation(ctx context.Context, id domainmsg.ConversationID) ([]domainmsg.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[id]; !ok {
		return nil, domainmsg.ErrConversationNotFound
	}
	stored := r.messages[id]
	result := make([]domainmsg.Message, 0, len(stored))
	for _, message := range stored {
		result = append(result, *cloneMessage(message))
	}
	// createdAt ascending, insertion order breaking ties
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return r.order[result[i].ID] < r.order[result[j].ID]
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MessagingRepository) MarkRead(ctx context.Context, id domainmsg.ConversationID, receiver domainuser.ID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[id]; !ok {
		return 0, domainmsg.ErrConversationNotFound
	}
	var marked int64
	for _, message := range r.messages[id] {
		if message.ReceiverID == receiver && !message.IsRead {
			message.IsRead = true
			marked++
		}
	}
	return marked, nil
}

func (r *MessagingRepository) CountUnread(ctx context.Context, id domainmsg.ConversationID, receiver domainuser.ID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[id]; !ok {
		return 0, domainmsg.ErrConversationNotFound
	}
	var unread int64
	for _, message := range r.messages[id] {
		if message.ReceiverID == receiver && !message.IsRead {
			unread++
		}
	}
	return unread, nil
}

func (r *MessagingRepository) CountUnreadTotal(ctx context.Context, receiver domainuser.ID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var unread int64
	for _, ledger := range r.messages {
		for _, message := range ledger {
			if message.ReceiverID == receiver && !message.IsRead {
				unread++
			}
		}
	}
	return unread, nil
}

func cloneConversation(c *domainmsg.Conversation) *domainmsg.Conversation {
	if c == nil {
		return nil
	}
	copyConversation := *c
	return &copyConversation
}

func cloneMessage(m *domainmsg.Message) *domainmsg.Message {
	if m == nil {
		return nil
	}
	copyMessage := *m
	return &copyMessage
}

func lastActivity(c domainmsg.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

var _ domainmsg.Repository = (*MessagingRepository)(nil)
