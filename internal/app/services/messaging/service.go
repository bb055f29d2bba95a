package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	domainmsg "tradeup/internal/domain/messaging"
	domainuser "tradeup/internal/domain/user"
)

var ErrReceiverNotFound = errors.New("messaging: receiver not found")

// EventSink receives chat lifecycle events. Publishing is best effort; a
// failing sink never fails the triggering operation.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	ListingID      string    `json:"listing_id,omitempty"`
	At             time.Time `json:"at"`
}

const (
	EventConversationCreated = "conversation.created"
	EventMessageSent         = "message.sent"
)

// Participant is the display identity of the other side of a thread.
type Participant struct {
	ID        domainuser.ID
	Name      string
	AvatarURL string
}

type Service struct {
	Repo   domainmsg.Repository
	Users  domainuser.Repository
	Events EventSink
	Logger *slog.Logger
}

type SendParams struct {
	Sender    domainuser.ID
	Receiver  domainuser.ID
	ListingID string
	Content   string
}

type SendResult struct {
	Message      *domainmsg.Message
	Conversation *domainmsg.Conversation
	Created      bool
}

// Send resolves (or lazily creates) the canonical conversation for the pair and
// appends the message. Validation happens before any write; a duplicate-key
// race on first contact is resolved by re-reading the winner's row.
func (s *Service) Send(ctx context.Context, params SendParams) (*SendResult, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, domainmsg.ErrContentRequired
	}
	if _, _, err := domainmsg.CanonicalPair(params.Sender, params.Receiver); err != nil {
		return nil, err
	}
	if _, err := s.Users.ByID(ctx, params.Receiver); err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	conversation, created, err := s.resolveConversation(ctx, params, now)
	if err != nil {
		return nil, err
	}

	message, err := domainmsg.NewMessage(domainmsg.CreateMessageParams{
		ID:             domainmsg.MessageID(uuid.NewString()),
		ConversationID: conversation.ID,
		Sender:         params.Sender,
		Receiver:       params.Receiver,
		Content:        content,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	conversation.RecordMessage(content, message.CreatedAt)
	if err := s.Repo.AppendMessage(ctx, conversation, message); err != nil {
		return nil, err
	}

	if created {
		s.publish(ctx, Event{
			Type:           EventConversationCreated,
			ConversationID: string(conversation.ID),
			ListingID:      conversation.ListingID,
			At:             conversation.CreatedAt,
		})
	}
	s.publish(ctx, Event{
		Type:           EventMessageSent,
		ConversationID: string(conversation.ID),
		MessageID:      string(message.ID),
		SenderID:       string(message.SenderID),
		ReceiverID:     string(message.ReceiverID),
		At:             message.CreatedAt,
	})
	return &SendResult{Message: message, Conversation: conversation, Created: created}, nil
}

func (s *Service) resolveConversation(ctx context.Context, params SendParams, now time.Time) (*domainmsg.Conversation, bool, error) {
	a, b, err := domainmsg.CanonicalPair(params.Sender, params.Receiver)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.Repo.ConversationByParticipants(ctx, a, b)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domainmsg.ErrConversationNotFound) {
		return nil, false, err
	}

	conversation, err := domainmsg.NewConversation(domainmsg.CreateConversationParams{
		ID:        domainmsg.ConversationID(uuid.NewString()),
		Sender:    params.Sender,
		Receiver:  params.Receiver,
		ListingID: params.ListingID,
		Now:       now,
	})
	if err != nil {
		return nil, false, err
	}
	if err := s.Repo.CreateConversation(ctx, conversation); err != nil {
		if errors.Is(err, domainmsg.ErrConversationExists) {
			// lost the first-contact race; the unique index kept one row
			winner, lookupErr := s.Repo.ConversationByParticipants(ctx, a, b)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return winner, false, nil
		}
		return nil, false, err
	}
	return conversation, true, nil
}

type ConversationView struct {
	Conversation *domainmsg.Conversation
	Messages     []domainmsg.Message
	Other        Participant
}

// Conversation returns the full ordered history and, as a side effect, marks
// every message addressed to the requester as read. Requests by non-participants
// fail with the same not-found error as a missing conversation.
func (s *Service) Conversation(ctx context.Context, id domainmsg.ConversationID, requester domainuser.ID) (*ConversationView, error) {
	conversation, err := s.Repo.ConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conversation.Has(requester) {
		return nil, domainmsg.ErrConversationNotFound
	}

	messages, err := s.Repo.MessagesByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Repo.MarkRead(ctx, conversation.ID, requester); err != nil {
		return nil, err
	}

	otherID, _ := conversation.Other(requester)
	return &ConversationView{
		Conversation: conversation,
		Messages:     messages,
		Other:        s.participant(ctx, otherID),
	}, nil
}

type InboxEntry struct {
	Conversation domainmsg.Conversation
	Other        Participant
	UnreadCount  int64
}

// Inbox projects the requester's conversations, newest activity first, each
// annotated with the counterpart's identity and the unread-message count.
func (s *Service) Inbox(ctx context.Context, requester domainuser.ID) ([]InboxEntry, error) {
	conversations, err := s.Repo.ConversationsByParticipant(ctx, requester)
	if err != nil {
		return nil, err
	}
	entries := make([]InboxEntry, 0, len(conversations))
	for _, conversation := range conversations {
		unread, err := s.Repo.CountUnread(ctx, conversation.ID, requester)
		if err != nil {
			return nil, err
		}
		otherID, _ := conversation.Other(requester)
		entries = append(entries, InboxEntry{
			Conversation: conversation,
			Other:        s.participant(ctx, otherID),
			UnreadCount:  unread,
		})
	}
	return entries, nil
}

// UnreadTotal reports the requester's unread count across all conversations.
func (s *Service) UnreadTotal(ctx context.Context, requester domainuser.ID) (int64, error) {
	return s.Repo.CountUnreadTotal(ctx, requester)
}

func (s *Service) participant(ctx context.Context, id domainuser.ID) Participant {
	resolved, err := s.Users.ByID(ctx, id)
	if err != nil {
		if s.Logger != nil && !errors.Is(err, domainuser.ErrNotFound) {
			s.Logger.Warn("participant lookup failed", "user_id", id, "error", err)
		}
		return Participant{ID: id}
	}
	return Participant{
		ID:        resolved.ID,
		Name:      resolved.DisplayName(),
		AvatarURL: resolved.AvatarURL,
	}
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, event); err != nil && s.Logger != nil {
		s.Logger.Warn("chat event publish failed", "type", event.Type, "conversation_id", event.ConversationID, "error", err)
	}
}
