package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainmsg "tradeup/internal/domain/messaging"
	domainuser "tradeup/internal/domain/user"
	"tradeup/internal/infra/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.UserRepository) {
	t.Helper()
	users := memory.NewUserRepository()
	service := &Service{
		Repo:  memory.NewMessagingRepository(),
		Users: users,
	}
	seed := []*domainuser.User{
		{ID: "buyer-1", Email: "alice@example.com", FirstName: "Alice", LastName: "Nguyen", Roles: []domainuser.Role{domainuser.RoleBuyer}},
		{ID: "seller-1", Email: "shop@example.com", FirstName: "Bob", BusinessName: "Phone Hub", Roles: []domainuser.Role{domainuser.RoleSellerRetail}},
		{ID: "buyer-2", Email: "carol.m@example.com", Roles: []domainuser.Role{domainuser.RoleBuyer}},
	}
	for _, account := range seed {
		account.PasswordHash = "hash"
		require.NoError(t, users.Save(context.Background(), account))
	}
	return service, users
}

func TestSendCreatesConversation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.Send(ctx, SendParams{
		Sender:    "buyer-1",
		Receiver:  "seller-1",
		ListingID: "listing-123",
		Content:   "Is this still available?",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, domainuser.ID("buyer-1"), result.Conversation.ParticipantA)
	assert.Equal(t, domainuser.ID("seller-1"), result.Conversation.ParticipantB)
	assert.Equal(t, "listing-123", result.Conversation.ListingID)
	assert.Equal(t, "Is this still available?", result.Conversation.LastMessagePreview)
	assert.Equal(t, domainuser.ID("buyer-1"), result.Message.SenderID)
	assert.False(t, result.Message.IsRead)
}

func TestSendReplyReusesConversation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "Is this still available?"})
	require.NoError(t, err)

	reply, err := service.Send(ctx, SendParams{Sender: "seller-1", Receiver: "buyer-1", Content: "Yes, still available"})
	require.NoError(t, err)
	assert.False(t, reply.Created)
	assert.Equal(t, first.Conversation.ID, reply.Conversation.ID)
	assert.Equal(t, "Yes, still available", reply.Conversation.LastMessagePreview)
	assert.False(t, reply.Conversation.LastMessageAt.Before(first.Conversation.LastMessageAt))

	entries, err := service.Inbox(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].UnreadCount)
}

func TestSendValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  SendParams
		wantErr error
	}{
		{name: "self message", params: SendParams{Sender: "buyer-1", Receiver: "buyer-1", Content: "hi"}, wantErr: domainmsg.ErrSelfMessage},
		{name: "whitespace content", params: SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "   \n\t "}, wantErr: domainmsg.ErrContentRequired},
		{name: "unknown receiver", params: SendParams{Sender: "buyer-1", Receiver: "ghost", Content: "hi"}, wantErr: ErrReceiverNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Send(ctx, tt.params)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	// no conversation leaked from the rejected sends
	entries, err := service.Inbox(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolveSymmetry(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	ab, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "first"})
	require.NoError(t, err)
	ba, err := service.Send(ctx, SendParams{Sender: "seller-1", Receiver: "buyer-1", Content: "second"})
	require.NoError(t, err)
	assert.Equal(t, ab.Conversation.ID, ba.Conversation.ID)
}

func TestConversationOrderingAndMarkRead(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	var conversationID domainmsg.ConversationID
	for i := 0; i < 5; i++ {
		result, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
		conversationID = result.Conversation.ID
	}

	view, err := service.Conversation(ctx, conversationID, "seller-1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 5)
	for i, message := range view.Messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), message.Content)
		if i > 0 {
			assert.False(t, message.CreatedAt.Before(view.Messages[i-1].CreatedAt))
		}
	}

	entries, err := service.Inbox(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].UnreadCount)
}

func TestUnreadAccounting(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	const k = 3
	var conversationID domainmsg.ConversationID
	for i := 0; i < k; i++ {
		result, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "ping"})
		require.NoError(t, err)
		conversationID = result.Conversation.ID
	}

	entries, err := service.Inbox(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(k), entries[0].UnreadCount)

	// sender's own inbox shows nothing unread
	senderEntries, err := service.Inbox(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, senderEntries, 1)
	assert.Equal(t, int64(0), senderEntries[0].UnreadCount)

	total, err := service.UnreadTotal(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(k), total)

	_, err = service.Conversation(ctx, conversationID, "seller-1")
	require.NoError(t, err)

	entries, err = service.Inbox(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), entries[0].UnreadCount)

	total, err = service.UnreadTotal(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestReadMarkingDoesNotTouchSenderMessages(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "question"})
	require.NoError(t, err)
	_, err = service.Send(ctx, SendParams{Sender: "seller-1", Receiver: "buyer-1", Content: "answer"})
	require.NoError(t, err)

	// buyer opens the thread: only the seller's message flips to read
	view, err := service.Conversation(ctx, first.Conversation.ID, "buyer-1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 2)

	after, err := service.Conversation(ctx, first.Conversation.ID, "seller-1")
	require.NoError(t, err)
	assert.False(t, after.Messages[0].IsRead, "buyer's message stays unread until the seller opens")
	assert.True(t, after.Messages[1].IsRead, "seller's message was read by the buyer")
}

func TestConversationAccessControl(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "private"})
	require.NoError(t, err)

	_, err = service.Conversation(ctx, result.Conversation.ID, "buyer-2")
	require.ErrorIs(t, err, domainmsg.ErrConversationNotFound)

	_, err = service.Conversation(ctx, "no-such-conversation", "buyer-1")
	require.ErrorIs(t, err, domainmsg.ErrConversationNotFound)
}

func TestDisplayIdentityResolution(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "hello shop"})
	require.NoError(t, err)

	view, err := service.Conversation(ctx, result.Conversation.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "Phone Hub", view.Other.Name)

	// bare-email counterpart resolves to the local part
	second, err := service.Send(ctx, SendParams{Sender: "buyer-2", Receiver: "buyer-1", Content: "hey"})
	require.NoError(t, err)
	view, err = service.Conversation(ctx, second.Conversation.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "carol.m", view.Other.Name)
}

func TestInboxOrdering(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	older, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "first thread"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	newer, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "buyer-2", Content: "second thread"})
	require.NoError(t, err)

	entries, err := service.Inbox(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer.Conversation.ID, entries[0].Conversation.ID)
	assert.Equal(t, older.Conversation.ID, entries[1].Conversation.ID)

	// activity on the older thread bubbles it back up
	time.Sleep(2 * time.Millisecond)
	_, err = service.Send(ctx, SendParams{Sender: "seller-1", Receiver: "buyer-1", Content: "bump"})
	require.NoError(t, err)
	entries, err = service.Inbox(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, older.Conversation.ID, entries[0].Conversation.ID)
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Publish(ctx context.Context, event Event) error {
	s.events = append(s.events, event)
	return nil
}

func TestSendPublishesEvents(t *testing.T) {
	service, _ := newTestService(t)
	sink := &recordingSink{}
	service.Events = sink
	ctx := context.Background()

	_, err := service.Send(ctx, SendParams{Sender: "buyer-1", Receiver: "seller-1", Content: "hello"})
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	assert.Equal(t, EventConversationCreated, sink.events[0].Type)
	assert.Equal(t, EventMessageSent, sink.events[1].Type)

	_, err = service.Send(ctx, SendParams{Sender: "seller-1", Receiver: "buyer-1", Content: "reply"})
	require.NoError(t, err)
	require.Len(t, sink.events, 3)
	assert.Equal(t, EventMessageSent, sink.events[2].Type)
}
