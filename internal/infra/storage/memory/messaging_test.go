package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainmsg "tradeup/internal/domain/messaging"
)

func testConversation(t *testing.T, id domainmsg.ConversationID) *domainmsg.Conversation {
	t.Helper()
	conversation, err := domainmsg.NewConversation(domainmsg.CreateConversationParams{
		ID:       id,
		Sender:   "alice",
		Receiver: "bob",
		Now:      time.Now(),
	})
	require.NoError(t, err)
	return conversation
}

func TestCreateConversationUniqueness(t *testing.T) {
	repo := NewMessagingRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateConversation(ctx, testConversation(t, "c-1")))
	err := repo.CreateConversation(ctx, testConversation(t, "c-2"))
	require.ErrorIs(t, err, domainmsg.ErrConversationExists)

	// either lookup order resolves the surviving row
	found, err := repo.ConversationByParticipants(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, domainmsg.ConversationID("c-1"), found.ID)
}

func TestCreateConversationConcurrently(t *testing.T) {
	repo := NewMessagingRepository()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conversation, err := domainmsg.NewConversation(domainmsg.CreateConversationParams{
				ID:       domainmsg.ConversationID(fmt.Sprintf("conv-%d", i)),
				Sender:   "alice",
				Receiver: "bob",
				Now:      time.Now(),
			})
			if err != nil {
				results[i] = err
				return
			}
			results[i] = repo.CreateConversation(ctx, conversation)
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range results {
		if err == nil {
			created++
		} else {
			require.ErrorIs(t, err, domainmsg.ErrConversationExists)
		}
	}
	assert.Equal(t, 1, created)
}

func TestMessageOrderingWithEqualTimestamps(t *testing.T) {
	repo := NewMessagingRepository()
	ctx := context.Background()
	conversation := testConversation(t, "c-1")
	require.NoError(t, repo.CreateConversation(ctx, conversation))

	at := time.Now().UTC()
	ids := []domainmsg.MessageID{"m-3", "m-1", "m-2"}
	for _, id := range ids {
		message := &domainmsg.Message{
			ID:             id,
			ConversationID: conversation.ID,
			SenderID:       "alice",
			ReceiverID:     "bob",
			Content:        string(id),
			CreatedAt:      at,
		}
		conversation.RecordMessage(message.Content, at)
		require.NoError(t, repo.AppendMessage(ctx, conversation, message))
	}

	messages, err := repo.MessagesByConversation(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	// equal createdAt falls back to insertion order
	assert.Equal(t, domainmsg.MessageID("m-3"), messages[0].ID)
	assert.Equal(t, domainmsg.MessageID("m-1"), messages[1].ID)
	assert.Equal(t, domainmsg.MessageID("m-2"), messages[2].ID)
}

func TestAppendMessageRejectsForeignParticipants(t *testing.T) {
	repo := NewMessagingRepository()
	ctx := context.Background()
	conversation := testConversation(t, "c-1")
	require.NoError(t, repo.CreateConversation(ctx, conversation))

	intruder := &domainmsg.Message{
		ID:             "m-1",
		ConversationID: conversation.ID,
		SenderID:       "mallory",
		ReceiverID:     "bob",
		Content:        "hi",
		CreatedAt:      time.Now(),
	}
	err := repo.AppendMessage(ctx, conversation, intruder)
	require.ErrorIs(t, err, domainmsg.ErrMessageNotOwned)
}

func TestMarkReadAndCounts(t *testing.T) {
	repo := NewMessagingRepository()
	ctx := context.Background()
	conversation := testConversation(t, "c-1")
	require.NoError(t, repo.CreateConversation(ctx, conversation))

	for i, content := range []string{"one", "two", "three"} {
		message := &domainmsg.Message{
			ID:             domainmsg.MessageID(fmt.Sprintf("m-%d", i)),
			ConversationID: conversation.ID,
			SenderID:       "alice",
			ReceiverID:     "bob",
			Content:        content,
			CreatedAt:      time.Now(),
		}
		conversation.RecordMessage(content, message.CreatedAt)
		require.NoError(t, repo.AppendMessage(ctx, conversation, message))
	}

	unread, err := repo.CountUnread(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	total, err := repo.CountUnreadTotal(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	marked, err := repo.MarkRead(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), marked)

	// second pass is a no-op
	marked, err = repo.MarkRead(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), marked)

	unread, err = repo.CountUnread(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestMarkReadUnknownConversation(t *testing.T) {
	repo := NewMessagingRepository()
	_, err := repo.MarkRead(context.Background(), "missing", "bob")
	require.ErrorIs(t, err, domainmsg.ErrConversationNotFound)
}
