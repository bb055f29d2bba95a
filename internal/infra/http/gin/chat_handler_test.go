package ginserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeup/internal/app/dto"
	msgsvc "tradeup/internal/app/services/messaging"
	domainuser "tradeup/internal/domain/user"
	"tradeup/internal/infra/storage/memory"
)

func newChatTestRouter(t *testing.T) (*gin.Engine, *msgsvc.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := memory.NewUserRepository()
	for _, account := range []*domainuser.User{
		{ID: "buyer-1", Email: "alice@example.com", FirstName: "Alice", PasswordHash: "hash", Roles: []domainuser.Role{domainuser.RoleBuyer}},
		{ID: "seller-1", Email: "shop@example.com", BusinessName: "Phone Hub", PasswordHash: "hash", Roles: []domainuser.Role{domainuser.RoleSellerRetail}},
	} {
		require.NoError(t, users.Save(context.Background(), account))
	}
	service := &msgsvc.Service{
		Repo:  memory.NewMessagingRepository(),
		Users: users,
	}
	handler := ChatHandler{Service: service}

	router := gin.New()
	// stand-in for the session middleware: trusts the X-Test-User header
	router.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			setPrincipal(c, principal{ID: id})
		}
		c.Next()
	})
	router.GET("/api/v1/conversations", handler.ListConversations)
	router.GET("/api/v1/conversations/:id", handler.GetConversation)
	router.POST("/api/v1/messages", handler.SendMessage)
	router.GET("/api/v1/messages/unread-count", handler.UnreadCount)
	return router, service
}

func doJSON(t *testing.T, router *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageEndpoint(t *testing.T) {
	router, _ := newChatTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/messages", "buyer-1",
		`{"receiver_id":"seller-1","content":"Is this still available?","listing_id":"listing-5"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp dto.SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.ConversationCreated)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Is this still available?", resp.Message.Content)
	assert.Equal(t, "buyer-1", resp.Message.SenderID)
}

func TestSendMessageRejections(t *testing.T) {
	router, _ := newChatTestRouter(t)

	tests := []struct {
		name     string
		user     string
		body     string
		wantCode int
	}{
		{name: "unauthenticated", user: "", body: `{"receiver_id":"seller-1","content":"hi"}`, wantCode: http.StatusUnauthorized},
		{name: "missing receiver", user: "buyer-1", body: `{"content":"hi"}`, wantCode: http.StatusBadRequest},
		{name: "blank content", user: "buyer-1", body: `{"receiver_id":"seller-1","content":"   "}`, wantCode: http.StatusBadRequest},
		{name: "self message", user: "buyer-1", body: `{"receiver_id":"buyer-1","content":"hi"}`, wantCode: http.StatusBadRequest},
		{name: "unknown receiver", user: "buyer-1", body: `{"receiver_id":"ghost","content":"hi"}`, wantCode: http.StatusNotFound},
		{name: "malformed payload", user: "buyer-1", body: `{"receiver_id":`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/messages", tt.user, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestConversationFlowOverHTTP(t *testing.T) {
	router, _ := newChatTestRouter(t)

	send := doJSON(t, router, http.MethodPost, "/api/v1/messages", "buyer-1",
		`{"receiver_id":"seller-1","content":"Is this still available?"}`)
	require.Equal(t, http.StatusCreated, send.Code)
	var created dto.SendMessageResponse
	require.NoError(t, json.Unmarshal(send.Body.Bytes(), &created))

	reply := doJSON(t, router, http.MethodPost, "/api/v1/messages", "seller-1",
		`{"receiver_id":"buyer-1","content":"Yes, still available"}`)
	require.Equal(t, http.StatusCreated, reply.Code)
	var replied dto.SendMessageResponse
	require.NoError(t, json.Unmarshal(reply.Body.Bytes(), &replied))
	assert.Equal(t, created.ConversationID, replied.ConversationID)
	assert.False(t, replied.ConversationCreated)

	// seller inbox shows the buyer's message unread
	inbox := doJSON(t, router, http.MethodGet, "/api/v1/conversations", "seller-1", "")
	require.Equal(t, http.StatusOK, inbox.Code)
	var list dto.ConversationList
	require.NoError(t, json.Unmarshal(inbox.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, int64(1), list.Items[0].UnreadCount)
	assert.Equal(t, "Alice", list.Items[0].OtherParticipant.Name)
	assert.Equal(t, "Yes, still available", list.Items[0].LastMessagePreview)

	// opening the thread marks the buyer's message read
	detail := doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+created.ConversationID, "seller-1", "")
	require.Equal(t, http.StatusOK, detail.Code)
	var thread dto.ConversationDetail
	require.NoError(t, json.Unmarshal(detail.Body.Bytes(), &thread))
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "Is this still available?", thread.Messages[0].Content)
	assert.Equal(t, "Yes, still available", thread.Messages[1].Content)

	inbox = doJSON(t, router, http.MethodGet, "/api/v1/conversations", "seller-1", "")
	require.NoError(t, json.Unmarshal(inbox.Body.Bytes(), &list))
	assert.Equal(t, int64(0), list.Items[0].UnreadCount)

	count := doJSON(t, router, http.MethodGet, "/api/v1/messages/unread-count", "buyer-1", "")
	require.Equal(t, http.StatusOK, count.Code)
	var summary dto.UnreadSummary
	require.NoError(t, json.Unmarshal(count.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.UnreadCount)
}

func TestConversationHiddenFromNonParticipants(t *testing.T) {
	router, service := newChatTestRouter(t)

	result, err := service.Send(context.Background(), msgsvc.SendParams{
		Sender:   "buyer-1",
		Receiver: "seller-1",
		Content:  "private thread",
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+string(result.Conversation.ID), "outsider", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	missing := doJSON(t, router, http.MethodGet, "/api/v1/conversations/does-not-exist", "buyer-1", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	// same shape for both, so existence is not confirmed to outsiders
	assert.JSONEq(t, missing.Body.String(), rec.Body.String())
}
