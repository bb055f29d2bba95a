package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"tradeup/internal/app/dto"
	msgsvc "tradeup/internal/app/services/messaging"
	domainmsg "tradeup/internal/domain/messaging"
	domainuser "tradeup/internal/domain/user"
)

// ChatHTTP exposes the messaging endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	UnreadCount(c *gin.Context)
}

type ChatHandler struct {
	Service *msgsvc.Service
	Logger  *slog.Logger
}

// ListConversations returns the caller's inbox, newest activity first.
func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	entries, err := h.Service.Inbox(c.Request.Context(), domainuser.ID(p.ID))
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapConversationList(entries))
}

// GetConversation returns the full thread and marks messages addressed to the
// caller as read. Non-participants get the same 404 as a missing conversation.
func (h ChatHandler) GetConversation(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	view, err := h.Service.Conversation(c.Request.Context(), domainmsg.ConversationID(conversationID), domainuser.ID(p.ID))
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapConversationDetail(view))
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	ListingID  string `json:"listing_id"`
}

// SendMessage appends a message, lazily creating the conversation on first
// contact. The sender is always the authenticated caller.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_id is required"})
		return
	}
	result, err := h.Service.Send(c.Request.Context(), msgsvc.SendParams{
		Sender:    domainuser.ID(p.ID),
		Receiver:  domainuser.ID(req.ReceiverID),
		ListingID: req.ListingID,
		Content:   req.Content,
	})
	if err != nil {
		h.respondChatError(c, err, "send message", "user_id", p.ID, "receiver_id", req.ReceiverID)
		return
	}
	c.JSON(http.StatusCreated, dto.SendMessageResponse{
		Message:             dto.MapChatMessage(result.Message),
		ConversationID:      string(result.Conversation.ID),
		ConversationCreated: result.Created,
	})
}

// UnreadCount returns the caller's total unread messages across conversations.
func (h ChatHandler) UnreadCount(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	unread, err := h.Service.UnreadTotal(c.Request.Context(), domainuser.ID(p.ID))
	if err != nil {
		h.respondChatError(c, err, "unread count", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.UnreadSummary{UnreadCount: unread, At: time.Now().UTC()})
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, domainmsg.ErrContentRequired),
		errors.Is(err, domainmsg.ErrSelfMessage),
		errors.Is(err, domainmsg.ErrParticipantRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domainmsg.ErrConversationNotFound),
		errors.Is(err, msgsvc.ErrReceiverNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		if h.Logger != nil {
			h.Logger.Error("messaging call failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
