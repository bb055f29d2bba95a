package dto

import (
	"time"

	msgsvc "tradeup/internal/app/services/messaging"
	domainmsg "tradeup/internal/domain/messaging"
)

// ChatParticipant is the counterpart's display identity in inbox and thread views.
type ChatParticipant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ConversationSummary is one inbox row.
type ConversationSummary struct {
	ConversationID     string          `json:"conversation_id"`
	OtherParticipant   ChatParticipant `json:"other_participant"`
	LastMessagePreview string          `json:"last_message_preview"`
	LastMessageAt      time.Time       `json:"last_message_at"`
	UnreadCount        int64           `json:"unread_count"`
	ListingID          string          `json:"listing_id,omitempty"`
}

type ConversationList struct {
	Items []ConversationSummary `json:"items"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationDetail is the full thread returned by the fetch-and-mark-read call.
type ConversationDetail struct {
	ConversationID   string          `json:"conversation_id"`
	OtherParticipant ChatParticipant `json:"other_participant"`
	ListingID        string          `json:"listing_id,omitempty"`
	Messages         []ChatMessage   `json:"messages"`
}

type SendMessageResponse struct {
	Message             ChatMessage `json:"message"`
	ConversationID      string      `json:"conversation_id"`
	ConversationCreated bool        `json:"conversation_created"`
}

type UnreadSummary struct {
	UnreadCount int64     `json:"unread_count"`
	At          time.Time `json:"at"`
}

func MapChatParticipant(p msgsvc.Participant) ChatParticipant {
	return ChatParticipant{
		ID:        string(p.ID),
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
	}
}

func MapChatMessage(m *domainmsg.Message) ChatMessage {
	if m == nil {
		return ChatMessage{}
	}
	return ChatMessage{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		ReceiverID:     string(m.ReceiverID),
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

func MapConversationDetail(view *msgsvc.ConversationView) ConversationDetail {
	if view == nil || view.Conversation == nil {
		return ConversationDetail{}
	}
	messages := make([]ChatMessage, 0, len(view.Messages))
	for i := range view.Messages {
		messages = append(messages, MapChatMessage(&view.Messages[i]))
	}
	return ConversationDetail{
		ConversationID:   string(view.Conversation.ID),
		OtherParticipant: MapChatParticipant(view.Other),
		ListingID:        view.Conversation.ListingID,
		Messages:         messages,
	}
}

func MapConversationList(entries []msgsvc.InboxEntry) ConversationList {
	list := ConversationList{Items: make([]ConversationSummary, 0, len(entries))}
	for _, entry := range entries {
		list.Items = append(list.Items, ConversationSummary{
			ConversationID:     string(entry.Conversation.ID),
			OtherParticipant:   MapChatParticipant(entry.Other),
			LastMessagePreview: entry.Conversation.LastMessagePreview,
			LastMessageAt:      entry.Conversation.LastMessageAt,
			UnreadCount:        entry.UnreadCount,
			ListingID:          entry.Conversation.ListingID,
		})
	}
	return list
}
