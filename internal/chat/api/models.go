package chatapi

import (
	"time"

	"ideamart/internal/chat"
)

type createConversationRequest struct {
	RecipientID string `json:"recipient_id"`
}

type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type conversationSummaryResponse struct {
	ID              string    `json:"id"`
	CounterpartID   string    `json:"counterpart_id"`
	CounterpartName string    `json:"counterpart_name"`
	LastMessage     string    `json:"last_message"`
	UnreadCount     int       `json:"unread_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type listConversationsResponse struct {
	Conversations []conversationSummaryResponse `json:"conversations"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

func toSummaryResponse(s chat.ConversationSummary) conversationSummaryResponse {
	return conversationSummaryResponse{
		ID:              s.ID,
		CounterpartID:   s.CounterpartID,
		CounterpartName: s.CounterpartName,
		LastMessage:     s.LastMessage,
		UnreadCount:     s.UnreadCount,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
	}
}
