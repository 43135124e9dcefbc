package chat

import (
	"context"
	"time"
)

// ConversationStore persists conversation records.
//
// Requirements:
//   - At most one conversation per unordered participant pair, enforced at
//     the store level (unique constraint, not client-side sequencing).
//   - GetOrCreate is idempotent and safe to call concurrently from both
//     participants' sessions.
type ConversationStore interface {
	// GetOrCreate looks the pair up in both orientations and creates the
	// conversation with an empty last_message when absent.
	GetOrCreate(ctx context.Context, requesterID, recipientID string) (Conversation, error)

	// Get returns a conversation by id.
	Get(ctx context.Context, conversationID string) (Conversation, error)

	// ListForViewer returns the viewer's conversations ordered by
	// updated_at descending.
	ListForViewer(ctx context.Context, viewerID string) ([]Conversation, error)
}

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Now            time.Time
}

// MessageStore persists messages belonging to conversations.
//
// Requirements:
//   - Append validates participancy and the spam guard atomically with the
//     insert, assigns a server timestamp strictly increasing within the
//     conversation, and bumps the owning conversation's updated_at and
//     last_message.
//   - Delete re-evaluates the reply lock at commit time, not from an earlier
//     read, and removes the row outright (no soft-delete flag).
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (Message, error)

	// Edit replaces content in place, sender-only. CreatedAt and ordering
	// are untouched.
	Edit(ctx context.Context, messageID, requesterID, newContent string) (Message, error)

	// Delete removes a message, sender-only and reply-lock permitting.
	// The removed message is returned so callers can notify its conversation.
	Delete(ctx context.Context, messageID, requesterID string) (Message, error)

	// List returns the surviving messages of a conversation ascending by
	// created_at.
	List(ctx context.Context, conversationID string) ([]Message, error)

	// CountUnread returns the number of messages in the conversation with
	// sender != viewerID and read = false.
	CountUnread(ctx context.Context, conversationID, viewerID string) (int, error)
}
