// Package chat contains the ideamart peer-to-peer messaging core:
// conversation lifecycle, message mutation rules, anti-spam limits, and the
// change feed that propagates mutations to connected viewers.
package chat

import "time"

// MaxContentChars is the maximum message content length in runes.
const MaxContentChars = 4000

// Conversation is a channel between exactly two participants, unique per
// unordered participant pair.
type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string

	// LastMessage is a denormalized cache of the most recent content,
	// kept for conversation-list rendering. It is written on every append
	// and deliberately left untouched by edits and deletes.
	LastMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.ParticipantA || userID == c.ParticipantB)
}

// OtherParticipant returns the counterpart of userID, or "" when userID is
// not a participant.
func (c Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// Message is a single message inside a conversation.
//
// ConversationID and SenderID are immutable after creation. Content is the
// only mutable field (sender-only edits). CreatedAt is server-assigned and
// strictly increasing within a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time

	// Read defaults to false. No code path transitions it to true; the
	// unread formula counts it faithfully regardless.
	Read bool
}

// ConversationSummary is a conversation annotated for list rendering:
// the counterpart's identity and the viewer's unread count.
type ConversationSummary struct {
	Conversation

	CounterpartID   string
	CounterpartName string
	UnreadCount     int
}
