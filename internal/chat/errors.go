package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when a call carries no authenticated session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrEmptyContent is returned when message content is empty after trimming.
	ErrEmptyContent = errors.New("empty content")

	// ErrContentTooLong is returned when message content exceeds MaxContentChars runes.
	ErrContentTooLong = errors.New("content too long")

	// ErrSelfConversation is returned when a user tries to open a conversation
	// with themselves.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")

	// ErrInvalidRecipient is returned when the recipient id is missing.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrNotParticipant is returned when the sender is not one of the
	// conversation's two participants.
	ErrNotParticipant = errors.New("not a conversation participant")

	// ErrNotOwner is returned when an edit or delete is attempted by someone
	// other than the message sender. It is deliberately generic: callers learn
	// nothing about which record or rule denied the request.
	ErrNotOwner = errors.New("not allowed")

	// ErrConsecutiveMessageLimit is returned when the sender already authored
	// the two most recent messages of the conversation.
	ErrConsecutiveMessageLimit = errors.New("consecutive message limit reached")

	// ErrAlreadyReplied is returned when a delete is blocked because the other
	// participant has sent a later message.
	ErrAlreadyReplied = errors.New("message already replied to")

	// ErrConversationNotFound is returned when a conversation id resolves to nothing.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message id resolves to nothing.
	ErrMessageNotFound = errors.New("message not found")
)

// TransientError wraps a store or network failure. Content carries the
// original unsent input back to the caller unchanged so it can be resubmitted
// without retyping. Retrying is the caller's responsibility; business-rule and
// validation errors are never wrapped here.
type TransientError struct {
	Op      string
	Content string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrorCode maps a chat error to its stable machine-readable code, shared by
// the HTTP and websocket surfaces.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrContentTooLong):
		return "content_too_long"
	case errors.Is(err, ErrSelfConversation):
		return "self_conversation"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrNotOwner):
		return "forbidden"
	case errors.Is(err, ErrConsecutiveMessageLimit):
		return "consecutive_message_limit"
	case errors.Is(err, ErrAlreadyReplied):
		return "already_replied"
	case errors.Is(err, ErrConversationNotFound):
		return "conversation_not_found"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case IsTransient(err):
		return "transient"
	default:
		return "internal"
	}
}
