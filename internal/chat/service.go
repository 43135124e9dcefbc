package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"ideamart/internal/identity"
	"ideamart/internal/metrics"
)

// Service is the messaging façade composing the stores, the rules, and the
// change feed into the public chat operations. Every call takes an explicit
// session; nothing here reads ambient authentication state.
type Service struct {
	log           *slog.Logger
	conversations ConversationStore
	messages      MessageStore
	profiles      identity.ProfileDirectory
	feed          *Feed
}

// NewService wires a Service. The feed resolves snapshots through the given
// message store.
func NewService(log *slog.Logger, convs ConversationStore, msgs MessageStore, profiles identity.ProfileDirectory) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:           log,
		conversations: convs,
		messages:      msgs,
		profiles:      profiles,
	}
	s.feed = NewFeed(log, msgs.List)
	return s
}

// GetOrCreateConversation returns the conversation id for the pair
// (session user, recipient), creating the conversation lazily on first
// contact intent. Idempotent from either side.
func (s *Service) GetOrCreateConversation(ctx context.Context, sess identity.Session, recipientID string) (string, error) {
	if !sess.Authenticated() {
		return "", ErrNotAuthenticated
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return "", ErrInvalidRecipient
	}
	if recipientID == sess.UserID {
		return "", ErrSelfConversation
	}

	conv, err := s.conversations.GetOrCreate(ctx, sess.UserID, recipientID)
	if err != nil {
		return "", s.classify("get_or_create_conversation", "", err)
	}

	s.log.Info("chat.conversation.ready", "conversation_id", conv.ID, "requester", sess.UserID)
	return conv.ID, nil
}

// SendMessage appends a message to the conversation and notifies subscribers.
func (s *Service) SendMessage(ctx context.Context, sess identity.Session, conversationID, content string) error {
	if !sess.Authenticated() {
		metrics.MessagesRejected.WithLabelValues("not_authenticated").Inc()
		return ErrNotAuthenticated
	}
	trimmed, err := validateContent(content)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}

	_, err = s.messages.Append(ctx, AppendInput{
		ConversationID: conversationID,
		SenderID:       sess.UserID,
		Content:        trimmed,
	})
	if err != nil {
		metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
		// On transient failure the original content rides back with the
		// error so the caller can restore the user's input.
		return s.classify("send_message", content, err)
	}

	metrics.MessagesSent.Inc()
	s.feed.Publish(conversationID)
	return nil
}

// EditMessage replaces a message's content, sender-only, and notifies
// subscribers. Ordering and created_at are untouched.
func (s *Service) EditMessage(ctx context.Context, sess identity.Session, messageID, newContent string) error {
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	trimmed, err := validateContent(newContent)
	if err != nil {
		return err
	}

	msg, err := s.messages.Edit(ctx, messageID, sess.UserID, trimmed)
	if err != nil {
		return s.classify("edit_message", newContent, err)
	}

	s.feed.Publish(msg.ConversationID)
	return nil
}

// DeleteMessage removes a message, sender-only and reply-lock permitting,
// and notifies subscribers. The reply lock is evaluated by the store at the
// moment of the call, not from an earlier read.
func (s *Service) DeleteMessage(ctx context.Context, sess identity.Session, messageID string) error {
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}

	removed, err := s.messages.Delete(ctx, messageID, sess.UserID)
	if err != nil {
		return s.classify("delete_message", "", err)
	}

	s.feed.Publish(removed.ConversationID)
	return nil
}

// ListConversations returns the viewer's conversations ordered by most
// recent activity, annotated with the counterpart's display name and the
// computed unread count.
func (s *Service) ListConversations(ctx context.Context, sess identity.Session) ([]ConversationSummary, error) {
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	convs, err := s.conversations.ListForViewer(ctx, sess.UserID)
	if err != nil {
		return nil, s.classify("list_conversations", "", err)
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		counterpart := c.OtherParticipant(sess.UserID)

		name, err := s.profiles.DisplayName(ctx, counterpart)
		if err != nil {
			// The directory is an external collaborator; a missing or
			// unreachable profile must not hide the conversation.
			s.log.Warn("chat.profile.lookup_fail", "user_id", counterpart, "err", err)
			name = counterpart
		}

		unread, err := s.messages.CountUnread(ctx, c.ID, sess.UserID)
		if err != nil {
			return nil, s.classify("list_conversations", "", err)
		}

		out = append(out, ConversationSummary{
			Conversation:    c,
			CounterpartID:   counterpart,
			CounterpartName: name,
			UnreadCount:     unread,
		})
	}
	return out, nil
}

// Messages returns the conversation's full ordered message list for a
// participant. One-shot counterpart of SubscribeMessages for clients that
// don't hold a live connection.
func (s *Service) Messages(ctx context.Context, sess identity.Session, conversationID string) ([]Message, error) {
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, s.classify("messages", "", err)
	}
	if !conv.HasParticipant(sess.UserID) {
		return nil, ErrNotParticipant
	}

	msgs, err := s.messages.List(ctx, conversationID)
	if err != nil {
		return nil, s.classify("messages", "", err)
	}
	return msgs, nil
}

// SubscribeMessages attaches onChange to the conversation's change feed.
// The current full ordered message list is delivered once before this
// returns; afterwards every mutation triggers a coalesced full re-resolve.
// The returned func detaches deterministically.
func (s *Service) SubscribeMessages(ctx context.Context, conversationID string, onChange func([]Message)) (func(), error) {
	unsubscribe, err := s.feed.Subscribe(ctx, conversationID, onChange)
	if err != nil {
		return nil, s.classify("subscribe_messages", "", err)
	}

	metrics.ActiveSubscriptions.Inc()
	var once sync.Once
	detach := func() {
		once.Do(func() {
			unsubscribe()
			metrics.ActiveSubscriptions.Dec()
		})
	}
	return detach, nil
}

// classify separates business/validation sentinels (returned as-is, never
// retried) from transient store failures (wrapped with the original content
// so the caller can resubmit without retyping).
func (s *Service) classify(op, content string, err error) error {
	switch {
	case errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrSelfConversation),
		errors.Is(err, ErrInvalidRecipient),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrConsecutiveMessageLimit),
		errors.Is(err, ErrAlreadyReplied),
		errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrMessageNotFound):
		return err
	default:
		s.log.Error("chat.store.fail", "op", op, "err", err)
		return &TransientError{Op: op, Content: content, Err: err}
	}
}

// validateContent trims and bounds message content.
func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if len([]rune(trimmed)) > MaxContentChars {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrContentTooLong):
		return "content_too_long"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrConsecutiveMessageLimit):
		return "consecutive_message_limit"
	case errors.Is(err, ErrConversationNotFound):
		return "conversation_not_found"
	default:
		return "store_error"
	}
}
