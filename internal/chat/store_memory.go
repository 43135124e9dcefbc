package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback used when no database is configured.
// It implements both ConversationStore and MessageStore behind a single
// mutex, which makes every rule check atomic with its write.
type MemoryStore struct {
	mu        sync.Mutex
	convs     map[string]*Conversation // by conversation id
	pairIndex map[string]string        // canonical pair key -> conversation id
	msgs      map[string][]Message     // by conversation id, ascending created_at
	msgIndex  map[string]string        // message id -> conversation id
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:     make(map[string]*Conversation),
		pairIndex: make(map[string]string),
		msgs:      make(map[string][]Message),
		msgIndex:  make(map[string]string),
	}
}

// pairKey canonicalizes an unordered participant pair.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// GetOrCreate returns the conversation for the unordered pair, creating it
// with an empty last_message when absent.
func (s *MemoryStore) GetOrCreate(ctx context.Context, requesterID, recipientID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	requesterID = strings.TrimSpace(requesterID)
	recipientID = strings.TrimSpace(recipientID)
	if requesterID == "" || recipientID == "" {
		return Conversation{}, fmt.Errorf("chat: empty participant id")
	}
	if requesterID == recipientID {
		return Conversation{}, ErrSelfConversation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(requesterID, recipientID)
	if id, ok := s.pairIndex[key]; ok {
		return *s.convs[id], nil
	}

	now := time.Now().UTC()
	c := &Conversation{
		ID:           NewConversationID(),
		ParticipantA: requesterID,
		ParticipantB: recipientID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.convs[c.ID] = c
	s.pairIndex[key] = c.ID
	return *c, nil
}

// Get returns a conversation by id.
func (s *MemoryStore) Get(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *c, nil
}

// ListForViewer returns the viewer's conversations ordered by updated_at descending.
func (s *MemoryStore) ListForViewer(ctx context.Context, viewerID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range s.convs {
		if c.HasParticipant(viewerID) {
			out = append(out, *c)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Append inserts a message. Participancy, the spam guard, timestamp
// allocation, and the conversation bump all commit under one lock.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[in.ConversationID]
	if !ok {
		return Message{}, ErrConversationNotFound
	}
	if !conv.HasParticipant(in.SenderID) {
		return Message{}, ErrNotParticipant
	}

	existing := s.msgs[in.ConversationID]
	if err := CheckSpamGuard(newestFirst(existing), in.SenderID); err != nil {
		return Message{}, err
	}

	// Server-assigned timestamps are strictly increasing per conversation.
	if n := len(existing); n > 0 && !now.After(existing[n-1].CreatedAt) {
		now = existing[n-1].CreatedAt.Add(time.Microsecond)
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      now,
		Read:           false,
	}
	s.msgs[in.ConversationID] = append(existing, msg)
	s.msgIndex[msg.ID] = in.ConversationID

	conv.LastMessage = in.Content
	conv.UpdatedAt = now

	return msg, nil
}

// Edit replaces a message's content in place, sender-only.
func (s *MemoryStore) Edit(ctx context.Context, messageID, requesterID, newContent string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.msgIndex[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	list := s.msgs[convID]
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		if list[i].SenderID != requesterID {
			return Message{}, ErrNotOwner
		}
		list[i].Content = newContent
		return list[i], nil
	}
	return Message{}, ErrMessageNotFound
}

// Delete removes a message, sender-only and reply-lock permitting. The lock
// is re-evaluated here, under the mutex, not from an earlier read.
func (s *MemoryStore) Delete(ctx context.Context, messageID, requesterID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.msgIndex[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	list := s.msgs[convID]
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		if list[i].SenderID != requesterID {
			return Message{}, ErrNotOwner
		}
		if err := CheckReplyLock(list[i], list); err != nil {
			return Message{}, err
		}
		removed := list[i]
		s.msgs[convID] = append(list[:i], list[i+1:]...)
		delete(s.msgIndex, messageID)
		return removed, nil
	}
	return Message{}, ErrMessageNotFound
}

// List returns the surviving messages ascending by created_at.
func (s *MemoryStore) List(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[conversationID]
	out := make([]Message, len(list))
	copy(out, list)
	return out, nil
}

// CountUnread applies the unread formula for viewerID.
func (s *MemoryStore) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.msgs[conversationID] {
		if m.SenderID != viewerID && !m.Read {
			n++
		}
	}
	return n, nil
}

// newestFirst returns up to the two most recent messages, newest first,
// from an ascending slice.
func newestFirst(ascending []Message) []Message {
	n := len(ascending)
	switch {
	case n == 0:
		return nil
	case n == 1:
		return []Message{ascending[0]}
	default:
		return []Message{ascending[n-1], ascending[n-2]}
	}
}
