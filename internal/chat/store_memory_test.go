package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func mustConv(t *testing.T, s *MemoryStore, a, b string) Conversation {
	t.Helper()
	c, err := s.GetOrCreate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("GetOrCreate(%q,%q): %v", a, b, err)
	}
	return c
}

func mustAppend(t *testing.T, s *MemoryStore, convID, sender, content string) Message {
	t.Helper()
	m, err := s.Append(context.Background(), AppendInput{
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("Append(%q,%q): %v", sender, content, err)
	}
	return m
}

func TestMemoryStore_GetOrCreate_IdempotentBothOrientations(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()

	c1 := mustConv(t, s, "alice", "bob")
	c2 := mustConv(t, s, "alice", "bob")
	c3 := mustConv(t, s, "bob", "alice")

	if c1.ID != c2.ID || c1.ID != c3.ID {
		t.Fatalf("expected one conversation for the pair, got %q %q %q", c1.ID, c2.ID, c3.ID)
	}

	other := mustConv(t, s, "alice", "carol")
	if other.ID == c1.ID {
		t.Fatalf("distinct pair must get a distinct conversation")
	}
}

func TestMemoryStore_GetOrCreate_RejectsSelf(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	_, err := s.GetOrCreate(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
}

func TestMemoryStore_Append_RejectsNonParticipant(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")

	_, err := s.Append(context.Background(), AppendInput{
		ConversationID: c.ID,
		SenderID:       "mallory",
		Content:        "hi",
	})
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestMemoryStore_Append_UnknownConversation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	_, err := s.Append(context.Background(), AppendInput{
		ConversationID: "missing",
		SenderID:       "alice",
		Content:        "hi",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMemoryStore_Append_ConsecutiveLimit(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")

	mustAppend(t, s, c.ID, "alice", "one")
	mustAppend(t, s, c.ID, "alice", "two")

	_, err := s.Append(context.Background(), AppendInput{
		ConversationID: c.ID,
		SenderID:       "alice",
		Content:        "three",
	})
	if !errors.Is(err, ErrConsecutiveMessageLimit) {
		t.Fatalf("expected ErrConsecutiveMessageLimit, got %v", err)
	}

	// Counterpart is never blocked, and a reply reopens the sender's window.
	mustAppend(t, s, c.ID, "bob", "reply")
	mustAppend(t, s, c.ID, "alice", "three")
}

func TestMemoryStore_Append_MonotonicTimestampsAndOrdering(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")

	// Force identical wall clocks; the store must still order strictly.
	now := time.Now().UTC()
	for i, sender := range []string{"alice", "bob", "alice", "bob"} {
		_, err := s.Append(context.Background(), AppendInput{
			ConversationID: c.ID,
			SenderID:       sender,
			Content:        "m",
			Now:            now,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	list, err := s.List(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("len(list)=%d want=4", len(list))
	}
	for i := 1; i < len(list); i++ {
		if !list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("timestamps not strictly increasing at %d: %v !> %v",
				i, list[i].CreatedAt, list[i-1].CreatedAt)
		}
	}
}

func TestMemoryStore_Append_UpdatesConversationPreview(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")

	mustAppend(t, s, c.ID, "alice", "first")
	m := mustAppend(t, s, c.ID, "bob", "latest")

	got, err := s.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastMessage != "latest" {
		t.Fatalf("LastMessage=%q want=%q", got.LastMessage, "latest")
	}
	if !got.UpdatedAt.Equal(m.CreatedAt) {
		t.Fatalf("UpdatedAt=%v want=%v", got.UpdatedAt, m.CreatedAt)
	}
}

func TestMemoryStore_Edit_OwnerOnly(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")
	m := mustAppend(t, s, c.ID, "alice", "original")

	if _, err := s.Edit(context.Background(), m.ID, "bob", "hacked"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	edited, err := s.Edit(context.Background(), m.ID, "alice", "fixed")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Content != "fixed" {
		t.Fatalf("Content=%q want=%q", edited.Content, "fixed")
	}
	if !edited.CreatedAt.Equal(m.CreatedAt) || edited.ID != m.ID {
		t.Fatalf("edit must not change identity or timestamp")
	}

	if _, err := s.Edit(context.Background(), "missing", "alice", "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMemoryStore_Delete_ReplyLock(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")
	m1 := mustAppend(t, s, c.ID, "alice", "offer")
	mustAppend(t, s, c.ID, "bob", "counter")
	m3 := mustAppend(t, s, c.ID, "alice", "deal")

	// m1 has a later counterpart message: locked forever.
	if _, err := s.Delete(context.Background(), m1.ID, "alice"); !errors.Is(err, ErrAlreadyReplied) {
		t.Fatalf("expected ErrAlreadyReplied, got %v", err)
	}

	// m3 is the newest message: still deletable by its sender.
	removed, err := s.Delete(context.Background(), m3.ID, "alice")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.ID != m3.ID || removed.ConversationID != c.ID {
		t.Fatalf("Delete returned wrong message: %+v", removed)
	}

	list, err := s.List(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list)=%d want=2", len(list))
	}
}

func TestMemoryStore_Delete_OwnerOnly(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")
	m := mustAppend(t, s, c.ID, "alice", "mine")

	if _, err := s.Delete(context.Background(), m.ID, "bob"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := s.Delete(context.Background(), "missing", "alice"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMemoryStore_CountUnread(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")

	mustAppend(t, s, c.ID, "alice", "one")
	mustAppend(t, s, c.ID, "bob", "two")
	mustAppend(t, s, c.ID, "alice", "three")

	// Messages are stored unread; the count only includes the counterpart's.
	aliceUnread, err := s.CountUnread(context.Background(), c.ID, "alice")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if aliceUnread != 1 {
		t.Fatalf("alice unread=%d want=1", aliceUnread)
	}

	bobUnread, err := s.CountUnread(context.Background(), c.ID, "bob")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if bobUnread != 2 {
		t.Fatalf("bob unread=%d want=2", bobUnread)
	}
}

func TestMemoryStore_ListForViewer_MostRecentFirst(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c1 := mustConv(t, s, "alice", "bob")
	c2 := mustConv(t, s, "alice", "carol")

	now := time.Now().UTC()
	if _, err := s.Append(context.Background(), AppendInput{ConversationID: c1.ID, SenderID: "bob", Content: "old", Now: now}); err != nil {
		t.Fatalf("append c1: %v", err)
	}
	if _, err := s.Append(context.Background(), AppendInput{ConversationID: c2.ID, SenderID: "carol", Content: "new", Now: now.Add(time.Second)}); err != nil {
		t.Fatalf("append c2: %v", err)
	}

	convs, err := s.ListForViewer(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListForViewer: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("len(convs)=%d want=2", len(convs))
	}
	if convs[0].ID != c2.ID {
		t.Fatalf("expected most recently active conversation first")
	}

	// Bob only sees the pair he is part of.
	bobConvs, err := s.ListForViewer(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListForViewer: %v", err)
	}
	if len(bobConvs) != 1 || bobConvs[0].ID != c1.ID {
		t.Fatalf("bob sees %d conversations, want his single pair", len(bobConvs))
	}
}

func TestMemoryStore_Append_ConcurrentBurstRespectsLimit(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	c := mustConv(t, s, "alice", "bob")

	// All appends race from the same sender into an empty conversation. The
	// rule check is atomic with the insert, so exactly two may land no matter
	// how the goroutines interleave.
	const workers = 16
	errs := make([]error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Append(context.Background(), AppendInput{
				ConversationID: c.ID,
				SenderID:       "alice",
				Content:        fmt.Sprintf("burst %d", i),
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrConsecutiveMessageLimit):
		default:
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	if accepted != 2 {
		t.Fatalf("accepted=%d want=2", accepted)
	}

	msgs, err := s.List(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	run := 0
	for _, m := range msgs {
		if m.SenderID != "alice" {
			t.Fatalf("unexpected sender %q", m.SenderID)
		}
		run++
	}
	if run != 2 {
		t.Fatalf("persisted %d consecutive messages from one sender, want 2", run)
	}
}

func TestMemoryStore_GetOrCreate_ConcurrentSinglePair(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()

	// Both orientations race; the unordered pair must still map to exactly
	// one conversation.
	const workers = 8
	ids := make([]string, 2*workers)
	errs := make([]error, 2*workers)

	var wg sync.WaitGroup
	wg.Add(2 * workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := s.GetOrCreate(context.Background(), "alice", "bob")
			ids[i], errs[i] = c.ID, err
		}(i)
		go func(i int) {
			defer wg.Done()
			c, err := s.GetOrCreate(context.Background(), "bob", "alice")
			ids[workers+i], errs[workers+i] = c.ID, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("GetOrCreate %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("conversation ids diverged: %q vs %q", ids[i], ids[0])
		}
	}

	convs, err := s.ListForViewer(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListForViewer: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("len(convs)=%d want=1", len(convs))
	}
}
