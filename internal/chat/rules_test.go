package chat

import (
	"errors"
	"testing"
	"time"
)

func msgAt(sender string, at time.Time) Message {
	return Message{SenderID: sender, CreatedAt: at}
}

func TestCheckSpamGuard(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	cases := []struct {
		name        string
		newestFirst []Message
		sender      string
		wantErr     error
	}{
		{name: "empty conversation", newestFirst: nil, sender: "alice", wantErr: nil},
		{
			name:        "single own message",
			newestFirst: []Message{msgAt("alice", now)},
			sender:      "alice",
			wantErr:     nil,
		},
		{
			name:        "two own messages block a third",
			newestFirst: []Message{msgAt("alice", now), msgAt("alice", now.Add(-time.Second))},
			sender:      "alice",
			wantErr:     ErrConsecutiveMessageLimit,
		},
		{
			name:        "counterpart reply resets the run",
			newestFirst: []Message{msgAt("bob", now), msgAt("alice", now.Add(-time.Second))},
			sender:      "alice",
			wantErr:     nil,
		},
		{
			name:        "rule never blocks the counterpart",
			newestFirst: []Message{msgAt("alice", now), msgAt("alice", now.Add(-time.Second))},
			sender:      "bob",
			wantErr:     nil,
		},
		{
			name:        "only the two newest are consulted",
			newestFirst: []Message{msgAt("bob", now), msgAt("alice", now.Add(-time.Second))},
			sender:      "bob",
			wantErr:     nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckSpamGuard(tc.newestFirst, tc.sender)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("CheckSpamGuard()=%v want=%v", err, tc.wantErr)
			}
		})
	}
}

func TestCheckReplyLock(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	target := msgAt("alice", base)

	cases := []struct {
		name         string
		conversation []Message
		wantErr      error
	}{
		{name: "only message", conversation: []Message{target}, wantErr: nil},
		{
			name:         "later counterpart message blocks",
			conversation: []Message{target, msgAt("bob", base.Add(time.Second))},
			wantErr:      ErrAlreadyReplied,
		},
		{
			name:         "earlier counterpart message does not block",
			conversation: []Message{msgAt("bob", base.Add(-time.Second)), target},
			wantErr:      nil,
		},
		{
			name:         "later own message does not block",
			conversation: []Message{target, msgAt("alice", base.Add(time.Second))},
			wantErr:      nil,
		},
		{
			name: "block survives later own messages too",
			conversation: []Message{
				target,
				msgAt("bob", base.Add(time.Second)),
				msgAt("alice", base.Add(2 * time.Second)),
			},
			wantErr: ErrAlreadyReplied,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckReplyLock(target, tc.conversation)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("CheckReplyLock()=%v want=%v", err, tc.wantErr)
			}
		})
	}
}
