package chat

// Pure message-mutation rules. Stores evaluate these inside their critical
// sections so the check and the write commit together (see DESIGN.md on the
// check-then-write race).

// maxConsecutive is the cap on consecutive unanswered messages per sender.
const maxConsecutive = 2

// CheckSpamGuard decides whether senderID may append a new message given the
// most recent messages of the conversation, newest first. Only the first two
// entries are consulted. The rule is per-sender: the counterpart is never
// blocked by it, regardless of history.
func CheckSpamGuard(newestFirst []Message, senderID string) error {
	if len(newestFirst) < maxConsecutive {
		return nil
	}
	for _, m := range newestFirst[:maxConsecutive] {
		if m.SenderID != senderID {
			return nil
		}
	}
	return ErrConsecutiveMessageLimit
}

// CheckReplyLock decides whether message m may be deleted given the other
// messages of its conversation. Deletion is permanently blocked once the
// other participant has sent any message with a later timestamp: you can't
// retract what's already been responded to.
func CheckReplyLock(m Message, conversation []Message) error {
	for _, other := range conversation {
		if other.SenderID != m.SenderID && other.CreatedAt.After(m.CreatedAt) {
			return ErrAlreadyReplied
		}
	}
	return nil
}
