package chat

import (
	"context"
	"log/slog"
	"sync"
)

// Resolver loads the full ordered message list of a conversation.
type Resolver func(ctx context.Context, conversationID string) ([]Message, error)

// Feed is the change-notification mechanism keyed by conversation.
//
// Contract:
//   - Subscribe resolves the current full ordered message list and delivers
//     it once before returning.
//   - Every publish triggers a fresh full resolve-and-deliver, never an
//     incremental diff. Rapid publishes coalesce into a single re-resolve
//     per burst.
//   - The returned unsubscribe func is deterministic: once it returns, the
//     handler is never invoked again, even for publishes already in flight.
type Feed struct {
	log     *slog.Logger
	resolve Resolver

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscription
	nextID uint64
}

type subscription struct {
	conversationID string

	// notify has capacity 1: a publish during an in-flight resolve parks a
	// single pending token, coalescing the burst.
	notify chan struct{}
	stop   chan struct{}

	// deliverMu serializes handler invocations against unsubscribe.
	deliverMu sync.Mutex
	closed    bool
	onChange  func([]Message)
}

// NewFeed constructs a Feed over the given resolver.
func NewFeed(log *slog.Logger, resolve Resolver) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		log:     log,
		resolve: resolve,
		subs:    make(map[string]map[uint64]*subscription),
	}
}

// Subscribe attaches onChange to a conversation and synchronously delivers
// the current full ordered message list once. Subsequent deliveries happen on
// the subscription's own goroutine. Cancelling ctx detaches the listener as
// if unsubscribe had been called.
func (f *Feed) Subscribe(ctx context.Context, conversationID string, onChange func([]Message)) (func(), error) {
	msgs, err := f.resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		conversationID: conversationID,
		notify:         make(chan struct{}, 1),
		stop:           make(chan struct{}),
		onChange:       onChange,
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	byConv := f.subs[conversationID]
	if byConv == nil {
		byConv = make(map[uint64]*subscription)
		f.subs[conversationID] = byConv
	}
	byConv[id] = sub
	f.mu.Unlock()

	// Initial delivery happens after registration so a mutation racing the
	// subscribe is either in this snapshot or triggers a re-resolve.
	sub.deliver(msgs)

	go f.run(ctx, sub, id)

	unsubscribe := func() {
		f.detach(conversationID, id, sub)
	}
	return unsubscribe, nil
}

// Publish notifies every subscriber of the conversation that its message set
// changed. Non-blocking.
func (f *Feed) Publish(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs[conversationID] {
		select {
		case sub.notify <- struct{}{}:
		default:
			// A re-resolve is already pending; the burst coalesces.
		}
	}
}

// SubscriberCount reports active subscriptions for a conversation.
func (f *Feed) SubscriberCount(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[conversationID])
}

func (f *Feed) run(ctx context.Context, sub *subscription, id uint64) {
	for {
		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			f.detach(sub.conversationID, id, sub)
			return
		case <-sub.notify:
			msgs, err := f.resolve(ctx, sub.conversationID)
			if err != nil {
				// Keep the subscription alive; the next publish retries.
				f.log.Warn("feed.resolve.fail", "conversation_id", sub.conversationID, "err", err)
				continue
			}
			sub.deliver(msgs)
		}
	}
}

func (f *Feed) detach(conversationID string, id uint64, sub *subscription) {
	f.mu.Lock()
	if byConv := f.subs[conversationID]; byConv != nil {
		delete(byConv, id)
		if len(byConv) == 0 {
			delete(f.subs, conversationID)
		}
	}
	f.mu.Unlock()

	// Closing stop is idempotent-guarded by closed below; only the first
	// detach reaches it with closed == false.
	sub.deliverMu.Lock()
	alreadyClosed := sub.closed
	sub.closed = true
	sub.deliverMu.Unlock()

	if !alreadyClosed {
		close(sub.stop)
	}
}

// deliver invokes the handler unless the subscription has been detached.
// Holding deliverMu here is what makes unsubscribe deterministic: detach
// blocks until an in-flight delivery finishes, and every later delivery
// observes closed.
func (sub *subscription) deliver(msgs []Message) {
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()

	if sub.closed {
		return
	}
	sub.onChange(msgs)
}
