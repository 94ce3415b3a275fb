package gateway

import (
	"slices"
	"sync"
)

type subscriber struct {
	id int
	fn func()
}

// Notifier broadcasts the session-expired event to its subscribers.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs []subscriber
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn to be called on every session-expired event. The
// returned function removes the subscription and is safe to call twice.
func (n *Notifier) Subscribe(fn func()) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.subs = slices.DeleteFunc(n.subs, func(s subscriber) bool { return s.id == id })
	}
}

// NotifyExpired calls every subscriber in subscription order. Subscribers run
// synchronously on the caller's goroutine and must not block.
func (n *Notifier) NotifyExpired() {
	n.mu.Lock()
	subs := slices.Clone(n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		s.fn()
	}
}
