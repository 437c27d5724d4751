package notify

import (
	"context"
	"sync"
)

// Broker keeps per-user subscriptions for the streaming endpoints. Delivery
// never blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch   chan BalanceEvent
	once sync.Once
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[string]map[*subscription]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events for userID and a function that
// cancels the subscription and closes the channel.
func (b *Broker) Subscribe(userID string) (<-chan BalanceEvent, func()) {
	sub := &subscription{ch: make(chan BalanceEvent, b.buffer)}

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[userID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Close ends every subscription. Subscribers drain what is buffered and then
// see a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
}

func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

func (b *Broker) Notify(_ context.Context, ev BalanceEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[ev.UserID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}
