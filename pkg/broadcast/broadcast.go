package broadcast

import (
	"sync"

	"github.com/avelaz/genbridge/pkg/models"
)

const subscriberBuffer = 16

// Broadcaster fans task updates out to any number of subscribers.
// Publish never blocks: a subscriber that has fallen subscriberBuffer
// messages behind silently loses the oldest update rather than stalling
// the monitor goroutine that produced it.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan models.TaskUpdate]struct{}
	closed bool
}

func New() *Broadcaster {
	return &Broadcaster{
		subs: make(map[chan models.TaskUpdate]struct{}),
	}
}

// Subscribe registers a new observer channel. The caller must drain it
// and call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan models.TaskUpdate {
	ch := make(chan models.TaskUpdate, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes an observer and closes its channel
func (b *Broadcaster) Unsubscribe(ch chan models.TaskUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Publish delivers update to all current subscribers without blocking
func (b *Broadcaster) Publish(update models.TaskUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- update:
		default:
			// Slow consumer: drop the oldest buffered update to make
			// room, then deliver the fresh one so the subscriber ends
			// on current state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of observers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes all subscriber channels and rejects future subscriptions
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
