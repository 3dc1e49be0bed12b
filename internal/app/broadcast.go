package app

import (
	"sync"

	"live-quiz-service/internal/domain"
)

const subscriberBuffer = 64

// Channel is the publish/subscribe group of one session. Publish never blocks: a subscriber that
// falls a full buffer behind loses its oldest pending event.
type Channel struct {
	mu          sync.Mutex
	closed      bool
	subscribers map[chan domain.Event]struct{}
}

func newChannel() *Channel {
	return &Channel{subscribers: make(map[chan domain.Event]struct{})}
}

// Subscribe registers a receiver. The caller must invoke the returned cancel function to avoid leaks.
func (c *Channel) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans an event out to every subscriber.
func (c *Channel) Publish(e domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subscribers {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e
		}
	}
}

// Size returns the number of attached subscribers.
func (c *Channel) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// Close detaches every subscriber; later subscriptions receive a closed channel.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
}
