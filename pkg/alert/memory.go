package alert

import (
	"context"
	"sync"
)

// MemoryHub is an in-process Publisher that fans messages out to
// subscribers. Sends are non-blocking: when a subscriber's buffer is full
// the message is dropped for that subscriber, never delaying the publisher.
// All methods are safe for concurrent use.
type MemoryHub struct {
	subscribers map[*hubSubscriber]struct{}
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
	cleanupWg   sync.WaitGroup
}

type hubSubscriber struct {
	ch     chan Message
	closed bool
	mu     sync.Mutex
}

func (s *hubSubscriber) send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *hubSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// NewMemoryHub creates an in-process hub. bufferSize sets each subscriber's
// channel buffer; a minimum of 1 is enforced so sends stay non-blocking.
func NewMemoryHub(bufferSize int) *MemoryHub {
	return &MemoryHub{
		subscribers: make(map[*hubSubscriber]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe returns a channel receiving all future messages. The
// subscription is cleaned up when ctx is cancelled; the returned channel is
// closed at that point.
func (h *MemoryHub) Subscribe(ctx context.Context) <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &hubSubscriber{ch: make(chan Message, h.bufferSize)}
	if h.closed {
		sub.close()
		return sub.ch
	}
	h.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		h.cleanupWg.Add(1)
		go func() {
			defer h.cleanupWg.Done()
			<-ctx.Done()
			h.unsubscribe(sub)
		}()
	}

	return sub.ch
}

// Publish delivers msg to all active subscribers. It never blocks and never
// returns an error: slow subscribers simply miss the message.
func (h *MemoryHub) Publish(ctx context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}
	for sub := range h.subscribers {
		sub.send(msg)
	}
	return nil
}

// Close shuts down the hub and closes all subscriber channels. Safe to call
// multiple times.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for sub := range h.subscribers {
		sub.close()
	}
	clear(h.subscribers)
	h.mu.Unlock()

	h.cleanupWg.Wait()
	return nil
}

func (h *MemoryHub) unsubscribe(sub *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		sub.close()
	}
}
