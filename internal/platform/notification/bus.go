package notification

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned when publishing to a closed Bus.
var ErrBusClosed = errors.New("notification bus closed")

// Bus is an in-process Publisher backed by a buffered channel. It stands in
// for the message broker when none is configured.
type Bus struct {
	mu     sync.RWMutex
	ch     chan Notification
	closed bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{ch: make(chan Notification, buffer)}
}

// Publish blocks while the buffer is full until ctx is done.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages is drained by the Dispatcher.
func (b *Bus) Messages() <-chan Notification { return b.ch }

// Close stops accepting messages; buffered ones remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
