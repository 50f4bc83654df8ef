package dispatch

import (
	"sync"

	"github.com/teranos/dialpulse/pulse/queue"
)

// buffered is an eligible record waiting for the placement loop
type buffered struct {
	record queue.Record
	key    PendingKey
}

// Buffer is the local stack between the dequeue and placement loops.
// The newest record is placed first.
type Buffer struct {
	mu    sync.Mutex
	items []buffered
}

// Push adds records on top
func (b *Buffer) Push(items ...buffered) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, items...)
}

// Pop removes the newest record
func (b *Buffer) Pop() (buffered, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.items)
	if n == 0 {
		return buffered{}, false
	}
	it := b.items[n-1]
	b.items[n-1] = buffered{}
	b.items = b.items[:n-1]
	return it, true
}

// Len returns the buffered count
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Drain empties the buffer, oldest first
func (b *Buffer) Drain() []buffered {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}
