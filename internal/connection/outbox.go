package connection

import (
	"sync"
)

// Outbox is a thread-safe ring buffer with a fixed capacity. When full it
// discards according to its OverflowPolicy instead of growing.
//
// Readers use Peek and Commit so an item leaves the outbox only after it was
// delivered; a failed delivery keeps it at the head.
type Outbox[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	policy   OverflowPolicy
	popped   uint64 // items ever removed from the head

	// Stats
	totalReceived int64
	totalSent     int64
	totalDropped  int64
}

// NewOutbox creates an outbox holding at most capacity items.
func NewOutbox[T any](capacity int, policy OverflowPolicy) *Outbox[T] {
	if capacity < 1 {
		capacity = 1
	}
	if policy != DropOldest {
		policy = DropNewest
	}
	return &Outbox[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Push adds an item. It returns false if the item itself was discarded
// (DropNewest on a full outbox). Under DropOldest the oldest queued item
// makes room and Push returns true.
func (b *Outbox[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalReceived++

	if b.count == b.capacity {
		if b.policy == DropNewest {
			b.totalDropped++
			return false
		}
		b.popLocked()
		b.totalDropped++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	return true
}

// Peek returns the oldest item without removing it, plus a ticket for
// Commit.
func (b *Outbox[T]) Peek() (item T, ticket uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return item, 0, false
	}
	return b.buf[b.head], b.popped, true
}

// Commit removes the item Peek returned with ticket. It is a no-op when that
// item has already left the outbox, e.g. evicted under DropOldest.
func (b *Outbox[T]) Commit(ticket uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || b.popped != ticket {
		return
	}
	b.popLocked()
	b.totalSent++
}

// popLocked removes the oldest item. Must be called with lock held and
// count > 0.
func (b *Outbox[T]) popLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.popped++
	return item
}

// Len returns the current number of items.
func (b *Outbox[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns outbox statistics.
func (b *Outbox[T]) Stats() OutboxStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return OutboxStats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		TotalDropped:  b.totalDropped,
	}
}

// OutboxStats contains outbox statistics.
type OutboxStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
}
