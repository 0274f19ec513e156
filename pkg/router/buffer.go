package router

import "github.com/amirimatin/go-fleet/pkg/wire"

// DefaultCapacity bounds how many translated messages a follower keeps.
const DefaultCapacity = 100

// Buffer is a fixed-capacity FIFO ring of translated messages. When full, a
// push evicts the oldest entry.
type Buffer struct {
    items   []wire.TranslatedMessage
    head    int
    size    int
    dropped uint64
}

// NewBuffer allocates a ring; capacity <= 0 uses DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
    if capacity <= 0 { capacity = DefaultCapacity }
    return &Buffer{items: make([]wire.TranslatedMessage, capacity)}
}

// Push appends m and reports whether an older entry was evicted.
func (b *Buffer) Push(m wire.TranslatedMessage) (evicted bool) {
    c := len(b.items)
    if b.size == c {
        b.items[b.head] = m
        b.head = (b.head + 1) % c
        b.dropped++
        return true
    }
    b.items[(b.head+b.size)%c] = m
    b.size++
    return false
}

// Snapshot copies the buffered messages in arrival order.
func (b *Buffer) Snapshot() []wire.TranslatedMessage {
    out := make([]wire.TranslatedMessage, 0, b.size)
    for i := 0; i < b.size; i++ {
        out = append(out, b.items[(b.head+i)%len(b.items)])
    }
    return out
}

// Drain returns every buffered message in arrival order and empties the ring.
func (b *Buffer) Drain() []wire.TranslatedMessage {
    out := b.Snapshot()
    clear(b.items)
    b.head, b.size = 0, 0
    return out
}

func (b *Buffer) Len() int      { return b.size }
func (b *Buffer) Cap() int      { return len(b.items) }
// Dropped counts evictions since creation.
func (b *Buffer) Dropped() uint64 { return b.dropped }
