// Package inmem is a process-local Bus. It backs tests and single-process
// demos, and serves as the local fan-out stage of the networked transports.
package inmem

import (
    "context"
    "sync"
    "sync/atomic"

    obsmetrics "github.com/amirimatin/go-fleet/pkg/observability/metrics"
    "github.com/amirimatin/go-fleet/pkg/transport"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 1024

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
    return func(b *Bus) { if n > 0 { b.bufSize = n } }
}

// WithDropFunc installs a fault injector; returning true discards the
// delivery of that message to every subscriber.
func WithDropFunc(fn func(topic string, data []byte) bool) Option {
    return func(b *Bus) { b.drop = fn }
}

type sub struct {
    ch   chan []byte
    done bool
}

// Bus fans each published message out to all subscribers of its topic. A
// subscriber whose channel is full misses the message (counted in Dropped).
type Bus struct {
    mu      sync.RWMutex
    subs    map[string]map[*sub]struct{}
    closed  bool
    bufSize int
    drop    func(topic string, data []byte) bool
    dropped atomic.Uint64
}

func New(opts ...Option) *Bus {
    b := &Bus{subs: make(map[string]map[*sub]struct{}), bufSize: DefaultBufferSize}
    for _, o := range opts { o(b) }
    return b
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
    if err := ctx.Err(); err != nil { return err }
    b.mu.RLock()
    defer b.mu.RUnlock()
    if b.closed { return transport.ErrClosed }
    if b.drop != nil && b.drop(topic, data) { return nil }
    for s := range b.subs[topic] {
        msg := append([]byte(nil), data...)
        select {
        case s.ch <- msg:
        default:
            b.dropped.Add(1)
            obsmetrics.BusDropped.WithLabelValues(topic).Inc()
        }
    }
    return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        return nil, transport.ErrClosed
    }
    s := &sub{ch: make(chan []byte, b.bufSize)}
    if b.subs[topic] == nil { b.subs[topic] = make(map[*sub]struct{}) }
    b.subs[topic][s] = struct{}{}
    b.mu.Unlock()

    go func() {
        <-ctx.Done()
        b.remove(topic, s)
    }()
    return s.ch, nil
}

func (b *Bus) remove(topic string, s *sub) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if set := b.subs[topic]; set != nil { delete(set, s) }
    if !s.done {
        s.done = true
        close(s.ch)
    }
}

// Close ends every subscription; later calls return transport.ErrClosed.
func (b *Bus) Close() error {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.closed { return nil }
    b.closed = true
    for _, set := range b.subs {
        for s := range set {
            if !s.done {
                s.done = true
                close(s.ch)
            }
        }
    }
    b.subs = make(map[string]map[*sub]struct{})
    return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return len(b.subs[topic])
}

// Dropped counts deliveries lost to full subscriber channels.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

var _ transport.Bus = (*Bus)(nil)
