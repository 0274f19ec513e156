// Package router turns raw input into translated output. A leader emits
// each translated message immediately; a follower keeps it in a bounded
// buffer that is replayed, in arrival order, when the node is promoted.
package router

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-fleet/pkg/observability/tracing"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

// Translator maps a raw payload to its translated form. It must be
// deterministic and free of side effects; buffered work is translated once
// and may be replayed by a different node translating the same input.
type Translator func(payload string) string

// DefaultTranslator tags the payload with a fixed prefix.
func DefaultTranslator(payload string) string { return "Translated: " + payload }

// Emitter publishes one translated message on the output topic.
type Emitter func(ctx context.Context, m wire.TranslatedMessage) error

// Router is owned by a single goroutine; it performs no locking.
type Router struct {
    translate Translator
    emit      Emitter
    isLeader  func() bool
    buf       *Buffer
}

// Options configure a Router.
type Options struct {
    Translator Translator
    Emitter    Emitter
    IsLeader   func() bool
    Capacity   int
}

func New(opts Options) (*Router, error) {
    if opts.Emitter == nil { return nil, fmt.Errorf("router: nil Emitter") }
    if opts.IsLeader == nil { return nil, fmt.Errorf("router: nil IsLeader") }
    if opts.Translator == nil { opts.Translator = DefaultTranslator }
    return &Router{translate: opts.Translator, emit: opts.Emitter, isLeader: opts.IsLeader, buf: NewBuffer(opts.Capacity)}, nil
}

// Result describes what OnRaw did with a message.
type Result struct {
    Emitted bool
    Evicted bool
}

// OnRaw translates m and emits it when leader, otherwise buffers it.
func (r *Router) OnRaw(ctx context.Context, m wire.RawMessage) (Result, error) {
    ctx, end := tracing.StartSpan(ctx, "router.raw")
    defer end()
    out := wire.TranslatedMessage{ID: m.ID, TranslatedPayload: r.translate(m.Payload)}
    if r.isLeader() {
        if err := r.emit(ctx, out); err != nil { return Result{}, err }
        return Result{Emitted: true}, nil
    }
    return Result{Evicted: r.buf.Push(out)}, nil
}

// OnPromotion emits everything buffered while following, oldest first, and
// leaves the buffer empty. It returns the number of messages emitted.
func (r *Router) OnPromotion(ctx context.Context) (int, error) {
    ctx, end := tracing.StartSpan(ctx, "router.flush")
    defer end()
    pending := r.buf.Drain()
    for i, m := range pending {
        if err := r.emit(ctx, m); err != nil {
            return i, fmt.Errorf("router: flush stopped after %d of %d: %w", i, len(pending), err)
        }
    }
    return len(pending), nil
}

// Buffered returns the current buffer depth.
func (r *Router) Buffered() int { return r.buf.Len() }

// Dropped returns how many buffered messages were evicted by overflow.
func (r *Router) Dropped() uint64 { return r.buf.Dropped() }

// Pending returns a copy of the buffered messages without draining them.
func (r *Router) Pending() []wire.TranslatedMessage {
    return r.buf.Snapshot()
}
