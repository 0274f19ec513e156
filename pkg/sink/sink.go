// Package sink consumes translated output. It records every id it sees so
// that output emitted twice, by two nodes that both believed they led or by
// transport redelivery, shows up as a duplicate count.
package sink

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"

    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-fleet/pkg/observability/metrics"
    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

type Options struct {
    Bus    transport.Bus
    Store  Store
    Logger *log.Logger
    // OnMessage, if set, is called for every decoded message in order.
    OnMessage func(m wire.TranslatedMessage, duplicate bool)
}

// Stats summarises what the sink consumed.
type Stats struct {
    Received   uint64 `json:"received"`
    Unique     int    `json:"unique"`
    Duplicates uint64 `json:"duplicates"`
    Malformed  uint64 `json:"malformed"`
}

type Sink struct {
    opts Options

    mu    sync.Mutex
    stats Stats
}

func New(opts Options) (*Sink, error) {
    if opts.Bus == nil { return nil, errors.New("sink: nil Bus") }
    if opts.Store == nil { opts.Store = NewMemoryStore() }
    if opts.Logger == nil { opts.Logger = log.Default() }
    obsmetrics.Register()
    return &Sink{opts: opts}, nil
}

// Stats returns the counters; Unique is read from the store.
func (s *Sink) Stats() Stats {
    s.mu.Lock()
    st := s.stats
    s.mu.Unlock()
    if n, err := s.opts.Store.Len(); err == nil { st.Unique = n }
    return st
}

// Handle processes one payload from translated.messages.
func (s *Sink) Handle(b []byte) error {
    m, err := wire.DecodeTranslated(b)
    if err != nil {
        s.mu.Lock()
        s.stats.Malformed++
        s.mu.Unlock()
        logutil.Warnf(s.opts.Logger, "skipping malformed message on %s: %v", wire.TopicTranslated, err)
        return nil
    }
    dup, err := s.opts.Store.Mark(m.ID)
    if err != nil { return fmt.Errorf("sink: store: %w", err) }
    s.mu.Lock()
    s.stats.Received++
    if dup { s.stats.Duplicates++ }
    s.mu.Unlock()
    if dup {
        obsmetrics.SinkDuplicates.Inc()
        logutil.Warnf(s.opts.Logger, "duplicate output for id %s", m.ID)
    } else {
        logutil.Infof(s.opts.Logger, "consumed %s: %s", m.ID, m.TranslatedPayload)
    }
    if s.opts.OnMessage != nil { s.opts.OnMessage(m, dup) }
    return nil
}

// Run consumes until ctx is done. A closed transport or a store failure
// ends Run with an error.
func (s *Sink) Run(ctx context.Context) error {
    ch, err := s.opts.Bus.Subscribe(ctx, wire.TopicTranslated)
    if err != nil { return fmt.Errorf("sink: subscribe: %w", err) }
    logutil.Infof(s.opts.Logger, "sink subscribed to %s", wire.TopicTranslated)
    for {
        select {
        case <-ctx.Done():
            return nil
        case b, ok := <-ch:
            if !ok {
                if ctx.Err() != nil { return nil }
                return fmt.Errorf("sink: %w", transport.ErrClosed)
            }
            if err := s.Handle(b); err != nil { return err }
        }
    }
}
