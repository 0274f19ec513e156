// Package sniffer prints every message on the fleet's topics.
package sniffer

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "sync"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

// Format renders one line: "[topic] <compact JSON>" when the payload is
// JSON, else the payload as a quoted string.
func Format(topic string, payload []byte) string {
    var buf bytes.Buffer
    if json.Valid(payload) && json.Compact(&buf, payload) == nil {
        return fmt.Sprintf("[%s] %s", topic, buf.String())
    }
    return fmt.Sprintf("[%s] %q", topic, payload)
}

// Sniffer writes each observed message to Out.
type Sniffer struct {
    bus    transport.Bus
    topics []string
    mu     sync.Mutex
    out    io.Writer
}

// New listens on topics, or on every fleet topic when none are given.
func New(bus transport.Bus, out io.Writer, topics ...string) (*Sniffer, error) {
    if bus == nil { return nil, errors.New("sniffer: nil Bus") }
    if out == nil { return nil, errors.New("sniffer: nil writer") }
    if len(topics) == 0 { topics = wire.Topics }
    return &Sniffer{bus: bus, topics: topics, out: out}, nil
}

func (s *Sniffer) Run(ctx context.Context) error {
    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    g, gctx := errgroup.WithContext(ctx)
    for _, topic := range s.topics {
        ch, err := s.bus.Subscribe(gctx, topic)
        if err != nil { return fmt.Errorf("sniffer: subscribe %s: %w", topic, err) }
        g.Go(func() error {
            for {
                select {
                case <-gctx.Done():
                    return nil
                case b, ok := <-ch:
                    if !ok {
                        if gctx.Err() != nil { return nil }
                        return fmt.Errorf("sniffer: %s: %w", topic, transport.ErrClosed)
                    }
                    s.mu.Lock()
                    fmt.Fprintln(s.out, Format(topic, b))
                    s.mu.Unlock()
                }
            }
        })
    }
    return g.Wait()
}
