// Package producer publishes raw input for the fleet to translate.
package producer

import (
    "context"
    "errors"
    "fmt"
    "log"

    "github.com/google/uuid"
    "golang.org/x/time/rate"

    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

type Options struct {
    Bus    transport.Bus
    Logger *log.Logger
    // Rate is messages per second for Run; zero means unlimited.
    Rate  float64
    Burst int
}

type Producer struct {
    bus     transport.Bus
    log     *log.Logger
    limiter *rate.Limiter
}

func New(opts Options) (*Producer, error) {
    if opts.Bus == nil { return nil, errors.New("producer: nil Bus") }
    if opts.Rate < 0 { return nil, errors.New("producer: negative Rate") }
    if opts.Logger == nil { opts.Logger = log.Default() }
    limit := rate.Inf
    if opts.Rate > 0 { limit = rate.Limit(opts.Rate) }
    if opts.Burst <= 0 { opts.Burst = 1 }
    return &Producer{bus: opts.Bus, log: opts.Logger, limiter: rate.NewLimiter(limit, opts.Burst)}, nil
}

// Publish sends payload under a fresh random id and returns the id.
func (p *Producer) Publish(ctx context.Context, payload string) (string, error) {
    m := wire.RawMessage{ID: uuid.NewString(), Payload: payload}
    return m.ID, p.Send(ctx, m)
}

// Send publishes m with its caller-supplied id.
func (p *Producer) Send(ctx context.Context, m wire.RawMessage) error {
    if m.ID == "" { return fmt.Errorf("producer: empty id: %w", wire.ErrMalformed) }
    b, err := wire.Encode(m)
    if err != nil { return err }
    if err := p.bus.Publish(ctx, wire.TopicRaw, b); err != nil { return fmt.Errorf("producer: publish: %w", err) }
    logutil.Debugf(p.log, "published %s", b)
    return nil
}

// Run publishes count messages, cycling through payloads, paced by the
// configured rate. It returns the ids in publish order.
func (p *Producer) Run(ctx context.Context, payloads []string, count int) ([]string, error) {
    if len(payloads) == 0 { return nil, errors.New("producer: no payloads") }
    ids := make([]string, 0, count)
    for i := 0; i < count; i++ {
        if err := p.limiter.Wait(ctx); err != nil { return ids, err }
        id, err := p.Publish(ctx, payloads[i%len(payloads)])
        if err != nil { return ids, err }
        ids = append(ids, id)
    }
    logutil.Infof(p.log, "published %d message(s) to %s", len(ids), wire.TopicRaw)
    return ids, nil
}
