// Package redis is a Bus over Redis PUB/SUB. Redis delivers a message to
// every subscribed connection, including the publisher's own.
package redis

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    goredis "github.com/redis/go-redis/v9"

    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    "github.com/amirimatin/go-fleet/pkg/transport"
)

// Options configures the Redis connection.
type Options struct {
    Addr     string
    Username string
    Password string
    DB       int
    TLS      *tls.Config
    // Prefix is prepended to every topic to form the channel name.
    Prefix string
    Logger *log.Logger
    // HealthCheck is the ping interval on idle subscriptions.
    HealthCheck time.Duration
}

// Bus implements transport.Bus. It owns its client.
type Bus struct {
    rdb    *goredis.Client
    prefix string
    log    *log.Logger
    hc     time.Duration

    mu     sync.Mutex
    subs   map[*goredis.PubSub]struct{}
    closed bool
}

// Dial connects and verifies the server with PING.
func Dial(ctx context.Context, opts Options) (*Bus, error) {
    if opts.Addr == "" { return nil, fmt.Errorf("redis: empty Addr") }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.HealthCheck <= 0 { opts.HealthCheck = 10 * time.Second }
    rdb := goredis.NewClient(&goredis.Options{
        Addr:      opts.Addr,
        Username:  opts.Username,
        Password:  opts.Password,
        DB:        opts.DB,
        TLSConfig: opts.TLS,
    })
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
    }
    logutil.Infof(opts.Logger, "connected to redis at %s", opts.Addr)
    return &Bus{rdb: rdb, prefix: opts.Prefix, log: opts.Logger, hc: opts.HealthCheck, subs: make(map[*goredis.PubSub]struct{})}, nil
}

func (b *Bus) channel(topic string) string { return b.prefix + topic }

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
    b.mu.Lock()
    closed := b.closed
    b.mu.Unlock()
    if closed { return transport.ErrClosed }
    if err := b.rdb.Publish(ctx, b.channel(topic), data).Err(); err != nil {
        if errors.Is(err, goredis.ErrClosed) { return transport.ErrClosed }
        return err
    }
    return nil
}

// Subscribe waits for the subscription confirmation before returning.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        return nil, transport.ErrClosed
    }
    ps := b.rdb.Subscribe(ctx, b.channel(topic))
    b.subs[ps] = struct{}{}
    b.mu.Unlock()

    if _, err := ps.Receive(ctx); err != nil {
        b.drop(ps)
        return nil, fmt.Errorf("redis: subscribe %s: %w", topic, err)
    }
    src := ps.Channel(goredis.WithChannelHealthCheckInterval(b.hc))
    out := make(chan []byte, 256)
    go func() {
        defer close(out)
        defer b.drop(ps)
        for {
            select {
            case <-ctx.Done():
                return
            case m, ok := <-src:
                if !ok { return }
                select {
                case out <- []byte(m.Payload):
                case <-ctx.Done():
                    return
                }
            }
        }
    }()
    return out, nil
}

func (b *Bus) drop(ps *goredis.PubSub) {
    b.mu.Lock()
    delete(b.subs, ps)
    b.mu.Unlock()
    _ = ps.Close()
}

// Close ends every subscription and the client.
func (b *Bus) Close() error {
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        return nil
    }
    b.closed = true
    subs := b.subs
    b.subs = map[*goredis.PubSub]struct{}{}
    b.mu.Unlock()
    for ps := range subs { _ = ps.Close() }
    return b.rdb.Close()
}

var _ transport.Bus = (*Bus)(nil)
