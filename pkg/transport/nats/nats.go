// Package nats is a Bus over core NATS subjects. The topic name is used as
// the subject verbatim.
package nats

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    natsgo "github.com/nats-io/nats.go"

    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    "github.com/amirimatin/go-fleet/pkg/transport"
)

// Options configures the connection. Zero values use the defaults below.
type Options struct {
    URL           string
    Name          string
    MaxReconnects int
    ReconnectWait time.Duration
    Timeout       time.Duration
    TLS           *tls.Config
    Logger        *log.Logger
}

const (
    DefaultURL           = natsgo.DefaultURL
    DefaultMaxReconnects = 10
    DefaultReconnectWait = 2 * time.Second
    DefaultTimeout       = 10 * time.Second
)

// Bus implements transport.Bus. Once the client gives up reconnecting every
// subscription channel is closed, which callers treat as a disconnect.
type Bus struct {
    nc   *natsgo.Conn
    log  *log.Logger
    done chan struct{}
    once sync.Once
}

func Dial(opts Options) (*Bus, error) {
    if opts.URL == "" { opts.URL = DefaultURL }
    if opts.MaxReconnects == 0 { opts.MaxReconnects = DefaultMaxReconnects }
    if opts.ReconnectWait <= 0 { opts.ReconnectWait = DefaultReconnectWait }
    if opts.Timeout <= 0 { opts.Timeout = DefaultTimeout }
    if opts.Logger == nil { opts.Logger = log.Default() }
    b := &Bus{log: opts.Logger, done: make(chan struct{})}

    nopts := []natsgo.Option{
        natsgo.MaxReconnects(opts.MaxReconnects),
        natsgo.ReconnectWait(opts.ReconnectWait),
        natsgo.Timeout(opts.Timeout),
        natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
            if err != nil { logutil.Warnf(b.log, "nats disconnected: %v", err) }
        }),
        natsgo.ReconnectHandler(func(nc *natsgo.Conn) { logutil.Infof(b.log, "nats reconnected to %s", nc.ConnectedUrl()) }),
        natsgo.ClosedHandler(func(*natsgo.Conn) { b.markClosed() }),
    }
    if opts.Name != "" { nopts = append(nopts, natsgo.Name(opts.Name)) }
    if opts.TLS != nil { nopts = append(nopts, natsgo.Secure(opts.TLS)) }
    nc, err := natsgo.Connect(opts.URL, nopts...)
    if err != nil { return nil, fmt.Errorf("nats: connect %s: %w", opts.URL, err) }
    b.nc = nc
    logutil.Infof(b.log, "connected to nats at %s", nc.ConnectedUrl())
    return b, nil
}

func (b *Bus) markClosed() { b.once.Do(func() { close(b.done) }) }

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
    if err := ctx.Err(); err != nil { return err }
    if err := b.nc.Publish(topic, data); err != nil {
        if errors.Is(err, natsgo.ErrConnectionClosed) { return transport.ErrClosed }
        return err
    }
    return nil
}

// Subscribe flushes so the server knows the interest before it returns.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
    msgs := make(chan *natsgo.Msg, 256)
    sub, err := b.nc.ChanSubscribe(topic, msgs)
    if err != nil {
        if errors.Is(err, natsgo.ErrConnectionClosed) { return nil, transport.ErrClosed }
        return nil, fmt.Errorf("nats: subscribe %s: %w", topic, err)
    }
    if err := b.nc.FlushWithContext(ctx); err != nil {
        _ = sub.Unsubscribe()
        return nil, fmt.Errorf("nats: flush %s: %w", topic, err)
    }
    out := make(chan []byte, 256)
    go func() {
        defer close(out)
        defer func() { _ = sub.Unsubscribe() }()
        for {
            select {
            case <-ctx.Done():
                return
            case <-b.done:
                return
            case m := <-msgs:
                select {
                case out <- m.Data:
                case <-ctx.Done():
                    return
                }
            }
        }
    }()
    return out, nil
}

// Close drains nothing; buffered outgoing data is flushed by the client.
func (b *Bus) Close() error {
    if !b.nc.IsClosed() { b.nc.Close() }
    b.markClosed()
    return nil
}

var _ transport.Bus = (*Bus)(nil)
