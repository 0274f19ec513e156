package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-fleet/pkg/transport"
)

// ClientOptions configure a broker connection.
type ClientOptions struct {
    // Timeout bounds each Publish and the subscription handshake.
    Timeout time.Duration
    TLS     *tls.Config
}

// Client is a transport.Bus backed by one connection to a broker.
type Client struct {
    cc      *grpc.ClientConn
    timeout time.Duration

    mu     sync.Mutex
    closed bool
}

// Dial creates a client for target. The connection is established lazily.
func Dial(target string, opts ClientOptions) (*Client, error) {
    if opts.Timeout <= 0 { opts.Timeout = 3 * time.Second }
    dopts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if opts.TLS != nil {
        dopts = append(dopts, grpc.WithTransportCredentials(credentials.NewTLS(opts.TLS)))
    } else {
        dopts = append(dopts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    cc, err := grpc.NewClient(target, dopts...)
    if err != nil { return nil, fmt.Errorf("grpc: dial %s: %w", target, err) }
    return &Client{cc: cc, timeout: opts.Timeout}, nil
}

func (c *Client) isClosed() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.closed
}

func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
    if c.isClosed() { return transport.ErrClosed }
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    return c.cc.Invoke(cctx, "/"+serviceName+"/Publish", &envelope{Topic: topic, Data: data}, &empty{}, grpc.WaitForReady(true))
}

// Subscribe opens one server stream per call and returns once the broker
// has registered it, so messages published afterwards are not missed.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
    if c.isClosed() { return nil, transport.ErrClosed }
    sctx, cancel := context.WithCancel(ctx)
    desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
    cs, err := c.cc.NewStream(sctx, desc, "/"+serviceName+"/Subscribe", grpc.WaitForReady(true))
    if err != nil {
        cancel()
        return nil, err
    }
    if err := cs.SendMsg(&subscribeReq{Topic: topic}); err != nil {
        cancel()
        return nil, err
    }
    _ = cs.CloseSend()

    ready := make(chan error, 1)
    go func() {
        var env envelope
        ready <- cs.RecvMsg(&env)
    }()
    select {
    case err := <-ready:
        if err != nil {
            cancel()
            return nil, fmt.Errorf("grpc: subscribe %s: %w", topic, err)
        }
    case <-time.After(c.timeout):
        cancel()
        return nil, fmt.Errorf("grpc: subscribe %s: handshake timed out", topic)
    }

    out := make(chan []byte, 256)
    go func() {
        defer cancel()
        defer close(out)
        for {
            var env envelope
            if err := cs.RecvMsg(&env); err != nil { return }
            select {
            case out <- env.Data:
            case <-sctx.Done():
                return
            }
        }
    }()
    return out, nil
}

// Close tears down the connection; open subscriptions end.
func (c *Client) Close() error {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return nil
    }
    c.closed = true
    c.mu.Unlock()
    return c.cc.Close()
}

var _ transport.Bus = (*Client)(nil)
