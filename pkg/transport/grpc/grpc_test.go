package grpc

import (
    "context"
    "io"
    "log"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-fleet/pkg/transport"
)

func startBroker(t *testing.T, ctx context.Context) *Server {
    t.Helper()
    s := NewServer("127.0.0.1:0").WithLogger(log.New(io.Discard, "", 0))
    require.NoError(t, s.Start(ctx))
    t.Cleanup(func() { _ = s.Stop(context.Background()) })
    return s
}

func dial(t *testing.T, addr string) *Client {
    t.Helper()
    c, err := Dial(addr, ClientOptions{Timeout: 3 * time.Second})
    require.NoError(t, err)
    t.Cleanup(func() { _ = c.Close() })
    return c
}

func next(t *testing.T, ch <-chan []byte) string {
    t.Helper()
    select {
    case b, ok := <-ch:
        require.True(t, ok)
        return string(b)
    case <-time.After(3 * time.Second):
        t.Fatalf("timed out")
        return ""
    }
}

func TestBrokerFansOutIncludingPublisher(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    s := startBroker(t, ctx)
    a, b := dial(t, s.Addr()), dial(t, s.Addr())

    fromA, err := a.Subscribe(ctx, "leader.election")
    require.NoError(t, err)
    fromB, err := b.Subscribe(ctx, "leader.election")
    require.NoError(t, err)
    other, err := b.Subscribe(ctx, "raw.messages")
    require.NoError(t, err)

    require.NoError(t, a.Publish(ctx, "leader.election", []byte(`{"nodeId":"a","claimedAt":5}`)))
    require.Equal(t, `{"nodeId":"a","claimedAt":5}`, next(t, fromA))
    require.Equal(t, `{"nodeId":"a","claimedAt":5}`, next(t, fromB))
    require.Len(t, other, 0)
}

func TestBrokerStopEndsStreams(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    s := startBroker(t, ctx)
    c := dial(t, s.Addr())
    ch, err := c.Subscribe(ctx, "health.status")
    require.NoError(t, err)
    require.NoError(t, s.Stop(context.Background()))
    select {
    case _, ok := <-ch:
        require.False(t, ok)
    case <-time.After(3 * time.Second):
        t.Fatalf("stream stayed open after broker stop")
    }
}

func TestClosedClientRejects(t *testing.T) {
    c, err := Dial("127.0.0.1:1", ClientOptions{})
    require.NoError(t, err)
    require.NoError(t, c.Close())
    require.ErrorIs(t, c.Publish(context.Background(), "t", nil), transport.ErrClosed)
    _, err = c.Subscribe(context.Background(), "t")
    require.ErrorIs(t, err, transport.ErrClosed)
}
