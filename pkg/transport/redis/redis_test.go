package redis

import (
    "context"
    "io"
    "log"
    "os"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-fleet/pkg/transport"
)

// Set FLEET_TEST_REDIS_ADDR (e.g. 127.0.0.1:6379) to run against a server.
func dialTest(t *testing.T) *Bus {
    t.Helper()
    addr := os.Getenv("FLEET_TEST_REDIS_ADDR")
    if addr == "" { t.Skip("FLEET_TEST_REDIS_ADDR not set") }
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    b, err := Dial(ctx, Options{Addr: addr, Prefix: "fleet-test-" + uuid.NewString() + ":", Logger: log.New(io.Discard, "", 0)})
    require.NoError(t, err)
    t.Cleanup(func() { _ = b.Close() })
    return b
}

func TestDialRequiresAddr(t *testing.T) {
    _, err := Dial(context.Background(), Options{})
    require.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
    b := dialTest(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    ch, err := b.Subscribe(ctx, "health.status")
    require.NoError(t, err)
    require.NoError(t, b.Publish(ctx, "health.status", []byte("hb")))
    select {
    case got := <-ch:
        require.Equal(t, "hb", string(got))
    case <-time.After(3 * time.Second):
        t.Fatalf("no delivery")
    }
}

func TestCloseEndsSubscriptions(t *testing.T) {
    b := dialTest(t)
    ch, err := b.Subscribe(context.Background(), "raw.messages")
    require.NoError(t, err)
    require.NoError(t, b.Close())
    select {
    case _, ok := <-ch:
        require.False(t, ok)
    case <-time.After(3 * time.Second):
        t.Fatalf("subscription not closed")
    }
    require.ErrorIs(t, b.Publish(context.Background(), "raw.messages", nil), transport.ErrClosed)
}
