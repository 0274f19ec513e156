package monitor

import (
    "context"
    "io"
    "log"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/transport/inmem"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSnapshotUsesTwentySecondWindow(t *testing.T) {
    m, err := New(Options{Bus: inmem.New(), Logger: quiet()})
    require.NoError(t, err)
    now := time.UnixMilli(100_000)
    m.ObserveHeartbeat(wire.Heartbeat{NodeID: "b", Timestamp: wire.Millis(now.Add(-5 * time.Second))})
    m.ObserveHeartbeat(wire.Heartbeat{NodeID: "a", Timestamp: wire.Millis(now.Add(-19999 * time.Millisecond))})
    m.ObserveHeartbeat(wire.Heartbeat{NodeID: "c", Timestamp: wire.Millis(now.Add(-20 * time.Second))})
    m.ObserveClaim(wire.Claim{NodeID: "b", ClaimedAt: 1})
    m.ObserveClaim(wire.Claim{NodeID: "a", ClaimedAt: 9})

    s := m.Snapshot(now)
    require.Equal(t, []string{"a", "b"}, s.Healthy)
    require.Equal(t, []string{"a", "b", "c"}, s.Known)
    require.Equal(t, "a", s.Leader, "last seen claimant, no acceptance rule")
    require.Equal(t, "healthy nodes (2): [a, b]; current leader: a", Report(s))
    require.Equal(t, "healthy nodes (0): []; current leader: none", Report(Snapshot{}))
}

func TestRunObservesBus(t *testing.T) {
    bus := inmem.New()
    m, err := New(Options{Bus: bus, Logger: quiet(), ReportPeriod: 10 * time.Millisecond})
    require.NoError(t, err)
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- m.Run(ctx) }()
    require.Eventually(t, func() bool { return bus.Subscribers(wire.TopicElection) == 1 }, time.Second, time.Millisecond)

    hb, _ := wire.Encode(wire.Heartbeat{NodeID: "n1", Timestamp: wire.Millis(time.Now())})
    cl, _ := wire.Encode(wire.Claim{NodeID: "n1", ClaimedAt: wire.Millis(time.Now())})
    require.NoError(t, bus.Publish(ctx, wire.TopicHealth, []byte("{bad")))
    require.NoError(t, bus.Publish(ctx, wire.TopicHealth, hb))
    require.NoError(t, bus.Publish(ctx, wire.TopicElection, cl))
    require.Eventually(t, func() bool {
        s := m.Snapshot(time.Now())
        return s.Leader == "n1" && len(s.Healthy) == 1
    }, time.Second, 2*time.Millisecond)

    cancel()
    require.NoError(t, <-done)
}

func TestRunFailsOnDisconnect(t *testing.T) {
    bus := inmem.New()
    m, err := New(Options{Bus: bus, Logger: quiet()})
    require.NoError(t, err)
    done := make(chan error, 1)
    go func() { done <- m.Run(context.Background()) }()
    require.Eventually(t, func() bool { return bus.Subscribers(wire.TopicHealth) == 1 }, time.Second, time.Millisecond)
    require.NoError(t, bus.Close())
    select {
    case err := <-done:
        require.ErrorIs(t, err, transport.ErrClosed)
    case <-time.After(2 * time.Second):
        t.Fatalf("monitor kept running")
    }
}
