//go:build integration

package bootstrap

import (
    "context"
    "fmt"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-fleet/pkg/config"
    "github.com/amirimatin/go-fleet/pkg/engine"
    "github.com/amirimatin/go-fleet/pkg/transport/httpjson"
)

// TestThreeNodesOverGossip runs a gossip fleet on fixed loopback ports and
// polls each management endpoint until all agree on one leader, then stops
// that leader and waits for a replacement.
func TestThreeNodesOverGossip(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()

    type member struct {
        id, mgmt string
        stop     context.CancelFunc
        done     chan error
    }
    var members []*member
    for i, id := range []string{"n1", "n2", "n3"} {
        c := fastConfig(t)
        c.Node.ID = id
        c.Transport.Kind = config.TransportGossip
        c.Transport.Gossip.Bind = fmt.Sprintf("127.0.0.1:%d", 27946+i)
        c.Discovery.Seeds = "127.0.0.1:27946"
        c.Management.Addr = fmt.Sprintf("127.0.0.1:%d", 37946+i)
        nctx, stop := context.WithCancel(ctx)
        m := &member{id: id, mgmt: c.Management.Addr, stop: stop, done: make(chan error, 1)}
        go func() { m.done <- RunNode(nctx, c, quietLogger()) }()
        members = append(members, m)
    }
    defer func() {
        for _, m := range members { m.stop() }
    }()

    cli := httpjson.NewClient(time.Second)
    agreed := func(alive []*member) string {
        leader := ""
        for _, m := range alive {
            var s engine.Status
            if err := cli.GetStatusInto(ctx, m.mgmt, &s); err != nil { return "" }
            if s.Leader == "" || (leader != "" && s.Leader != leader) { return "" }
            leader = s.Leader
        }
        return leader
    }

    var leader string
    require.Eventually(t, func() bool { leader = agreed(members); return leader != "" }, 20*time.Second, 100*time.Millisecond)

    var survivors []*member
    for _, m := range members {
        if m.id == leader {
            m.stop()
            require.NoError(t, <-m.done)
            continue
        }
        survivors = append(survivors, m)
    }
    require.Eventually(t, func() bool {
        next := agreed(survivors)
        return next != "" && next != leader
    }, 20*time.Second, 100*time.Millisecond)
}
