// Package gossip is a brokerless Bus built on HashiCorp memberlist. Nodes
// find each other through seed addresses; every publish is delivered to the
// local subscribers and sent directly to each live member.
package gossip

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-fleet/pkg/discovery"
    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/transport/inmem"
)

// bestEffortLimit is the envelope size above which the TCP path is used;
// larger UDP packets risk fragmentation.
const bestEffortLimit = 1200

// Options configures the gossip bus.
type Options struct {
    // NodeID names this member; it must be unique in the pool.
    NodeID string
    // Bind is host:port for the gossip listener (UDP and TCP). Port 0 picks one.
    Bind string
    // Advertise is the address peers should use; empty derives it from Bind.
    Advertise string
    // Seeds provides addresses joined on Start. Optional.
    Seeds discovery.Discovery
    Logger *log.Logger

    // Failure detector tuning; zero keeps memberlist's LAN defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// envelope is the frame exchanged between members.
type envelope struct {
    Topic string `json:"t"`
    Data  []byte `json:"d"`
}

// Bus implements transport.Bus over memberlist.
type Bus struct {
    opts  Options
    log   *log.Logger
    local *inmem.Bus

    mu     sync.RWMutex
    ml     *memberlist.Memberlist
    closed bool
}

func New(opts Options) (*Bus, error) {
    if opts.NodeID == "" { return nil, fmt.Errorf("gossip: empty NodeID") }
    if opts.Bind == "" { return nil, fmt.Errorf("gossip: empty Bind address") }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &Bus{opts: opts, log: opts.Logger, local: inmem.New()}, nil
}

// Start creates the memberlist instance and joins the seeds. Failing to
// reach any seed is logged, not returned: the first node of a pool has
// nobody to join.
func (b *Bus) Start(ctx context.Context) error {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.closed { return transport.ErrClosed }
    if b.ml != nil { return nil }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = b.opts.NodeID
    host, port, err := splitHostPort(b.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if b.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(b.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if b.opts.ProbeInterval > 0 { cfg.ProbeInterval = b.opts.ProbeInterval }
    if b.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = b.opts.ProbeTimeout }
    if b.opts.SuspicionMult > 0 { cfg.SuspicionMult = b.opts.SuspicionMult }
    cfg.Delegate = &delegate{bus: b}
    cfg.Events = &events{log: b.log}
    cfg.Logger = log.New(b.log.Writer(), b.log.Prefix()+"memberlist: ", b.log.Flags())

    ml, err := memberlist.Create(cfg)
    if err != nil { return fmt.Errorf("gossip: create: %w", err) }
    b.ml = ml
    logutil.Infof(b.log, "gossip listening on %s", b.localAddr())

    if b.opts.Seeds != nil {
        if seeds := b.opts.Seeds.Seeds(); len(seeds) > 0 {
            n, err := ml.Join(seeds)
            if err != nil {
                logutil.Warnf(b.log, "gossip join %v: contacted %d: %v", seeds, n, err)
            } else {
                logutil.Infof(b.log, "gossip joined %d seed(s)", n)
            }
        }
    }
    go func() {
        <-ctx.Done()
        _ = b.Close()
    }()
    return nil
}

// Join contacts additional addresses after Start.
func (b *Bus) Join(addrs ...string) (int, error) {
    b.mu.RLock()
    ml := b.ml
    b.mu.RUnlock()
    if ml == nil { return 0, fmt.Errorf("gossip: not started") }
    return ml.Join(addrs)
}

// Addr returns the address peers use to reach this member.
func (b *Bus) Addr() string {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return b.localAddr()
}

func (b *Bus) localAddr() string {
    if b.ml == nil { return "" }
    n := b.ml.LocalNode()
    return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Members returns the names of the members currently considered alive.
func (b *Bus) Members() []string {
    b.mu.RLock()
    defer b.mu.RUnlock()
    if b.ml == nil { return nil }
    nodes := b.ml.Members()
    out := make([]string, 0, len(nodes))
    for _, n := range nodes { out = append(out, n.Name) }
    return out
}

// HealthScore exposes memberlist's awareness score; -1 when not started.
func (b *Bus) HealthScore() int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    if b.ml == nil { return -1 }
    return b.ml.GetHealthScore()
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
    if err := ctx.Err(); err != nil { return err }
    b.mu.RLock()
    defer b.mu.RUnlock()
    if b.closed { return transport.ErrClosed }
    if b.ml == nil { return fmt.Errorf("gossip: not started") }
    frame, err := json.Marshal(envelope{Topic: topic, Data: data})
    if err != nil { return err }
    if err := b.local.Publish(ctx, topic, data); err != nil { return err }
    self := b.ml.LocalNode().Name
    for _, n := range b.ml.Members() {
        if n.Name == self { continue }
        if len(frame) > bestEffortLimit {
            err = b.ml.SendReliable(n, frame)
        } else {
            err = b.ml.SendBestEffort(n, frame)
        }
        if err != nil { logutil.Debugf(b.log, "gossip send %s to %s: %v", topic, n.Name, err) }
    }
    return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
    return b.local.Subscribe(ctx, topic)
}

// Close leaves the pool and ends every subscription.
func (b *Bus) Close() error {
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        return nil
    }
    b.closed = true
    ml := b.ml
    b.ml = nil
    b.mu.Unlock()
    if ml != nil {
        _ = ml.Leave(time.Second)
        _ = ml.Shutdown()
    }
    return b.local.Close()
}

func (b *Bus) deliver(frame []byte) {
    var env envelope
    if err := json.Unmarshal(frame, &env); err != nil || env.Topic == "" {
        logutil.Warnf(b.log, "gossip: dropping undecodable frame (%d bytes)", len(frame))
        return
    }
    _ = b.local.Publish(context.Background(), env.Topic, env.Data)
}

type delegate struct{ bus *Bus }

// NotifyMsg must not retain msg; deliver copies it via the local bus.
func (d *delegate) NotifyMsg(msg []byte)                    { d.bus.deliver(msg) }
func (d *delegate) NodeMeta(int) []byte                     { return nil }
func (d *delegate) GetBroadcasts(int, int) [][]byte         { return nil }
func (d *delegate) LocalState(bool) []byte                  { return nil }
func (d *delegate) MergeRemoteState([]byte, bool)           {}

type events struct{ log *log.Logger }

func (e *events) NotifyJoin(n *memberlist.Node)   { logutil.Infof(e.log, "gossip member joined: %s (%s)", n.Name, n.Address()) }
func (e *events) NotifyLeave(n *memberlist.Node)  { logutil.Infof(e.log, "gossip member left: %s", n.Name) }
func (e *events) NotifyUpdate(n *memberlist.Node) { logutil.Debugf(e.log, "gossip member updated: %s", n.Name) }

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil { return "", 0, fmt.Errorf("gossip: invalid address %q: %w", hp, err) }
    p, err := strconv.Atoi(ps)
    if err != nil || p < 0 || p > 65535 { return "", 0, fmt.Errorf("gossip: invalid port %q", ps) }
    return host, p, nil
}

var _ transport.Bus = (*Bus)(nil)
