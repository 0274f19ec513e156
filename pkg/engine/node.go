// Package engine runs the per-node coordinator: heartbeat gossip, the
// leader election state machine, the startup sequencer and the router that
// emits or buffers translated output depending on leadership.
//
// All coordination state is owned by one event-loop goroutine. Every topic
// subscription runs in its own pump goroutine which decodes payloads and
// hands typed values to the loop over channels; timers are ordinary tickers
// read by the same loop, so no two handlers of one node ever run at once.
package engine

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-fleet/pkg/election"
    "github.com/amirimatin/go-fleet/pkg/health"
    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-fleet/pkg/observability/metrics"
    "github.com/amirimatin/go-fleet/pkg/router"
    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

var ErrAlreadyRunning = errors.New("engine: node already running")

// inboxSize is the capacity of each pump-to-loop channel.
const inboxSize = 256

// Node is the coordinator for a single identity. Construct one per node id;
// instances share nothing but the bus.
type Node struct {
    opts    Options
    log     *log.Logger
    tracker *health.Tracker
    machine *election.Machine
    router  *router.Router
    seq     *Sequencer
    eb      eventBus
    running atomic.Bool

    mu     sync.RWMutex
    status Status
}

type inbox struct {
    heartbeats chan wire.Heartbeat
    claims     chan wire.Claim
    raw        chan wire.RawMessage
}

// leftovers holds records a pump read after shutdown began.
type leftovers struct {
    heartbeats []wire.Heartbeat
    claims     []wire.Claim
    raw        []wire.RawMessage
}

// New validates opts and builds an idle node. It performs no I/O.
func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts = opts.withDefaults()
    n := &Node{
        opts:    opts,
        log:     logutil.ForNode(opts.Logger, opts.NodeID),
        tracker: health.NewTracker(),
    }
    n.machine = election.NewMachine(opts.NodeID, n.tracker, opts.Timing.LivenessTimeout)
    r, err := router.New(router.Options{
        Translator: opts.Translator,
        Emitter:    n.emit,
        IsLeader:   n.machine.IsLeader,
        Capacity:   opts.BufferCapacity,
    })
    if err != nil { return nil, err }
    n.router = r
    n.status = Status{NodeID: opts.NodeID, Phase: PhaseWarmup.String(), HealthyPeers: []string{}}
    return n, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.opts.NodeID }

// Status returns the snapshot taken after the most recent loop step.
func (n *Node) Status() Status {
    n.mu.RLock()
    defer n.mu.RUnlock()
    s := n.status
    s.HealthyPeers = append([]string(nil), n.status.HealthyPeers...)
    return s
}

// Run subscribes to the coordination topics and drives the node until ctx
// is cancelled, returning nil, or the transport disconnects, returning an
// error wrapping transport.ErrClosed. A node runs at most once.
func (n *Node) Run(ctx context.Context) error {
    if !n.running.CompareAndSwap(false, true) { return ErrAlreadyRunning }
    obsmetrics.Register()
    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    g, gctx := errgroup.WithContext(ctx)

    in := inbox{
        heartbeats: make(chan wire.Heartbeat, inboxSize),
        claims:     make(chan wire.Claim, inboxSize),
        raw:        make(chan wire.RawMessage, inboxSize),
    }
    hb, err := n.opts.Bus.Subscribe(gctx, wire.TopicHealth)
    if err != nil { return fmt.Errorf("engine: subscribe %s: %w", wire.TopicHealth, err) }
    cl, err := n.opts.Bus.Subscribe(gctx, wire.TopicElection)
    if err != nil { return fmt.Errorf("engine: subscribe %s: %w", wire.TopicElection, err) }
    raw, err := n.opts.Bus.Subscribe(gctx, wire.TopicRaw)
    if err != nil { return fmt.Errorf("engine: subscribe %s: %w", wire.TopicRaw, err) }

    var rest leftovers
    g.Go(func() error { return pump(gctx, n, wire.TopicHealth, hb, wire.DecodeHeartbeat, in.heartbeats, &rest.heartbeats) })
    g.Go(func() error { return pump(gctx, n, wire.TopicElection, cl, wire.DecodeClaim, in.claims, &rest.claims) })
    g.Go(func() error { return pump(gctx, n, wire.TopicRaw, raw, wire.DecodeRaw, in.raw, &rest.raw) })
    logutil.Infof(n.log, "node connected; subscribed to %s, %s, %s", wire.TopicHealth, wire.TopicElection, wire.TopicRaw)

    loopErr := n.loop(gctx, in)
    cancel()
    waitErr := g.Wait()
    if loopErr == nil && waitErr == nil { waitErr = n.drain(gctx, in, rest) }
    if loopErr == nil { loopErr = waitErr }
    if loopErr != nil {
        logutil.Errorf(n.log, "node stopped: %v", loopErr)
        return loopErr
    }
    logutil.Infof(n.log, "node stopped")
    return nil
}

// pump decodes one subscription and forwards valid records to the loop.
// Malformed payloads are counted and skipped. On shutdown, whatever the
// subscription already holds is decoded into rest for drain.
func pump[T any](ctx context.Context, n *Node, topic string, src <-chan []byte, decode func([]byte) (T, error), dst chan<- T, rest *[]T) error {
    for {
        select {
        case <-ctx.Done():
            *rest = collectPending(n, topic, src, decode, *rest)
            return nil
        case b, ok := <-src:
            if !ok {
                if ctx.Err() != nil { return nil }
                return fmt.Errorf("engine: subscription %s ended: %w", topic, transport.ErrClosed)
            }
            v, ok := decodeOrSkip(n, topic, b, decode)
            if !ok { continue }
            select {
            case dst <- v:
            case <-ctx.Done():
                *rest = collectPending(n, topic, src, decode, append(*rest, v))
                return nil
            }
        }
    }
}

// collectPending appends what src holds right now without waiting for more.
func collectPending[T any](n *Node, topic string, src <-chan []byte, decode func([]byte) (T, error), out []T) []T {
    for {
        select {
        case b, ok := <-src:
            if !ok { return out }
            if v, ok := decodeOrSkip(n, topic, b, decode); ok { out = append(out, v) }
        default:
            return out
        }
    }
}

func decodeOrSkip[T any](n *Node, topic string, b []byte, decode func([]byte) (T, error)) (T, bool) {
    v, err := decode(b)
    if err != nil {
        obsmetrics.Malformed.WithLabelValues(n.opts.NodeID, topic).Inc()
        logutil.Warnf(n.log, "skipping malformed message on %s: %v", topic, err)
        return v, false
    }
    return v, true
}

func (n *Node) loop(ctx context.Context, in inbox) error {
    t := n.opts.Timing
    start := n.opts.Now()
    n.seq = NewSequencer(start, t.Warmup, t.Priming)

    heartbeat := time.NewTicker(t.HeartbeatPeriod)
    defer heartbeat.Stop()
    attempt := time.NewTicker(t.AttemptPeriod)
    defer attempt.Stop()
    renewal := time.NewTicker(t.RenewalPeriod)
    defer renewal.Stop()
    startup := time.NewTimer(t.Warmup)
    defer startup.Stop()
    startupC := startup.C

    if err := n.sendHeartbeat(ctx); err != nil { return err }
    n.refreshStatus()
    for {
        var err error
        select {
        case <-ctx.Done():
            logutil.Infof(n.log, "shutting down")
            return nil
        case <-heartbeat.C:
            err = n.sendHeartbeat(ctx)
        case <-attempt.C:
            err = n.tryClaim(ctx)
        case <-renewal.C:
            err = n.renew(ctx)
        case <-startupC:
            var done bool
            done, err = n.advanceStartup(ctx, startup)
            if done { startupC = nil }
        case h := <-in.heartbeats:
            n.onHeartbeat(h)
        case c := <-in.claims:
            err = n.onClaim(ctx, c)
        case m := <-in.raw:
            err = n.onRaw(ctx, m)
        }
        if err != nil { return err }
        n.refreshStatus()
    }
}

func (n *Node) advanceStartup(ctx context.Context, timer *time.Timer) (bool, error) {
    now := n.opts.Now()
    n.seq.Step(now, n.tracker.HasPeerOtherThan(n.opts.NodeID))
    if !n.seq.Ready() {
        d := n.seq.Deadline().Sub(now)
        if d < time.Millisecond { d = time.Millisecond }
        timer.Reset(d)
        logutil.Debugf(n.log, "startup %s (cycle %d)", n.seq.Phase(), n.seq.Cycle())
        return false, nil
    }
    logutil.Infof(n.log, "startup complete after %d cycle(s); peers seen: %v", n.seq.Cycle(), n.tracker.Known())
    n.eb.publish(Event{Type: EventStartupComplete, At: now})
    return true, n.tryClaim(ctx)
}

// drain applies records that were received but not yet handled when ctx
// ended. ctx is already cancelled, so only translated output, which ignores
// cancellation, reaches the bus.
func (n *Node) drain(ctx context.Context, in inbox, rest leftovers) error {
    hbs := append(pending(in.heartbeats), rest.heartbeats...)
    claims := append(pending(in.claims), rest.claims...)
    raw := append(pending(in.raw), rest.raw...)
    for _, h := range hbs { n.onHeartbeat(h) }
    for _, c := range claims {
        if err := n.onClaim(ctx, c); err != nil { return err }
    }
    for _, m := range raw {
        if err := n.onRaw(ctx, m); err != nil { return err }
    }
    if len(raw) > 0 { logutil.Infof(n.log, "handled %d raw message(s) pending at shutdown", len(raw)) }
    n.refreshStatus()
    return nil
}

// pending empties ch without blocking.
func pending[T any](ch chan T) []T {
    var out []T
    for {
        select {
        case v := <-ch:
            out = append(out, v)
        default:
            return out
        }
    }
}

func (n *Node) sendHeartbeat(ctx context.Context) error {
    now := n.opts.Now()
    n.tracker.RecordHeartbeat(n.opts.NodeID, now)
    return n.publish(ctx, wire.TopicHealth, wire.Heartbeat{NodeID: n.opts.NodeID, Timestamp: wire.Millis(now)})
}

func (n *Node) onHeartbeat(h wire.Heartbeat) {
    n.tracker.RecordHeartbeat(h.NodeID, wire.Time(h.Timestamp))
    obsmetrics.Heartbeats.WithLabelValues(n.opts.NodeID).Inc()
}

// tryClaim broadcasts a self-claim when no healthy leader is known. Before
// startup completes it does nothing; the sequencer attempts once at the end.
func (n *Node) tryClaim(ctx context.Context) error {
    if n.seq == nil || !n.seq.Ready() { return nil }
    c, ok := n.machine.Attempt(n.opts.Now())
    if !ok { return nil }
    logutil.Infof(n.log, "claiming leadership (claimedAt=%d)", wire.Millis(c.ClaimedAt))
    return n.publishClaim(ctx, c, false)
}

func (n *Node) renew(ctx context.Context) error {
    c, ok := n.machine.Renewal()
    if !ok { return nil }
    logutil.Debugf(n.log, "renewing claim (claimedAt=%d)", wire.Millis(c.ClaimedAt))
    return n.publishClaim(ctx, c, true)
}

func (n *Node) publishClaim(ctx context.Context, c election.Claim, renewal bool) error {
    kind := "attempt"
    if renewal { kind = "renewal" }
    if err := n.publish(ctx, wire.TopicElection, c.Wire()); err != nil { return err }
    obsmetrics.ClaimsPublished.WithLabelValues(n.opts.NodeID, kind).Inc()
    n.eb.publish(Event{Type: EventClaimPublished, At: n.opts.Now(), Leader: c.NodeID, ClaimedAt: c.ClaimedAt, Renewal: renewal})
    return nil
}

func (n *Node) onClaim(ctx context.Context, wc wire.Claim) error {
    now := n.opts.Now()
    c := election.FromWire(wc)
    out := n.machine.Receive(c, now)
    if !out.Accepted {
        obsmetrics.ClaimsReceived.WithLabelValues(n.opts.NodeID, "rejected").Inc()
    } else {
        obsmetrics.ClaimsReceived.WithLabelValues(n.opts.NodeID, "accepted").Inc()
        if out.Previous == nil || out.Previous.NodeID != c.NodeID {
            obsmetrics.LeaderChanges.WithLabelValues(n.opts.NodeID).Inc()
            if c.NodeID == n.opts.NodeID {
                logutil.Infof(n.log, "is leader (claimedAt=%d)", wc.ClaimedAt)
            } else {
                logutil.Infof(n.log, "follows leader %s (claimedAt=%d)", c.NodeID, wc.ClaimedAt)
            }
            n.eb.publish(Event{Type: EventLeaderChanged, At: now, Leader: c.NodeID, ClaimedAt: c.ClaimedAt})
        }
    }

    switch out.Transition {
    case election.Promoted:
        flushed, err := n.router.OnPromotion(ctx)
        obsmetrics.Emitted.WithLabelValues(n.opts.NodeID, "flush").Add(float64(flushed))
        if err != nil { return err }
        logutil.Infof(n.log, "promoted; flushed %d buffered message(s)", flushed)
        n.eb.publish(Event{Type: EventPromoted, At: now, Leader: c.NodeID, ClaimedAt: c.ClaimedAt, Flushed: flushed})
        if n.opts.OnPromote != nil { n.opts.OnPromote(flushed) }
    case election.Demoted:
        logutil.Infof(n.log, "demoted; %s holds an earlier claim", c.NodeID)
        n.eb.publish(Event{Type: EventDemoted, At: now, Leader: c.NodeID, ClaimedAt: c.ClaimedAt})
        if n.opts.OnDemote != nil { n.opts.OnDemote(c.NodeID) }
    }

    if out.LeaderUnhealthy { return n.tryClaim(ctx) }
    return nil
}

func (n *Node) onRaw(ctx context.Context, m wire.RawMessage) error {
    res, err := n.router.OnRaw(ctx, m)
    if err != nil { return err }
    if res.Emitted {
        obsmetrics.Emitted.WithLabelValues(n.opts.NodeID, "direct").Inc()
    }
    if res.Evicted {
        obsmetrics.BufferDropped.WithLabelValues(n.opts.NodeID).Inc()
        logutil.Debugf(n.log, "buffer full; dropped oldest message (total dropped %d)", n.router.Dropped())
    }
    return nil
}

// emit publishes translated output. It ignores cancellation so a flush in
// progress at shutdown still completes.
func (n *Node) emit(ctx context.Context, m wire.TranslatedMessage) error {
    return n.publish(context.WithoutCancel(ctx), wire.TopicTranslated, m)
}

// publish is fire-and-forget: only a closed transport is reported.
func (n *Node) publish(ctx context.Context, topic string, v any) error {
    b, err := wire.Encode(v)
    if err != nil {
        logutil.Errorf(n.log, "encode %s: %v", topic, err)
        return nil
    }
    if err := n.opts.Bus.Publish(ctx, topic, b); err != nil {
        if errors.Is(err, transport.ErrClosed) { return fmt.Errorf("engine: publish %s: %w", topic, err) }
        if ctx.Err() == nil { logutil.Warnf(n.log, "publish %s failed: %v", topic, err) }
    }
    return nil
}

func (n *Node) refreshStatus() {
    now := n.opts.Now()
    peers := n.tracker.HealthyPeers(now, n.opts.Timing.LivenessTimeout)
    s := Status{
        NodeID:       n.opts.NodeID,
        Phase:        n.seq.Phase().String(),
        IsLeader:     n.machine.IsLeader(),
        Buffered:     n.router.Buffered(),
        Dropped:      n.router.Dropped(),
        HealthyPeers: peers,
    }
    if c, ok := n.machine.Current(); ok {
        s.Leader = c.NodeID
        at := c.ClaimedAt
        s.LeaderClaimedAt = &at
        s.LeaderHealthy = n.tracker.IsHealthy(c.NodeID, now, n.opts.Timing.LivenessTimeout)
    }
    n.mu.Lock()
    n.status = s
    n.mu.Unlock()

    leader := 0.0
    if s.IsLeader { leader = 1 }
    obsmetrics.IsLeader.WithLabelValues(n.opts.NodeID).Set(leader)
    obsmetrics.HealthyPeers.WithLabelValues(n.opts.NodeID).Set(float64(len(peers)))
    obsmetrics.BufferDepth.WithLabelValues(n.opts.NodeID).Set(float64(s.Buffered))
}
