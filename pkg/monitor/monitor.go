// Package monitor is the passive fleet dashboard. It listens to heartbeats
// and claims, never publishes, and periodically reports which nodes are
// alive and which leader was last announced.
package monitor

import (
    "context"
    "errors"
    "fmt"
    "log"
    "strings"
    "sync"
    "time"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-fleet/pkg/health"
    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

const (
    DefaultReportPeriod = 15 * time.Second
    DefaultWindow       = 20 * time.Second
)

type Options struct {
    Bus    transport.Bus
    Logger *log.Logger
    // ReportPeriod paces the log report; Window is the heartbeat age limit.
    ReportPeriod time.Duration
    Window       time.Duration
    Now          func() time.Time
}

// Snapshot is what the dashboard knows at one instant.
type Snapshot struct {
    Healthy []string  `json:"healthy"`
    Known   []string  `json:"known"`
    Leader  string    `json:"leader,omitempty"`
    At      time.Time `json:"at"`
}

// Monitor tracks the fleet from the outside.
type Monitor struct {
    opts    Options
    tracker *health.Tracker

    mu     sync.RWMutex
    leader string
}

func New(opts Options) (*Monitor, error) {
    if opts.Bus == nil { return nil, errors.New("monitor: nil Bus") }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.ReportPeriod <= 0 { opts.ReportPeriod = DefaultReportPeriod }
    if opts.Window <= 0 { opts.Window = DefaultWindow }
    if opts.Now == nil { opts.Now = time.Now }
    return &Monitor{opts: opts, tracker: health.NewTracker()}, nil
}

// ObserveHeartbeat records a heartbeat under its sender's timestamp.
func (m *Monitor) ObserveHeartbeat(h wire.Heartbeat) {
    m.tracker.RecordHeartbeat(h.NodeID, wire.Time(h.Timestamp))
}

// ObserveClaim remembers the most recently seen claimant. No acceptance rule
// is applied: the dashboard only reports what was last announced.
func (m *Monitor) ObserveClaim(c wire.Claim) {
    m.mu.Lock()
    m.leader = c.NodeID
    m.mu.Unlock()
}

// Snapshot reports the nodes heartbeating within the window at now.
func (m *Monitor) Snapshot(now time.Time) Snapshot {
    m.mu.RLock()
    leader := m.leader
    m.mu.RUnlock()
    return Snapshot{
        Healthy: m.tracker.HealthyPeers(now, m.opts.Window),
        Known:   m.tracker.Known(),
        Leader:  leader,
        At:      now,
    }
}

// Status adapts Snapshot to the management endpoint.
func (m *Monitor) Status(context.Context) (any, error) { return m.Snapshot(m.opts.Now()), nil }

// Report renders a snapshot the way the periodic log shows it.
func Report(s Snapshot) string {
    leader := s.Leader
    if leader == "" { leader = "none" }
    return fmt.Sprintf("healthy nodes (%d): [%s]; current leader: %s", len(s.Healthy), strings.Join(s.Healthy, ", "), leader)
}

// Run subscribes and reports until ctx is done. A closed transport ends Run
// with transport.ErrClosed.
func (m *Monitor) Run(ctx context.Context) error {
    g, gctx := errgroup.WithContext(ctx)
    hb, err := m.opts.Bus.Subscribe(gctx, wire.TopicHealth)
    if err != nil { return fmt.Errorf("monitor: subscribe: %w", err) }
    cl, err := m.opts.Bus.Subscribe(gctx, wire.TopicElection)
    if err != nil { return fmt.Errorf("monitor: subscribe: %w", err) }
    logutil.Infof(m.opts.Logger, "monitor connected")

    g.Go(func() error { return consume(gctx, m.opts.Logger, wire.TopicHealth, hb, wire.DecodeHeartbeat, m.ObserveHeartbeat) })
    g.Go(func() error { return consume(gctx, m.opts.Logger, wire.TopicElection, cl, wire.DecodeClaim, m.ObserveClaim) })
    g.Go(func() error {
        t := time.NewTicker(m.opts.ReportPeriod)
        defer t.Stop()
        for {
            select {
            case <-gctx.Done():
                return nil
            case <-t.C:
                logutil.Infof(m.opts.Logger, "%s", Report(m.Snapshot(m.opts.Now())))
            }
        }
    })
    return g.Wait()
}

func consume[T any](ctx context.Context, l *log.Logger, topic string, src <-chan []byte, decode func([]byte) (T, error), apply func(T)) error {
    for {
        select {
        case <-ctx.Done():
            return nil
        case b, ok := <-src:
            if !ok {
                if ctx.Err() != nil { return nil }
                return fmt.Errorf("monitor: %s: %w", topic, transport.ErrClosed)
            }
            v, err := decode(b)
            if err != nil {
                logutil.Warnf(l, "skipping malformed message on %s: %v", topic, err)
                continue
            }
            apply(v)
        }
    }
}
