package engine

import (
    "errors"
    "fmt"
    "log"
    "strings"
    "time"

    "github.com/amirimatin/go-fleet/pkg/router"
    "github.com/amirimatin/go-fleet/pkg/transport"
)

// Timing holds every period the coordinator runs on.
type Timing struct {
    // HeartbeatPeriod is how often the node announces itself on health.status.
    HeartbeatPeriod time.Duration
    // LivenessTimeout is the heartbeat age at which a node counts as down.
    LivenessTimeout time.Duration
    // AttemptPeriod paces self-claims while no healthy leader is known.
    AttemptPeriod time.Duration
    // RenewalPeriod paces the leader's re-broadcast of its original claim.
    RenewalPeriod time.Duration
    // Warmup and Priming make up one startup cycle.
    Warmup  time.Duration
    Priming time.Duration
}

// DefaultTiming returns the production periods.
func DefaultTiming() Timing {
    return Timing{
        HeartbeatPeriod: 2000 * time.Millisecond,
        LivenessTimeout: 5000 * time.Millisecond,
        AttemptPeriod:   6000 * time.Millisecond,
        RenewalPeriod:   3000 * time.Millisecond,
        Warmup:          2200 * time.Millisecond,
        Priming:         1500 * time.Millisecond,
    }
}

// Scaled divides every period by f; tests use it to run a fleet quickly.
func (t Timing) Scaled(f int) Timing {
    if f <= 1 { return t }
    d := time.Duration(f)
    return Timing{
        HeartbeatPeriod: t.HeartbeatPeriod / d,
        LivenessTimeout: t.LivenessTimeout / d,
        AttemptPeriod:   t.AttemptPeriod / d,
        RenewalPeriod:   t.RenewalPeriod / d,
        Warmup:          t.Warmup / d,
        Priming:         t.Priming / d,
    }
}

// Validate rejects non-positive periods and a liveness timeout that does not
// exceed the heartbeat period.
func (t Timing) Validate() error {
    for name, d := range map[string]time.Duration{
        "HeartbeatPeriod": t.HeartbeatPeriod,
        "LivenessTimeout": t.LivenessTimeout,
        "AttemptPeriod":   t.AttemptPeriod,
        "RenewalPeriod":   t.RenewalPeriod,
    } {
        if d <= 0 { return fmt.Errorf("engine: %s must be positive", name) }
    }
    if t.Warmup < 0 || t.Priming < 0 { return errors.New("engine: negative startup delay") }
    if t.LivenessTimeout <= t.HeartbeatPeriod {
        return errors.New("engine: LivenessTimeout must exceed HeartbeatPeriod")
    }
    return nil
}

// Options carries the dependencies and tuning of one Node. Instances are
// typically produced by bootstrap from a loaded config.
type Options struct {
    // NodeID identifies this node. It is also the tie-break key.
    NodeID string
    // Bus is the shared broadcast transport. It is not closed by the node.
    Bus transport.Bus
    // Logger receives operational messages; nil means log.Default().
    Logger *log.Logger

    Translator     router.Translator
    BufferCapacity int
    Timing         Timing

    // Now overrides the clock used for timestamps and liveness checks.
    Now func() time.Time

    // OnPromote runs on the event loop after the buffer was flushed.
    OnPromote func(flushed int)
    // OnDemote runs on the event loop when another node's claim wins.
    OnDemote func(leader string)
}

// Validate checks required fields. Zero timing falls back to DefaultTiming.
func (o Options) Validate() error {
    if strings.TrimSpace(o.NodeID) == "" { return errors.New("engine: empty NodeID") }
    if o.Bus == nil { return errors.New("engine: nil Bus") }
    if o.BufferCapacity < 0 { return errors.New("engine: negative BufferCapacity") }
    return o.withDefaults().Timing.Validate()
}

func (o Options) withDefaults() Options {
    if o.Timing == (Timing{}) { o.Timing = DefaultTiming() }
    if o.Logger == nil { o.Logger = log.Default() }
    if o.Now == nil { o.Now = time.Now }
    if o.Translator == nil { o.Translator = router.DefaultTranslator }
    if o.BufferCapacity == 0 { o.BufferCapacity = router.DefaultCapacity }
    return o
}
