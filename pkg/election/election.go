// Package election implements the claim/accept state machine that lets a
// fleet of nodes converge on one leader using only gossip.
//
// A node asserts leadership by broadcasting a Claim. Claims are compared
// earliest-first: the claim with the smaller ClaimedAt wins, and equal
// timestamps fall back to the lexicographically smaller NodeID. A claim is
// also accepted unconditionally when the currently believed leader is not
// healthy. Nodes never claim while they believe in a healthy leader.
//
// Machine is not safe for concurrent use; the engine drives it from a single
// goroutine and passes the current time into every step.
package election

import (
    "time"

    "github.com/amirimatin/go-fleet/pkg/wire"
)

// Claim is an immutable leadership assertion.
type Claim struct {
    NodeID    string
    ClaimedAt time.Time
}

// NewClaim builds a claim with ClaimedAt truncated to the wire resolution.
func NewClaim(id string, at time.Time) Claim {
    return Claim{NodeID: id, ClaimedAt: wire.Time(wire.Millis(at))}
}

// FromWire converts a decoded wire claim.
func FromWire(c wire.Claim) Claim { return Claim{NodeID: c.NodeID, ClaimedAt: wire.Time(c.ClaimedAt)} }

// Wire converts the claim to its wire form.
func (c Claim) Wire() wire.Claim { return wire.Claim{NodeID: c.NodeID, ClaimedAt: wire.Millis(c.ClaimedAt)} }

// Beats reports whether c takes precedence over other: earlier ClaimedAt wins,
// ties go to the smaller NodeID.
func (c Claim) Beats(other Claim) bool {
    if c.ClaimedAt.Before(other.ClaimedAt) { return true }
    return c.ClaimedAt.Equal(other.ClaimedAt) && c.NodeID < other.NodeID
}

// Liveness answers heartbeat-age questions; *health.Tracker satisfies it.
type Liveness interface {
    IsHealthy(id string, now time.Time, timeout time.Duration) bool
}

// Transition describes a change in local leadership caused by a step.
type Transition int

const (
    Unchanged Transition = iota
    Promoted
    Demoted
)

func (t Transition) String() string {
    switch t {
    case Promoted:
        return "promoted"
    case Demoted:
        return "demoted"
    default:
        return "unchanged"
    }
}

// Outcome reports what Receive did with a claim.
type Outcome struct {
    Accepted   bool
    Previous   *Claim
    Transition Transition
    // LeaderUnhealthy is set when the leader tracked after the step has no
    // fresh heartbeat; the caller should schedule an immediate Attempt.
    LeaderUnhealthy bool
}

// Machine holds one node's view of the leader.
type Machine struct {
    self     string
    live     Liveness
    timeout  time.Duration
    current  *Claim
    isLeader bool
}

// NewMachine returns a follower with no known leader.
func NewMachine(self string, live Liveness, timeout time.Duration) *Machine {
    return &Machine{self: self, live: live, timeout: timeout}
}

// Self returns the node id this machine runs for.
func (m *Machine) Self() string { return m.self }

// Current returns the believed leader claim.
func (m *Machine) Current() (Claim, bool) {
    if m.current == nil { return Claim{}, false }
    return *m.current, true
}

// IsLeader is derived from the current claim on every update.
func (m *Machine) IsLeader() bool { return m.isLeader }

// ShouldClaim reports whether a self-claim is warranted at now: no leader is
// known, or the believed leader has no fresh heartbeat.
func (m *Machine) ShouldClaim(now time.Time) bool {
    if m.current == nil { return true }
    return !m.live.IsHealthy(m.current.NodeID, now, m.timeout)
}

// Attempt returns a new self-claim to broadcast when ShouldClaim holds. The
// machine state is not changed; the claim takes effect when it is received.
func (m *Machine) Attempt(now time.Time) (Claim, bool) {
    if !m.ShouldClaim(now) { return Claim{}, false }
    return NewClaim(m.self, now), true
}

// Receive applies a claim observed on the election topic.
func (m *Machine) Receive(c Claim, now time.Time) Outcome {
    var out Outcome
    prevHealthy := m.current != nil && m.live.IsHealthy(m.current.NodeID, now, m.timeout)
    if m.current == nil || !prevHealthy || c.Beats(*m.current) {
        if m.current != nil {
            prev := *m.current
            out.Previous = &prev
        }
        next := c
        m.current = &next
        out.Accepted = true
    }
    was := m.isLeader
    m.isLeader = m.current != nil && m.current.NodeID == m.self
    switch {
    case m.isLeader && !was:
        out.Transition = Promoted
    case !m.isLeader && was:
        out.Transition = Demoted
    }
    out.LeaderUnhealthy = m.current != nil && !m.live.IsHealthy(m.current.NodeID, now, m.timeout)
    return out
}

// Renewal returns the leader's original claim for re-broadcast. ClaimedAt is
// never refreshed, so renewals inform late joiners without changing how the
// claim compares.
func (m *Machine) Renewal() (Claim, bool) {
    if !m.isLeader || m.current == nil { return Claim{}, false }
    return *m.current, true
}
