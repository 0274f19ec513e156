package election

import (
    "math/rand"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-fleet/pkg/health"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

const liveness = 5 * time.Second

var t0 = time.UnixMilli(1_700_000_000_000)

func newMachine(self string) (*Machine, *health.Tracker) {
    tr := health.NewTracker()
    return NewMachine(self, tr, liveness), tr
}

func TestInitialFollowerClaims(t *testing.T) {
    m, _ := newMachine("a")
    require.False(t, m.IsLeader())
    _, ok := m.Current()
    require.False(t, ok)

    c, ok := m.Attempt(t0)
    require.True(t, ok)
    require.Equal(t, Claim{NodeID: "a", ClaimedAt: t0}, c)
    require.False(t, m.IsLeader(), "attempt alone does not change state")
}

func TestHealthyLeaderSuppressesClaims(t *testing.T) {
    m, tr := newMachine("a")
    tr.RecordHeartbeat("z", t0)
    m.Receive(NewClaim("z", t0), t0)

    // "a" would win a tie-break but must not compete with a live leader
    _, ok := m.Attempt(t0.Add(4 * time.Second))
    require.False(t, ok)

    // heartbeat age reaches the liveness timeout
    _, ok = m.Attempt(t0.Add(liveness))
    require.True(t, ok)
}

func TestLeaderWithoutHeartbeatRecordInvitesClaim(t *testing.T) {
    m, _ := newMachine("a")
    out := m.Receive(NewClaim("z", t0), t0)
    require.True(t, out.Accepted)
    require.True(t, out.LeaderUnhealthy, "no heartbeat record for the new leader")
    _, ok := m.Attempt(t0)
    require.True(t, ok)
}

func TestTieBreakIsOrderIndependent(t *testing.T) {
    ca := NewClaim("alpha", t0)
    cb := NewClaim("beta", t0)
    for _, order := range [][]Claim{{ca, cb}, {cb, ca}} {
        m, tr := newMachine("observer")
        tr.RecordHeartbeat("alpha", t0)
        tr.RecordHeartbeat("beta", t0)
        for _, c := range order { m.Receive(c, t0) }
        cur, ok := m.Current()
        require.True(t, ok)
        require.Equal(t, "alpha", cur.NodeID)
    }
}

func TestEarliestClaimWinsEvenWhenItArrivesLate(t *testing.T) {
    m, tr := newMachine("observer")
    tr.RecordHeartbeat("late", t0)
    tr.RecordHeartbeat("early", t0)

    m.Receive(NewClaim("late", t0.Add(2*time.Second)), t0.Add(2*time.Second))
    out := m.Receive(NewClaim("early", t0.Add(time.Second)), t0.Add(3*time.Second))
    require.True(t, out.Accepted)
    cur, _ := m.Current()
    require.Equal(t, "early", cur.NodeID)
    require.Equal(t, "late", out.Previous.NodeID)
}

func TestNewerClaimRejectedWhileLeaderHealthy(t *testing.T) {
    m, tr := newMachine("observer")
    tr.RecordHeartbeat("old", t0)
    m.Receive(NewClaim("old", t0), t0)
    out := m.Receive(NewClaim("new", t0.Add(time.Second)), t0.Add(time.Second))
    require.False(t, out.Accepted)
    cur, _ := m.Current()
    require.Equal(t, "old", cur.NodeID)
}

func TestNewerClaimAcceptedWhenLeaderUnhealthy(t *testing.T) {
    m, tr := newMachine("observer")
    tr.RecordHeartbeat("old", t0)
    m.Receive(NewClaim("old", t0), t0)
    now := t0.Add(liveness + time.Second)
    tr.RecordHeartbeat("new", now)
    out := m.Receive(NewClaim("new", now), now)
    require.True(t, out.Accepted)
    require.False(t, out.LeaderUnhealthy)
}

func TestPromotionAndDemotion(t *testing.T) {
    m, tr := newMachine("b")
    tr.RecordHeartbeat("b", t0)
    out := m.Receive(NewClaim("b", t0), t0)
    require.Equal(t, Promoted, out.Transition)
    require.True(t, m.IsLeader())

    // duplicate delivery of the same claim changes nothing
    out = m.Receive(NewClaim("b", t0), t0)
    require.False(t, out.Accepted)
    require.Equal(t, Unchanged, out.Transition)

    tr.RecordHeartbeat("a", t0)
    out = m.Receive(NewClaim("a", t0), t0)
    require.Equal(t, Demoted, out.Transition)
    require.False(t, m.IsLeader())
}

func TestRenewalKeepsOriginalTimestamp(t *testing.T) {
    m, tr := newMachine("a")
    tr.RecordHeartbeat("a", t0)
    _, ok := m.Renewal()
    require.False(t, ok, "followers do not renew")

    m.Receive(NewClaim("a", t0), t0)
    r, ok := m.Renewal()
    require.True(t, ok)
    require.Equal(t, t0, r.ClaimedAt)
}

// A node that was partitioned away while leader keeps its old claimedAt. When
// it reconnects its renewal beats a newer, legitimately elected leader. This
// is the documented behaviour of the earliest-claim-wins rule.
func TestStaleLeaderRenewalDeposesNewerLeader(t *testing.T) {
    m, tr := newMachine("observer")
    stale := NewClaim("zz-stale", t0)
    now := t0.Add(time.Minute)
    tr.RecordHeartbeat("fresh", now)
    m.Receive(NewClaim("fresh", now.Add(-10*time.Second)), now)

    tr.RecordHeartbeat("zz-stale", now)
    out := m.Receive(stale, now)
    require.True(t, out.Accepted)
    cur, _ := m.Current()
    require.Equal(t, "zz-stale", cur.NodeID)
}

func TestWireRoundTripPreservesOrdering(t *testing.T) {
    c := NewClaim("a", t0.Add(123456*time.Microsecond))
    back := FromWire(c.Wire())
    require.Equal(t, c, back)
    require.Equal(t, wire.Claim{NodeID: "a", ClaimedAt: wire.Millis(t0) + 123}, c.Wire())
}

func TestConvergenceUnderShuffledDelivery(t *testing.T) {
    ids := []string{"n4", "n2", "n9", "n1", "n7"}
    claims := make([]Claim, 0, len(ids))
    for i, id := range ids {
        // n1 and n2 tie on the earliest timestamp
        at := t0.Add(time.Duration(i%3) * time.Millisecond)
        if id == "n1" || id == "n2" { at = t0 }
        claims = append(claims, NewClaim(id, at))
    }
    rng := rand.New(rand.NewSource(7))
    for _, self := range ids {
        m, tr := newMachine(self)
        for _, id := range ids { tr.RecordHeartbeat(id, t0) }
        order := append([]Claim(nil), claims...)
        rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
        for _, c := range order { m.Receive(c, t0) }
        cur, ok := m.Current()
        require.True(t, ok)
        require.Equal(t, "n1", cur.NodeID, "node %s", self)
        require.Equal(t, self == "n1", m.IsLeader())
    }
}
