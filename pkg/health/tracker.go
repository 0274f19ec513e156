// Package health records the most recent heartbeat per node and answers
// liveness questions by heartbeat age. Records are never deleted; a silent
// node simply ages out.
package health

import (
    "sort"
    "sync"
    "time"
)

// Record is the last heartbeat observed for a node.
type Record struct {
    NodeID     string
    LastSeenAt time.Time
}

// Tracker is a concurrent map of node id to last heartbeat time.
type Tracker struct {
    mu   sync.RWMutex
    seen map[string]time.Time
}

func NewTracker() *Tracker { return &Tracker{seen: make(map[string]time.Time)} }

// RecordHeartbeat upserts the record for id. An older timestamp for an id
// overwrites a newer one; the last heartbeat received wins.
func (t *Tracker) RecordHeartbeat(id string, at time.Time) {
    t.mu.Lock()
    t.seen[id] = at
    t.mu.Unlock()
}

// Lookup returns the record for id, if any.
func (t *Tracker) Lookup(id string) (Record, bool) {
    t.mu.RLock()
    at, ok := t.seen[id]
    t.mu.RUnlock()
    return Record{NodeID: id, LastSeenAt: at}, ok
}

// IsHealthy reports whether id has a record younger than timeout at now.
func (t *Tracker) IsHealthy(id string, now time.Time, timeout time.Duration) bool {
    r, ok := t.Lookup(id)
    return ok && now.Sub(r.LastSeenAt) < timeout
}

// HealthyPeers returns the sorted ids passing IsHealthy at now.
func (t *Tracker) HealthyPeers(now time.Time, timeout time.Duration) []string {
    t.mu.RLock()
    out := make([]string, 0, len(t.seen))
    for id, at := range t.seen {
        if now.Sub(at) < timeout { out = append(out, id) }
    }
    t.mu.RUnlock()
    sort.Strings(out)
    return out
}

// Known returns every id ever recorded, sorted.
func (t *Tracker) Known() []string {
    t.mu.RLock()
    out := make([]string, 0, len(t.seen))
    for id := range t.seen { out = append(out, id) }
    t.mu.RUnlock()
    sort.Strings(out)
    return out
}

// HasPeerOtherThan reports whether any node besides self has been recorded.
func (t *Tracker) HasPeerOtherThan(self string) bool {
    t.mu.RLock()
    defer t.mu.RUnlock()
    for id := range t.seen {
        if id != self { return true }
    }
    return false
}
