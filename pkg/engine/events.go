package engine

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    EventLeaderChanged   EventType = "leader_changed"
    EventPromoted        EventType = "promoted"
    EventDemoted         EventType = "demoted"
    EventClaimPublished  EventType = "claim_published"
    EventStartupComplete EventType = "startup_complete"
)

// Event describes a change in a node's coordination state. Only the fields
// relevant to the type are set.
type Event struct {
    Type      EventType
    At        time.Time
    Leader    string
    ClaimedAt time.Time
    // Renewal marks a claim_published event that re-broadcast an old claim.
    Renewal bool
    // Flushed is the number of buffered messages emitted on promotion.
    Flushed int
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// A slow consumer misses events rather than stalling the node.
func (n *Node) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    n.eb.add(ch)
    go func() {
        <-ctx.Done()
        n.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    delete(e.subs, ch)
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
