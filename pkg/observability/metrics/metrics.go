package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    IsLeader = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "fleet",
        Name:      "is_leader",
        Help:      "1 if this node believes it is the leader, else 0",
    }, []string{"node"})

    LeaderChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Name:      "leader_changes_total",
        Help:      "Total number of accepted claims that changed the believed leader",
    }, []string{"node"})

    ClaimsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "election",
        Name:      "claims_published_total",
        Help:      "Claims broadcast by this node, by kind (attempt|renewal)",
    }, []string{"node", "kind"})

    ClaimsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "election",
        Name:      "claims_received_total",
        Help:      "Claims received, by result (accepted|rejected)",
    }, []string{"node", "result"})

    Heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "health",
        Name:      "heartbeats_total",
        Help:      "Heartbeats recorded by this node's tracker",
    }, []string{"node"})

    HealthyPeers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "fleet",
        Subsystem: "health",
        Name:      "healthy_peers",
        Help:      "Peers (including self) with a fresh heartbeat",
    }, []string{"node"})

    BufferDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "fleet",
        Subsystem: "router",
        Name:      "buffer_depth",
        Help:      "Translated messages held while following",
    }, []string{"node"})

    BufferDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "router",
        Name:      "buffer_dropped_total",
        Help:      "Buffered messages evicted by overflow (oldest first)",
    }, []string{"node"})

    Emitted = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "router",
        Name:      "messages_emitted_total",
        Help:      "Translated messages published, by mode (direct|flush)",
    }, []string{"node", "mode"})

    Malformed = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Name:      "malformed_total",
        Help:      "Payloads skipped because they could not be decoded",
    }, []string{"node", "topic"})

    HubSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "fleet",
        Subsystem: "hub",
        Name:      "subscribers",
        Help:      "Active streaming subscriptions on the hub",
    })

    HubMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "hub",
        Name:      "messages_total",
        Help:      "Messages published through the hub per topic",
    }, []string{"topic"})

    BusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "bus",
        Name:      "dropped_total",
        Help:      "Deliveries dropped because a local subscriber was full",
    }, []string{"topic"})

    SinkDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "fleet",
        Subsystem: "sink",
        Name:      "duplicates_total",
        Help:      "Translated messages whose id was already consumed",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(ClaimsPublished)
        prometheus.MustRegister(ClaimsReceived)
        prometheus.MustRegister(Heartbeats)
        prometheus.MustRegister(HealthyPeers)
        prometheus.MustRegister(BufferDepth)
        prometheus.MustRegister(BufferDropped)
        prometheus.MustRegister(Emitted)
        prometheus.MustRegister(Malformed)
        prometheus.MustRegister(HubSubscribers)
        prometheus.MustRegister(HubMessages)
        prometheus.MustRegister(BusDropped)
        prometheus.MustRegister(SinkDuplicates)
    })
}
