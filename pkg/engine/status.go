package engine

import "time"

// Status is a JSON-serializable snapshot of one node, served on the
// management endpoint.
type Status struct {
    NodeID string `json:"nodeId"`
    Phase  string `json:"phase"`
    // Leader is the believed leader id; empty until a claim was accepted.
    Leader          string     `json:"leader,omitempty"`
    LeaderClaimedAt *time.Time `json:"leaderClaimedAt,omitempty"`
    IsLeader        bool       `json:"isLeader"`
    // LeaderHealthy reports whether the believed leader heartbeats in time.
    LeaderHealthy bool     `json:"leaderHealthy"`
    Buffered      int      `json:"buffered"`
    Dropped       uint64   `json:"dropped"`
    HealthyPeers  []string `json:"healthyPeers"`
}
