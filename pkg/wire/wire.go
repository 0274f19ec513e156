// Package wire defines the topics and JSON records exchanged between engine
// nodes, producers, consumers and the monitor. Timestamps travel as Unix
// milliseconds.
package wire

import (
    "encoding/json"
    "errors"
    "fmt"
    "time"
)

// Logical topic names shared by every participant.
const (
    TopicHealth     = "health.status"
    TopicElection   = "leader.election"
    TopicRaw        = "raw.messages"
    TopicTranslated = "translated.messages"
)

// Topics lists every topic in a stable order (used by the sniffer).
var Topics = []string{TopicRaw, TopicTranslated, TopicHealth, TopicElection}

// ErrMalformed is returned by decoders for undecodable or incomplete payloads.
var ErrMalformed = errors.New("wire: malformed message")

// Heartbeat is a liveness claim from one node.
type Heartbeat struct {
    NodeID    string `json:"nodeId"`
    Timestamp int64  `json:"timestamp"`
}

// Claim asserts that NodeID is leader as of ClaimedAt.
type Claim struct {
    NodeID    string `json:"nodeId"`
    ClaimedAt int64  `json:"claimedAt"`
}

// RawMessage is an input record from an external producer.
type RawMessage struct {
    ID      string `json:"id"`
    Payload string `json:"payload"`
}

// TranslatedMessage is the processed record emitted by the leader.
type TranslatedMessage struct {
    ID                string `json:"id"`
    TranslatedPayload string `json:"translatedPayload"`
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// Time converts Unix milliseconds back to a time.Time.
func Time(ms int64) time.Time { return time.UnixMilli(ms) }

// legacyNode accepts the field name used by older publishers.
type legacyNode struct {
    NodeID       string `json:"nodeId"`
    TranslatorID string `json:"translatorId"`
}

func (l legacyNode) id() string {
    if l.NodeID != "" { return l.NodeID }
    return l.TranslatorID
}

// Encode marshals any wire record.
func Encode(v any) ([]byte, error) { return json.Marshal(v) }

// DecodeHeartbeat parses and validates a health.status payload.
func DecodeHeartbeat(b []byte) (Heartbeat, error) {
    var in struct {
        legacyNode
        Timestamp int64 `json:"timestamp"`
    }
    if err := json.Unmarshal(b, &in); err != nil {
        return Heartbeat{}, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    hb := Heartbeat{NodeID: in.id(), Timestamp: in.Timestamp}
    if hb.NodeID == "" { return Heartbeat{}, fmt.Errorf("%w: heartbeat without node id", ErrMalformed) }
    if hb.Timestamp <= 0 { return Heartbeat{}, fmt.Errorf("%w: heartbeat without timestamp", ErrMalformed) }
    return hb, nil
}

// DecodeClaim parses and validates a leader.election payload.
func DecodeClaim(b []byte) (Claim, error) {
    var in struct {
        legacyNode
        ClaimedAt int64 `json:"claimedAt"`
    }
    if err := json.Unmarshal(b, &in); err != nil {
        return Claim{}, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    c := Claim{NodeID: in.id(), ClaimedAt: in.ClaimedAt}
    if c.NodeID == "" { return Claim{}, fmt.Errorf("%w: claim without node id", ErrMalformed) }
    if c.ClaimedAt <= 0 { return Claim{}, fmt.Errorf("%w: claim without claimedAt", ErrMalformed) }
    return c, nil
}

// DecodeRaw parses and validates a raw.messages payload. An empty payload is
// allowed; an empty id is not, since it is the correlation key.
func DecodeRaw(b []byte) (RawMessage, error) {
    var m RawMessage
    if err := json.Unmarshal(b, &m); err != nil {
        return RawMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    if m.ID == "" { return RawMessage{}, fmt.Errorf("%w: raw message without id", ErrMalformed) }
    return m, nil
}

// DecodeTranslated parses and validates a translated.messages payload.
func DecodeTranslated(b []byte) (TranslatedMessage, error) {
    var m TranslatedMessage
    if err := json.Unmarshal(b, &m); err != nil {
        return TranslatedMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    if m.ID == "" { return TranslatedMessage{}, fmt.Errorf("%w: translated message without id", ErrMalformed) }
    return m, nil
}
