package wire

import (
    "errors"
    "testing"

    "github.com/stretchr/testify/require"
)

func TestDecodeHeartbeat(t *testing.T) {
    hb, err := DecodeHeartbeat([]byte(`{"nodeId":"n1","timestamp":1700000000000}`))
    require.NoError(t, err)
    require.Equal(t, Heartbeat{NodeID: "n1", Timestamp: 1700000000000}, hb)

    // older publishers use translatorId
    hb, err = DecodeHeartbeat([]byte(`{"translatorId":"t7","timestamp":5}`))
    require.NoError(t, err)
    require.Equal(t, "t7", hb.NodeID)
}

func TestDecodeRejectsMalformed(t *testing.T) {
    cases := []struct {
        name string
        fn   func([]byte) error
        in   string
    }{
        {"heartbeat not json", func(b []byte) error { _, err := DecodeHeartbeat(b); return err }, `nope`},
        {"heartbeat no id", func(b []byte) error { _, err := DecodeHeartbeat(b); return err }, `{"timestamp":1}`},
        {"heartbeat no ts", func(b []byte) error { _, err := DecodeHeartbeat(b); return err }, `{"nodeId":"a"}`},
        {"claim wrong type", func(b []byte) error { _, err := DecodeClaim(b); return err }, `{"nodeId":"a","claimedAt":"x"}`},
        {"claim no ts", func(b []byte) error { _, err := DecodeClaim(b); return err }, `{"nodeId":"a"}`},
        {"raw no id", func(b []byte) error { _, err := DecodeRaw(b); return err }, `{"payload":"x"}`},
        {"translated no id", func(b []byte) error { _, err := DecodeTranslated(b); return err }, `{"translatedPayload":"x"}`},
    }
    for _, c := range cases {
        t.Run(c.name, func(t *testing.T) {
            err := c.fn([]byte(c.in))
            require.Error(t, err)
            require.True(t, errors.Is(err, ErrMalformed), "got %v", err)
        })
    }
}

func TestClaimEncodingUsesMillis(t *testing.T) {
    b, err := Encode(Claim{NodeID: "b", ClaimedAt: 42})
    require.NoError(t, err)
    require.JSONEq(t, `{"nodeId":"b","claimedAt":42}`, string(b))

    c, err := DecodeClaim(b)
    require.NoError(t, err)
    require.Equal(t, int64(42), c.ClaimedAt)
    require.Equal(t, int64(42), Millis(Time(42)))
}

func TestDecodeRawAllowsEmptyPayload(t *testing.T) {
    m, err := DecodeRaw([]byte(`{"id":"x"}`))
    require.NoError(t, err)
    require.Equal(t, "x", m.ID)
    require.Empty(t, m.Payload)
}
