package httpjson

import (
    "context"
    "errors"
    "io"
    "log"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

type snapshot struct {
    NodeID   string `json:"nodeId"`
    IsLeader bool   `json:"isLeader"`
}

func TestStatusRoundTrip(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    s := NewServer("127.0.0.1:0", log.New(io.Discard, "", 0))
    require.NoError(t, s.Start(ctx, func(context.Context) (any, error) {
        return snapshot{NodeID: "n1", IsLeader: true}, nil
    }, nil))
    defer s.Stop(context.Background())

    var got snapshot
    require.NoError(t, NewClient(time.Second).GetStatusInto(ctx, s.Addr(), &got))
    require.Equal(t, snapshot{NodeID: "n1", IsLeader: true}, got)
}

func TestHealthzReflectsHealthFunc(t *testing.T) {
    var down error
    h := Handler(func(context.Context) (any, error) { return nil, nil }, func() error { return down })
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    require.Equal(t, http.StatusOK, rec.Code)

    down = errors.New("not started")
    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusErrorAndMethod(t *testing.T) {
    h := Handler(func(context.Context) (any, error) { return nil, errors.New("boom") }, nil)
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
    require.Equal(t, http.StatusInternalServerError, rec.Code)
    require.True(t, strings.Contains(rec.Body.String(), "boom"))

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
    require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
    rec := httptest.NewRecorder()
    Handler(func(context.Context) (any, error) { return nil, nil }, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    require.Equal(t, http.StatusOK, rec.Code)
}

func TestClientGivesUpAfterRetries(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        http.Error(w, "nope", http.StatusBadGateway)
    }))
    defer srv.Close()
    _, err := NewClient(time.Second).GetStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
    require.ErrorContains(t, err, "502")
}
