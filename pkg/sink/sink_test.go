package sink

import (
    "context"
    "io"
    "log"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/transport/httpjson"
    "github.com/amirimatin/go-fleet/pkg/transport/inmem"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func encode(t *testing.T, id string) []byte {
    t.Helper()
    b, err := wire.Encode(wire.TranslatedMessage{ID: id, TranslatedPayload: "Translated: " + id})
    require.NoError(t, err)
    return b
}

func exerciseStore(t *testing.T, s Store) {
    t.Helper()
    seen, err := s.Mark("a")
    require.NoError(t, err)
    require.False(t, seen)
    seen, err = s.Mark("b")
    require.NoError(t, err)
    require.False(t, seen)
    seen, err = s.Mark("a")
    require.NoError(t, err)
    require.True(t, seen)
    n, err := s.Len()
    require.NoError(t, err)
    require.Equal(t, 2, n)
}

func TestMemoryStore(t *testing.T) { exerciseStore(t, NewMemoryStore()) }

func TestBadgerStoreInMemory(t *testing.T) {
    s, err := OpenBadger("")
    require.NoError(t, err)
    defer s.Close()
    exerciseStore(t, s)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
    dir := t.TempDir()
    s, err := OpenBadger(dir)
    require.NoError(t, err)
    _, err = s.Mark("x")
    require.NoError(t, err)
    require.NoError(t, s.Close())

    s, err = OpenBadger(dir)
    require.NoError(t, err)
    defer s.Close()
    seen, err := s.Mark("x")
    require.NoError(t, err)
    require.True(t, seen)
}

func TestHandleCountsDuplicatesAndMalformed(t *testing.T) {
    var order []string
    s, err := New(Options{Bus: inmem.New(), Logger: quiet(), OnMessage: func(m wire.TranslatedMessage, dup bool) {
        if !dup { order = append(order, m.ID) }
    }})
    require.NoError(t, err)
    for _, id := range []string{"1", "2", "1", "3"} { require.NoError(t, s.Handle(encode(t, id))) }
    require.NoError(t, s.Handle([]byte(`{"id":""}`)))
    require.Equal(t, Stats{Received: 4, Unique: 3, Duplicates: 1, Malformed: 1}, s.Stats())
    require.Equal(t, []string{"1", "2", "3"}, order)
}

func TestRunConsumesBusAndFailsOnClose(t *testing.T) {
    bus := inmem.New()
    s, err := New(Options{Bus: bus, Logger: quiet()})
    require.NoError(t, err)
    done := make(chan error, 1)
    go func() { done <- s.Run(context.Background()) }()
    require.Eventually(t, func() bool { return bus.Subscribers(wire.TopicTranslated) == 1 }, time.Second, time.Millisecond)

    require.NoError(t, bus.Publish(context.Background(), wire.TopicTranslated, encode(t, "m1")))
    require.Eventually(t, func() bool { return s.Stats().Received == 1 }, time.Second, time.Millisecond)
    require.NoError(t, bus.Close())
    select {
    case err := <-done:
        require.ErrorIs(t, err, transport.ErrClosed)
    case <-time.After(2 * time.Second):
        t.Fatalf("sink kept running")
    }
}

func TestDuplicatesExportedOnMetrics(t *testing.T) {
    s, err := New(Options{Bus: inmem.New(), Logger: quiet()})
    require.NoError(t, err)
    require.NoError(t, s.Handle(encode(t, "d1")))
    require.NoError(t, s.Handle(encode(t, "d1")))
    require.Equal(t, uint64(1), s.Stats().Duplicates)

    h := httpjson.Handler(func(context.Context) (any, error) { return s.Stats(), nil }, nil)
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    require.Equal(t, http.StatusOK, rec.Code)
    require.Contains(t, rec.Body.String(), "fleet_sink_duplicates_total")
}
