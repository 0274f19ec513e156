// Package httpjson is the management endpoint of fleet processes: JSON
// status, a liveness probe and Prometheus metrics, plus a small client for
// the status call.
package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-fleet/pkg/observability/metrics"
    "github.com/amirimatin/go-fleet/pkg/observability/tracing"
)

// StatusFunc returns a JSON-serializable snapshot for /status.
type StatusFunc func(ctx context.Context) (any, error)

// HealthFunc reports readiness for /healthz; nil means always healthy.
type HealthFunc func() error

// Server serves /status, /healthz and /metrics.
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu  sync.Mutex
    srv *http.Server
    ln  net.Listener
}

// NewServer binds to the given TCP address (e.g. ":8080").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS serves HTTPS with cfg.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler builds the mux; exposed for tests and for embedding. It registers
// the fleet metrics so every process serving /metrics exports them.
func Handler(status StatusFunc, healthy HealthFunc) http.Handler {
    obsmetrics.Register()
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        v, err := status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(v)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if healthy != nil {
            if err := healthy(); err != nil { http.Error(w, err.Error(), http.StatusServiceUnavailable); return }
        }
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

// Start serves in the background until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context, status StatusFunc, healthy HealthFunc) error {
    if status == nil { return errors.New("httpjson: nil StatusFunc") }
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil { ln = tls.NewListener(ln, s.tlsCfg) }
    srv := &http.Server{Handler: Handler(status, healthy), ReadHeaderTimeout: 5 * time.Second}

    s.mu.Lock()
    s.srv, s.ln = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "management endpoint listening at %s (status/healthz/metrics)", ln.Addr())
    return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}
