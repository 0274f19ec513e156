// Package bootstrap assembles buses, nodes and the management endpoint from a
// loaded config.Config.
package bootstrap

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync/atomic"
    "time"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-fleet/pkg/config"
    "github.com/amirimatin/go-fleet/pkg/discovery"
    dDNS "github.com/amirimatin/go-fleet/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-fleet/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-fleet/pkg/discovery/static"
    "github.com/amirimatin/go-fleet/pkg/engine"
    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    "github.com/amirimatin/go-fleet/pkg/monitor"
    "github.com/amirimatin/go-fleet/pkg/transport"
    "github.com/amirimatin/go-fleet/pkg/transport/gossip"
    fleetgrpc "github.com/amirimatin/go-fleet/pkg/transport/grpc"
    "github.com/amirimatin/go-fleet/pkg/transport/httpjson"
    "github.com/amirimatin/go-fleet/pkg/transport/inmem"
    fleetnats "github.com/amirimatin/go-fleet/pkg/transport/nats"
    fleetredis "github.com/amirimatin/go-fleet/pkg/transport/redis"
)

const dialTimeout = 10 * time.Second

// ConfigureLogging turns on JSON lines and debug output when cfg asks for
// them. It never turns off what FLEET_LOG_* already enabled.
func ConfigureLogging(cfg *config.Config) {
    if cfg.Logging.Format == "json" { logutil.SetJSON(true) }
    if cfg.Logging.Debug { logutil.SetDebug(true) }
}

// Discovery builds the seed source used by the gossip transport.
func Discovery(cfg *config.Config, logger *log.Logger) discovery.Discovery {
    d := cfg.Discovery
    switch d.Kind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: dStatic.Parse(d.DNSNames), Port: d.DNSPort, Refresh: d.Refresh, Logger: logger})
    case "file":
        return dFile.New(dFile.Options{Path: d.FilePath, Env: d.FileEnv, Refresh: d.Refresh})
    default:
        return dStatic.New(dStatic.Parse(d.Seeds)...)
    }
}

// BuildBus connects the transport selected by transport.kind. name identifies
// this process to transports that need one (gossip member name, NATS client
// name). The caller owns the returned bus.
func BuildBus(ctx context.Context, cfg *config.Config, name string, logger *log.Logger) (transport.Bus, error) {
    if logger == nil { logger = log.Default() }
    t := cfg.Transport
    switch t.Kind {
    case config.TransportInmem:
        logutil.Warnf(logger, "in-memory transport reaches only this process")
        return inmem.New(), nil
    case config.TransportGossip:
        b, err := gossip.New(gossip.Options{NodeID: name, Bind: t.Gossip.Bind, Advertise: t.Gossip.Advertise, Seeds: Discovery(cfg, logger), Logger: logger})
        if err != nil { return nil, err }
        if err := b.Start(ctx); err != nil { return nil, err }
        return b, nil
    case config.TransportGRPC:
        tlsCfg, err := cfg.TLSOptions().Client()
        if err != nil { return nil, fmt.Errorf("bootstrap: tls client config: %w", err) }
        return fleetgrpc.Dial(t.Hub, fleetgrpc.ClientOptions{Timeout: dialTimeout, TLS: tlsCfg})
    case config.TransportRedis:
        tlsCfg, err := cfg.TLSOptions().Client()
        if err != nil { return nil, fmt.Errorf("bootstrap: tls client config: %w", err) }
        dctx, cancel := context.WithTimeout(ctx, dialTimeout)
        defer cancel()
        r := t.Redis
        return fleetredis.Dial(dctx, fleetredis.Options{Addr: r.Addr, Username: r.Username, Password: r.Password, DB: r.DB, TLS: tlsCfg, Prefix: r.Prefix, Logger: logger})
    case config.TransportNATS:
        tlsCfg, err := cfg.TLSOptions().Client()
        if err != nil { return nil, fmt.Errorf("bootstrap: tls client config: %w", err) }
        n := t.NATS
        return fleetnats.Dial(fleetnats.Options{URL: n.URL, Name: name, MaxReconnects: n.MaxReconnects, ReconnectWait: n.ReconnectWait, Timeout: dialTimeout, TLS: tlsCfg, Logger: logger})
    }
    return nil, fmt.Errorf("bootstrap: unknown transport %q", t.Kind)
}

// StartManagement serves status, health and metrics on management.addr. It
// returns nil, nil when no address is configured.
func StartManagement(ctx context.Context, cfg *config.Config, logger *log.Logger, status httpjson.StatusFunc, healthy httpjson.HealthFunc) (*httpjson.Server, error) {
    if cfg.Management.Addr == "" { return nil, nil }
    srv := httpjson.NewServer(cfg.Management.Addr, logger)
    tlsCfg, err := cfg.TLSOptions().Server()
    if err != nil { return nil, fmt.Errorf("bootstrap: tls server config: %w", err) }
    if tlsCfg != nil { srv.UseTLS(tlsCfg) }
    if err := srv.Start(ctx, status, healthy); err != nil { return nil, err }
    return srv, nil
}

// NodeOptions converts cfg into engine options over bus.
func NodeOptions(cfg *config.Config, bus transport.Bus, logger *log.Logger) engine.Options {
    return engine.Options{
        NodeID:         cfg.Node.ID,
        Bus:            bus,
        Logger:         logger,
        BufferCapacity: cfg.Node.BufferCapacity,
        Timing:         cfg.EngineTiming(),
    }
}

// RunNode connects the bus, starts the management endpoint and runs one
// engine node until ctx ends or the node fails. A transport disconnect is
// returned as an error wrapping transport.ErrClosed.
func RunNode(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
    if err := cfg.RequireNodeID(); err != nil { return err }
    if logger == nil { logger = log.Default() }
    logger = logutil.ForNode(logger, cfg.Node.ID)

    bus, err := BuildBus(ctx, cfg, cfg.Node.ID, logger)
    if err != nil { return err }
    defer bus.Close()

    node, err := engine.New(NodeOptions(cfg, bus, logger))
    if err != nil { return err }

    var stopped atomic.Bool
    mgmt, err := StartManagement(ctx, cfg, logger,
        func(context.Context) (any, error) { return node.Status(), nil },
        func() error {
            if stopped.Load() { return errors.New("node stopped") }
            return nil
        })
    if err != nil { return err }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        defer stopped.Store(true)
        return node.Run(gctx)
    })
    if mgmt != nil {
        g.Go(func() error {
            <-gctx.Done()
            sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
            defer cancel()
            return mgmt.Stop(sctx)
        })
    }
    return g.Wait()
}

// StartHub serves the gRPC broker on transport.hub in the background until
// ctx ends.
func StartHub(ctx context.Context, cfg *config.Config, logger *log.Logger) (*fleetgrpc.Server, error) {
    srv := fleetgrpc.NewServer(cfg.Transport.Hub).WithLogger(logger)
    tlsCfg, err := cfg.TLSOptions().Server()
    if err != nil { return nil, fmt.Errorf("bootstrap: tls server config: %w", err) }
    if tlsCfg != nil { srv.UseTLS(tlsCfg) }
    if err := srv.Start(ctx); err != nil { return nil, err }
    return srv, nil
}

// RunMonitor watches the fleet and, with management.addr set, serves the
// latest snapshot on /status.
func RunMonitor(ctx context.Context, cfg *config.Config, name string, logger *log.Logger) error {
    if logger == nil { logger = log.Default() }
    bus, err := BuildBus(ctx, cfg, name, logger)
    if err != nil { return err }
    defer bus.Close()
    m, err := monitor.New(monitor.Options{Bus: bus, Logger: logger, ReportPeriod: cfg.Monitor.Report, Window: cfg.Monitor.Window})
    if err != nil { return err }
    if _, err := StartManagement(ctx, cfg, logger, m.Status, nil); err != nil { return err }
    return m.Run(ctx)
}
