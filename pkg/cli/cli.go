// Package cli provides the fleetctl cobra commands.
package cli

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-fleet/pkg/bootstrap"
    "github.com/amirimatin/go-fleet/pkg/config"
    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    tracing "github.com/amirimatin/go-fleet/pkg/observability/tracing"
    "github.com/amirimatin/go-fleet/pkg/producer"
    "github.com/amirimatin/go-fleet/pkg/sink"
    "github.com/amirimatin/go-fleet/pkg/sniffer"
    "github.com/amirimatin/go-fleet/pkg/transport/httpjson"
    "github.com/amirimatin/go-fleet/pkg/wire"
)

// globalFlags maps persistent flag names to config keys.
var globalFlags = map[string]string{
    "transport":       "transport.kind",
    "hub":             "transport.hub",
    "gossip-bind":     "transport.gossip.bind",
    "gossip-adv":      "transport.gossip.advertise",
    "redis-addr":      "transport.redis.addr",
    "redis-prefix":    "transport.redis.prefix",
    "nats-url":        "transport.nats.url",
    "discovery":       "discovery.kind",
    "join":            "discovery.seeds",
    "dns-names":       "discovery.dns_names",
    "file-path":       "discovery.file_path",
    "mgmt-addr":       "management.addr",
    "tls-enable":      "tls.enable",
    "tls-ca":          "tls.ca",
    "tls-cert":        "tls.cert",
    "tls-key":         "tls.key",
    "tls-server-name": "tls.server_name",
    "tls-skip-verify": "tls.skip_verify",
    "log-format":      "logging.format",
    "debug":           "logging.debug",
    "trace":           "trace",
}

// NewRootCmd returns fleetctl with every subcommand attached.
func NewRootCmd() *cobra.Command {
    root := &cobra.Command{
        Use:           "fleetctl",
        Short:         "Leader-elected translator fleet over pub/sub",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    pf := root.PersistentFlags()
    pf.String("config", "", "YAML config file (FLEET_* env vars override it)")
    pf.String("transport", "", "bus: inmem|gossip|grpc|redis|nats")
    pf.String("hub", "", "gRPC hub address (host:port)")
    pf.String("gossip-bind", "", "gossip bind addr (host:port)")
    pf.String("gossip-adv", "", "gossip advertise addr (host:port, optional)")
    pf.String("redis-addr", "", "redis address (host:port)")
    pf.String("redis-prefix", "", "prefix prepended to redis channel names")
    pf.String("nats-url", "", "NATS server URL")
    pf.String("discovery", "", "gossip seed discovery: static|dns|file")
    pf.String("join", "", "comma-separated gossip seeds (host:port), used by discovery=static")
    pf.String("dns-names", "", "comma-separated DNS names or SRV records")
    pf.String("file-path", "", "path or glob to a seeds file")
    pf.String("mgmt-addr", "", "management HTTP address (status/healthz/metrics)")
    pf.Bool("tls-enable", false, "enable TLS for hub, redis, nats and management connections")
    pf.String("tls-ca", "", "path to CA cert (PEM)")
    pf.String("tls-cert", "", "path to certificate (PEM)")
    pf.String("tls-key", "", "path to private key (PEM)")
    pf.String("tls-server-name", "", "expected server name (for TLS validation)")
    pf.Bool("tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    pf.String("log-format", "", "log format: text|json")
    pf.Bool("debug", false, "enable debug logging")
    pf.Bool("trace", false, "enable OpenTelemetry stdout tracing (dev)")

    root.AddCommand(NewRunCmd(), NewHubCmd(), NewMonitorCmd(), NewProduceCmd(), NewConsumeCmd(), NewSniffCmd(), NewStatusCmd())
    return root
}

// load resolves the config for cmd, binding global flags and the command's
// own flag->key pairs.
func load(cmd *cobra.Command, local map[string]string) (*config.Config, error) {
    l := config.NewLoader()
    for _, m := range []map[string]string{globalFlags, local} {
        for name, key := range m {
            if f := cmd.Flags().Lookup(name); f != nil {
                if err := l.BindFlag(key, f); err != nil { return nil, err }
            }
        }
    }
    path, _ := cmd.Flags().GetString("config")
    cfg, err := l.Load(path)
    if err != nil { return nil, err }
    bootstrap.ConfigureLogging(cfg)
    return cfg, nil
}

// withTracing runs fn with the stdout tracer installed when cfg.Trace is set.
func withTracing(cfg *config.Config, fn func() error) error {
    shutdown, err := tracing.Setup(cfg.Trace)
    if err != nil {
        log.Printf("tracing setup error: %v", err)
        return fn()
    }
    defer func() { _ = shutdown(context.Background()) }()
    return fn()
}

func clientName(role string) string { return role + "-" + uuid.NewString()[:8] }

// NewRunCmd returns the "run" command which starts one fleet node.
func NewRunCmd() *cobra.Command {
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a fleet node (heartbeat, election, translate)",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, map[string]string{"id": "node.id", "buffer": "node.buffer_capacity"})
            if err != nil { return err }
            if err := cfg.RequireNodeID(); err != nil { return fmt.Errorf("%w (set --id or FLEET_NODE_ID)", err) }
            ctx, cancel := signalContext()
            defer cancel()
            return withTracing(cfg, func() error { return bootstrap.RunNode(ctx, cfg, log.Default()) })
        },
    }
    cmd.Flags().String("id", "", "node id (required, unique per node)")
    cmd.Flags().Int("buffer", 0, "follower buffer capacity")
    return cmd
}

// NewHubCmd returns the "hub" command which serves the gRPC broker.
func NewHubCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "hub",
        Short: "Serve the gRPC pub/sub hub on --hub",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, nil)
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            return withTracing(cfg, func() error {
                srv, err := bootstrap.StartHub(ctx, cfg, log.Default())
                if err != nil { return err }
                fmt.Printf("hub listening on %s. Press Ctrl+C to exit.\n", srv.Addr())
                <-ctx.Done()
                sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
                defer scancel()
                return srv.Stop(sctx)
            })
        },
    }
}

// NewMonitorCmd returns the "monitor" command.
func NewMonitorCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "monitor",
        Short: "Report healthy nodes and the current leader",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, nil)
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            return bootstrap.RunMonitor(ctx, cfg, clientName("monitor"), log.Default())
        },
    }
}

// NewProduceCmd returns the "produce" command.
func NewProduceCmd() *cobra.Command {
    var (
        payloads []string
        count    int
    )
    cmd := &cobra.Command{
        Use:   "produce",
        Short: "Publish raw messages for the fleet to translate",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, map[string]string{"rate": "producer.rate", "burst": "producer.burst"})
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            bus, err := bootstrap.BuildBus(ctx, cfg, clientName("producer"), log.Default())
            if err != nil { return err }
            defer bus.Close()
            p, err := producer.New(producer.Options{Bus: bus, Rate: cfg.Producer.Rate, Burst: cfg.Producer.Burst})
            if err != nil { return err }
            ids, err := p.Run(ctx, payloads, count)
            for _, id := range ids { fmt.Println(id) }
            return err
        },
    }
    cmd.Flags().StringSliceVar(&payloads, "payload", []string{"Hello, fleet!"}, "payload(s), cycled across messages")
    cmd.Flags().IntVar(&count, "count", 1, "number of messages")
    cmd.Flags().Float64("rate", 0, "messages per second (0 = unlimited)")
    cmd.Flags().Int("burst", 0, "rate limiter burst")
    return cmd
}

// NewConsumeCmd returns the "consume" command which prints translated
// output and flags duplicate ids.
func NewConsumeCmd() *cobra.Command {
    cmd := &cobra.Command{
        Use:   "consume",
        Short: "Consume translated messages, counting duplicates",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, map[string]string{"data": "sink.data_dir"})
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            var store sink.Store = sink.NewMemoryStore()
            if cfg.Sink.DataDir != "" {
                bs, err := sink.OpenBadger(cfg.Sink.DataDir)
                if err != nil { return err }
                store = bs
            }
            defer store.Close()
            bus, err := bootstrap.BuildBus(ctx, cfg, clientName("consumer"), log.Default())
            if err != nil { return err }
            defer bus.Close()
            s, err := sink.New(sink.Options{Bus: bus, Store: store, OnMessage: func(m wire.TranslatedMessage, dup bool) {
                if dup {
                    logutil.Warnf(log.Default(), "duplicate %s: %s", m.ID, m.TranslatedPayload)
                    return
                }
                fmt.Printf("%s %s\n", m.ID, m.TranslatedPayload)
            }})
            if err != nil { return err }
            if _, err := bootstrap.StartManagement(ctx, cfg, log.Default(), func(context.Context) (any, error) { return s.Stats(), nil }, nil); err != nil { return err }
            err = s.Run(ctx)
            st := s.Stats()
            logutil.Infof(log.Default(), "consumed %d message(s): %d unique, %d duplicate, %d malformed", st.Received, st.Unique, st.Duplicates, st.Malformed)
            return err
        },
    }
    cmd.Flags().String("data", "", "badger directory for consumed ids (empty = memory)")
    return cmd
}

// NewSniffCmd returns the "sniff" command.
func NewSniffCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "sniff [topic...]",
        Short: "Print every message on the fleet topics",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, nil)
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            bus, err := bootstrap.BuildBus(ctx, cfg, clientName("sniffer"), log.Default())
            if err != nil { return err }
            defer bus.Close()
            s, err := sniffer.New(bus, os.Stdout, args...)
            if err != nil { return err }
            return s.Run(ctx)
        },
    }
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch a node's status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := load(cmd, nil)
            if err != nil { return err }
            client := httpjson.NewClient(timeout)
            tlsCfg, err := cfg.TLSOptions().Client()
            if err != nil { return fmt.Errorf("tls client config: %w", err) }
            if tlsCfg != nil { client.UseTLS(tlsCfg) }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { os.Stdout.Write([]byte("\n")) }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management HTTP address of a node (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// Execute runs the root command and maps errors to an exit code.
func Execute() int {
    err := NewRootCmd().Execute()
    if err == nil { return 0 }
    fmt.Fprintln(os.Stderr, "error:", err)
    if errors.Is(err, config.ErrMissingNodeID) { return 2 }
    return 1
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
