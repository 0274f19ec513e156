// Package config resolves fleet settings from defaults, an optional YAML file,
// FLEET_* environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/spf13/pflag"
    "github.com/spf13/viper"

    "github.com/amirimatin/go-fleet/pkg/engine"
    tlsx "github.com/amirimatin/go-fleet/pkg/security/tlsconfig"
)

// ErrMissingNodeID is returned when a node is started without an identity.
var ErrMissingNodeID = errors.New("config: node.id is required")

// Transport kinds accepted by transport.kind.
const (
    TransportInmem  = "inmem"
    TransportGossip = "gossip"
    TransportGRPC   = "grpc"
    TransportRedis  = "redis"
    TransportNATS   = "nats"
)

// Config is the resolved configuration shared by every fleetctl command.
type Config struct {
    Node       NodeConfig       `mapstructure:"node"`
    Timing     TimingConfig     `mapstructure:"timing"`
    Transport  TransportConfig  `mapstructure:"transport"`
    Discovery  DiscoveryConfig  `mapstructure:"discovery"`
    Management ManagementConfig `mapstructure:"management"`
    Monitor    MonitorConfig    `mapstructure:"monitor"`
    Producer   ProducerConfig   `mapstructure:"producer"`
    Sink       SinkConfig       `mapstructure:"sink"`
    TLS        TLSConfig        `mapstructure:"tls"`
    Logging    LoggingConfig    `mapstructure:"logging"`
    Trace      bool             `mapstructure:"trace"`
}

type NodeConfig struct {
    ID             string `mapstructure:"id"`
    BufferCapacity int    `mapstructure:"buffer_capacity"`
}

type TimingConfig struct {
    Heartbeat time.Duration `mapstructure:"heartbeat"`
    Liveness  time.Duration `mapstructure:"liveness"`
    Attempt   time.Duration `mapstructure:"attempt"`
    Renewal   time.Duration `mapstructure:"renewal"`
    Warmup    time.Duration `mapstructure:"warmup"`
    Priming   time.Duration `mapstructure:"priming"`
}

// TransportConfig selects the bus. Hub is the gRPC broker address: dialed by
// nodes and clients, bound by `fleetctl hub`.
type TransportConfig struct {
    Kind   string       `mapstructure:"kind"`
    Hub    string       `mapstructure:"hub"`
    Gossip GossipConfig `mapstructure:"gossip"`
    Redis  RedisConfig  `mapstructure:"redis"`
    NATS   NATSConfig   `mapstructure:"nats"`
}

type GossipConfig struct {
    Bind      string `mapstructure:"bind"`
    Advertise string `mapstructure:"advertise"`
}

type RedisConfig struct {
    Addr     string `mapstructure:"addr"`
    Username string `mapstructure:"username"`
    Password string `mapstructure:"password"`
    DB       int    `mapstructure:"db"`
    Prefix   string `mapstructure:"prefix"`
}

type NATSConfig struct {
    URL           string        `mapstructure:"url"`
    MaxReconnects int           `mapstructure:"max_reconnects"`
    ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// DiscoveryConfig feeds gossip seeds. Seeds and DNSNames are comma separated.
type DiscoveryConfig struct {
    Kind     string        `mapstructure:"kind"`
    Seeds    string        `mapstructure:"seeds"`
    DNSNames string        `mapstructure:"dns_names"`
    DNSPort  int           `mapstructure:"dns_port"`
    FilePath string        `mapstructure:"file_path"`
    FileEnv  string        `mapstructure:"file_env"`
    Refresh  time.Duration `mapstructure:"refresh"`
}

// ManagementConfig enables the status/metrics HTTP endpoint when Addr is set.
type ManagementConfig struct {
    Addr string `mapstructure:"addr"`
}

type MonitorConfig struct {
    Report time.Duration `mapstructure:"report"`
    Window time.Duration `mapstructure:"window"`
}

type ProducerConfig struct {
    Rate  float64 `mapstructure:"rate"`
    Burst int     `mapstructure:"burst"`
}

// SinkConfig: an empty DataDir keeps consumed ids in memory.
type SinkConfig struct {
    DataDir string `mapstructure:"data_dir"`
}

type TLSConfig struct {
    Enable     bool          `mapstructure:"enable"`
    CA         string        `mapstructure:"ca"`
    Cert       string        `mapstructure:"cert"`
    Key        string        `mapstructure:"key"`
    ServerName string        `mapstructure:"server_name"`
    SkipVerify bool          `mapstructure:"skip_verify"`
    Reload     time.Duration `mapstructure:"reload"`
}

type LoggingConfig struct {
    Format string `mapstructure:"format"`
    Debug  bool   `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
    t := engine.DefaultTiming()
    v.SetDefault("node.id", "")
    v.SetDefault("node.buffer_capacity", 100)

    v.SetDefault("timing.heartbeat", t.HeartbeatPeriod)
    v.SetDefault("timing.liveness", t.LivenessTimeout)
    v.SetDefault("timing.attempt", t.AttemptPeriod)
    v.SetDefault("timing.renewal", t.RenewalPeriod)
    v.SetDefault("timing.warmup", t.Warmup)
    v.SetDefault("timing.priming", t.Priming)

    v.SetDefault("transport.kind", TransportGRPC)
    v.SetDefault("transport.hub", "127.0.0.1:4300")
    v.SetDefault("transport.gossip.bind", ":7946")
    v.SetDefault("transport.gossip.advertise", "")
    v.SetDefault("transport.redis.addr", "127.0.0.1:6379")
    v.SetDefault("transport.redis.username", "")
    v.SetDefault("transport.redis.password", "")
    v.SetDefault("transport.redis.db", 0)
    v.SetDefault("transport.redis.prefix", "")
    v.SetDefault("transport.nats.url", "nats://127.0.0.1:4222")
    v.SetDefault("transport.nats.max_reconnects", 10)
    v.SetDefault("transport.nats.reconnect_wait", 2*time.Second)

    v.SetDefault("discovery.kind", "static")
    v.SetDefault("discovery.seeds", "")
    v.SetDefault("discovery.dns_names", "")
    v.SetDefault("discovery.dns_port", 7946)
    v.SetDefault("discovery.file_path", "")
    v.SetDefault("discovery.file_env", "")
    v.SetDefault("discovery.refresh", 5*time.Second)

    v.SetDefault("management.addr", "")

    v.SetDefault("monitor.report", 15*time.Second)
    v.SetDefault("monitor.window", 20*time.Second)

    v.SetDefault("producer.rate", 0.0)
    v.SetDefault("producer.burst", 1)

    v.SetDefault("sink.data_dir", "")

    v.SetDefault("tls.enable", false)
    v.SetDefault("tls.ca", "")
    v.SetDefault("tls.cert", "")
    v.SetDefault("tls.key", "")
    v.SetDefault("tls.server_name", "")
    v.SetDefault("tls.skip_verify", false)
    v.SetDefault("tls.reload", 10*time.Second)

    v.SetDefault("logging.format", "text")
    v.SetDefault("logging.debug", false)
    v.SetDefault("trace", false)
}

// Loader accumulates flag bindings before Load. Each Loader owns its own
// viper instance.
type Loader struct {
    v *viper.Viper
}

func NewLoader() *Loader {
    v := viper.New()
    setDefaults(v)
    v.SetEnvPrefix("FLEET")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()
    return &Loader{v: v}
}

// BindFlag makes a changed flag override key. Unset flags leave lower layers
// in place.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
    if f == nil { return fmt.Errorf("config: no flag for %s", key) }
    return l.v.BindPFlag(key, f)
}

// Load reads path (when non-empty) and returns the validated result.
func (l *Loader) Load(path string) (*Config, error) {
    if path != "" {
        l.v.SetConfigFile(path)
        if err := l.v.ReadInConfig(); err != nil { return nil, fmt.Errorf("config: read %s: %w", path, err) }
    }
    var c Config
    if err := l.v.Unmarshal(&c); err != nil { return nil, fmt.Errorf("config: decode: %w", err) }
    if err := c.Validate(); err != nil { return nil, err }
    return &c, nil
}

// Load is NewLoader().Load(path).
func Load(path string) (*Config, error) { return NewLoader().Load(path) }

// Validate checks enumerations and timing; node identity is checked separately
// by RequireNodeID since only `run` needs one.
func (c *Config) Validate() error {
    switch c.Transport.Kind {
    case TransportInmem, TransportGossip, TransportGRPC, TransportRedis, TransportNATS:
    default:
        return fmt.Errorf("config: unknown transport.kind %q", c.Transport.Kind)
    }
    switch c.Discovery.Kind {
    case "static", "dns", "file":
    default:
        return fmt.Errorf("config: unknown discovery.kind %q", c.Discovery.Kind)
    }
    switch c.Logging.Format {
    case "text", "json":
    default:
        return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
    }
    if c.Node.BufferCapacity < 0 { return errors.New("config: node.buffer_capacity must be >= 0") }
    if c.Monitor.Report <= 0 || c.Monitor.Window <= 0 { return errors.New("config: monitor periods must be positive") }
    return c.EngineTiming().Validate()
}

// RequireNodeID reports ErrMissingNodeID for a blank identity.
func (c *Config) RequireNodeID() error {
    if strings.TrimSpace(c.Node.ID) == "" { return ErrMissingNodeID }
    return nil
}

func (c *Config) EngineTiming() engine.Timing {
    return engine.Timing{
        HeartbeatPeriod: c.Timing.Heartbeat,
        LivenessTimeout: c.Timing.Liveness,
        AttemptPeriod:   c.Timing.Attempt,
        RenewalPeriod:   c.Timing.Renewal,
        Warmup:          c.Timing.Warmup,
        Priming:         c.Timing.Priming,
    }
}

func (c *Config) TLSOptions() tlsx.Options {
    return tlsx.Options{
        Enable:             c.TLS.Enable,
        CAFile:             c.TLS.CA,
        CertFile:           c.TLS.Cert,
        KeyFile:            c.TLS.Key,
        InsecureSkipVerify: c.TLS.SkipVerify,
        ServerName:         c.TLS.ServerName,
        Reload:             c.TLS.Reload,
    }
}
