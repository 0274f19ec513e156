// Package dns resolves seeds from SRV records (_svc._proto.domain) or plain
// host names. Results are cached for Refresh.
package dns

import (
    "context"
    "log"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-fleet/pkg/discovery"
    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
)

// DefaultPort is memberlist's default gossip port.
const DefaultPort = 7946

type Options struct {
    // Names holds SRV names, host names, or literal host:port entries.
    Names []string
    // Port is appended to A/AAAA answers.
    Port     int
    Refresh  time.Duration
    Timeout  time.Duration
    Resolver *net.Resolver
    Logger   *log.Logger
}

type source struct {
    opts  Options
    mu    sync.Mutex
    at    time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Port == 0 { opts.Port = DefaultPort }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &source{opts: opts}
}

func (s *source) Seeds() []string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if len(s.cache) > 0 && time.Since(s.at) < s.opts.Refresh {
        return append([]string(nil), s.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
    defer cancel()
    s.cache, s.at = s.resolve(ctx), time.Now()
    return append([]string(nil), s.cache...)
}

func (s *source) resolve(ctx context.Context) []string {
    var out []string
    for _, name := range s.opts.Names {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
        case strings.HasPrefix(name, "_"):
            out = append(out, s.srv(ctx, name)...)
        case strings.Contains(name, ":"):
            out = append(out, name)
        default:
            out = append(out, s.host(ctx, name)...)
        }
    }
    return discovery.Normalize(out)
}

func (s *source) srv(ctx context.Context, fqdn string) []string {
    svc, proto, domain := splitSRV(fqdn)
    if domain == "" { return nil }
    _, recs, err := s.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        logutil.Warnf(s.opts.Logger, "dns: SRV %s: %v", fqdn, err)
        return nil
    }
    out := make([]string, 0, len(recs))
    for _, r := range recs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(r.Target, "."), strconv.Itoa(int(r.Port))))
    }
    return out
}

func (s *source) host(ctx context.Context, host string) []string {
    ips, err := s.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        logutil.Warnf(s.opts.Logger, "dns: lookup %s: %v", host, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(s.opts.Port))) }
    return out
}

// splitSRV parses _service._proto.domain.
func splitSRV(fqdn string) (service, proto, domain string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "" }
    return parts[0][1:], parts[1][1:], parts[2]
}
