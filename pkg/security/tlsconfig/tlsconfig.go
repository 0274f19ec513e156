// Package tlsconfig builds (m)TLS configs for the broker, its clients, the
// Redis and NATS connections and the management endpoint.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// Options describe certificate material. When CAFile is set on a server,
// clients must present a certificate signed by it.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
    // Reload re-reads the key pair from disk at most this often, so rotated
    // certificates are picked up without a restart. Zero loads once.
    Reload time.Duration
}

// Server returns a server config, or nil when disabled.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, errors.New("tlsconfig: server cert/key required when TLS enabled") }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    l := &certLoader{cert: o.CertFile, key: o.KeyFile, ttl: o.Reload}
    if _, err := l.get(); err != nil { return nil, err }
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return l.get() }
    return cfg, nil
}

// Client returns a client config, or nil when disabled. A key pair is
// optional and only needed against servers requiring client certificates.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        l := &certLoader{cert: o.CertFile, key: o.KeyFile, ttl: o.Reload}
        if _, err := l.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return l.get() }
    }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tlsconfig: no certificates in %s", path) }
    return pool, nil
}

type certLoader struct {
    cert, key string
    ttl       time.Duration

    mu     sync.Mutex
    cached *tls.Certificate
    at     time.Time
}

func (l *certLoader) get() (*tls.Certificate, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.cached != nil && (l.ttl <= 0 || time.Since(l.at) < l.ttl) { return l.cached, nil }
    c, err := tls.LoadX509KeyPair(l.cert, l.key)
    if err != nil {
        if l.cached != nil { return l.cached, nil }
        return nil, err
    }
    l.cached, l.at = &c, time.Now()
    return l.cached, nil
}
