package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"
)

// Client reads the management API of a fleet process.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  int
}

// NewClient constructs a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the client TLS config and switches to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.transport.TLSClientConfig = cfg
    c.isTLS = cfg != nil
    return c
}

// GetStatus fetches /status from addr (host:port), retrying with backoff.
func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    url := fmt.Sprintf("%s://%s/status", scheme, addr)
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        data, err := c.get(ctx, url)
        if err == nil { return data, nil }
        lastErr = err
        if attempt == c.attempts-1 { break }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

// GetStatusInto decodes /status into v.
func (c *Client) GetStatusInto(ctx context.Context, addr string, v any) error {
    data, err := c.GetStatus(ctx, addr)
    if err != nil { return err }
    return json.Unmarshal(data, v)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil { return nil, err }
    resp, err := c.httpc.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    body, err := io.ReadAll(resp.Body)
    if err != nil { return nil, err }
    if resp.StatusCode != http.StatusOK { return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body) }
    return body, nil
}
