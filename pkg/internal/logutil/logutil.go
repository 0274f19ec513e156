package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("FLEET_LOG_JSON") == "1" || os.Getenv("FLEET_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if strings.EqualFold(os.Getenv("FLEET_LOG_LEVEL"), "debug") {
        debugMode.Store(true)
    }
}

func prefix(l *log.Logger, p string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), l.Prefix()+p, l.Flags())
}

// SetJSON switches every logger routed through this package to JSON lines.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// SetDebug enables Debugf output.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// ForNode returns a logger that tags lines with the node id.
func ForNode(l *log.Logger, node string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), fmt.Sprintf("[%s] ", node), l.Flags())
}

func Debugf(l *log.Logger, f string, args ...any) {
    if !debugMode.Load() { return }
    logf(l, "debug", f, args...)
}
func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

func logf(l *log.Logger, level, f string, args ...any) {
    if l == nil { l = log.Default() }
    if jsonMode.Load() {
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   fmt.Sprintf(f, args...),
        }
        if p := strings.TrimSpace(l.Prefix()); strings.HasPrefix(p, "[") && strings.HasSuffix(p, "]") {
            evt["node"] = strings.Trim(p, "[]")
        }
        b, _ := json.Marshal(evt)
        log.New(l.Writer(), "", 0).Println(string(b))
        return
    }
    switch level {
    case "debug":
        prefix(l, "DEBUG ").Printf(f, args...)
    case "info":
        prefix(l, "INFO ").Printf(f, args...)
    case "warn":
        prefix(l, "WARN ").Printf(f, args...)
    default:
        prefix(l, "ERROR ").Printf(f, args...)
    }
}
