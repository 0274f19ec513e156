// Package file reads seeds from an environment variable, a file or a glob
// of files. One address per line; commas and # comments are allowed.
package file

import (
    "bufio"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-fleet/pkg/discovery"
)

// Options configures file/ENV discovery.
type Options struct {
    // Path is a file or a glob pattern.
    Path string
    // Env names a variable that, when set, replaces the file contents.
    Env string
    // Refresh bounds how long a read is cached; default 5s.
    Refresh time.Duration
}

type source struct {
    opts  Options
    mu    sync.Mutex
    read  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &source{opts: opts}
}

func (s *source) Seeds() []string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(s.opts.Env)); v != "" { return discovery.Normalize([]string{v}) }
    }
    if s.opts.Path == "" { return nil }
    now := time.Now()
    if st, err := os.Stat(s.opts.Path); err == nil {
        if st.ModTime().After(s.mtime) || now.Sub(s.read) >= s.opts.Refresh {
            s.cache, s.read, s.mtime = readLines(s.opts.Path), now, st.ModTime()
        }
        return append([]string(nil), s.cache...)
    }
    if now.Sub(s.read) >= s.opts.Refresh || s.cache == nil {
        if matches, _ := filepath.Glob(s.opts.Path); len(matches) > 0 {
            var all []string
            for _, m := range matches { all = append(all, readLines(m)...) }
            s.cache, s.read = discovery.Normalize(all), now
        }
    }
    return append([]string(nil), s.cache...)
}

func readLines(path string) []string {
    f, err := os.Open(path)
    if err != nil { return nil }
    defer f.Close()
    var lines []string
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        lines = append(lines, line)
    }
    if sc.Err() != nil { return nil }
    return discovery.Normalize(lines)
}
