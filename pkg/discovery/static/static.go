// Package static serves a fixed seed list, usually from a --seeds flag.
package static

import (
    "strings"

    "github.com/amirimatin/go-fleet/pkg/discovery"
)

type seeds []string

func (s seeds) Seeds() []string { return append([]string(nil), s...) }

// New returns a Discovery over the given addresses; blanks are dropped and
// order is kept.
func New(addrs ...string) discovery.Discovery {
    out := make(seeds, 0, len(addrs))
    for _, a := range addrs {
        if a = strings.TrimSpace(a); a != "" { out = append(out, a) }
    }
    return out
}

// Parse splits a comma-separated list.
func Parse(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
