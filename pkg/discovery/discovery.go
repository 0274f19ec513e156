// Package discovery supplies seed addresses to the gossip transport.
package discovery

import (
    "sort"
    "strings"
)

// Discovery returns the current set of seed addresses (host:port).
type Discovery interface {
    Seeds() []string
}

// Func adapts a function to Discovery.
type Func func() []string

func (f Func) Seeds() []string { return f() }

// Merge unions the seeds of several sources.
func Merge(sources ...Discovery) Discovery {
    return Func(func() []string {
        var all []string
        for _, s := range sources {
            if s != nil { all = append(all, s.Seeds()...) }
        }
        return Normalize(all)
    })
}

// Normalize trims, splits comma-separated entries, drops blanks and
// duplicates, and sorts.
func Normalize(in []string) []string {
    set := make(map[string]struct{}, len(in))
    for _, v := range in {
        for _, p := range strings.Split(v, ",") {
            if p = strings.TrimSpace(p); p != "" { set[p] = struct{}{} }
        }
    }
    if len(set) == 0 { return nil }
    out := make([]string, 0, len(set))
    for s := range set { out = append(out, s) }
    sort.Strings(out)
    return out
}
