package static

import (
    "strings"

    "github.com/KavataK/qubic-node-setup/pkg/discovery"
)

type staticAddrs struct {
    addrs []string
}

func (s *staticAddrs) Addresses() []string { return append([]string(nil), s.addrs...) }

// New returns a Source that always returns the given addresses, in order.
func New(addrs ...string) discovery.Source {
    return &staticAddrs{addrs: Parse(strings.Join(addrs, ","))}
}

// Parse converts a comma-separated list (the --nodes flag) into addresses.
func Parse(csv string) []string {
    if csv == "" {
        return nil
    }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" {
            out = append(out, p)
        }
    }
    return out
}
