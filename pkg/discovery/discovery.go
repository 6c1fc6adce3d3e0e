package discovery

import (
    "errors"
    "fmt"

    mapset "github.com/deckarep/golang-set"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

// ErrEmpty is returned by Resolve when a source yields no address.
var ErrEmpty = errors.New("discovery: no node addresses")

// Source abstracts how the fleet's node addresses are provided: a static
// list, a file, or DNS.
type Source interface {
    Addresses() []string
}

// Resolve parses the addresses of src, filling defaultPort where an entry has
// none. Duplicates are dropped keeping the first occurrence, so the order of
// the source survives.
func Resolve(src Source, defaultPort int) ([]fleet.NodeAddress, error) {
    if src == nil { return nil, ErrEmpty }
    seen := mapset.NewThreadUnsafeSet()
    var out []fleet.NodeAddress
    for _, raw := range src.Addresses() {
        a, err := fleet.ParseAddress(raw, defaultPort)
        if err != nil { return nil, fmt.Errorf("discovery: %w", err) }
        if seen.Contains(a) { continue }
        seen.Add(a)
        out = append(out, a)
    }
    if len(out) == 0 { return nil, ErrEmpty }
    return out, nil
}
