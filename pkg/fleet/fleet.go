package fleet

import (
    "fmt"
    "net"
    "strconv"
    "strings"
    "time"

    "github.com/elliotchance/orderedmap"
    "github.com/google/uuid"
)

// DefaultPort is the node control port used when an address carries none.
const DefaultPort = 31841

// NodeAddress identifies one node of the fleet. The set of addresses is fixed
// for a run.
type NodeAddress struct {
    Host string `json:"host"`
    Port int    `json:"port"`
}

func (a NodeAddress) String() string { return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) }

// ParseAddress accepts "host" or "host:port"; defaultPort fills a missing port.
func ParseAddress(s string, defaultPort int) (NodeAddress, error) {
    s = strings.TrimSpace(s)
    if s == "" { return NodeAddress{}, fmt.Errorf("fleet: empty address") }
    if defaultPort <= 0 { defaultPort = DefaultPort }
    host, portStr, err := net.SplitHostPort(s)
    if err != nil {
        // bare host or IPv6 literal without port
        host = strings.Trim(s, "[]")
        if host == "" { return NodeAddress{}, fmt.Errorf("fleet: invalid address %q", s) }
        return NodeAddress{Host: host, Port: defaultPort}, nil
    }
    if host == "" { return NodeAddress{}, fmt.Errorf("fleet: missing host in %q", s) }
    port, err := strconv.Atoi(portStr)
    if err != nil || port <= 0 || port > 65535 {
        return NodeAddress{}, fmt.Errorf("fleet: invalid port in %q", s)
    }
    return NodeAddress{Host: host, Port: port}, nil
}

// Status classifies one status query outcome.
type Status string

const (
    StatusOK               Status = "ok"
    StatusConnectionFailed Status = "connection_failed"
    StatusParseFailed      Status = "parse_failed"
)

// Progress is the parsed position of a node: its epoch, current tick and the
// tick at which the epoch began on that node.
type Progress struct {
    Epoch       int64 `json:"epoch"`
    Tick        int64 `json:"tick"`
    InitialTick int64 `json:"initialTick"`
}

// NodeSnapshot is one observation of one node. Progress is nil unless Status
// is StatusOK; failed observations never carry defaulted numbers.
type NodeSnapshot struct {
    Address    NodeAddress `json:"address"`
    Status     Status      `json:"status"`
    Progress   *Progress   `json:"progress,omitempty"`
    ObservedAt time.Time   `json:"observedAt"`
    Reason     string      `json:"reason,omitempty"`
}

// OK reports whether the snapshot carries usable progress.
func (s NodeSnapshot) OK() bool { return s.Status == StatusOK && s.Progress != nil }

// FleetRound is the ordered result of one polling pass: exactly one snapshot
// per polled address, in polling order.
type FleetRound struct {
    ID        string
    StartedAt time.Time
    Duration  time.Duration
    entries   *orderedmap.OrderedMap
}

// NewRound returns an empty round with a fresh ID.
func NewRound(startedAt time.Time) *FleetRound {
    return &FleetRound{ID: uuid.NewString(), StartedAt: startedAt, entries: orderedmap.NewOrderedMap()}
}

// Put records the snapshot for its address, replacing an earlier one in place.
func (r *FleetRound) Put(s NodeSnapshot) { r.entries.Set(s.Address, s) }

// Get returns the snapshot recorded for addr.
func (r *FleetRound) Get(addr NodeAddress) (NodeSnapshot, bool) {
    v, ok := r.entries.Get(addr)
    if !ok { return NodeSnapshot{}, false }
    return v.(NodeSnapshot), true
}

func (r *FleetRound) Len() int { return r.entries.Len() }

// Addresses returns addresses in polling order.
func (r *FleetRound) Addresses() []NodeAddress {
    keys := r.entries.Keys()
    out := make([]NodeAddress, 0, len(keys))
    for _, k := range keys { out = append(out, k.(NodeAddress)) }
    return out
}

// Snapshots returns all snapshots in polling order.
func (r *FleetRound) Snapshots() []NodeSnapshot {
    out := make([]NodeSnapshot, 0, r.entries.Len())
    for _, k := range r.entries.Keys() {
        v, _ := r.entries.Get(k)
        out = append(out, v.(NodeSnapshot))
    }
    return out
}

// Answered returns the snapshots with status OK, in polling order.
func (r *FleetRound) Answered() []NodeSnapshot {
    var out []NodeSnapshot
    for _, s := range r.Snapshots() {
        if s.OK() { out = append(out, s) }
    }
    return out
}

// Count returns how many snapshots have the given status.
func (r *FleetRound) Count(st Status) int {
    n := 0
    for _, s := range r.Snapshots() {
        if s.Status == st { n++ }
    }
    return n
}
