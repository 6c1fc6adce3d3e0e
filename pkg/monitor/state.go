package monitor

import (
    "time"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

// Phase is the monitor's position in the epoch life cycle.
type Phase string

const (
    PhaseAwaitingBaseline Phase = "awaiting_baseline"
    PhaseSteady           Phase = "steady"
    PhaseTransitioning    Phase = "transitioning"
)

// Mark pins a tick to the epoch it was observed in.
type Mark struct {
    Epoch int64 `json:"epoch"`
    Tick  int64 `json:"tick"`
}

// Target is the epoch the fleet is moving into, seeded from the first node
// seen reporting it.
type Target struct {
    Epoch       int64             `json:"epoch"`
    InitialTick int64             `json:"initialTick"`
    SeededBy    fleet.NodeAddress `json:"-"`
}

// MonitorState is carried across rounds. It has a single owner, the control
// loop, and is only changed between rounds; it is never locked.
type MonitorState struct {
    Phase          Phase
    LastKnownEpoch int64
    // LastKnownTick is the highest tick seen in LastKnownEpoch. Meaningless
    // while awaiting baseline.
    LastKnownTick int64
    Target        *Target
    // NodeTicks holds each node's previous observation, the basis of stall checks.
    NodeTicks map[fleet.NodeAddress]Mark
    // LastStallActionTick remembers where a directive was last sent per node.
    LastStallActionTick map[fleet.NodeAddress]Mark
}

// NewState returns a state awaiting its baseline.
func NewState() *MonitorState {
    return &MonitorState{
        Phase:               PhaseAwaitingBaseline,
        NodeTicks:           make(map[fleet.NodeAddress]Mark),
        LastStallActionTick: make(map[fleet.NodeAddress]Mark),
    }
}

// Known reports whether a baseline has been taken.
func (s *MonitorState) Known() bool { return s.Phase != PhaseAwaitingBaseline }

// NodeStatus is the published view of one node's last observation.
type NodeStatus struct {
    Address     string    `json:"address"`
    Status      string    `json:"status"`
    Epoch       int64     `json:"epoch,omitempty"`
    Tick        int64     `json:"tick,omitempty"`
    InitialTick int64     `json:"initialTick,omitempty"`
    Reason      string    `json:"reason,omitempty"`
    ObservedAt  time.Time `json:"observedAt"`
}

// Status is a JSON-serialisable copy of the monitor's view, suitable for the
// management endpoints and tooling.
type Status struct {
    // Healthy is true once a baseline exists and the last round had an answer.
    Healthy    bool         `json:"healthy"`
    Phase      Phase        `json:"phase"`
    KnownEpoch int64        `json:"knownEpoch"`
    KnownTick  int64        `json:"knownTick"`
    Target     *Target      `json:"target,omitempty"`
    Designated string       `json:"designated"`
    Rounds     uint64       `json:"rounds"`
    RoundID    string       `json:"roundId,omitempty"`
    RoundAt    time.Time    `json:"roundAt,omitempty"`
    Nodes      []NodeStatus `json:"nodes"`
    Warnings   []string     `json:"warnings,omitempty"`
}

func nodeStatuses(r *fleet.FleetRound) []NodeStatus {
    out := make([]NodeStatus, 0, r.Len())
    for _, s := range r.Snapshots() {
        ns := NodeStatus{Address: s.Address.String(), Status: string(s.Status), Reason: s.Reason, ObservedAt: s.ObservedAt}
        if s.OK() {
            ns.Epoch, ns.Tick, ns.InitialTick = s.Progress.Epoch, s.Progress.Tick, s.Progress.InitialTick
        }
        out = append(out, ns)
    }
    return out
}
