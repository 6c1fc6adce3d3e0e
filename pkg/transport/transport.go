package transport

import (
    "context"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

// Action names one command of the node control interface.
type Action string

const (
    // ActionSystemInfo reads epoch and tick information.
    ActionSystemInfo Action = "getsysteminfo"
    // ActionCurrentTick reads the current tick only.
    ActionCurrentTick Action = "getcurrenttick"
    // ActionToggleFlag sets the MAIN/AUX mode flag (privileged).
    ActionToggleFlag Action = "togglemainaux"
    // ActionSpecialCommand sends a numbered directive (privileged).
    ActionSpecialCommand Action = "sendspecialcommand"
    // ActionBroadcast publishes the epoch configuration through the broadcast tool.
    ActionBroadcast Action = "broadcast"
)

// Output is what a command printed. ExitCode is informational; a non-zero
// exit is not a transport failure.
type Output struct {
    Stdout   string
    Stderr   string
    ExitCode int
}

// Executor abstracts the node control interface. Execute returns an error
// only when the command could not be carried out at all (timeout, missing
// binary, unreachable jump host). Implementations must honor ctx.
type Executor interface {
    Execute(ctx context.Context, addr fleet.NodeAddress, action Action, args ...string) (Output, error)
}
