// Package nodecli implements transport.Executor on top of the node command
// line tools: the control CLI (qubic-cli style flags) and the configuration
// broadcast tool.
package nodecli

import (
    "context"
    "fmt"
    "strconv"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/transport"
    "github.com/KavataK/qubic-node-setup/pkg/transport/runner"
)

// Options configures the command lines built for each action.
type Options struct {
    // CLIPath is the node control binary, default "./qubic-cli".
    CLIPath string
    // BroadcastPath is the broadcast tool, default "./broadcastComputorTestnet".
    BroadcastPath string
    // Seed is the operator identity passed to privileged actions.
    Seed string
    // Runner executes the command lines. Nil means runner.Local{}.
    Runner runner.Runner
}

// Executor maps actions to argv and runs them.
type Executor struct {
    opts Options
}

func New(opts Options) *Executor {
    if opts.CLIPath == "" { opts.CLIPath = "./qubic-cli" }
    if opts.BroadcastPath == "" { opts.BroadcastPath = "./broadcastComputorTestnet" }
    if opts.Runner == nil { opts.Runner = runner.Local{} }
    return &Executor{opts: opts}
}

func (e *Executor) Execute(ctx context.Context, addr fleet.NodeAddress, action transport.Action, args ...string) (transport.Output, error) {
    cmd, argv, err := e.Command(addr, action, args...)
    if err != nil { return transport.Output{}, err }
    res, err := e.opts.Runner.Run(ctx, cmd, argv...)
    return transport.Output{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, err
}

// Command returns the command line used for action against addr.
func (e *Executor) Command(addr fleet.NodeAddress, action transport.Action, args ...string) (string, []string, error) {
    port := strconv.Itoa(addr.Port)
    switch action {
    case transport.ActionBroadcast:
        // <tool> <ip> <epoch> <port>
        if len(args) != 1 { return "", nil, fmt.Errorf("nodecli: broadcast needs exactly the epoch argument") }
        return e.opts.BroadcastPath, []string{addr.Host, args[0], port}, nil
    case transport.ActionSystemInfo, transport.ActionCurrentTick:
        return e.opts.CLIPath, append([]string{"-nodeip", addr.Host, "-nodeport", port, "-" + string(action)}, args...), nil
    case transport.ActionToggleFlag, transport.ActionSpecialCommand:
        if e.opts.Seed == "" { return "", nil, fmt.Errorf("nodecli: %s requires an operator seed", action) }
        argv := []string{"-seed", e.opts.Seed, "-nodeip", addr.Host, "-nodeport", port, "-" + string(action)}
        return e.opts.CLIPath, append(argv, args...), nil
    default:
        return "", nil, fmt.Errorf("nodecli: unsupported action %q", action)
    }
}

var _ transport.Executor = (*Executor)(nil)
