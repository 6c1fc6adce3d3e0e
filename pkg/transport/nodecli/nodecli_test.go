package nodecli

import (
    "context"
    "strings"
    "testing"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/transport"
    "github.com/KavataK/qubic-node-setup/pkg/transport/runner"
)

type recordRunner struct {
    cmd  string
    args []string
    out  runner.Result
}

func (r *recordRunner) Run(ctx context.Context, cmd string, args ...string) (runner.Result, error) {
    r.cmd, r.args = cmd, args
    return r.out, nil
}

func TestCommandLines(t *testing.T) {
    e := New(Options{Seed: "seedabc"})
    addr := fleet.NodeAddress{Host: "10.0.0.7", Port: 31841}
    cases := []struct{
        action transport.Action
        args   []string
        cmd    string
        want   string
    }{
        {transport.ActionSystemInfo, nil, "./qubic-cli", "-nodeip 10.0.0.7 -nodeport 31841 -getsysteminfo"},
        {transport.ActionCurrentTick, nil, "./qubic-cli", "-nodeip 10.0.0.7 -nodeport 31841 -getcurrenttick"},
        {transport.ActionToggleFlag, []string{"MAIN", "MAIN"}, "./qubic-cli", "-seed seedabc -nodeip 10.0.0.7 -nodeport 31841 -togglemainaux MAIN MAIN"},
        {transport.ActionSpecialCommand, []string{"16"}, "./qubic-cli", "-seed seedabc -nodeip 10.0.0.7 -nodeport 31841 -sendspecialcommand 16"},
        {transport.ActionBroadcast, []string{"120"}, "./broadcastComputorTestnet", "10.0.0.7 120 31841"},
    }
    for _, c := range cases {
        cmd, argv, err := e.Command(addr, c.action, c.args...)
        if err != nil { t.Fatalf("%s: %v", c.action, err) }
        if cmd != c.cmd || strings.Join(argv, " ") != c.want {
            t.Fatalf("%s: got %s %v want %s %s", c.action, cmd, argv, c.cmd, c.want)
        }
    }
}

func TestPrivilegedActionsNeedSeed(t *testing.T) {
    e := New(Options{})
    addr := fleet.NodeAddress{Host: "h", Port: 1}
    if _, _, err := e.Command(addr, transport.ActionToggleFlag, "MAIN", "MAIN"); err == nil {
        t.Fatalf("expected error without seed")
    }
    if _, _, err := e.Command(addr, transport.ActionBroadcast); err == nil {
        t.Fatalf("expected error for broadcast without epoch")
    }
    if _, _, err := e.Command(addr, transport.Action("reboot")); err == nil {
        t.Fatalf("expected error for unknown action")
    }
}

func TestExecutePassesOutputThrough(t *testing.T) {
    rr := &recordRunner{out: runner.Result{Stdout: "Epoch: 1", Stderr: "warn", ExitCode: 2}}
    e := New(Options{CLIPath: "/opt/qubic-cli", Runner: rr})
    out, err := e.Execute(context.Background(), fleet.NodeAddress{Host: "h", Port: 9}, transport.ActionSystemInfo)
    if err != nil { t.Fatalf("execute: %v", err) }
    if rr.cmd != "/opt/qubic-cli" {
        t.Fatalf("unexpected command %q", rr.cmd)
    }
    if out.Stdout != "Epoch: 1" || out.Stderr != "warn" || out.ExitCode != 2 {
        t.Fatalf("unexpected output %#v", out)
    }
}
