package launcher

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

var addrs = []fleet.NodeAddress{{Host: "10.0.0.1", Port: 31841}, {Host: "10.0.0.2", Port: 31841}}

type stubs struct {
    preflightErr error
    preflighted  []fleet.NodeAddress
    snap         fleet.NodeSnapshot
    ticks        []string
    tickCalls    int
    broadcasts   []int64
    targets      []fleet.NodeAddress
}

func (s *stubs) Run(ctx context.Context, a []fleet.NodeAddress) error {
    s.preflighted = a
    return s.preflightErr
}

func (s *stubs) Observe(ctx context.Context, addr fleet.NodeAddress) fleet.NodeSnapshot { return s.snap }

func (s *stubs) CurrentTick(ctx context.Context, addr fleet.NodeAddress, timeout time.Duration) (string, error) {
    i := s.tickCalls
    s.tickCalls++
    if i < len(s.ticks) { return s.ticks[i], nil }
    return "", errors.New("nodeclient: status query failed")
}

func (s *stubs) BroadcastConfiguration(ctx context.Context, addr fleet.NodeAddress, epoch int64) error {
    s.broadcasts = append(s.broadcasts, epoch)
    s.targets = append(s.targets, addr)
    return nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newLauncher(t *testing.T, s *stubs, maxChecks int) *Launcher {
    t.Helper()
    l, err := New(Options{Addresses: addrs, Preflight: s, Observer: s, Ticks: s, Broadcaster: s, MaxChecks: maxChecks, Sleep: noSleep})
    if err != nil { t.Fatalf("new: %v", err) }
    return l
}

func TestRunRebroadcastsUntilTickInfo(t *testing.T) {
    s := &stubs{
        snap:  fleet.NodeSnapshot{Address: addrs[1], Status: fleet.StatusOK, Progress: &fleet.Progress{Epoch: 120, Tick: 1, InitialTick: 1}},
        ticks: []string{"Error while getting tick info", "Failed to connect", "Tick: 15000001\nEpoch: 120"},
    }
    res, err := newLauncher(t, s, 0).Run(context.Background())
    if err != nil { t.Fatalf("run: %v", err) }
    if len(s.preflighted) != 2 {
        t.Fatalf("preflight must cover the whole fleet")
    }
    if res.Epoch != 120 || res.Broadcasts != 2 || res.Checks != 3 {
        t.Fatalf("unexpected result %+v", res)
    }
    for _, a := range s.targets {
        if a != addrs[1] { t.Fatalf("broadcast must go to the last node, got %v", a) }
    }
}

func TestRunStopsOnPreflightFailure(t *testing.T) {
    boom := errors.New("preflight: incomplete")
    s := &stubs{preflightErr: boom}
    if _, err := newLauncher(t, s, 0).Run(context.Background()); !errors.Is(err, boom) {
        t.Fatalf("expected preflight error, got %v", err)
    }
    if len(s.broadcasts) != 0 { t.Fatalf("nothing may be broadcast before preflight completes") }
}

func TestRunNeedsEpoch(t *testing.T) {
    s := &stubs{snap: fleet.NodeSnapshot{Status: fleet.StatusParseFailed, Reason: "missing Epoch"}}
    if _, err := newLauncher(t, s, 0).Run(context.Background()); !errors.Is(err, ErrNoEpoch) {
        t.Fatalf("expected ErrNoEpoch, got %v", err)
    }
}

func TestRunBoundedChecks(t *testing.T) {
    s := &stubs{
        snap:  fleet.NodeSnapshot{Status: fleet.StatusOK, Progress: &fleet.Progress{Epoch: 7}},
        ticks: []string{"Error while getting tick info", "Error while getting tick info", "Error while getting tick info"},
    }
    res, err := newLauncher(t, s, 3).Run(context.Background())
    if !errors.Is(err, ErrNotStarted) {
        t.Fatalf("expected ErrNotStarted, got %v", err)
    }
    if res.Checks != 3 || res.Broadcasts != 4 {
        t.Fatalf("unexpected result %+v", res)
    }
}
