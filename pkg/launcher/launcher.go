// Package launcher starts a freshly deployed network: it prepares every node,
// publishes the configuration for the current epoch to one node and keeps
// re-publishing until that node reports tick information.
package launcher

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    "github.com/KavataK/qubic-node-setup/pkg/nodeclient"
    "github.com/KavataK/qubic-node-setup/pkg/observability/tracing"
    "github.com/KavataK/qubic-node-setup/pkg/status"
)

var (
    ErrNoEpoch    = errors.New("launcher: cannot read epoch from designated node")
    ErrNotStarted = errors.New("launcher: network did not start")
)

const DefaultCheckInterval = 5 * time.Second

type Preflight interface {
    Run(ctx context.Context, addrs []fleet.NodeAddress) error
}

type Observer interface {
    Observe(ctx context.Context, addr fleet.NodeAddress) fleet.NodeSnapshot
}

type TickReader interface {
    CurrentTick(ctx context.Context, addr fleet.NodeAddress, timeout time.Duration) (string, error)
}

type Broadcaster interface {
    BroadcastConfiguration(ctx context.Context, addr fleet.NodeAddress, epoch int64) error
}

type Options struct {
    Addresses  []fleet.NodeAddress
    Designated *fleet.NodeAddress

    // Preflight is skipped when nil.
    Preflight   Preflight
    Observer    Observer
    Ticks       TickReader
    Broadcaster Broadcaster

    CheckInterval time.Duration
    // MaxChecks bounds tick checks; 0 keeps checking until ctx is done.
    MaxChecks   int
    TickTimeout time.Duration

    Sleep  func(ctx context.Context, d time.Duration) error
    Logger logrus.FieldLogger
}

// Result reports what a launch did.
type Result struct {
    Node       string `json:"node"`
    Epoch      int64  `json:"epoch"`
    Broadcasts int    `json:"broadcasts"`
    Checks     int    `json:"checks"`
}

type Launcher struct{ opts Options }

func New(opts Options) (*Launcher, error) {
    if len(opts.Addresses) == 0 { return nil, errors.New("launcher: empty address set") }
    if opts.Observer == nil || opts.Ticks == nil || opts.Broadcaster == nil {
        return nil, errors.New("launcher: missing node client")
    }
    if opts.CheckInterval <= 0 { opts.CheckInterval = DefaultCheckInterval }
    if opts.TickTimeout <= 0 { opts.TickTimeout = nodeclient.DefaultTimeout }
    if opts.Sleep == nil { opts.Sleep = sleepContext }
    return &Launcher{opts: opts}, nil
}

func (l *Launcher) designated() fleet.NodeAddress {
    if l.opts.Designated != nil { return *l.opts.Designated }
    return l.opts.Addresses[len(l.opts.Addresses)-1]
}

// Run performs the launch sequence.
func (l *Launcher) Run(ctx context.Context) (Result, error) {
    dst := l.designated()
    res := Result{Node: dst.String()}
    ctx, end := tracing.StartSpan(ctx, "launcher.run", "node", dst.String())
    defer end()
    log := logutil.Node(l.opts.Logger, dst.String())

    if l.opts.Preflight != nil {
        if err := l.opts.Preflight.Run(ctx, l.opts.Addresses); err != nil { return res, err }
    }
    snap := l.opts.Observer.Observe(ctx, dst)
    if !snap.OK() {
        return res, fmt.Errorf("%w: %s %s", ErrNoEpoch, snap.Status, snap.Reason)
    }
    res.Epoch = snap.Progress.Epoch
    logutil.Infof(log, "launching epoch %d", res.Epoch)

    l.broadcast(ctx, log, dst, &res)
    for {
        if l.opts.MaxChecks > 0 && res.Checks >= l.opts.MaxChecks {
            return res, fmt.Errorf("%w after %d checks", ErrNotStarted, res.Checks)
        }
        if err := l.opts.Sleep(ctx, l.opts.CheckInterval); err != nil { return res, err }
        res.Checks++
        raw, err := l.opts.Ticks.CurrentTick(ctx, dst, l.opts.TickTimeout)
        switch {
        case err != nil:
            logutil.Warnf(log, "tick check %d: %v", res.Checks, err)
        case strings.Contains(raw, status.TickInfoError):
            logutil.Warnf(log, "tick check %d: no tick info yet, rebroadcasting", res.Checks)
            l.broadcast(ctx, log, dst, &res)
        case status.TickInfoStarted(raw):
            logutil.Infof(log, "tick info received after %d check(s): %s", res.Checks, strings.TrimSpace(raw))
            return res, nil
        default:
            logutil.Warnf(log, "tick check %d: node unreachable", res.Checks)
        }
    }
}

func (l *Launcher) broadcast(ctx context.Context, log logrus.FieldLogger, dst fleet.NodeAddress, res *Result) {
    res.Broadcasts++
    if err := l.opts.Broadcaster.BroadcastConfiguration(ctx, dst, res.Epoch); err != nil {
        logutil.Errorf(log, "broadcast for epoch %d failed: %v", res.Epoch, err)
    }
}

func sleepContext(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
