package snapshot

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    "github.com/KavataK/qubic-node-setup/pkg/nodeclient"
    obsmetrics "github.com/KavataK/qubic-node-setup/pkg/observability/metrics"
    "github.com/KavataK/qubic-node-setup/pkg/observability/tracing"
    "github.com/KavataK/qubic-node-setup/pkg/status"
)

// Querier is the subset of nodeclient.Client the poller needs.
type Querier interface {
    Query(ctx context.Context, addr fleet.NodeAddress, timeout time.Duration) (string, error)
}

// Options configures a Poller.
type Options struct {
    // Workers bounds concurrent queries within a round; defaults to 4.
    Workers int
    // Timeout bounds each query; defaults to nodeclient.DefaultTimeout.
    Timeout time.Duration
    Logger  logrus.FieldLogger
    // Now is injectable for tests.
    Now func() time.Time
}

// Poller gathers one complete round of node snapshots.
type Poller struct {
    q    Querier
    opts Options
}

func NewPoller(q Querier, opts Options) *Poller {
    if opts.Workers <= 0 { opts.Workers = 4 }
    if opts.Timeout <= 0 { opts.Timeout = nodeclient.DefaultTimeout }
    if opts.Now == nil { opts.Now = time.Now }
    return &Poller{q: q, opts: opts}
}

// Poll queries addrs in the given order and returns once every address has
// an entry. A failing node never aborts the round.
func (p *Poller) Poll(ctx context.Context, addrs []fleet.NodeAddress) *fleet.FleetRound {
    round := fleet.NewRound(p.opts.Now())
    ctx, end := tracing.StartSpan(ctx, "fleet.poll", "round", round.ID)
    defer end()

    results := make([]fleet.NodeSnapshot, len(addrs))
    sem := make(chan struct{}, p.opts.Workers)
    var wg sync.WaitGroup
    for i, a := range addrs {
        wg.Add(1)
        go func(i int, a fleet.NodeAddress) {
            defer wg.Done()
            select {
            case sem <- struct{}{}:
            case <-ctx.Done():
                results[i] = fleet.NodeSnapshot{Address: a, Status: fleet.StatusConnectionFailed, ObservedAt: p.opts.Now(), Reason: ctx.Err().Error()}
                return
            }
            defer func() { <-sem }()
            results[i] = p.observe(ctx, a)
        }(i, a)
    }
    wg.Wait()

    for _, s := range results {
        round.Put(s)
        obsmetrics.NodeQueries.WithLabelValues(s.Address.String(), string(s.Status)).Inc()
        if s.OK() {
            obsmetrics.NodeEpoch.WithLabelValues(s.Address.String()).Set(float64(s.Progress.Epoch))
            obsmetrics.NodeTick.WithLabelValues(s.Address.String()).Set(float64(s.Progress.Tick))
        }
    }
    round.Duration = p.opts.Now().Sub(round.StartedAt)
    obsmetrics.RoundDuration.Observe(round.Duration.Seconds())
    return round
}

// Observe queries a single node outside of a round.
func (p *Poller) Observe(ctx context.Context, addr fleet.NodeAddress) fleet.NodeSnapshot {
    return p.observe(ctx, addr)
}

func (p *Poller) observe(ctx context.Context, addr fleet.NodeAddress) fleet.NodeSnapshot {
    log := logutil.Node(p.opts.Logger, addr.String())
    raw, err := p.q.Query(ctx, addr, p.opts.Timeout)
    snap := fleet.NodeSnapshot{Address: addr, ObservedAt: p.opts.Now()}
    if err != nil {
        snap.Status = fleet.StatusConnectionFailed
        snap.Reason = err.Error()
        if errors.Is(err, nodeclient.ErrTimeout) {
            logutil.Debugf(log, "status query timed out")
        } else {
            logutil.Debugf(log, "status query failed: %v", err)
        }
        return snap
    }
    res := status.Parse(raw)
    snap.Status, snap.Progress, snap.Reason = res.Status, res.Progress, res.Reason
    switch res.Status {
    case fleet.StatusConnectionFailed:
        logutil.Debugf(log, "node unreachable: %s", res.Reason)
    case fleet.StatusParseFailed:
        logutil.Warnf(log, "unparsable status response (%s): %q", res.Reason, raw)
    default:
        logutil.Debugf(log, "epoch=%d tick=%d initialTick=%d", res.Progress.Epoch, res.Progress.Tick, res.Progress.InitialTick)
    }
    return snap
}
