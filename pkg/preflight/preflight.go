// Package preflight prepares every node before monitoring starts by setting
// the MAIN/AUX flag, one node at a time, retrying each until it is confirmed.
package preflight

import (
    "context"
    "errors"
    "fmt"
    "strconv"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    obsmetrics "github.com/KavataK/qubic-node-setup/pkg/observability/metrics"
    "github.com/KavataK/qubic-node-setup/pkg/observability/tracing"
)

// ErrIncomplete is returned when a node could not be prepared.
var ErrIncomplete = errors.New("preflight: incomplete")

// DefaultDelay separates attempts on the same node.
const DefaultDelay = 15 * time.Second

// Flagger sets the required flag on one node. recovery.Actions satisfies it.
type Flagger interface {
    SetRequiredFlag(ctx context.Context, addr fleet.NodeAddress) error
}

// Backoff decides the wait before attempt+1 after attempt failed (1-based).
// ok=false stops retrying.
type Backoff interface {
    Next(attempt int) (delay time.Duration, ok bool)
}

// FixedBackoff waits Delay between attempts. MaxAttempts <= 0 retries forever.
type FixedBackoff struct {
    Delay       time.Duration
    MaxAttempts int
}

func (b FixedBackoff) Next(attempt int) (time.Duration, bool) {
    if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
        return 0, false
    }
    return b.Delay, true
}

type Options struct {
    // Backoff defaults to FixedBackoff{Delay: DefaultDelay} (unbounded).
    Backoff Backoff
    Sleep   func(ctx context.Context, d time.Duration) error
    Logger  logrus.FieldLogger
}

// Coordinator runs the flag phase.
type Coordinator struct {
    f    Flagger
    opts Options
}

func New(f Flagger, opts Options) *Coordinator {
    if opts.Backoff == nil { opts.Backoff = FixedBackoff{Delay: DefaultDelay} }
    if opts.Sleep == nil { opts.Sleep = sleepContext }
    return &Coordinator{f: f, opts: opts}
}

// Run prepares addrs in order. It returns nil only when every node confirmed
// the flag; otherwise the error wraps ErrIncomplete.
func (c *Coordinator) Run(ctx context.Context, addrs []fleet.NodeAddress) error {
    obsmetrics.Register()
    logutil.Infof(c.opts.Logger, "preflight: setting required flag on %d nodes", len(addrs))
    for i, a := range addrs {
        n, err := c.Ensure(ctx, a)
        if err != nil {
            return fmt.Errorf("%w: node %d/%d %s after %s: %w", ErrIncomplete, i+1, len(addrs), a, attemptsLabel(n), err)
        }
        logutil.Infof(logutil.Node(c.opts.Logger, a.String()), "preflight: flag confirmed (%d/%d, %s)", i+1, len(addrs), attemptsLabel(n))
    }
    return nil
}

// Ensure retries the flag on one node until it is confirmed, the backoff
// gives up or ctx is done. It returns the number of attempts made.
func (c *Coordinator) Ensure(ctx context.Context, addr fleet.NodeAddress) (int, error) {
    ctx, end := tracing.StartSpan(ctx, "preflight.node", "node", addr.String())
    defer end()
    log := logutil.Node(c.opts.Logger, addr.String())
    for attempt := 1; ; attempt++ {
        if err := ctx.Err(); err != nil {
            return attempt - 1, err
        }
        obsmetrics.PreflightAttempts.WithLabelValues(addr.String()).Inc()
        err := c.f.SetRequiredFlag(ctx, addr)
        if err == nil {
            return attempt, nil
        }
        delay, again := c.opts.Backoff.Next(attempt)
        if !again {
            logutil.Errorf(log, "preflight: giving up after attempt %d: %v", attempt, err)
            return attempt, err
        }
        logutil.Warnf(log, "preflight: attempt %d failed: %v; retrying in %s", attempt, err, delay)
        if serr := c.opts.Sleep(ctx, delay); serr != nil {
            return attempt, serr
        }
    }
}

func sleepContext(ctx context.Context, d time.Duration) error {
    if d <= 0 { return ctx.Err() }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func attemptsLabel(n int) string {
    if n == 1 { return "1 attempt" }
    return strconv.Itoa(n) + " attempts"
}
