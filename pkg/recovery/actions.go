package recovery

import (
    "context"
    "errors"
    "fmt"
    "regexp"
    "strconv"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    obsmetrics "github.com/KavataK/qubic-node-setup/pkg/observability/metrics"
    "github.com/KavataK/qubic-node-setup/pkg/observability/tracing"
    "github.com/KavataK/qubic-node-setup/pkg/status"
    "github.com/KavataK/qubic-node-setup/pkg/transport"
)

// ErrNotAcknowledged means the command ran but its output did not confirm success.
var ErrNotAcknowledged = errors.New("recovery: action not acknowledged")

const (
    // DefaultFlagAck is printed by the node CLI once the MAIN/AUX flag is set.
    DefaultFlagAck = "Successfully set MAINAUX flag"
    // DefaultDirective is the special command that unsticks a stalled node.
    DefaultDirective = 16
)

// Options tune the acknowledgement rules and per-command bounds.
type Options struct {
    // Timeout bounds each command; defaults to 30s.
    Timeout time.Duration
    // FlagAck must appear in the flag command output.
    FlagAck string
    // FlagArgs are passed to the flag command; default MAIN MAIN.
    FlagArgs []string
    // BroadcastAck, when set, must match the broadcast tool output.
    BroadcastAck *regexp.Regexp
    // BroadcastRepeat sends the configuration this many times per dispatch.
    BroadcastRepeat int
    // BroadcastGap separates repeated sends.
    BroadcastGap time.Duration
    // Sleep waits out the gap; it returns ctx.Err() when ctx ends first.
    Sleep  func(ctx context.Context, d time.Duration) error
    Logger logrus.FieldLogger
}

// Actions issues side-effecting commands to single nodes. None of them retry:
// the monitor and the preflight coordinator own their retry policies.
type Actions struct {
    exec transport.Executor
    opts Options
}

func New(exec transport.Executor, opts Options) *Actions {
    if opts.Timeout <= 0 { opts.Timeout = 30 * time.Second }
    if opts.FlagAck == "" { opts.FlagAck = DefaultFlagAck }
    if len(opts.FlagArgs) == 0 { opts.FlagArgs = []string{"MAIN", "MAIN"} }
    if opts.BroadcastRepeat <= 0 { opts.BroadcastRepeat = 1 }
    if opts.BroadcastGap <= 0 { opts.BroadcastGap = time.Second }
    if opts.Sleep == nil { opts.Sleep = sleepContext }
    return &Actions{exec: exec, opts: opts}
}

// BroadcastConfiguration publishes the configuration of epoch to addr.
func (a *Actions) BroadcastConfiguration(ctx context.Context, addr fleet.NodeAddress, epoch int64) error {
    ctx, end := tracing.StartSpan(ctx, "recovery.broadcast", "node", addr.String(), "epoch", strconv.FormatInt(epoch, 10))
    defer end()
    log := logutil.Node(a.opts.Logger, addr.String())
    var lastErr error
    acked := false
    for i := 0; i < a.opts.BroadcastRepeat; i++ {
        if i > 0 {
            if err := a.opts.Sleep(ctx, a.opts.BroadcastGap); err != nil { return err }
        }
        out, err := a.run(ctx, addr, transport.ActionBroadcast, strconv.FormatInt(epoch, 10))
        if err == nil { err = a.checkBroadcast(out) }
        if err != nil {
            lastErr = err
            logutil.Warnf(log, "broadcast %d/%d for epoch %d: %v", i+1, a.opts.BroadcastRepeat, epoch, err)
            continue
        }
        acked = true
        logutil.Infof(log, "broadcast %d/%d for epoch %d sent", i+1, a.opts.BroadcastRepeat, epoch)
    }
    if acked { lastErr = nil }
    record(ctx, "broadcast", lastErr)
    return lastErr
}

// SendDirective sends the numbered special command once.
func (a *Actions) SendDirective(ctx context.Context, addr fleet.NodeAddress, code int) error {
    ctx, end := tracing.StartSpan(ctx, "recovery.directive", "node", addr.String(), "code", strconv.Itoa(code))
    defer end()
    out, err := a.run(ctx, addr, transport.ActionSpecialCommand, strconv.Itoa(code))
    if err == nil { err = checkNoFailure(out) }
    record(ctx, "directive", err)
    if err == nil {
        logutil.Infof(logutil.Node(a.opts.Logger, addr.String()), "directive %d sent", code)
    }
    return err
}

// SetRequiredFlag sets the MAIN/AUX flag on addr and confirms it from the output.
func (a *Actions) SetRequiredFlag(ctx context.Context, addr fleet.NodeAddress) error {
    ctx, end := tracing.StartSpan(ctx, "recovery.flag", "node", addr.String())
    defer end()
    out, err := a.run(ctx, addr, transport.ActionToggleFlag, a.opts.FlagArgs...)
    if err == nil && !strings.Contains(out.Stdout, a.opts.FlagAck) {
        err = fmt.Errorf("%w: %s", ErrNotAcknowledged, summarize(out.Stdout))
    }
    record(ctx, "flag", err)
    return err
}

func (a *Actions) run(ctx context.Context, addr fleet.NodeAddress, action transport.Action, args ...string) (transport.Output, error) {
    cctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
    defer cancel()
    out, err := a.exec.Execute(cctx, addr, action, args...)
    if s := strings.TrimSpace(out.Stderr); s != "" {
        logutil.Debugf(logutil.Node(a.opts.Logger, addr.String()), "%s stderr: %s", action, s)
    }
    if err != nil { return out, fmt.Errorf("recovery: %s %s: %w", action, addr, err) }
    return out, nil
}

func (a *Actions) checkBroadcast(out transport.Output) error {
    if err := checkNoFailure(out); err != nil { return err }
    if a.opts.BroadcastAck != nil && !a.opts.BroadcastAck.MatchString(out.Stdout) {
        return fmt.Errorf("%w: %s", ErrNotAcknowledged, summarize(out.Stdout))
    }
    return nil
}

func checkNoFailure(out transport.Output) error {
    if p, failed := status.MatchFailure(out.Stdout); failed {
        return fmt.Errorf("%w: %s", ErrNotAcknowledged, p)
    }
    if out.ExitCode != 0 {
        return fmt.Errorf("%w: exit status %d", ErrNotAcknowledged, out.ExitCode)
    }
    return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done(): return ctx.Err()
    case <-t.C: return nil
    }
}

func record(ctx context.Context, action string, err error) {
    result := "ok"
    if err != nil { result = "failed" }
    tracing.RecordError(ctx, err)
    obsmetrics.Actions.WithLabelValues(action, result).Inc()
}

func summarize(s string) string {
    s = strings.TrimSpace(s)
    if len(s) > 200 { s = s[:200] + "..." }
    if s == "" { return "(no output)" }
    return s
}
