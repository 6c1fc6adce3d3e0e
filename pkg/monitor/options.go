package monitor

import (
    "context"
    "errors"
    "fmt"
    "math/rand"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/recovery"
)

const (
    DefaultInterval         = 30 * time.Second
    DefaultSettle           = 10 * time.Second
    DefaultStallCooldown    = 40 * time.Second
    DefaultCheckpointPeriod = 100
)

// Poller produces complete rounds and single-node observations.
// snapshot.Poller satisfies it.
type Poller interface {
    Poll(ctx context.Context, addrs []fleet.NodeAddress) *fleet.FleetRound
    Observe(ctx context.Context, addr fleet.NodeAddress) fleet.NodeSnapshot
}

// Recovery is the subset of recovery.Actions the monitor dispatches.
type Recovery interface {
    BroadcastConfiguration(ctx context.Context, addr fleet.NodeAddress, epoch int64) error
    SendDirective(ctx context.Context, addr fleet.NodeAddress, code int) error
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Options carries the fleet, its collaborators and the loop timings. Instances
// are typically produced from bootstrap.Config.
type Options struct {
    // Addresses is the fixed fleet for this run, in configuration order.
    Addresses []fleet.NodeAddress
    // Designated receives configuration broadcasts; defaults to the last address.
    Designated *fleet.NodeAddress

    Poller   Poller
    Recovery Recovery

    // Interval separates rounds.
    Interval time.Duration
    // Settle is the wait between a broadcast and the progress re-check.
    Settle time.Duration
    // StallCooldown is waited once after a round that sent any directive.
    StallCooldown time.Duration
    // CheckpointPeriod is the tick spacing of the boundaries a stall is recognised at.
    CheckpointPeriod int64
    // DirectiveCode is the special command sent to a stalled node.
    DirectiveCode int

    // Shuffle randomises polling order per round. Rand is used when set.
    Shuffle bool
    Rand    *rand.Rand

    Sleep  Sleeper
    Now    func() time.Time
    Logger logrus.FieldLogger
}

// Validate checks the options without touching the network.
func (o Options) Validate() error {
    if len(o.Addresses) == 0 {
        return errors.New("monitor: empty address set")
    }
    if o.Poller == nil {
        return errors.New("monitor: nil Poller")
    }
    if o.Recovery == nil {
        return errors.New("monitor: nil Recovery")
    }
    if o.Designated != nil {
        found := false
        for _, a := range o.Addresses {
            if a == *o.Designated { found = true; break }
        }
        if !found {
            return fmt.Errorf("monitor: designated node %s is not part of the fleet", o.Designated)
        }
    }
    if o.CheckpointPeriod < 0 {
        return errors.New("monitor: negative checkpoint period")
    }
    return nil
}

func (o *Options) applyDefaults() {
    if o.Interval <= 0 { o.Interval = DefaultInterval }
    if o.Settle <= 0 { o.Settle = DefaultSettle }
    if o.StallCooldown <= 0 { o.StallCooldown = DefaultStallCooldown }
    if o.CheckpointPeriod == 0 { o.CheckpointPeriod = DefaultCheckpointPeriod }
    if o.DirectiveCode == 0 { o.DirectiveCode = recovery.DefaultDirective }
    if o.Sleep == nil { o.Sleep = SleepContext }
    if o.Now == nil { o.Now = time.Now }
    if o.Shuffle && o.Rand == nil { o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) }
}
