// Package monitor drives a fleet through epoch transitions.
//
// Each round the monitor polls every node, then evaluates the complete round:
// a newer epoch moves it to transitioning until every answering node agrees on
// that epoch and its initial tick, at which point the configuration is
// broadcast to the designated node. Nodes that stop progressing at a
// checkpoint boundary receive a directive, at most once per tick.
package monitor

import (
    "context"
    "encoding/json"
    "fmt"
    "strconv"
    "sync"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    obsmetrics "github.com/KavataK/qubic-node-setup/pkg/observability/metrics"
    "github.com/KavataK/qubic-node-setup/pkg/observability/tracing"
)

// Outcome summarises what one evaluation did.
type Outcome struct {
    Answered     int
    Anomalies    int
    Directives   int
    Broadcasts   int
    Transitioned bool
}

// Monitor owns the control loop and its MonitorState.
type Monitor struct {
    opts  Options
    state *MonitorState
    eb    eventBus

    mu     sync.RWMutex
    view   Status
    rounds uint64
}

// New validates opts and returns a monitor awaiting its baseline.
func New(opts Options) (*Monitor, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts.applyDefaults()
    opts.Addresses = append([]fleet.NodeAddress(nil), opts.Addresses...)
    m := &Monitor{opts: opts, state: NewState()}
    m.view = Status{Phase: PhaseAwaitingBaseline, Designated: m.designated().String(), Nodes: []NodeStatus{}}
    return m, nil
}

// Run loops until ctx is cancelled. Cancellation is not an error.
func (m *Monitor) Run(ctx context.Context) error {
    obsmetrics.Register()
    logutil.Infof(m.opts.Logger, "monitoring %d nodes every %s, designated node %s", len(m.opts.Addresses), m.opts.Interval, m.designated())
    for {
        out, err := m.RunRound(ctx)
        if err != nil {
            logutil.Infof(m.opts.Logger, "monitor stopped: %v", err)
            return nil
        }
        if out.Directives > 0 {
            logutil.Infof(m.opts.Logger, "sent %d directive(s), cooling down for %s", out.Directives, m.opts.StallCooldown)
            if m.opts.Sleep(ctx, m.opts.StallCooldown) != nil { return nil }
        }
        if m.opts.Sleep(ctx, m.opts.Interval) != nil { return nil }
    }
}

// RunRound polls the fleet once and evaluates the result against the
// monitor's own state. A round cut short by ctx is discarded unevaluated.
func (m *Monitor) RunRound(ctx context.Context) (Outcome, error) {
    round := m.opts.Poller.Poll(ctx, m.order())
    if err := ctx.Err(); err != nil {
        return Outcome{}, err
    }
    out := m.Evaluate(ctx, m.state, round)
    obsmetrics.RoundsTotal.Inc()
    m.publishStatus(round)
    return out, nil
}

// Evaluate applies one complete round to st. It is the only code that
// mutates a MonitorState.
func (m *Monitor) Evaluate(ctx context.Context, st *MonitorState, round *fleet.FleetRound) Outcome {
    ctx, end := tracing.StartSpan(ctx, "monitor.evaluate", "round", round.ID, "phase", string(st.Phase))
    defer end()
    log := logutil.With(m.opts.Logger, "round", round.ID)
    answered := round.Answered()
    out := Outcome{Answered: len(answered)}
    if len(answered) == 0 {
        logutil.Warnf(log, "no node answered (%d unreachable, %d unparsable)", round.Count(fleet.StatusConnectionFailed), round.Count(fleet.StatusParseFailed))
        return out
    }
    if !st.Known() {
        m.seedBaseline(log, st, answered)
        return out
    }

    var target *Target
    for _, s := range answered {
        addr, p := s.Address, s.Progress
        nlog := logutil.Node(log, addr.String())
        prev, seen := st.NodeTicks[addr]
        if kind := anomalyOf(st, prev, seen, p); kind != "" {
            out.Anomalies++
            obsmetrics.Anomalies.WithLabelValues(kind).Inc()
            logutil.Warnf(nlog, "ignoring observation (%s): epoch=%d tick=%d, known epoch %d, previous %d/%d", kind, p.Epoch, p.Tick, st.LastKnownEpoch, prev.Epoch, prev.Tick)
            m.eb.publish(Event{Type: EventAnomaly, At: m.opts.Now(), Node: addr.String(), Epoch: p.Epoch, Tick: p.Tick, Details: map[string]string{"kind": kind}})
            continue
        }
        switch {
        case p.Epoch > st.LastKnownEpoch:
            if target == nil || p.Epoch > target.Epoch {
                target = &Target{Epoch: p.Epoch, InitialTick: p.InitialTick, SeededBy: addr}
            }
        case m.stalled(prev, seen, p):
            mark := Mark{Epoch: p.Epoch, Tick: p.Tick}
            if last, ok := st.LastStallActionTick[addr]; ok && last == mark {
                logutil.Debugf(nlog, "still at tick %d, directive already sent", p.Tick)
                break
            }
            st.LastStallActionTick[addr] = mark
            out.Directives++
            m.dispatchDirective(ctx, nlog, addr, p)
        }
        st.NodeTicks[addr] = Mark{Epoch: p.Epoch, Tick: p.Tick}
        if p.Epoch == st.LastKnownEpoch && p.Tick > st.LastKnownTick {
            st.LastKnownTick = p.Tick
        }
    }

    if target != nil {
        if st.Target == nil || st.Target.Epoch != target.Epoch || st.Target.InitialTick != target.InitialTick {
            logutil.Infof(log, "epoch changed from %d to %d (initial tick %d, seen on %s)", st.LastKnownEpoch, target.Epoch, target.InitialTick, target.SeededBy)
            m.eb.publish(Event{Type: EventEpochObserved, At: m.opts.Now(), Node: target.SeededBy.String(), Epoch: target.Epoch, Tick: target.InitialTick})
        }
        st.Target = target
        st.Phase = PhaseTransitioning
    }
    if st.Phase == PhaseTransitioning && st.Target != nil {
        if ok, why := quorum(answered, st.Target); ok {
            m.completeTransition(ctx, log, st, answered, &out)
        } else {
            logutil.Infof(log, "waiting for quorum on epoch %d: %s", st.Target.Epoch, why)
        }
    }
    return out
}

// Status returns a copy of the view published after the last round.
func (m *Monitor) Status() Status {
    m.mu.RLock()
    defer m.mu.RUnlock()
    s := m.view
    s.Nodes = append([]NodeStatus(nil), m.view.Nodes...)
    s.Warnings = append([]string(nil), m.view.Warnings...)
    if m.view.Target != nil {
        t := *m.view.Target
        s.Target = &t
    }
    return s
}

// StatusJSON matches transport.StatusFunc.
func (m *Monitor) StatusJSON(ctx context.Context) ([]byte, error) {
    return json.Marshal(m.Status())
}

func (m *Monitor) seedBaseline(log logrus.FieldLogger, st *MonitorState, answered []fleet.NodeSnapshot) {
    first := answered[0]
    st.LastKnownEpoch = first.Progress.Epoch
    st.LastKnownTick = first.Progress.Tick
    st.Phase = PhaseSteady
    for _, s := range answered {
        st.NodeTicks[s.Address] = Mark{Epoch: s.Progress.Epoch, Tick: s.Progress.Tick}
    }
    obsmetrics.KnownEpoch.Set(float64(st.LastKnownEpoch))
    logutil.Infof(log, "baseline from %s: epoch %d, tick %d, initial tick %d", first.Address, first.Progress.Epoch, first.Progress.Tick, first.Progress.InitialTick)
    m.eb.publish(Event{Type: EventBaseline, At: m.opts.Now(), Node: first.Address.String(), Epoch: st.LastKnownEpoch, Tick: st.LastKnownTick})
}

// stalled: no progress since the node's previous observation in the same
// epoch, past the initial tick, sitting on a checkpoint boundary.
func (m *Monitor) stalled(prev Mark, seen bool, p *fleet.Progress) bool {
    if !seen || prev.Epoch != p.Epoch || prev.Tick != p.Tick {
        return false
    }
    if p.Tick <= p.InitialTick {
        return false
    }
    return (p.Tick-p.InitialTick-1)%m.opts.CheckpointPeriod == 0
}

func anomalyOf(st *MonitorState, prev Mark, seen bool, p *fleet.Progress) string {
    switch {
    case seen && p.Epoch < prev.Epoch:
        return "epoch_regress"
    case p.Epoch < st.LastKnownEpoch:
        return "epoch_behind"
    case seen && p.Epoch == prev.Epoch && p.Tick < prev.Tick:
        return "tick_regress"
    }
    return ""
}

func quorum(answered []fleet.NodeSnapshot, t *Target) (bool, string) {
    if len(answered) == 0 {
        return false, "no node answered"
    }
    for _, s := range answered {
        if s.Progress.Epoch != t.Epoch {
            return false, fmt.Sprintf("%s still reports epoch %d", s.Address, s.Progress.Epoch)
        }
        if s.Progress.InitialTick != t.InitialTick {
            return false, fmt.Sprintf("%s reports initial tick %d, expected %d", s.Address, s.Progress.InitialTick, t.InitialTick)
        }
    }
    return true, ""
}

func (m *Monitor) completeTransition(ctx context.Context, log logrus.FieldLogger, st *MonitorState, answered []fleet.NodeSnapshot, out *Outcome) {
    t := *st.Target
    dst := m.designated()
    ctx, end := tracing.StartSpan(ctx, "monitor.transition", "epoch", strconv.FormatInt(t.Epoch, 10), "node", dst.String())
    defer end()

    logutil.Infof(log, "all %d answering nodes are in epoch %d at initial tick %d, broadcasting configuration to %s", len(answered), t.Epoch, t.InitialTick, dst)
    m.eb.publish(Event{Type: EventQuorum, At: m.opts.Now(), Node: dst.String(), Epoch: t.Epoch, Tick: t.InitialTick})
    m.broadcast(ctx, log, dst, t.Epoch, out)

    if err := m.opts.Sleep(ctx, m.opts.Settle); err != nil {
        return
    }
    snap := m.opts.Poller.Observe(ctx, dst)
    switch {
    case !snap.OK():
        logutil.Warnf(log, "cannot confirm %s started after broadcast: %s %s", dst, snap.Status, snap.Reason)
    case snap.Progress.Tick == snap.Progress.InitialTick:
        logutil.Warnf(log, "network did not start on %s (tick %d), retransmitting configuration", dst, snap.Progress.Tick)
        m.broadcast(ctx, log, dst, t.Epoch, out)
    default:
        logutil.Infof(log, "%s progressed to tick %d after broadcast", dst, snap.Progress.Tick)
    }

    st.LastKnownEpoch = t.Epoch
    st.LastKnownTick = t.InitialTick
    for _, s := range answered {
        if s.Progress.Tick > st.LastKnownTick { st.LastKnownTick = s.Progress.Tick }
    }
    st.Target = nil
    st.Phase = PhaseSteady
    out.Transitioned = true
    obsmetrics.KnownEpoch.Set(float64(t.Epoch))
    obsmetrics.Transitions.Inc()
    m.eb.publish(Event{Type: EventTransitioned, At: m.opts.Now(), Node: dst.String(), Epoch: t.Epoch, Tick: st.LastKnownTick})
}

func (m *Monitor) broadcast(ctx context.Context, log logrus.FieldLogger, dst fleet.NodeAddress, epoch int64, out *Outcome) {
    out.Broadcasts++
    if err := m.opts.Recovery.BroadcastConfiguration(ctx, dst, epoch); err != nil {
        logutil.Errorf(log, "ACTION REQUIRED: configuration broadcast for epoch %d to %s failed: %v", epoch, dst, err)
        m.eb.publish(Event{Type: EventActionFailed, At: m.opts.Now(), Node: dst.String(), Epoch: epoch, Details: map[string]string{"action": "broadcast", "error": err.Error()}})
    }
}

func (m *Monitor) dispatchDirective(ctx context.Context, log logrus.FieldLogger, addr fleet.NodeAddress, p *fleet.Progress) {
    obsmetrics.Stalls.WithLabelValues(addr.String()).Inc()
    logutil.Warnf(log, "stalled at tick %d (initial tick %d), sending directive %d", p.Tick, p.InitialTick, m.opts.DirectiveCode)
    m.eb.publish(Event{Type: EventStall, At: m.opts.Now(), Node: addr.String(), Epoch: p.Epoch, Tick: p.Tick})
    if err := m.opts.Recovery.SendDirective(ctx, addr, m.opts.DirectiveCode); err != nil {
        logutil.Errorf(log, "ACTION REQUIRED: directive %d at tick %d failed: %v", m.opts.DirectiveCode, p.Tick, err)
        m.eb.publish(Event{Type: EventActionFailed, At: m.opts.Now(), Node: addr.String(), Epoch: p.Epoch, Tick: p.Tick, Details: map[string]string{"action": "directive", "error": err.Error()}})
    }
}

func (m *Monitor) designated() fleet.NodeAddress {
    if m.opts.Designated != nil {
        return *m.opts.Designated
    }
    return m.opts.Addresses[len(m.opts.Addresses)-1]
}

func (m *Monitor) order() []fleet.NodeAddress {
    out := append([]fleet.NodeAddress(nil), m.opts.Addresses...)
    if m.opts.Shuffle {
        m.opts.Rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
    }
    return out
}

func (m *Monitor) publishStatus(round *fleet.FleetRound) {
    st := m.state
    v := Status{
        Healthy:    st.Known() && len(round.Answered()) > 0,
        Phase:      st.Phase,
        KnownEpoch: st.LastKnownEpoch,
        KnownTick:  st.LastKnownTick,
        Designated: m.designated().String(),
        RoundID:    round.ID,
        RoundAt:    round.StartedAt,
        Nodes:      nodeStatuses(round),
    }
    if st.Target != nil {
        t := *st.Target
        v.Target = &t
        v.Warnings = append(v.Warnings, fmt.Sprintf("waiting for quorum on epoch %d", t.Epoch))
    }
    for _, s := range round.Snapshots() {
        if !s.OK() {
            v.Warnings = append(v.Warnings, fmt.Sprintf("%s %s", s.Address, s.Status))
        }
    }
    m.mu.Lock()
    m.rounds++
    v.Rounds = m.rounds
    m.view = v
    m.mu.Unlock()
}
