package monitor

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    EventBaseline      EventType = "baseline"
    EventEpochObserved EventType = "epoch_observed"
    EventQuorum        EventType = "quorum"
    EventTransitioned  EventType = "transitioned"
    EventStall         EventType = "stall"
    EventAnomaly       EventType = "anomaly"
    EventActionFailed  EventType = "action_failed"
)

// Event describes a monitor decision. Only the fields relevant to the type
// are populated.
type Event struct {
    Type    EventType
    At      time.Time
    Node    string
    Epoch   int64
    Tick    int64
    Details map[string]string
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// Slow consumers miss events rather than blocking the control loop.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    m.eb.add(ch)
    go func() {
        <-ctx.Done()
        m.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
