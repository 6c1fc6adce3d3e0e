package preflight

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

var errNoAck = errors.New("recovery: action not acknowledged")

// flakyFlagger fails each node a fixed number of times before confirming.
type flakyFlagger struct {
    failures map[fleet.NodeAddress]int
    calls    []fleet.NodeAddress
}

func (f *flakyFlagger) SetRequiredFlag(ctx context.Context, addr fleet.NodeAddress) error {
    f.calls = append(f.calls, addr)
    if f.failures[addr] > 0 {
        f.failures[addr]--
        return errNoAck
    }
    return nil
}

func instant(delays *[]time.Duration) func(context.Context, time.Duration) error {
    return func(ctx context.Context, d time.Duration) error {
        *delays = append(*delays, d)
        return ctx.Err()
    }
}

var (
    a = fleet.NodeAddress{Host: "10.0.0.1", Port: 31841}
    b = fleet.NodeAddress{Host: "10.0.0.2", Port: 31841}
)

func TestRunRetriesEachNodeBeforeMovingOn(t *testing.T) {
    f := &flakyFlagger{failures: map[fleet.NodeAddress]int{a: 2, b: 1}}
    var delays []time.Duration
    c := New(f, Options{Sleep: instant(&delays)})
    if err := c.Run(context.Background(), []fleet.NodeAddress{a, b}); err != nil {
        t.Fatalf("run: %v", err)
    }
    want := []fleet.NodeAddress{a, a, a, b, b}
    if len(f.calls) != len(want) {
        t.Fatalf("unexpected calls %v", f.calls)
    }
    for i := range want {
        if f.calls[i] != want[i] { t.Fatalf("call %d: got %v want %v", i, f.calls[i], want[i]) }
    }
    if len(delays) != 3 {
        t.Fatalf("expected 3 waits, got %v", delays)
    }
    for _, d := range delays {
        if d != DefaultDelay { t.Fatalf("expected fixed delay %s, got %s", DefaultDelay, d) }
    }
}

func TestRunStopsWhenAttemptsRunOut(t *testing.T) {
    f := &flakyFlagger{failures: map[fleet.NodeAddress]int{a: 100}}
    var delays []time.Duration
    c := New(f, Options{Backoff: FixedBackoff{Delay: time.Second, MaxAttempts: 3}, Sleep: instant(&delays)})
    err := c.Run(context.Background(), []fleet.NodeAddress{a, b})
    if !errors.Is(err, ErrIncomplete) || !errors.Is(err, errNoAck) {
        t.Fatalf("expected ErrIncomplete wrapping the last failure, got %v", err)
    }
    if len(f.calls) != 3 {
        t.Fatalf("expected 3 attempts on the first node and none on the second, got %v", f.calls)
    }
}

func TestEnsureHonoursCancellation(t *testing.T) {
    f := &flakyFlagger{failures: map[fleet.NodeAddress]int{a: 1000}}
    ctx, cancel := context.WithCancel(context.Background())
    n := 0
    sleep := func(ctx context.Context, d time.Duration) error {
        n++
        if n == 5 { cancel() }
        return ctx.Err()
    }
    attempts, err := New(f, Options{Sleep: sleep}).Ensure(ctx, a)
    if !errors.Is(err, context.Canceled) {
        t.Fatalf("expected context.Canceled, got %v", err)
    }
    if attempts != 5 {
        t.Fatalf("expected 5 attempts, got %d", attempts)
    }
}

func TestFixedBackoff(t *testing.T) {
    unbounded := FixedBackoff{Delay: time.Second}
    if d, ok := unbounded.Next(1_000_000); !ok || d != time.Second {
        t.Fatalf("unbounded backoff must keep going")
    }
    bounded := FixedBackoff{Delay: time.Second, MaxAttempts: 2}
    if _, ok := bounded.Next(1); !ok { t.Fatalf("attempt 1 of 2 should retry") }
    if _, ok := bounded.Next(2); ok { t.Fatalf("attempt 2 of 2 should stop") }
}
