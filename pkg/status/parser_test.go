package status

import (
    "testing"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

func TestParseWellFormed(t *testing.T) {
    cases := []struct{
        name string
        in   string
        want fleet.Progress
    }{
        {"plain", "Epoch: 5\nTick: 105\nInitialTick: 5\n", fleet.Progress{Epoch: 5, Tick: 105, InitialTick: 5}},
        {"reordered", "InitialTick: 7\nEpoch: 6\nTick: 9", fleet.Progress{Epoch: 6, Tick: 9, InitialTick: 7}},
        {"whitespace", "  Epoch:   12  \r\n\tTick:44\r\n InitialTick : 40 \r\n", fleet.Progress{Epoch: 12, Tick: 44, InitialTick: 40}},
        {"extra lines", "Version: 1.2.3\nEpoch: 1\nSolutions: 0\nTick: 2\nInitialTick: 1\nRandom: 99\n", fleet.Progress{Epoch: 1, Tick: 2, InitialTick: 1}},
        {"zero tick is genuine", "Epoch: 0\nTick: 0\nInitialTick: 0", fleet.Progress{}},
        {"first label wins", "Epoch: 3\nEpoch: 4\nTick: 10\nInitialTick: 1", fleet.Progress{Epoch: 3, Tick: 10, InitialTick: 1}},
    }
    for _, c := range cases {
        got := Parse(c.in)
        if got.Status != fleet.StatusOK {
            t.Fatalf("[%s] status: got %q want ok (reason %q)", c.name, got.Status, got.Reason)
        }
        if got.Progress == nil || *got.Progress != c.want {
            t.Fatalf("[%s] progress: got %+v want %+v", c.name, got.Progress, c.want)
        }
    }
}

func TestParseMissingLabels(t *testing.T) {
    cases := []string{
        "Tick: 5\nInitialTick: 5",
        "Epoch: 5\nInitialTick: 5",
        "Epoch: 5\nTick: 5",
        // InitialTick must not stand in for Tick
        "Epoch: 5\nInitialTick: 5\n",
        "Epoch: five\nTick: 5\nInitialTick: 5",
        "Epoch: 5\nTick: \nInitialTick: 5",
        "garbage without labels",
    }
    for _, in := range cases {
        got := Parse(in)
        if got.Status != fleet.StatusParseFailed {
            t.Fatalf("%q: got status %q want parse_failed", in, got.Status)
        }
        if got.Progress != nil {
            t.Fatalf("%q: expected no progress, got %+v", in, got.Progress)
        }
        if got.Reason == "" {
            t.Fatalf("%q: expected a reason", in)
        }
    }
}

func TestParseConnectionFailures(t *testing.T) {
    cases := []string{
        "",
        "   \n",
        "Failed to connect to 10.0.0.1:31841",
        "Unable to establish connection.\nEpoch: 5\nTick: 6\nInitialTick: 5",
        "dial tcp: connection refused",
        "Epoch: 5\nTick: 6\nInitialTick: 5\nrequest TIMED OUT",
        "Timeout while waiting for response",
    }
    for _, in := range cases {
        got := Parse(in)
        if got.Status != fleet.StatusConnectionFailed {
            t.Fatalf("%q: got status %q want connection_failed", in, got.Status)
        }
        if got.Progress != nil {
            t.Fatalf("%q: expected no progress, got %+v", in, got.Progress)
        }
    }
}

func TestTickInfoStarted(t *testing.T) {
    if TickInfoStarted("Error while getting tick info from 1.2.3.4") {
        t.Fatalf("tick info error must not count as started")
    }
    if TickInfoStarted("Failed to connect") {
        t.Fatalf("connection failure must not count as started")
    }
    if TickInfoStarted("") {
        t.Fatalf("empty output must not count as started")
    }
    if !TickInfoStarted("Tick: 1002\nEpoch: 7\n") {
        t.Fatalf("expected started")
    }
}
