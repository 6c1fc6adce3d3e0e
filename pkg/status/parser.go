// Package status turns the textual output of a node's status query into a
// structured result.
//
// The contract with the node CLI is narrow: a healthy response carries the
// lines "Epoch: <int>", "Tick: <int>" and "InitialTick: <int>"; a response
// that could not reach the node carries one of the failure phrases below.
// Matching rules live here only, so the monitor never inspects raw text.
package status

import (
    "bufio"
    "strconv"
    "strings"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

const (
    LabelEpoch       = "Epoch"
    LabelTick        = "Tick"
    LabelInitialTick = "InitialTick"
)

// FailurePhrases mark a response as a connectivity failure. Matching is
// case-insensitive and wins over any numeric content in the text.
var FailurePhrases = []string{
    "failed to connect",
    "unable to establish connection",
    "connection refused",
    "timed out",
    "timeout",
}

// TickInfoError is printed by the node CLI when the current tick cannot be
// read, which after a broadcast means the network has not started.
const TickInfoError = "Error while getting tick info"

// Result is the outcome of Parse. Progress is nil unless Status is StatusOK.
type Result struct {
    Status   fleet.Status
    Progress *fleet.Progress
    Reason   string
}

// Parse classifies raw status text.
func Parse(raw string) Result {
    if strings.TrimSpace(raw) == "" {
        return Result{Status: fleet.StatusConnectionFailed, Reason: "empty response"}
    }
    if p, ok := MatchFailure(raw); ok {
        return Result{Status: fleet.StatusConnectionFailed, Reason: p}
    }
    fields := scanLabels(raw)
    var vals [3]int64
    for i, label := range []string{LabelEpoch, LabelTick, LabelInitialTick} {
        v, ok := fields[label]
        if !ok {
            return Result{Status: fleet.StatusParseFailed, Reason: "missing " + label}
        }
        n, err := strconv.ParseInt(v, 10, 64)
        if err != nil {
            return Result{Status: fleet.StatusParseFailed, Reason: "invalid " + label + ": " + v}
        }
        vals[i] = n
    }
    return Result{Status: fleet.StatusOK, Progress: &fleet.Progress{Epoch: vals[0], Tick: vals[1], InitialTick: vals[2]}}
}

// MatchFailure returns the failure phrase found in text, if any.
func MatchFailure(text string) (string, bool) {
    lower := strings.ToLower(text)
    for _, p := range FailurePhrases {
        if strings.Contains(lower, p) { return p, true }
    }
    return "", false
}

// TickInfoStarted reports whether getcurrenttick output shows a running network.
func TickInfoStarted(raw string) bool {
    if strings.TrimSpace(raw) == "" { return false }
    if _, failed := MatchFailure(raw); failed { return false }
    return !strings.Contains(raw, TickInfoError)
}

// scanLabels collects "Label: value" lines; the first occurrence of a label wins.
func scanLabels(raw string) map[string]string {
    out := make(map[string]string, 3)
    sc := bufio.NewScanner(strings.NewReader(raw))
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        i := strings.IndexByte(line, ':')
        if i <= 0 { continue }
        label := strings.TrimSpace(line[:i])
        if _, seen := out[label]; seen { continue }
        out[label] = strings.TrimSpace(line[i+1:])
    }
    return out
}
