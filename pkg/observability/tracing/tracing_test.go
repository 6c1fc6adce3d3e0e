package tracing

import (
    "bytes"
    "context"
    "errors"
    "strings"
    "testing"
)

func TestDisabledIsNoop(t *testing.T) {
    shutdown, err := Setup(Options{})
    if err != nil { t.Fatalf("setup: %v", err) }
    ctx := context.Background()
    got, end := StartSpan(ctx, "noop", "k", "v")
    end()
    RecordError(got, errors.New("ignored"))
    if got != ctx { t.Fatalf("disabled tracing must not wrap the context") }
    if err := shutdown(ctx); err != nil { t.Fatalf("shutdown: %v", err) }
}

func TestSpansReachWriter(t *testing.T) {
    var buf bytes.Buffer
    shutdown, err := Setup(Options{Enable: true, Writer: &buf})
    if err != nil { t.Fatalf("setup: %v", err) }
    ctx, end := StartSpan(context.Background(), "recovery.flag", "node", "10.0.0.1:31841")
    RecordError(ctx, errors.New("not acknowledged"))
    end()
    if err := shutdown(context.Background()); err != nil { t.Fatalf("shutdown: %v", err) }
    out := buf.String()
    for _, want := range []string{"recovery.flag", "10.0.0.1:31841", "not acknowledged"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in %s", want, out) }
    }
}
