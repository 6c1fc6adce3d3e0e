package cli

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/spf13/pflag"

    "github.com/KavataK/qubic-node-setup/pkg/bootstrap"
    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/preflight"
)

func TestExitCode(t *testing.T) {
    cases := []struct {
        err  error
        want int
    }{
        {nil, ExitOK},
        {context.Canceled, ExitOK},
        {fmt.Errorf("%w: no nodes given", bootstrap.ErrConfig), ExitConfig},
        {fmt.Errorf("%w: node 1/2 10.0.0.1:31841", preflight.ErrIncomplete), ExitPreflight},
        {errors.New("boom"), ExitRuntime},
    }
    for _, c := range cases {
        if got := ExitCode(c.err); got != c.want {
            t.Fatalf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
        }
    }
}

func TestFlagsOverrideConfigFile(t *testing.T) {
    p := filepath.Join(t.TempDir(), "epochctl.toml")
    body := "nodes = [\"10.0.0.1\", \"10.0.0.2\"]\nseed = \"operatorseed\"\n[monitor]\ninterval = \"45s\"\nsettle = \"3s\"\n"
    if err := os.WriteFile(p, []byte(body), 0o600); err != nil { t.Fatal(err) }

    o := newOptions()
    fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
    o.bind(fs)
    if err := fs.Parse([]string{"--config", p, "--interval", "1m"}); err != nil { t.Fatalf("parse: %v", err) }
    cfg, err := o.resolve(fs)
    if err != nil { t.Fatalf("resolve: %v", err) }
    if cfg.Interval != time.Minute { t.Fatalf("flag must win over file, got %v", cfg.Interval) }
    if cfg.Settle != 3*time.Second { t.Fatalf("file value lost, got %v", cfg.Settle) }
    if cfg.NodesCSV != "10.0.0.1,10.0.0.2" { t.Fatalf("nodes: %q", cfg.NodesCSV) }
}

func TestMissingNodesIsConfigError(t *testing.T) {
    root := NewRootCmd()
    root.SetArgs([]string{"probe"})
    root.SetOut(&bytes.Buffer{})
    err := root.ExecuteContext(context.Background())
    if ExitCode(err) != ExitConfig { t.Fatalf("expected config error, got %v", err) }
}

func TestMissingSeedIsConfigError(t *testing.T) {
    for _, cmd := range []string{"run", "preflight"} {
        root := NewRootCmd()
        root.SetArgs([]string{cmd, "--nodes", "10.0.0.1"})
        root.SetOut(&bytes.Buffer{})
        err := root.ExecuteContext(context.Background())
        if ExitCode(err) != ExitConfig { t.Fatalf("%s: expected config error, got %v", cmd, err) }
    }
}

func TestProbeNeedsNoSeed(t *testing.T) {
    o := newOptions()
    o.cfg.Unprivileged = true
    fs := pflag.NewFlagSet("probe", pflag.ContinueOnError)
    o.bind(fs)
    if err := fs.Parse([]string{"--nodes", "10.0.0.1"}); err != nil { t.Fatalf("parse: %v", err) }
    if _, err := o.resolve(fs); err != nil { t.Fatalf("resolve: %v", err) }
}

func TestShuffleDefaultsOn(t *testing.T) {
    o := newOptions()
    fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
    o.bind(fs)
    if err := fs.Parse(nil); err != nil { t.Fatalf("parse: %v", err) }
    if !o.cfg.Shuffle { t.Fatalf("polling order must be shuffled by default") }
    if err := fs.Parse([]string{"--shuffle=false"}); err != nil { t.Fatalf("parse: %v", err) }
    if o.cfg.Shuffle { t.Fatalf("--shuffle=false must disable shuffling") }
}

func TestWriteRoundTable(t *testing.T) {
    a := fleet.NodeAddress{Host: "10.0.0.1", Port: 31841}
    b := fleet.NodeAddress{Host: "10.0.0.2", Port: 31841}
    r := fleet.NewRound(time.Now())
    r.Put(fleet.NodeSnapshot{Address: a, Status: fleet.StatusOK, Progress: &fleet.Progress{Epoch: 120, Tick: 15000042, InitialTick: 15000000}})
    r.Put(fleet.NodeSnapshot{Address: b, Status: fleet.StatusConnectionFailed, Reason: "timeout"})
    var buf bytes.Buffer
    if err := writeRound(&buf, "table", r); err != nil { t.Fatalf("write: %v", err) }
    // table headers and footers are upper-cased by the default style
    out := strings.ToLower(buf.String())
    for _, want := range []string{"10.0.0.1:31841", "15000042", "connection_failed", "timeout", "1/2 answered"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in\n%s", want, out) }
    }
    if err := writeRound(&buf, "yaml", r); err == nil { t.Fatalf("unknown format accepted") }
}

func TestWriteStatusTable(t *testing.T) {
    data := []byte(`{"healthy":true,"phase":"steady","knownEpoch":120,"knownTick":15000300,"designated":"10.0.0.2:31841","rounds":7,` +
        `"nodes":[{"address":"10.0.0.1:31841","status":"ok","epoch":120,"tick":15000300,"initialTick":15000000}],"warnings":["10.0.0.2:31841: tick_regress"]}`)
    var buf bytes.Buffer
    if err := writeStatus(&buf, "table", data); err != nil { t.Fatalf("write: %v", err) }
    out := strings.ToLower(buf.String())
    for _, want := range []string{"phase steady", "epoch 120", "rounds 7", "warning: 10.0.0.2:31841: tick_regress", "15000300"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in\n%s", want, out) }
    }
    buf.Reset()
    if err := writeStatus(&buf, "json", []byte(`{}`)); err != nil || buf.String() != "{}\n" {
        t.Fatalf("json passthrough: %q %v", buf.String(), err)
    }
}
