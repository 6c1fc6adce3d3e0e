package bootstrap

import (
    "fmt"
    "strings"
    "time"

    "github.com/BurntSushi/toml"

    tlsx "github.com/KavataK/qubic-node-setup/pkg/security/tlsconfig"
)

// fileConfig mirrors Config in a config file. Durations are Go duration strings.
type fileConfig struct {
    Nodes      []string `toml:"nodes"`
    Discovery  string   `toml:"discovery"`
    DNSNames   []string `toml:"dns_names"`
    NodesFile  string   `toml:"nodes_file"`
    NodesEnv   string   `toml:"nodes_env"`
    NodePort   int      `toml:"node_port"`
    Designated string   `toml:"designated"`

    CLIPath       string `toml:"cli_path"`
    BroadcastPath string `toml:"broadcast_path"`
    WorkDir       string `toml:"work_dir"`
    Seed          string `toml:"seed"`

    SSH struct {
        Host       string `toml:"host"`
        Port       string `toml:"port"`
        User       string `toml:"user"`
        Key        string `toml:"key"`
        KnownHosts string `toml:"known_hosts"`
        Insecure   bool   `toml:"insecure"`
    } `toml:"ssh"`

    Monitor struct {
        Workers          int    `toml:"workers"`
        QueryTimeout     string `toml:"query_timeout"`
        ActionTimeout    string `toml:"action_timeout"`
        Interval         string `toml:"interval"`
        Settle           string `toml:"settle"`
        StallCooldown    string `toml:"stall_cooldown"`
        CheckpointPeriod int64  `toml:"checkpoint_period"`
        DirectiveCode    int    `toml:"directive_code"`
        Shuffle          bool   `toml:"shuffle"`
        BroadcastRepeat  int    `toml:"broadcast_repeat"`
        BroadcastGap     string `toml:"broadcast_gap"`
    } `toml:"monitor"`

    Preflight struct {
        Skip        bool   `toml:"skip"`
        Delay       string `toml:"delay"`
        MaxAttempts int    `toml:"max_attempts"`
    } `toml:"preflight"`

    Launch struct {
        CheckInterval   string `toml:"check_interval"`
        MaxChecks       int    `toml:"max_checks"`
        BroadcastRepeat int    `toml:"broadcast_repeat"`
    } `toml:"launch"`

    Mgmt struct {
        Addr  string `toml:"addr"`
        Proto string `toml:"proto"`
    } `toml:"mgmt"`

    TLS tlsx.Options `toml:"tls"`
}

// LoadFile applies the keys present in a TOML file on top of cfg. Keys the
// file does not define leave cfg untouched.
func LoadFile(path string, cfg *Config) error {
    var raw fileConfig
    meta, err := toml.DecodeFile(path, &raw)
    if err != nil { return fmt.Errorf("%w: load %s: %w", ErrConfig, path, err) }
    if undecoded := meta.Undecoded(); len(undecoded) > 0 {
        return fmt.Errorf("%w: unknown key %q in %s", ErrConfig, undecoded[0].String(), path)
    }

    if meta.IsDefined("nodes") { cfg.NodesCSV = strings.Join(trimAll(raw.Nodes), ",") }
    if meta.IsDefined("discovery") { cfg.DiscoveryKind = strings.TrimSpace(raw.Discovery) }
    if meta.IsDefined("dns_names") { cfg.DNSNamesCSV = strings.Join(trimAll(raw.DNSNames), ",") }
    if meta.IsDefined("nodes_file") { cfg.FilePath = strings.TrimSpace(raw.NodesFile) }
    if meta.IsDefined("nodes_env") { cfg.FileEnv = strings.TrimSpace(raw.NodesEnv) }
    if meta.IsDefined("node_port") { cfg.NodePort = raw.NodePort }
    if meta.IsDefined("designated") { cfg.Designated = strings.TrimSpace(raw.Designated) }

    if meta.IsDefined("cli_path") { cfg.CLIPath = raw.CLIPath }
    if meta.IsDefined("broadcast_path") { cfg.BroadcastPath = raw.BroadcastPath }
    if meta.IsDefined("work_dir") { cfg.WorkDir = raw.WorkDir }
    if meta.IsDefined("seed") { cfg.Seed = strings.TrimSpace(raw.Seed) }

    if meta.IsDefined("ssh", "host") { cfg.SSHHost = raw.SSH.Host }
    if meta.IsDefined("ssh", "port") { cfg.SSHPort = raw.SSH.Port }
    if meta.IsDefined("ssh", "user") { cfg.SSHUser = raw.SSH.User }
    if meta.IsDefined("ssh", "key") { cfg.SSHKey = raw.SSH.Key }
    if meta.IsDefined("ssh", "known_hosts") { cfg.SSHKnownHosts = raw.SSH.KnownHosts }
    if meta.IsDefined("ssh", "insecure") { cfg.SSHInsecure = raw.SSH.Insecure }

    m := raw.Monitor
    if meta.IsDefined("monitor", "workers") { cfg.Workers = m.Workers }
    if meta.IsDefined("monitor", "checkpoint_period") { cfg.CheckpointPeriod = m.CheckpointPeriod }
    if meta.IsDefined("monitor", "directive_code") { cfg.DirectiveCode = m.DirectiveCode }
    if meta.IsDefined("monitor", "shuffle") { cfg.Shuffle = m.Shuffle }
    if meta.IsDefined("monitor", "broadcast_repeat") { cfg.BroadcastRepeat = m.BroadcastRepeat }
    durations := []struct {
        key []string
        val string
        dst *time.Duration
    }{
        {[]string{"monitor", "query_timeout"}, m.QueryTimeout, &cfg.QueryTimeout},
        {[]string{"monitor", "action_timeout"}, m.ActionTimeout, &cfg.ActionTimeout},
        {[]string{"monitor", "interval"}, m.Interval, &cfg.Interval},
        {[]string{"monitor", "settle"}, m.Settle, &cfg.Settle},
        {[]string{"monitor", "stall_cooldown"}, m.StallCooldown, &cfg.StallCooldown},
        {[]string{"monitor", "broadcast_gap"}, m.BroadcastGap, &cfg.BroadcastGap},
        {[]string{"preflight", "delay"}, raw.Preflight.Delay, &cfg.PreflightDelay},
        {[]string{"launch", "check_interval"}, raw.Launch.CheckInterval, &cfg.LaunchCheckInterval},
    }
    for _, d := range durations {
        if !meta.IsDefined(d.key...) { continue }
        v, err := time.ParseDuration(strings.TrimSpace(d.val))
        if err != nil { return fmt.Errorf("%w: parse %s: %w", ErrConfig, strings.Join(d.key, "."), err) }
        *d.dst = v
    }

    if meta.IsDefined("preflight", "skip") { cfg.SkipPreflight = raw.Preflight.Skip }
    if meta.IsDefined("preflight", "max_attempts") { cfg.PreflightMaxAttempts = raw.Preflight.MaxAttempts }

    if meta.IsDefined("launch", "max_checks") { cfg.LaunchMaxChecks = raw.Launch.MaxChecks }
    if meta.IsDefined("launch", "broadcast_repeat") { cfg.LaunchBroadcastRepeat = raw.Launch.BroadcastRepeat }

    if meta.IsDefined("mgmt", "addr") { cfg.MgmtAddr = strings.TrimSpace(raw.Mgmt.Addr) }
    if meta.IsDefined("mgmt", "proto") { cfg.MgmtProto = strings.TrimSpace(raw.Mgmt.Proto) }
    // a [tls] table replaces the TLS settings as a whole
    if meta.IsDefined("tls") { cfg.TLS = raw.TLS }
    return nil
}

func trimAll(in []string) []string {
    out := make([]string, 0, len(in))
    for _, v := range in {
        v = strings.TrimSpace(v)
        if v != "" { out = append(out, v) }
    }
    return out
}
