package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/discovery"
    dDNS "github.com/KavataK/qubic-node-setup/pkg/discovery/dns"
    dFile "github.com/KavataK/qubic-node-setup/pkg/discovery/file"
    dStatic "github.com/KavataK/qubic-node-setup/pkg/discovery/static"
    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    "github.com/KavataK/qubic-node-setup/pkg/launcher"
    "github.com/KavataK/qubic-node-setup/pkg/monitor"
    "github.com/KavataK/qubic-node-setup/pkg/nodeclient"
    "github.com/KavataK/qubic-node-setup/pkg/preflight"
    "github.com/KavataK/qubic-node-setup/pkg/recovery"
    tlsx "github.com/KavataK/qubic-node-setup/pkg/security/tlsconfig"
    "github.com/KavataK/qubic-node-setup/pkg/snapshot"
    "github.com/KavataK/qubic-node-setup/pkg/transport"
    mgmtgrpc "github.com/KavataK/qubic-node-setup/pkg/transport/grpc"
    httpjson "github.com/KavataK/qubic-node-setup/pkg/transport/httpjson"
    "github.com/KavataK/qubic-node-setup/pkg/transport/nodecli"
    "github.com/KavataK/qubic-node-setup/pkg/transport/runner"
)

// ErrConfig marks configuration problems detected before anything runs.
var ErrConfig = errors.New("bootstrap: invalid configuration")

// Config defines high-level inputs to assemble the fleet tooling with
// sensible defaults. Zero values fall back to the package defaults of the
// component that consumes them.
type Config struct {
    // Fleet addresses
    DiscoveryKind string        // "static" (default), "dns", or "file"
    NodesCSV      string        // used when DiscoveryKind=static
    DNSNamesCSV   string        // used when kind=dns
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file
    NodePort      int           // default port for addresses without one
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    Designated    string        // node receiving broadcasts; empty = last address

    // Node tooling
    CLIPath       string
    BroadcastPath string
    WorkDir       string
    Seed          string

    // Unprivileged commands only query and broadcast, so they run without a seed.
    Unprivileged bool

    // Optional jump host; empty SSHHost runs the tools locally.
    SSHHost       string
    SSHPort       string
    SSHUser       string
    SSHKey        string
    SSHKnownHosts string
    SSHInsecure   bool

    // Polling and monitoring
    Workers          int
    QueryTimeout     time.Duration
    ActionTimeout    time.Duration
    Interval         time.Duration
    Settle           time.Duration
    StallCooldown    time.Duration
    CheckpointPeriod int64
    DirectiveCode    int
    Shuffle          bool
    BroadcastRepeat  int
    BroadcastGap     time.Duration

    // Preflight
    SkipPreflight        bool
    PreflightDelay       time.Duration
    PreflightMaxAttempts int

    // Launch
    LaunchCheckInterval   time.Duration
    LaunchMaxChecks       int
    LaunchBroadcastRepeat int

    // Management API (status/health/metrics); empty MgmtAddr disables it.
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"
    TLS       tlsx.Options

    Logger logrus.FieldLogger
}

// DefaultConfig returns the settings used when neither flags nor a config
// file say otherwise.
func DefaultConfig() Config {
    return Config{
        DiscoveryKind:         "static",
        NodePort:              fleet.DefaultPort,
        DiscRefresh:           5 * time.Second,
        CLIPath:               "./qubic-cli",
        BroadcastPath:         "./broadcastComputorTestnet",
        Workers:               4,
        QueryTimeout:          nodeclient.DefaultTimeout,
        ActionTimeout:         30 * time.Second,
        Interval:              monitor.DefaultInterval,
        Settle:                monitor.DefaultSettle,
        StallCooldown:         monitor.DefaultStallCooldown,
        CheckpointPeriod:      monitor.DefaultCheckpointPeriod,
        DirectiveCode:         recovery.DefaultDirective,
        Shuffle:               true,
        BroadcastRepeat:       1,
        BroadcastGap:          time.Second,
        PreflightDelay:        preflight.DefaultDelay,
        LaunchCheckInterval:   launcher.DefaultCheckInterval,
        LaunchBroadcastRepeat: 3,
        MgmtProto:             "http",
    }
}

// Validate reports the first inconsistency, wrapped in ErrConfig.
func (c Config) Validate() error {
    bad := func(format string, args ...any) error {
        return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
    }
    switch c.DiscoveryKind {
    case "", "static":
        if strings.TrimSpace(c.NodesCSV) == "" { return bad("no nodes given") }
    case "dns":
        if strings.TrimSpace(c.DNSNamesCSV) == "" { return bad("dns discovery needs names") }
    case "file":
        if c.FilePath == "" && c.FileEnv == "" { return bad("file discovery needs a path or env var") }
    default:
        return bad("unknown discovery kind %q", c.DiscoveryKind)
    }
    switch c.MgmtProto {
    case "", "http", "grpc":
    default:
        return bad("unknown management protocol %q", c.MgmtProto)
    }
    if c.NodePort < 0 || c.NodePort > 65535 { return bad("node port %d out of range", c.NodePort) }
    if c.Workers < 0 { return bad("negative worker count") }
    if c.CheckpointPeriod < 0 { return bad("negative checkpoint period") }
    if c.TLS.Enable && c.MgmtAddr != "" && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
        return bad("tls needs a certificate and key")
    }
    if c.SSHHost != "" && (c.SSHUser == "" || c.SSHKey == "") {
        return bad("ssh jump host needs a user and key")
    }
    if !c.Unprivileged && strings.TrimSpace(c.Seed) == "" {
        return bad("privileged actions need an operator seed")
    }
    return nil
}

// Stack holds the wired components for one fleet.
type Stack struct {
    Config     Config
    Addresses  []fleet.NodeAddress
    Designated *fleet.NodeAddress

    Exec      transport.Executor
    Client    *nodeclient.Client
    Poller    *snapshot.Poller
    Actions   *recovery.Actions
    Preflight *preflight.Coordinator
}

// Build resolves the fleet and assembles the node tooling without
// contacting any node.
func Build(cfg Config) (*Stack, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if cfg.NodePort == 0 { cfg.NodePort = fleet.DefaultPort }

    addrs, err := discovery.Resolve(source(cfg), cfg.NodePort)
    if err != nil { return nil, fmt.Errorf("%w: %w", ErrConfig, err) }

    st := &Stack{Config: cfg, Addresses: addrs}
    if cfg.Designated != "" {
        d, err := fleet.ParseAddress(cfg.Designated, cfg.NodePort)
        if err != nil { return nil, fmt.Errorf("%w: designated node: %w", ErrConfig, err) }
        if !contains(addrs, d) { return nil, fmt.Errorf("%w: designated node %s is not part of the fleet", ErrConfig, d) }
        st.Designated = &d
    }

    st.Exec = nodecli.New(nodecli.Options{
        CLIPath:       cfg.CLIPath,
        BroadcastPath: cfg.BroadcastPath,
        Seed:          cfg.Seed,
        Runner:        newRunner(cfg),
    })
    st.Client = nodeclient.New(st.Exec, cfg.Logger)
    st.Poller = snapshot.NewPoller(st.Client, snapshot.Options{Workers: cfg.Workers, Timeout: cfg.QueryTimeout, Logger: cfg.Logger})
    st.Actions = recovery.New(st.Exec, recovery.Options{
        Timeout:         cfg.ActionTimeout,
        BroadcastRepeat: cfg.BroadcastRepeat,
        BroadcastGap:    cfg.BroadcastGap,
        Logger:          cfg.Logger,
    })
    st.Preflight = preflight.New(st.Actions, preflight.Options{
        Backoff: preflight.FixedBackoff{Delay: cfg.PreflightDelay, MaxAttempts: cfg.PreflightMaxAttempts},
        Logger:  cfg.Logger,
    })
    return st, nil
}

// Monitor returns an epoch monitor over the stack.
func (s *Stack) Monitor() (*monitor.Monitor, error) {
    c := s.Config
    return monitor.New(monitor.Options{
        Addresses:        s.Addresses,
        Designated:       s.Designated,
        Poller:           s.Poller,
        Recovery:         s.Actions,
        Interval:         c.Interval,
        Settle:           c.Settle,
        StallCooldown:    c.StallCooldown,
        CheckpointPeriod: c.CheckpointPeriod,
        DirectiveCode:    c.DirectiveCode,
        Shuffle:          c.Shuffle,
        Logger:           c.Logger,
    })
}

// Launcher returns the one-shot launch flow over the stack.
func (s *Stack) Launcher() (*launcher.Launcher, error) {
    c := s.Config
    // a fresh network gets each configuration sent several times
    bc := recovery.New(s.Exec, recovery.Options{
        Timeout:         c.ActionTimeout,
        BroadcastRepeat: c.LaunchBroadcastRepeat,
        BroadcastGap:    c.BroadcastGap,
        Logger:          c.Logger,
    })
    opts := launcher.Options{
        Addresses:     s.Addresses,
        Designated:    s.Designated,
        Observer:      s.Poller,
        Ticks:         s.Client,
        Broadcaster:   bc,
        CheckInterval: c.LaunchCheckInterval,
        MaxChecks:     c.LaunchMaxChecks,
        TickTimeout:   c.QueryTimeout,
        Logger:        c.Logger,
    }
    if !c.SkipPreflight { opts.Preflight = s.Preflight }
    return launcher.New(opts)
}

// ManagementServer returns the configured management API server, or nil
// when MgmtAddr is empty.
func ManagementServer(cfg Config) (transport.RPCServer, error) {
    if cfg.MgmtAddr == "" { return nil, nil }
    var srvTLS *tls.Config
    if cfg.TLS.Enable {
        s, err := cfg.TLS.Server()
        if err != nil { return nil, fmt.Errorf("%w: tls: %w", ErrConfig, err) }
        srvTLS = s
    }
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    }
}

// ManagementClient returns a status client for proto ("http" or "grpc").
func ManagementClient(proto string, timeout time.Duration, opts tlsx.Options) (transport.RPCClient, error) {
    cliTLS, err := opts.Client()
    if err != nil { return nil, fmt.Errorf("%w: tls: %w", ErrConfig, err) }
    switch proto {
    case "grpc":
        c := mgmtgrpc.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, nil
    case "", "http":
        c := httpjson.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, nil
    default:
        return nil, fmt.Errorf("%w: unknown management protocol %q", ErrConfig, proto)
    }
}

// Run builds the stack, serves the management API, runs preflight unless
// skipped, then monitors until ctx is cancelled. A cancelled ctx is a normal
// shutdown and yields nil.
func Run(ctx context.Context, cfg Config) error {
    st, err := Build(cfg)
    if err != nil { return err }
    mon, err := st.Monitor()
    if err != nil { return fmt.Errorf("%w: %w", ErrConfig, err) }

    srv, err := ManagementServer(cfg)
    if err != nil { return err }
    if srv != nil {
        if err := srv.Start(ctx, mon.StatusJSON); err != nil { return fmt.Errorf("management api: %w", err) }
        defer func() { _ = srv.Stop(context.Background()) }()
        logutil.Infof(cfg.Logger, "management api (%s) listening on %s", protoName(cfg.MgmtProto), srv.Addr())
    }

    logutil.Infof(cfg.Logger, "monitoring %d nodes", len(st.Addresses))
    if !cfg.SkipPreflight {
        if err := st.Preflight.Run(ctx, st.Addresses); err != nil {
            if ctx.Err() != nil { return nil }
            return err
        }
    }
    return mon.Run(ctx)
}

func source(cfg Config) discovery.Source {
    switch cfg.DiscoveryKind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: dStatic.Parse(cfg.DNSNamesCSV), Port: cfg.NodePort, Refresh: cfg.DiscRefresh, Logger: cfg.Logger})
    case "file":
        return dFile.New(dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv, Refresh: cfg.DiscRefresh})
    default:
        return dStatic.New(dStatic.Parse(cfg.NodesCSV)...)
    }
}

func newRunner(cfg Config) runner.Runner {
    if cfg.SSHHost == "" { return runner.Local{Dir: cfg.WorkDir} }
    return runner.SSH{
        Host:                        cfg.SSHHost,
        Port:                        cfg.SSHPort,
        User:                        cfg.SSHUser,
        KeyPath:                     cfg.SSHKey,
        KnownHostsPath:              cfg.SSHKnownHosts,
        InsecureSkipHostKeyChecking: cfg.SSHInsecure,
        Timeout:                     10 * time.Second,
        Dir:                         cfg.WorkDir,
    }
}

func contains(addrs []fleet.NodeAddress, a fleet.NodeAddress) bool {
    for _, x := range addrs {
        if x == a { return true }
    }
    return false
}

func protoName(p string) string {
    if p == "" { return "http" }
    return p
}
