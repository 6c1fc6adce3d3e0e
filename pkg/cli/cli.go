package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/KavataK/qubic-node-setup/pkg/bootstrap"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    tracing "github.com/KavataK/qubic-node-setup/pkg/observability/tracing"
    "github.com/KavataK/qubic-node-setup/pkg/preflight"
    tlsx "github.com/KavataK/qubic-node-setup/pkg/security/tlsconfig"
)

// Process exit codes.
const (
    ExitOK        = 0
    ExitRuntime   = 1
    ExitConfig    = 2
    ExitPreflight = 3
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
    switch {
    case err == nil, errors.Is(err, context.Canceled):
        return ExitOK
    case errors.Is(err, bootstrap.ErrConfig):
        return ExitConfig
    case errors.Is(err, preflight.ErrIncomplete):
        return ExitPreflight
    default:
        return ExitRuntime
    }
}

// Execute runs the root command with a signal-aware context and returns the
// exit code.
func Execute() int {
    ctx, cancel := signalContext()
    defer cancel()
    root := NewRootCmd()
    err := root.ExecuteContext(ctx)
    if err != nil { fmt.Fprintln(os.Stderr, "epochctl:", err) }
    return ExitCode(err)
}

// NewRootCmd returns the epochctl command tree.
func NewRootCmd() *cobra.Command {
    root := &cobra.Command{
        Use:           "epochctl",
        Short:         "Monitor a node fleet through epoch transitions",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    AddAll(root)
    return root
}

// AddAll attaches the fleet subcommands (run/preflight/probe/launch/status).
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewPreflightCmd())
    root.AddCommand(NewProbeCmd())
    root.AddCommand(NewLaunchCmd())
    root.AddCommand(NewStatusCmd())
}

// options carries the flags shared by the commands that talk to the fleet.
type options struct {
    cfg        bootstrap.Config
    configPath string
    logJSON    bool
    trace      bool
}

func newOptions() *options { return &options{cfg: bootstrap.DefaultConfig()} }

func (o *options) bind(fs *pflag.FlagSet) {
    c := &o.cfg
    fs.StringVar(&o.configPath, "config", "", "TOML config file; explicit flags override it")
    fs.BoolVar(&o.logJSON, "log-json", false, "log in JSON")
    fs.BoolVar(&o.trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")

    fs.StringVar(&c.NodesCSV, "nodes", c.NodesCSV, "comma-separated node addresses (host[:port]), used by discovery=static")
    fs.StringVar(&c.DiscoveryKind, "discovery", c.DiscoveryKind, "address source: static|dns|file")
    fs.StringVar(&c.DNSNamesCSV, "dns-names", c.DNSNamesCSV, "comma-separated DNS names or SRV records")
    fs.StringVar(&c.FilePath, "file-path", c.FilePath, "path or glob to a file with node addresses")
    fs.StringVar(&c.FileEnv, "file-env", c.FileEnv, "ENV var name containing CSV addresses; overrides the file when set")
    fs.IntVar(&c.NodePort, "node-port", c.NodePort, "port for addresses without one")
    fs.DurationVar(&c.DiscRefresh, "disc-refresh", c.DiscRefresh, "discovery refresh/cache duration")
    fs.StringVar(&c.Designated, "designated", c.Designated, "node receiving configuration broadcasts (default: last address)")

    fs.StringVar(&c.CLIPath, "cli", c.CLIPath, "node control binary")
    fs.StringVar(&c.BroadcastPath, "broadcaster", c.BroadcastPath, "configuration broadcast binary")
    fs.StringVar(&c.WorkDir, "workdir", c.WorkDir, "working directory for the node tools")
    fs.StringVar(&c.Seed, "seed", c.Seed, "operator seed for privileged commands")

    fs.StringVar(&c.SSHHost, "ssh-host", c.SSHHost, "run the node tools on this jump host")
    fs.StringVar(&c.SSHPort, "ssh-port", c.SSHPort, "jump host ssh port (default 22)")
    fs.StringVar(&c.SSHUser, "ssh-user", c.SSHUser, "jump host user")
    fs.StringVar(&c.SSHKey, "ssh-key", c.SSHKey, "private key for the jump host")
    fs.StringVar(&c.SSHKnownHosts, "ssh-known-hosts", c.SSHKnownHosts, "known_hosts file (default ~/.ssh/known_hosts)")
    fs.BoolVar(&c.SSHInsecure, "ssh-insecure", c.SSHInsecure, "skip host key checking (DEV ONLY)")

    fs.IntVar(&c.Workers, "workers", c.Workers, "concurrent node queries per round")
    fs.DurationVar(&c.QueryTimeout, "query-timeout", c.QueryTimeout, "timeout of one status query")
    fs.DurationVar(&c.ActionTimeout, "action-timeout", c.ActionTimeout, "timeout of one recovery command")
    fs.DurationVar(&c.Interval, "interval", c.Interval, "pause between polling rounds")
    fs.DurationVar(&c.Settle, "settle", c.Settle, "wait after a broadcast before checking the designated node")
    fs.DurationVar(&c.StallCooldown, "stall-cooldown", c.StallCooldown, "extra pause after directives were sent")
    fs.Int64Var(&c.CheckpointPeriod, "checkpoint-period", c.CheckpointPeriod, "ticks between checkpoints")
    fs.IntVar(&c.DirectiveCode, "directive", c.DirectiveCode, "special command sent to stalled nodes")
    fs.BoolVar(&c.Shuffle, "shuffle", c.Shuffle, "randomize the polling order of each round")
    fs.IntVar(&c.BroadcastRepeat, "broadcast-repeat", c.BroadcastRepeat, "sends per configuration broadcast")
    fs.DurationVar(&c.BroadcastGap, "broadcast-gap", c.BroadcastGap, "pause between repeated sends")

    fs.BoolVar(&c.SkipPreflight, "skip-preflight", c.SkipPreflight, "do not set the MAIN/AUX flag first")
    fs.DurationVar(&c.PreflightDelay, "preflight-delay", c.PreflightDelay, "pause between flag attempts on one node")
    fs.IntVar(&c.PreflightMaxAttempts, "preflight-attempts", c.PreflightMaxAttempts, "flag attempts per node (0 = until confirmed)")
}

func bindMgmt(fs *pflag.FlagSet, addr, proto *string, t *tlsx.Options, serverSide bool) {
    fs.StringVar(addr, "mgmt-addr", *addr, "management address (host:port)")
    fs.StringVar(proto, "mgmt-proto", *proto, "management protocol: http|grpc")
    role := "client"
    if serverSide { role = "server" }
    fs.BoolVar(&t.Enable, "tls-enable", t.Enable, "enable (m)TLS for the management transport")
    fs.StringVar(&t.CAFile, "tls-ca", t.CAFile, "path to CA cert (PEM)")
    fs.StringVar(&t.CertFile, "tls-cert", t.CertFile, "path to "+role+" certificate (PEM)")
    fs.StringVar(&t.KeyFile, "tls-key", t.KeyFile, "path to "+role+" private key (PEM)")
    fs.BoolVar(&t.Reload, "tls-reload", t.Reload, "re-read certificates from disk on rotation")
    if !serverSide {
        fs.BoolVar(&t.InsecureSkipVerify, "tls-skip-verify", t.InsecureSkipVerify, "skip server cert verification (DEV ONLY)")
        fs.StringVar(&t.ServerName, "tls-server-name", t.ServerName, "expected server name (for TLS validation)")
    }
}

// resolve applies the config file, then re-applies the flags given on the
// command line so they win over the file.
func (o *options) resolve(fs *pflag.FlagSet) (bootstrap.Config, error) {
    if o.logJSON { logutil.SetJSON(true) }
    if o.configPath != "" {
        given := map[string]string{}
        fs.Visit(func(f *pflag.Flag) { given[f.Name] = f.Value.String() })
        if err := bootstrap.LoadFile(o.configPath, &o.cfg); err != nil { return o.cfg, err }
        for name, v := range given {
            if err := fs.Set(name, v); err != nil { return o.cfg, fmt.Errorf("%w: flag --%s: %w", bootstrap.ErrConfig, name, err) }
        }
    }
    cfg := o.cfg
    cfg.Logger = logutil.New()
    return cfg, cfg.Validate()
}

func (o *options) startTracing(log logrus.FieldLogger) func() {
    if !o.trace { return func() {} }
    shutdown, err := tracing.Setup(tracing.Options{Enable: true})
    if err != nil {
        logutil.Warnf(log, "tracing setup error: %v", err)
        return func() {}
    }
    return func() { _ = shutdown(context.Background()) }
}

// NewRunCmd returns the "run" command: preflight, then monitor until stopped.
func NewRunCmd() *cobra.Command {
    o := newOptions()
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Prepare the fleet and monitor it through epoch transitions",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := o.resolve(cmd.Flags())
            if err != nil { return err }
            defer o.startTracing(cfg.Logger)()
            return bootstrap.Run(cmd.Context(), cfg)
        },
    }
    o.bind(cmd.Flags())
    bindMgmt(cmd.Flags(), &o.cfg.MgmtAddr, &o.cfg.MgmtProto, &o.cfg.TLS, true)
    return cmd
}

// NewPreflightCmd returns the "preflight" command.
func NewPreflightCmd() *cobra.Command {
    o := newOptions()
    cmd := &cobra.Command{
        Use:   "preflight",
        Short: "Set the MAIN/AUX flag on every node and exit",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := o.resolve(cmd.Flags())
            if err != nil { return err }
            defer o.startTracing(cfg.Logger)()
            st, err := bootstrap.Build(cfg)
            if err != nil { return err }
            if err := st.Preflight.Run(cmd.Context(), st.Addresses); err != nil { return err }
            fmt.Fprintf(cmd.OutOrStdout(), "flag confirmed on %d nodes\n", len(st.Addresses))
            return nil
        },
    }
    o.bind(cmd.Flags())
    return cmd
}

// NewProbeCmd returns the "probe" command printing one polling round.
func NewProbeCmd() *cobra.Command {
    o := newOptions()
    o.cfg.Unprivileged = true
    var format string
    cmd := &cobra.Command{
        Use:   "probe",
        Short: "Query every node once and print epoch and tick",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := o.resolve(cmd.Flags())
            if err != nil { return err }
            defer o.startTracing(cfg.Logger)()
            st, err := bootstrap.Build(cfg)
            if err != nil { return err }
            round := st.Poller.Poll(cmd.Context(), st.Addresses)
            if err := cmd.Context().Err(); err != nil { return err }
            return writeRound(cmd.OutOrStdout(), format, round)
        },
    }
    o.bind(cmd.Flags())
    cmd.Flags().StringVar(&format, "format", "table", "output format: table|json")
    return cmd
}

// NewLaunchCmd returns the "launch" command for a freshly deployed network.
func NewLaunchCmd() *cobra.Command {
    o := newOptions()
    o.cfg.Unprivileged = true
    cmd := &cobra.Command{
        Use:   "launch",
        Short: "Broadcast the current epoch configuration until the network starts ticking",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := o.resolve(cmd.Flags())
            if err != nil { return err }
            defer o.startTracing(cfg.Logger)()
            st, err := bootstrap.Build(cfg)
            if err != nil { return err }
            l, err := st.Launcher()
            if err != nil { return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err) }
            res, err := l.Run(cmd.Context())
            if err != nil { return err }
            return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
        },
    }
    o.bind(cmd.Flags())
    cmd.Flags().DurationVar(&o.cfg.LaunchCheckInterval, "check-interval", o.cfg.LaunchCheckInterval, "pause between tick checks")
    cmd.Flags().IntVar(&o.cfg.LaunchMaxChecks, "max-checks", o.cfg.LaunchMaxChecks, "give up after this many tick checks (0 = never)")
    cmd.Flags().IntVar(&o.cfg.LaunchBroadcastRepeat, "launch-repeat", o.cfg.LaunchBroadcastRepeat, "sends per broadcast while launching")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr    = "127.0.0.1:17946"
        proto   = "http"
        format  string
        timeout time.Duration
        topts   tlsx.Options
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch the status of a running monitor",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := bootstrap.ManagementClient(proto, timeout, topts)
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            return writeStatus(cmd.OutOrStdout(), format, data)
        },
    }
    bindMgmt(cmd.Flags(), &addr, &proto, &topts, false)
    cmd.Flags().StringVar(&format, "format", "json", "output format: json|table")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

func writeRaw(w io.Writer, data []byte) error {
    if _, err := w.Write(data); err != nil { return err }
    if len(data) == 0 || data[len(data)-1] != '\n' {
        _, err := w.Write([]byte("\n"))
        return err
    }
    return nil
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
