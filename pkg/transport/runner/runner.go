package runner

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "net"
    "os"
    "os/exec"
    "path/filepath"
    "strings"
    "time"

    "golang.org/x/crypto/ssh"
    "golang.org/x/crypto/ssh/knownhosts"
)

// Result carries the separated output channels of one command.
type Result struct {
    Stdout   string
    Stderr   string
    ExitCode int
}

// Runner runs one command. A non-zero exit status is reported through
// Result.ExitCode, not as an error; errors mean the command did not run or
// was cut short by ctx.
type Runner interface {
    Run(ctx context.Context, cmd string, args ...string) (Result, error)
}

// Local runs commands on this host.
type Local struct {
    // Dir is the working directory (e.g. where qubic-cli lives). Empty means cwd.
    Dir string
}

func (l Local) Run(ctx context.Context, cmd string, args ...string) (Result, error) {
    c := exec.CommandContext(ctx, cmd, args...)
    c.Dir = l.Dir
    // children holding the pipes must not outlive a cancelled ctx for long
    c.WaitDelay = time.Second
    var stdout, stderr bytes.Buffer
    c.Stdout = &stdout
    c.Stderr = &stderr
    err := c.Run()
    res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
    if ctx.Err() != nil {
        return res, ctx.Err()
    }
    var exitErr *exec.ExitError
    if errors.As(err, &exitErr) {
        res.ExitCode = exitErr.ExitCode()
        return res, nil
    }
    return res, err
}

// SSH runs commands on a jump host that can reach the fleet.
type SSH struct {
    Host                        string
    Port                        string
    User                        string
    KeyPath                     string
    Passphrase                  []byte
    KnownHostsPath              string
    InsecureSkipHostKeyChecking bool
    Timeout                     time.Duration
    // Dir is changed into before running the command.
    Dir string
}

func (r SSH) Run(ctx context.Context, cmd string, args ...string) (Result, error) {
    client, err := r.dial(ctx)
    if err != nil { return Result{}, err }
    defer client.Close()

    session, err := client.NewSession()
    if err != nil { return Result{}, err }
    defer session.Close()

    var stdout, stderr bytes.Buffer
    session.Stdout = &stdout
    session.Stderr = &stderr

    line := joinCommand(cmd, args)
    if r.Dir != "" {
        line = "cd " + shellEscape(r.Dir) + " && " + line
    }

    done := make(chan error, 1)
    go func() { done <- session.Run(line) }()
    select {
    case <-ctx.Done():
        // closing the client unblocks session.Run
        _ = client.Close()
        <-done
        return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
    case err = <-done:
    }
    res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
    var exitErr *ssh.ExitError
    if errors.As(err, &exitErr) {
        res.ExitCode = exitErr.ExitStatus()
        return res, nil
    }
    return res, err
}

func (r SSH) dial(ctx context.Context) (*ssh.Client, error) {
    address, err := r.address()
    if err != nil { return nil, err }
    config, err := r.clientConfig()
    if err != nil { return nil, err }
    d := net.Dialer{Timeout: r.Timeout}
    conn, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return nil, err }
    cc, chans, reqs, err := ssh.NewClientConn(conn, address, config)
    if err != nil {
        conn.Close()
        return nil, err
    }
    return ssh.NewClient(cc, chans, reqs), nil
}

// address defaults the port to 22 unless Port or Host carries one.
func (r SSH) address() (string, error) {
    host := strings.TrimSpace(r.Host)
    if host == "" { return "", errors.New("runner: ssh host is required") }
    if r.Port != "" { return net.JoinHostPort(host, r.Port), nil }
    if _, _, err := net.SplitHostPort(host); err == nil { return host, nil }
    return net.JoinHostPort(host, "22"), nil
}

func (r SSH) clientConfig() (*ssh.ClientConfig, error) {
    if r.User == "" { return nil, errors.New("runner: ssh user is required") }
    signer, err := r.signer()
    if err != nil { return nil, err }
    hostKey := ssh.InsecureIgnoreHostKey()
    if !r.InsecureSkipHostKeyChecking {
        if hostKey, err = r.knownHosts(); err != nil { return nil, err }
    }
    return &ssh.ClientConfig{User: r.User, Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)}, HostKeyCallback: hostKey, Timeout: r.Timeout}, nil
}

func (r SSH) signer() (ssh.Signer, error) {
    if r.KeyPath == "" { return nil, errors.New("runner: ssh key path is required") }
    pem, err := os.ReadFile(r.KeyPath)
    if err != nil { return nil, err }
    if len(r.Passphrase) > 0 { return ssh.ParsePrivateKeyWithPassphrase(pem, r.Passphrase) }
    return ssh.ParsePrivateKey(pem)
}

func (r SSH) knownHosts() (ssh.HostKeyCallback, error) {
    path := strings.TrimSpace(r.KnownHostsPath)
    if path == "" {
        home, err := os.UserHomeDir()
        if err != nil { return nil, fmt.Errorf("runner: known_hosts not set: %w", err) }
        path = filepath.Join(home, ".ssh", "known_hosts")
    }
    return knownhosts.New(path)
}

// joinCommand quotes every word so the remote shell sees the argv unchanged.
func joinCommand(cmd string, args []string) string {
    words := make([]string, 0, len(args)+1)
    for _, w := range append([]string{cmd}, args...) { words = append(words, shellEscape(w)) }
    return strings.Join(words, " ")
}

func shellEscape(v string) string {
    return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}
