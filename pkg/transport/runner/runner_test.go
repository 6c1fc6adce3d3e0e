package runner

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "encoding/pem"
    "os"
    "path/filepath"
    "runtime"
    "testing"
    "time"

    "golang.org/x/crypto/ssh"
)

func TestJoinCommandEscapes(t *testing.T) {
    got := joinCommand("./qubic-cli", []string{"-nodeip", "10.0.0.1", "it's", ""})
    want := `'./qubic-cli' '-nodeip' '10.0.0.1' 'it'"'"'s' ''`
    if got != want {
        t.Fatalf("joinCommand: got %s want %s", got, want)
    }
}

func TestSSHAddressDefaults(t *testing.T) {
    cases := []struct{
        r    SSH
        want string
    }{
        {SSH{Host: "jump"}, "jump:22"},
        {SSH{Host: "jump", Port: "2222"}, "jump:2222"},
        {SSH{Host: "jump:2200"}, "jump:2200"},
    }
    for _, c := range cases {
        got, err := c.r.address()
        if err != nil { t.Fatalf("address: %v", err) }
        if got != c.want { t.Fatalf("address: got %q want %q", got, c.want) }
    }
    if _, err := (SSH{}).address(); err == nil {
        t.Fatalf("expected error for empty host")
    }
}

func TestSSHConfigRequiresUserAndKey(t *testing.T) {
    if _, err := (SSH{Host: "jump"}).clientConfig(); err == nil {
        t.Fatalf("expected error without user")
    }
    if _, err := (SSH{Host: "jump", User: "ops"}).clientConfig(); err == nil {
        t.Fatalf("expected error without key path")
    }
}

func TestSSHConfigLoadsKeyAndKnownHosts(t *testing.T) {
    dir := t.TempDir()
    _, priv, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { t.Fatalf("keygen: %v", err) }
    block, err := ssh.MarshalPrivateKey(priv, "")
    if err != nil { t.Fatalf("marshal: %v", err) }
    key := filepath.Join(dir, "id_ed25519")
    if err := os.WriteFile(key, pem.EncodeToMemory(block), 0o600); err != nil { t.Fatal(err) }
    known := filepath.Join(dir, "known_hosts")
    if err := os.WriteFile(known, nil, 0o600); err != nil { t.Fatal(err) }

    cfg, err := (SSH{Host: "jump", User: "ops", KeyPath: key, KnownHostsPath: known, Timeout: time.Second}).clientConfig()
    if err != nil { t.Fatalf("client config: %v", err) }
    if cfg.User != "ops" || len(cfg.Auth) != 1 || cfg.HostKeyCallback == nil || cfg.Timeout != time.Second {
        t.Fatalf("unexpected config %+v", cfg)
    }
    if _, err := (SSH{Host: "jump", User: "ops", KeyPath: key, KnownHostsPath: filepath.Join(dir, "missing")}).clientConfig(); err == nil {
        t.Fatalf("expected error for a missing known_hosts file")
    }
    if _, err := (SSH{Host: "jump", User: "ops", KeyPath: key, KnownHostsPath: filepath.Join(dir, "missing"), InsecureSkipHostKeyChecking: true}).clientConfig(); err != nil {
        t.Fatalf("insecure mode must not read known_hosts: %v", err)
    }
}

func TestLocalRunSeparatesStreamsAndExitCode(t *testing.T) {
    if runtime.GOOS == "windows" { t.Skip("needs /bin/sh") }
    res, err := Local{}.Run(context.Background(), "/bin/sh", "-c", "echo out; echo err 1>&2; exit 3")
    if err != nil { t.Fatalf("run: %v", err) }
    if res.Stdout != "out\n" || res.Stderr != "err\n" || res.ExitCode != 3 {
        t.Fatalf("unexpected result: %#v", res)
    }
}

func TestLocalRunHonorsContext(t *testing.T) {
    if runtime.GOOS == "windows" { t.Skip("needs /bin/sh") }
    ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
    defer cancel()
    start := time.Now()
    if _, err := (Local{}).Run(ctx, "/bin/sh", "-c", "sleep 5"); err == nil {
        t.Fatalf("expected context error")
    }
    if time.Since(start) > 3*time.Second {
        t.Fatalf("run did not abort promptly")
    }
}
