package tlsconfig

import (
    "errors"
    "os"
    "path/filepath"
    "testing"
)

func TestDisabledYieldsNil(t *testing.T) {
    s, err := Options{}.Server()
    if err != nil || s != nil { t.Fatalf("server: %v %v", s, err) }
    c, err := Options{}.Client()
    if err != nil || c != nil { t.Fatalf("client: %v %v", c, err) }
}

func TestServerNeedsKeyPair(t *testing.T) {
    if _, err := (Options{Enable: true}).Server(); !errors.Is(err, ErrMissingKeyPair) {
        t.Fatalf("expected ErrMissingKeyPair, got %v", err)
    }
}

func TestClientWithoutFiles(t *testing.T) {
    cfg, err := Options{Enable: true, ServerName: "monitor.local", InsecureSkipVerify: true}.Client()
    if err != nil { t.Fatalf("client: %v", err) }
    if cfg.ServerName != "monitor.local" || !cfg.InsecureSkipVerify || len(cfg.Certificates) != 0 {
        t.Fatalf("unexpected config %+v", cfg)
    }
}

func TestEmptyCARejected(t *testing.T) {
    p := filepath.Join(t.TempDir(), "ca.pem")
    if err := os.WriteFile(p, []byte("not a certificate"), 0o600); err != nil { t.Fatal(err) }
    if _, err := (Options{Enable: true, CAFile: p}).Client(); !errors.Is(err, ErrEmptyCA) {
        t.Fatalf("expected ErrEmptyCA, got %v", err)
    }
}

func TestMissingCAFile(t *testing.T) {
    _, err := Options{Enable: true, CAFile: filepath.Join(t.TempDir(), "absent.pem")}.Client()
    if !errors.Is(err, os.ErrNotExist) { t.Fatalf("expected not-exist error, got %v", err) }
}
