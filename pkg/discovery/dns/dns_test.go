package dns

import (
    "strings"
    "testing"
    "time"
)

func TestParseSRVName(t *testing.T) {
    s, p, n := parseSRVName("_qubic._tcp.testnet.example.org")
    if s != "qubic" || p != "tcp" || n != "testnet.example.org" {
        t.Fatalf("parseSRVName failed: got (%q,%q,%q)", s, p, n)
    }
    s, p, n = parseSRVName("bad.srv")
    if s != "" || p != "" || n != "" {
        t.Fatalf("expected empty parts for bad input, got (%q,%q,%q)", s, p, n)
    }
}

func TestPassthroughHostPort(t *testing.T) {
    d := New(Options{Names: []string{"1.2.3.4:31841"}, Refresh: 5 * time.Millisecond})
    got := d.Addresses()
    if len(got) != 1 || got[0] != "1.2.3.4:31841" {
        t.Fatalf("unexpected addresses: %#v", got)
    }
}

func TestLookupHostLocalhostUsesNodePort(t *testing.T) {
    d := New(Options{Names: []string{"localhost"}, Refresh: 5 * time.Millisecond})
    got := d.Addresses()
    if len(got) == 0 {
        t.Fatalf("expected at least one resolved host:port, got %#v", got)
    }
    for _, s := range got {
        if !strings.HasSuffix(s, ":31841") {
            t.Fatalf("expected default node port, got %#v", got)
        }
    }
}
