// Package tlsconfig builds TLS settings for the management endpoint
// (/status over HTTP or gRPC) from certificate files.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// ReloadInterval bounds how long a loaded key pair is reused when Reload is set.
const ReloadInterval = 10 * time.Second

var (
    ErrMissingKeyPair = errors.New("tlsconfig: server cert/key required when TLS enabled")
    ErrEmptyCA        = errors.New("tlsconfig: no certificates found in CA file")
)

// Options defines (m)TLS inputs. A CA on the server side turns on client
// certificate verification.
type Options struct {
    Enable             bool   `toml:"enable"`
    CAFile             string `toml:"ca_file"`
    CertFile           string `toml:"cert_file"`
    KeyFile            string `toml:"key_file"`
    InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
    ServerName         string `toml:"server_name"`
    // Reload re-reads the key pair from disk so certificates can be rotated
    // without a restart.
    Reload bool `toml:"reload"`
}

// Server returns a tls.Config for servers if enabled, otherwise nil.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, ErrMissingKeyPair }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    if o.Reload {
        cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
        return cfg, nil
    }
    cert, err := kp.get()
    if err != nil { return nil, err }
    cfg.Certificates = []tls.Certificate{*cert}
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    if o.Reload {
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
        return cfg, nil
    }
    cert, err := kp.get()
    if err != nil { return nil, err }
    cfg.Certificates = []tls.Certificate{*cert}
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("%w: %s", ErrEmptyCA, path) }
    return pool, nil
}

// keyPair caches a loaded certificate for ReloadInterval.
type keyPair struct {
    cert, key string

    mu       sync.Mutex
    cached   *tls.Certificate
    loadedAt time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loadedAt) < ReloadInterval {
        return k.cached, nil
    }
    cert, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil { return nil, err }
    k.cached, k.loadedAt = &cert, time.Now()
    return k.cached, nil
}
