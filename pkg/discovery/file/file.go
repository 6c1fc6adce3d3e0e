package file

import (
    "bufio"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/KavataK/qubic-node-setup/pkg/discovery"
)

// Options configures file/ENV-based address discovery.
type Options struct {
    // Path to a file with one address per line (or comma-separated), or a glob.
    // Lines starting with # are comments.
    Path string
    // Env names a variable that overrides the file when non-empty.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Source {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &impl{opts: opts}
}

// Addresses keeps file order: the last address is the default broadcast target.
func (i *impl) Addresses() []string {
    i.mu.Lock(); defer i.mu.Unlock()
    if v := strings.TrimSpace(os.Getenv(i.opts.Env)); i.opts.Env != "" && v != "" {
        return splitLine(v, nil)
    }
    if i.opts.Path == "" {
        return nil
    }
    now := time.Now()
    if stat, err := os.Stat(i.opts.Path); err == nil {
        if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            i.cache = loadFile(i.opts.Path)
            i.last = now
            i.mtime = stat.ModTime()
        }
        return append([]string(nil), i.cache...)
    }
    // glob: files in lexical order, entries in file order
    matches, _ := filepath.Glob(i.opts.Path)
    if len(matches) > 0 {
        sort.Strings(matches)
        var out []string
        for _, m := range matches {
            out = append(out, loadFile(m)...)
        }
        i.cache = out
        i.last = now
    }
    return append([]string(nil), i.cache...)
}

func loadFile(path string) []string {
    f, err := os.Open(path)
    if err != nil { return nil }
    defer f.Close()
    var addrs []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        addrs = splitLine(line, addrs)
    }
    if err := s.Err(); err != nil { return nil }
    return addrs
}

func splitLine(line string, out []string) []string {
    for _, p := range strings.Split(line, ",") {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
