package nodeclient

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/internal/logutil"
    "github.com/KavataK/qubic-node-setup/pkg/transport"
)

var (
    ErrTimeout   = errors.New("nodeclient: status query timed out")
    ErrTransport = errors.New("nodeclient: status query failed")
)

// DefaultTimeout bounds one status query.
const DefaultTimeout = 10 * time.Second

// Client issues single status queries. It never retries; callers own the
// retry policy.
type Client struct {
    exec   transport.Executor
    logger logrus.FieldLogger
}

func New(exec transport.Executor, logger logrus.FieldLogger) *Client {
    return &Client{exec: exec, logger: logger}
}

// Query runs one status query against addr, waiting at most timeout. It
// returns the raw stdout, or ErrTimeout / ErrTransport wrapped with the cause.
func (c *Client) Query(ctx context.Context, addr fleet.NodeAddress, timeout time.Duration) (string, error) {
    return c.run(ctx, addr, timeout, transport.ActionSystemInfo)
}

// CurrentTick runs the lighter tick query used after a broadcast.
func (c *Client) CurrentTick(ctx context.Context, addr fleet.NodeAddress, timeout time.Duration) (string, error) {
    return c.run(ctx, addr, timeout, transport.ActionCurrentTick)
}

func (c *Client) run(ctx context.Context, addr fleet.NodeAddress, timeout time.Duration, action transport.Action) (string, error) {
    if timeout <= 0 { timeout = DefaultTimeout }
    qctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()
    out, err := c.exec.Execute(qctx, addr, action)
    if s := strings.TrimSpace(out.Stderr); s != "" {
        logutil.Debugf(logutil.Node(c.logger, addr.String()), "%s stderr: %s", action, s)
    }
    if err != nil {
        if errors.Is(qctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
            return "", fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, addr)
        }
        return "", fmt.Errorf("%w: %s: %v", ErrTransport, addr, err)
    }
    return out.Stdout, nil
}
