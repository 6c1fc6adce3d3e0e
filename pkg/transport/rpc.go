package transport

import "context"

// StatusFunc returns a JSON-encoded monitor status payload for /status.
// Using []byte avoids import cycles on monitor types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// RPCServer exposes the management endpoints (status, health, metrics).
type RPCServer interface {
    Start(ctx context.Context, status StatusFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient fetches the status of a running monitor over the chosen
// management protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
}
