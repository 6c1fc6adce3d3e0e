package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    RoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "epochctl",
        Name:      "rounds_total",
        Help:      "Total number of completed polling rounds",
    })

    RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "epochctl",
        Name:      "round_duration_seconds",
        Help:      "Wall time spent polling the fleet for one round",
        Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
    })

    NodeQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "epochctl",
        Subsystem: "node",
        Name:      "queries_total",
        Help:      "Status queries per node and outcome (ok|connection_failed|parse_failed)",
    }, []string{"node", "status"})

    NodeEpoch = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "epochctl",
        Subsystem: "node",
        Name:      "epoch",
        Help:      "Last epoch reported by a node",
    }, []string{"node"})

    NodeTick = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "epochctl",
        Subsystem: "node",
        Name:      "tick",
        Help:      "Last tick reported by a node",
    }, []string{"node"})

    KnownEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "epochctl",
        Name:      "known_epoch",
        Help:      "Epoch the monitor currently considers agreed by the fleet",
    })

    Transitions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "epochctl",
        Name:      "epoch_transitions_total",
        Help:      "Total number of completed epoch transitions",
    })

    Stalls = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "epochctl",
        Name:      "stalls_total",
        Help:      "Stalled nodes detected at a checkpoint boundary",
    }, []string{"node"})

    Anomalies = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "epochctl",
        Name:      "anomalies_total",
        Help:      "Observations ignored as state anomalies (epoch_regress|epoch_behind|tick_regress)",
    }, []string{"kind"})

    Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "epochctl",
        Subsystem: "recovery",
        Name:      "actions_total",
        Help:      "Recovery actions by kind and result (ok|failed)",
    }, []string{"action", "result"})

    PreflightAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "epochctl",
        Subsystem: "preflight",
        Name:      "attempts_total",
        Help:      "Required-flag attempts per node",
    }, []string{"node"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "epochctl",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "epochctl",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "epochctl",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "epochctl",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(RoundsTotal)
        prometheus.MustRegister(RoundDuration)
        prometheus.MustRegister(NodeQueries)
        prometheus.MustRegister(NodeEpoch)
        prometheus.MustRegister(NodeTick)
        prometheus.MustRegister(KnownEpoch)
        prometheus.MustRegister(Transitions)
        prometheus.MustRegister(Stalls)
        prometheus.MustRegister(Anomalies)
        prometheus.MustRegister(Actions)
        prometheus.MustRegister(PreflightAttempts)
        // grpc connection cache
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
