package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	DirectoryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrcdn",
			Name:      "directory_requests_total",
			Help:      "Directory control-plane sessions by op and outcome.",
		},
		[]string{"op", "status"},
	)

	RoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrcdn",
			Name:      "routing_decisions_total",
			Help:      "Lookup outcomes.",
		},
		[]string{"outcome"}, // "hit" | "miss"
	)

	Pulses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrcdn",
			Name:      "pulses_total",
			Help:      "Heartbeat datagrams by observation result.",
		},
		[]string{"result"}, // "new" | "revived" | "refreshed" | "invalid"
	)

	NodesMarkedDead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrcdn",
			Name:      "nodes_marked_dead_total",
			Help:      "Liveness records flipped to dead by the sweeper.",
		},
	)

	NotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrcdn",
			Name:      "down_notify_failures_total",
			Help:      "Down-notifications that never reached the directory.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrcdn",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrcdn",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(DirectoryRequests, RoutingDecisions, Pulses, NodesMarkedDead, NotifyFailures, buildInfo, uptime)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}
