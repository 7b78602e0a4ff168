package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "safeguard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var VisitsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "visits",
		Name:      "created_total",
		Help:      "Total number of visits created, by building.",
	},
	[]string{"building"},
)

var VisitsScannedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "visits",
		Name:      "scanned_total",
		Help:      "Total number of scan attempts, by action and outcome.",
	},
	[]string{"action", "outcome"},
)

var VisitsExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "visits",
		Name:      "expired_total",
		Help:      "Total number of visits transitioned to expired by the sweeper.",
	},
)

var BansActiveTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "bans",
		Name:      "created_total",
		Help:      "Total number of bans created, by severity.",
	},
	[]string{"severity"},
)

var EventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "eventbus",
		Name:      "published_total",
		Help:      "Total number of events published, by event type.",
	},
	[]string{"event_type"},
)

var EventsDroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Total number of events dropped due to a full subscriber inbox, by topic.",
	},
	[]string{"topic"},
)

var RealtimeConnectionsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "safeguard",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Current number of open realtime connections.",
	},
)

var LoginAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "safeguard",
		Subsystem: "identity",
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by outcome.",
	},
	[]string{"outcome"},
)

// domainCollectors returns every SafeGuard-specific collector for registration.
func domainCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		VisitsCreatedTotal,
		VisitsScannedTotal,
		VisitsExpiredTotal,
		BansActiveTotal,
		EventsPublishedTotal,
		EventsDroppedTotal,
		RealtimeConnectionsGauge,
		LoginAttemptsTotal,
	}
}

// NewRegistry builds a Prometheus registry carrying the Go/process
// collectors plus every SafeGuard domain collector.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range domainCollectors() {
		reg.MustRegister(c)
	}
	return reg
}
