package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Protocol ----
	BeaconsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "beacons_total",
			Help:      "Beacons by node and outcome (sent, suppressed, received).",
		},
		[]string{"node", "result"},
	)

	ExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "exchanges_total",
			Help:      "Anti-entropy rounds by role and outcome.",
		},
		[]string{"node", "role", "result"},
	)

	PacketsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "packets_forwarded_total",
			Help:      "Data packets handed to the transport during exchanges.",
		},
		[]string{"node"},
	)

	PacketsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "packets_dropped_total",
			Help:      "Packets not forwarded or not stored, by reason.",
		},
		[]string{"node", "reason"},
	)

	PacketsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "packets_delivered_total",
			Help:      "Packets delivered to the local application.",
		},
		[]string{"node"},
	)

	BytesSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "multimedia_bytes_saved_total",
			Help:      "Effective bytes saved by the multimedia reduction hook.",
		},
		[]string{"node"},
	)

	BufferOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrdtn",
			Name:      "buffer_entries",
			Help:      "Packets currently held in the buffer.",
		},
		[]string{"node"},
	)

	EnergyRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrdtn",
			Name:      "energy_ratio",
			Help:      "Remaining energy over initial energy.",
		},
		[]string{"node"},
	)

	EnergyBand = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrdtn",
			Name:      "energy_band",
			Help:      "Adaptive band: 0 normal, 1 low, 2 critical.",
		},
		[]string{"node"},
	)

	// ---- HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrdtn",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrdtn",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrdtn",
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrdtn",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrdtn",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		BeaconsTotal, ExchangesTotal, PacketsForwarded, PacketsDropped, PacketsDelivered,
		BytesSaved, BufferOccupancy, EnergyRatio, EnergyBand,
		RequestsTotal, RequestDuration, InFlight, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/status", telemetry.Instrument("status", http.HandlerFunc(n.Status)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
