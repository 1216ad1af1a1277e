package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Feed metrics
	FeedLinesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regimesync_feed_lines_received_total",
			Help: "Total number of non-empty lines read from the regime feed",
		},
	)

	FeedDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regimesync_feed_decode_errors_total",
			Help: "Total number of lines with a degraded field during decode",
		},
		[]string{"field"},
	)

	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regimesync_feed_reconnects_total",
			Help: "Total number of feed connection attempts",
		},
		[]string{"status"}, // status: success|failed
	)

	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regimesync_feed_connected",
			Help: "Whether the regime feed is currently streaming (1) or not (0)",
		},
	)

	// State metrics
	StateApplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regimesync_state_applies_total",
			Help: "Total number of update applications to the regime aggregate",
		},
		[]string{"status"}, // status: success|error
	)

	RegimeCode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regimesync_regime_code",
			Help: "Current numeric regime code as broadcast by the producer",
		},
	)

	GammaLevels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regimesync_gamma_levels",
			Help: "Number of gamma levels in the current aggregate",
		},
	)

	// Broadcaster metrics
	BroadcastClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regimesync_broadcast_clients",
			Help: "Current number of connected broadcast clients",
		},
	)

	BroadcastSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regimesync_broadcast_sends_total",
			Help: "Total number of payload sends to broadcast clients",
		},
		[]string{"status"}, // status: success|error
	)

	// Sink metrics
	SinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regimesync_sink_writes_total",
			Help: "Total number of snapshot writes to optional sinks",
		},
		[]string{"sink", "status"}, // sink: redis|postgres|telegram|fanout
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(FeedLinesReceived)
	prometheus.MustRegister(FeedDecodeErrors)
	prometheus.MustRegister(FeedReconnects)
	prometheus.MustRegister(FeedConnected)

	prometheus.MustRegister(StateApplies)
	prometheus.MustRegister(RegimeCode)
	prometheus.MustRegister(GammaLevels)

	prometheus.MustRegister(BroadcastClients)
	prometheus.MustRegister(BroadcastSends)

	prometheus.MustRegister(SinkWrites)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordApply records one state application
func RecordApply(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StateApplies.WithLabelValues(status).Inc()
}

// RecordSinkWrite records one optional sink write
func RecordSinkWrite(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SinkWrites.WithLabelValues(sink, status).Inc()
}
