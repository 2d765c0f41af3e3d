// Package metrics provides Prometheus metrics for the shotrelay engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Discovery metrics
	pollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotrelay_poll_cycles_total",
			Help: "Total discovery cycles run, by backend and result",
		},
		[]string{"backend", "result"},
	)

	filesDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotrelay_files_discovered_total",
			Help: "Total new files discovered across all cycles",
		},
	)

	downloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shotrelay_downloads_in_flight",
			Help: "Number of file downloads/conversions currently in flight",
		},
	)

	// Relay metrics
	filesRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotrelay_files_relayed_total",
			Help: "Total files sent to the consumer as screenshot messages",
		},
	)

	filesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotrelay_files_skipped_total",
			Help: "Total files not relayed, by reason",
		},
		[]string{"reason"},
	)

	relayBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotrelay_relay_bytes_total",
			Help: "Total payload bytes sent over the relay connection",
		},
	)

	relayConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shotrelay_relay_connections_active",
			Help: "Active relay hub connections, by role",
		},
		[]string{"role"},
	)

	// Ledger metrics
	ledgerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotrelay_ledger_outcomes_total",
			Help: "Delivery ledger resolutions, by outcome",
		},
		[]string{"outcome"},
	)

	ledgerPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shotrelay_ledger_pending",
			Help: "Files sent but not yet confirmed, rejected, or timed out",
		},
	)

	remoteDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotrelay_remote_deletes_total",
			Help: "Remote delete attempts after confirmation, by status",
		},
		[]string{"status"},
	)

	// Supervisor metrics
	childRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotrelay_child_restarts_total",
			Help: "Supervised child process restarts, by child",
		},
		[]string{"child"},
	)

	conversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shotrelay_conversion_duration_seconds",
			Help:    "Image conversion duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPollCycle records a completed discovery cycle.
func RecordPollCycle(backend, result string) {
	pollCyclesTotal.WithLabelValues(backend, result).Inc()
}

// RecordFilesDiscovered adds to the discovered-file counter.
func RecordFilesDiscovered(n int) {
	filesDiscoveredTotal.Add(float64(n))
}

// IncDownloadsInFlight increments the in-flight gauge.
func IncDownloadsInFlight() { downloadsInFlight.Inc() }

// DecDownloadsInFlight decrements the in-flight gauge.
func DecDownloadsInFlight() { downloadsInFlight.Dec() }

// RecordFileRelayed records one relayed file of the given payload size.
func RecordFileRelayed(bytes int) {
	filesRelayedTotal.Inc()
	relayBytesTotal.Add(float64(bytes))
}

// RecordFileSkipped records a skipped file.
func RecordFileSkipped(reason string) {
	filesSkippedTotal.WithLabelValues(reason).Inc()
}

// SetRelayConnections sets the active connection gauge for a role.
func SetRelayConnections(role string, n int) {
	relayConnectionsActive.WithLabelValues(role).Set(float64(n))
}

// RecordLedgerOutcome records a ledger resolution.
func RecordLedgerOutcome(outcome string) {
	ledgerOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SetLedgerPending sets the pending-entries gauge.
func SetLedgerPending(n int) {
	ledgerPending.Set(float64(n))
}

// RecordRemoteDelete records a remote delete attempt.
func RecordRemoteDelete(status string) {
	remoteDeletesTotal.WithLabelValues(status).Inc()
}

// RecordChildRestart records a supervised child restart.
func RecordChildRestart(child string) {
	childRestartsTotal.WithLabelValues(child).Inc()
}

// ObserveConversion records a conversion duration.
func ObserveConversion(kind string, seconds float64) {
	conversionDuration.WithLabelValues(kind).Observe(seconds)
}
