// Package telemetry exposes Prometheus counters/gauges for OakView's core
// subsystems, grounded on monitoring/prometheus.go's promauto pattern
// (package-level metric vars plus small Record*/Set* helper functions). The
// metric surface is far narrower than the teacher's trading metrics --
// OakView has no orders, positions, or accounts -- but the shape (one
// promauto var per concern, one helper per metric) is kept identical.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	barsResampled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oakview_bars_resampled_total",
			Help: "Total coarse bars emitted by the resampler, by target interval",
		},
		[]string{"target_interval"},
	)

	resampleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oakview_resample_errors_total",
			Help: "Total resampler errors by kind",
		},
		[]string{"kind"},
	)

	subscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oakview_subscriptions_active",
			Help: "Number of live upstream subscriptions by symbol",
		},
		[]string{"symbol"},
	)

	subscriptionRebalances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oakview_subscription_rebalances_total",
			Help: "Total subscription rebalance operations by outcome",
		},
		[]string{"outcome"},
	)

	loadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oakview_pane_load_errors_total",
			Help: "Total historical-load failures surfaced to panes, by symbol",
		},
		[]string{"symbol"},
	)

	panesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oakview_panes_active",
			Help: "Number of panes currently held by the layout coordinator",
		},
	)
)

// RecordBarResampled increments the resampled-bar counter for a target interval.
func RecordBarResampled(targetInterval string) {
	barsResampled.WithLabelValues(targetInterval).Inc()
}

// RecordResampleError increments the resampler error counter for a kind.
func RecordResampleError(kind string) {
	resampleErrors.WithLabelValues(kind).Inc()
}

// SetSubscriptionsActive sets the active-subscription gauge for a symbol (0
// when the subscription is torn down).
func SetSubscriptionsActive(symbol string, count int) {
	subscriptionsActive.WithLabelValues(symbol).Set(float64(count))
}

// RecordRebalance increments the rebalance counter for an outcome ("create",
// "replace", "cancel"). A kept subscription records nothing.
func RecordRebalance(outcome string) {
	subscriptionRebalances.WithLabelValues(outcome).Inc()
}

// RecordLoadError increments the pane load-error counter for a symbol.
func RecordLoadError(symbol string) {
	loadErrors.WithLabelValues(symbol).Inc()
}

// SetPanesActive sets the active-pane-count gauge.
func SetPanesActive(count int) {
	panesActive.Set(float64(count))
}

// Handler returns the Prometheus scrape handler for wiring into a host
// process's HTTP mux (used only by cmd/demo; the core itself never listens
// on a socket).
func Handler() http.Handler {
	return promhttp.Handler()
}
