// Package monitoring exposes the daemon's Prometheus metrics and liveness
// endpoint. Collectors are package-level; call sites use the Record helpers
// and never touch a collector directly.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Placement outcomes.
const (
	OutcomePlaced       = "placed"
	OutcomeRejected     = "rejected"
	OutcomeInsufficient = "insufficient_balance"
	OutcomeFailed       = "failed"
)

var (
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dip_bot_cycles_total",
			Help: "Completed trading cycles",
		},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dip_bot_cycle_duration_seconds",
			Help:    "Wall-clock duration of one place/wait/clean cycle",
			Buckets: []float64{15, 30, 45, 60, 75, 90, 120, 180},
		},
	)

	placementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dip_bot_order_placements_total",
			Help: "Limit buy placements by outcome",
		},
		[]string{"exchange", "pair", "outcome"},
	)

	drainLeftover = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dip_bot_drain_leftover_base",
			Help: "Base asset left after the most recent drain",
		},
		[]string{"exchange", "pair"},
	)

	drainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dip_bot_drain_duration_seconds",
			Help:    "Duration of drain runs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"exchange"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dip_bot_retry_attempts_total",
			Help: "Adapter retry attempts by operation",
		},
		[]string{"op"},
	)

	lastHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dip_bot_last_heartbeat_seconds",
			Help: "Unix time of the last heartbeat tick",
		},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(placementsTotal)
	prometheus.MustRegister(drainLeftover)
	prometheus.MustRegister(drainDuration)
	prometheus.MustRegister(retriesTotal)
	prometheus.MustRegister(lastHeartbeat)
}

// RecordCycle counts one finished cycle and its duration.
func RecordCycle(d time.Duration) {
	cyclesTotal.Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordPlacement counts one limit buy attempt with its outcome.
func RecordPlacement(exchange, pair, outcome string) {
	placementsTotal.WithLabelValues(exchange, pair, outcome).Inc()
}

// RecordDrain publishes the leftover and duration of one drain run.
func RecordDrain(exchange, pair string, leftover float64, d time.Duration) {
	drainLeftover.WithLabelValues(exchange, pair).Set(leftover)
	drainDuration.WithLabelValues(exchange).Observe(d.Seconds())
}

// RecordRetry counts one retry decision for an adapter operation.
func RecordRetry(op string) {
	retriesTotal.WithLabelValues(op).Inc()
}

// HeartbeatSeen marks the time of the latest heartbeat tick.
func HeartbeatSeen(t time.Time) {
	lastHeartbeat.Set(float64(t.Unix()))
}
