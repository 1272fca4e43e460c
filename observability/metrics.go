package observability

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/D2dProtocol/d2d-program/native/treasury"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	treasuryMetricsOnce sync.Once
	treasuryRegistry    *TreasuryMetricsRegistry
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// query activity against the treasury daemon.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "treasuryd",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "treasuryd",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "d2d",
				Subsystem: "treasuryd",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "treasuryd",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// TreasuryMetricsRegistry tracks engine operations and the pool aggregate.
type TreasuryMetricsRegistry struct {
	operations     *prometheus.CounterVec
	keeperRuns     *prometheus.CounterVec
	liquid         prometheus.Gauge
	borrowed       prometheus.Gauge
	queued         prometheus.Gauge
	pending        prometheus.Gauge
	bonusReserve   prometheus.Gauge
	utilization    prometheus.Gauge
	rewardPerShare prometheus.Gauge
}

// TreasuryMetrics returns the singleton registry for treasury engine metrics.
func TreasuryMetrics() *TreasuryMetricsRegistry {
	treasuryMetricsOnce.Do(func() {
		gauge := func(name, help string) prometheus.Gauge {
			return prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "d2d",
				Subsystem: "treasury",
				Name:      name,
				Help:      help,
			})
		}
		treasuryRegistry = &TreasuryMetricsRegistry{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "treasury",
				Name:      "operations_total",
				Help:      "Count of treasury operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			keeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "treasury",
				Name:      "keeper_runs_total",
				Help:      "Count of scheduled keeper jobs segmented by job and outcome.",
			}, []string{"job", "outcome"}),
			liquid:         gauge("liquid_balance", "Liquid pool capital in smallest units."),
			borrowed:       gauge("total_borrowed", "Capital lent to deployments in smallest units."),
			queued:         gauge("queued_withdrawals", "Unfulfilled queued withdrawals in smallest units."),
			pending:        gauge("pending_rewards", "Parked rewards awaiting gradual distribution."),
			bonusReserve:   gauge("bonus_reserve", "Released duration bonus not yet claimed."),
			utilization:    gauge("utilization_bps", "Borrowed share of pool capital in basis points."),
			rewardPerShare: gauge("reward_per_share", "Reward per share accumulator, scaled by the precision multiplier."),
		}
		prometheus.MustRegister(
			treasuryRegistry.operations,
			treasuryRegistry.keeperRuns,
			treasuryRegistry.liquid,
			treasuryRegistry.borrowed,
			treasuryRegistry.queued,
			treasuryRegistry.pending,
			treasuryRegistry.bonusReserve,
			treasuryRegistry.utilization,
			treasuryRegistry.rewardPerShare,
		)
	})
	return treasuryRegistry
}

// ObserveOperation satisfies treasury.Observer.
func (m *TreasuryMetricsRegistry) ObserveOperation(event treasury.OperationEvent) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(event.Operation, string(event.Outcome)).Inc()
	if event.Ledger != nil {
		m.ObserveLedger(event.Ledger)
	}
}

// ObserveLedger refreshes the aggregate gauges.
func (m *TreasuryMetricsRegistry) ObserveLedger(ledger *treasury.Ledger) {
	if m == nil || ledger == nil {
		return
	}
	m.liquid.Set(float64(ledger.LiquidBalance))
	m.borrowed.Set(float64(ledger.TotalBorrowed))
	m.queued.Set(float64(ledger.QueuedWithdrawals))
	m.pending.Set(float64(ledger.PendingRewards))
	m.bonusReserve.Set(float64(ledger.BonusReserve))
	m.utilization.Set(float64(treasury.UtilizationBps(ledger.TotalBorrowed, ledger.LiquidBalance)))
	if ledger.RewardPerShare != nil {
		value, _ := new(big.Float).SetInt(ledger.RewardPerShare.ToBig()).Float64()
		m.rewardPerShare.Set(value)
	}
}

// RecordKeeperRun counts a scheduled keeper job. Informational treasury
// outcomes count as "noop".
func (m *TreasuryMetricsRegistry) RecordKeeperRun(job string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case !treasury.IsFatal(err), errors.Is(err, treasury.ErrDistributionTooSoon):
		outcome = "noop"
	default:
		outcome = "error"
	}
	m.keeperRuns.WithLabelValues(job, outcome).Inc()
}
