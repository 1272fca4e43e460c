package otel

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/D2dProtocol/d2d-program/native/treasury"
)

const instrumentationName = "github.com/D2dProtocol/d2d-program/native/treasury"

// OperationRecorder mirrors treasury operation events onto OpenTelemetry
// instruments so they leave the process through the OTLP metric exporter.
type OperationRecorder struct {
	operations metric.Int64Counter

	mu     sync.Mutex
	ledger *treasury.Ledger
}

// NewOperationRecorder registers the treasury instruments on provider.
func NewOperationRecorder(provider metric.MeterProvider) (*OperationRecorder, error) {
	if provider == nil {
		return nil, fmt.Errorf("meter provider required")
	}
	meter := provider.Meter(instrumentationName)
	r := &OperationRecorder{}
	var err error
	r.operations, err = meter.Int64Counter("treasury.operations",
		metric.WithDescription("Treasury operations by outcome."))
	if err != nil {
		return nil, fmt.Errorf("operations counter: %w", err)
	}
	gauges := []struct {
		name  string
		desc  string
		value func(*treasury.Ledger) uint64
	}{
		{"treasury.liquid_balance", "Liquid balance after the last committed operation.", func(l *treasury.Ledger) uint64 { return l.LiquidBalance }},
		{"treasury.total_borrowed", "Outstanding deployment debt.", func(l *treasury.Ledger) uint64 { return l.TotalBorrowed }},
		{"treasury.queued_withdrawals", "Unfulfilled queued withdrawals.", func(l *treasury.Ledger) uint64 { return l.QueuedWithdrawals }},
		{"treasury.pending_rewards", "Parked rewards awaiting distribution.", func(l *treasury.Ledger) uint64 { return l.PendingRewards }},
		{"treasury.utilization_bps", "Borrowed share of pool capital in basis points.", func(l *treasury.Ledger) uint64 {
			return treasury.UtilizationBps(l.TotalBorrowed, l.LiquidBalance)
		}},
	}
	for _, g := range gauges {
		value := g.value
		_, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				if ledger := r.snapshot(); ledger != nil {
					o.Observe(clampInt64(value(ledger)))
				}
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("%s gauge: %w", g.name, err)
		}
	}
	return r, nil
}

// ObserveOperation satisfies treasury.Observer.
func (r *OperationRecorder) ObserveOperation(event treasury.OperationEvent) {
	if r == nil {
		return
	}
	r.operations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", event.Operation),
		attribute.String("outcome", string(event.Outcome)),
	))
	if event.Ledger != nil {
		r.mu.Lock()
		r.ledger = event.Ledger.Clone()
		r.mu.Unlock()
	}
}

func (r *OperationRecorder) snapshot() *treasury.Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
