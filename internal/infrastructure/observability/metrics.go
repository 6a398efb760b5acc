package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	LedgerAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_adjustments_total",
			Help: "Ledger adjustments by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order state transitions",
		},
		[]string{"from", "to"},
	)

	InventoryClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_claims_total",
			Help: "Inventory claim attempts by outcome",
		},
		[]string{"status"},
	)

	InventoryAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inventory_available_units",
			Help: "Unclaimed inventory units per plan",
		},
		[]string{"plan_id"},
	)

	Compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_compensations_total",
			Help: "Compensating actions issued after a partial purchase",
		},
		[]string{"action"},
	)
)

// InitMetrics registers collectors and serves /metrics on addr.
func InitMetrics(addr string) http.Handler {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		LedgerAdjustments,
		OrderTransitions,
		InventoryClaims,
		InventoryAvailable,
		Compensations,
	)
	handler := promhttp.Handler()
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
	}
	return handler
}
