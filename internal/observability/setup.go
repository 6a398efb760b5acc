package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/SubscriptionShopBot/internal/config"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
)

// Setup wires logs, metrics and traces for the process.
func Setup(serviceName string, cfg *config.Config) (func(context.Context) error, http.Handler) {
	observability.InitLogger(cfg.LogLevel)
	metricsHandler := observability.InitMetrics(cfg.MetricsAddr)
	tracerShutdown := observability.InitTracing(serviceName, cfg.OTLPEndpoint)
	return tracerShutdown, metricsHandler
}
