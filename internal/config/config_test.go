package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("ADMIN_IDS", "")
	t.Setenv("PENDING_ORDER_TTL", "")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.PendingOrderTTL)
	assert.Equal(t, int64(5), cfg.LowStockThreshold)
	assert.Empty(t, cfg.AdminIDs)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKER", "k1:9092, k2:9092,")
	t.Setenv("ADMIN_IDS", "10, x, 20")
	t.Setenv("PENDING_ORDER_TTL", "30m")
	t.Setenv("FULFILLMENT_TTL", "soon")
	t.Setenv("LOW_STOCK_THRESHOLD", "2")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "", cfg.RedisAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []int64{10, 20}, cfg.AdminIDs)
	assert.Equal(t, 30*time.Minute, cfg.PendingOrderTTL)
	assert.Equal(t, 72*time.Hour, cfg.FulfillmentTTL)
	assert.Equal(t, int64(2), cfg.LowStockThreshold)

	assert.True(t, cfg.IsAdmin(20))
	assert.False(t, cfg.IsAdmin(30))
}

func TestLoad_EmptyBrokerDisablesKafka(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "")
	assert.Empty(t, Load().KafkaBrokers)
}

func TestLoad_NonPositiveDurationsFallBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "0s")
	t.Setenv("PENDING_ORDER_TTL", "-10m")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.PendingOrderTTL)
}
