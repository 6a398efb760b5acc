package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreDriver  string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	TelegramToken     string
	AdminIDs          []int64
	AdminUsername     string
	AdminPasswordHash string

	HTTPAddr     string
	MetricsAddr  string
	OTLPEndpoint string
	LogLevel     string

	PendingOrderTTL   time.Duration
	FulfillmentTTL    time.Duration
	SweepInterval     time.Duration
	LowStockThreshold int64
	CatalogFile       string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		StoreDriver:       getEnv("STORE_DRIVER", "postgres"),
		PostgresDSN:       getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=shop sslmode=disable"),
		RedisAddr:         lookupEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:      splitList(lookupEnv("KAFKA_BROKER", "localhost:9092")),
		JWTSecret:         getEnv("JWT_SECRET", "supersecret"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminIDs:          parseIDs(os.Getenv("ADMIN_IDS")),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		PendingOrderTTL:   getDuration("PENDING_ORDER_TTL", 24*time.Hour),
		FulfillmentTTL:    getDuration("FULFILLMENT_TTL", 72*time.Hour),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 5*time.Minute),
		LowStockThreshold: int64(getInt("LOW_STOCK_THRESHOLD", 5)),
		CatalogFile:       os.Getenv("CATALOG_FILE"),
	}

	slog.Info("config loaded",
		"store_driver", cfg.StoreDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"http_addr", cfg.HTTPAddr,
		"admins", len(cfg.AdminIDs),
		"pending_order_ttl", cfg.PendingOrderTTL,
		"fulfillment_ttl", cfg.FulfillmentTTL)
	return cfg
}

// IsAdmin reports whether the platform user id belongs to an administrator.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// lookupEnv is like getEnv but keeps an explicitly empty value, which turns the
// backing service off.
func lookupEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "error", err)
		return def
	}
	if d <= 0 {
		slog.Warn("non-positive duration, using default", "key", key, "value", raw)
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("skipping invalid admin id", "value", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
