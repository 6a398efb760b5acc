package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/api"
	"github.com/honeynil/SubscriptionShopBot/internal/bot"
	"github.com/honeynil/SubscriptionShopBot/internal/catalog"
	"github.com/honeynil/SubscriptionShopBot/internal/config"
	"github.com/honeynil/SubscriptionShopBot/internal/handler"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/auth"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/memory"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/postgres"
	service "github.com/honeynil/SubscriptionShopBot/internal/services"
	_ "github.com/lib/pq"
)

const (
	lockTTL  = 30 * time.Second
	lockWait = 5 * time.Second
)

func main() {
	cfg := config.Load()

	shutdownTracing, metricsHandler := observability.Setup("subscription-shop", cfg)
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var redisClient redis.RedisClient
	if cfg.RedisAddr != "" {
		c, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		redisClient = c
	} else {
		slog.Warn("REDIS_ADDR is empty, using in-process cache and locks")
		redisClient = redis.NewMemoryClient()
	}
	defer redisClient.Close()

	var (
		producer kafka.KafkaProducer
		local    *kafka.LocalProducer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers)
	} else {
		slog.Warn("KAFKA_BROKER is empty, dispatching events in process")
		local = kafka.NewLocalProducer()
		producer = local
	}
	defer producer.Close()
	publisher := kafka.NewPublisher(producer)
	locker := redis.NewRedisLocker(redisClient, lockTTL, lockWait)

	catalogSvc := service.NewCatalogService(store.Plans, redisClient)
	ledgerSvc := service.NewLedgerService(store.Ledger, locker)
	inventorySvc := service.NewInventoryService(store.Inventory, store.Plans, publisher, cfg.LowStockThreshold)
	discountSvc := service.NewDiscountService(store.Discounts)
	orderSvc := service.NewOrderService(store, catalogSvc, ledgerSvc, inventorySvc, discountSvc, locker, publisher,
		service.OrderTTL{Pending: cfg.PendingOrderTTL, Fulfillment: cfg.FulfillmentTTL})
	receiptSvc := service.NewReceiptService(store, orderSvc, ledgerSvc, publisher)
	ticketSvc := service.NewTicketService(store.Tickets, publisher)
	userSvc := service.NewUserService(store.Users)
	adminSvc := service.NewAdminService(store, ledgerSvc, inventorySvc, publisher)

	if cfg.CatalogFile != "" {
		plans, err := catalog.Load(cfg.CatalogFile)
		if err != nil {
			slog.Error("failed to load catalog", "file", cfg.CatalogFile, "error", err)
			os.Exit(1)
		}
		if _, err := catalogSvc.Seed(ctx, plans); err != nil {
			slog.Error("failed to seed catalog", "error", err)
			os.Exit(1)
		}
	}

	dispatcher := bot.NewDispatcher(bot.Services{
		Users:     userSvc,
		Catalog:   catalogSvc,
		Orders:    orderSvc,
		Receipts:  receiptSvc,
		Tickets:   ticketSvc,
		Ledger:    ledgerSvc,
		Inventory: inventorySvc,
		Discounts: discountSvc,
		Admin:     adminSvc,
	}, cfg.IsAdmin, redisClient)

	var notifier bot.Notifier = bot.LogNotifier{}
	var telegram *bot.Telegram
	if cfg.TelegramToken != "" {
		telegram, err = bot.NewTelegram(cfg.TelegramToken, dispatcher)
		if err != nil {
			slog.Error("failed to start telegram bot", "error", err)
			os.Exit(1)
		}
		notifier = telegram
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN is empty, chat transport disabled")
	}

	notifications := bot.NewNotifications(notifier, userSvc, cfg.AdminIDs)
	for topic, h := range notifications.Handlers() {
		if local != nil {
			local.Subscribe(topic, h)
			continue
		}
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, topic, "subscription-shop-"+topic, h)
		go consumer.Consume(ctx)
		defer consumer.Close()
	}

	go service.RunSweeper(ctx, orderSvc, cfg.SweepInterval)
	telegramDone := make(chan struct{})
	if telegram != nil {
		go func() {
			defer close(telegramDone)
			telegram.Run(ctx)
		}()
	} else {
		close(telegramDone)
	}

	var adminID int64
	if len(cfg.AdminIDs) > 0 {
		adminID = cfg.AdminIDs[0]
	}
	adminAuth := auth.NewAdminAuth(adminID, cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret, redisClient)
	h := handler.NewHandler(handler.Services{
		Auth:      adminAuth,
		Admin:     adminSvc,
		Catalog:   catalogSvc,
		Inventory: inventorySvc,
		Discounts: discountSvc,
		Receipts:  receiptSvc,
		Orders:    orderSvc,
		Users:     userSvc,
		Ledger:    ledgerSvc,
		Tickets:   ticketSvc,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(h, adminAuth, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting admin API", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	<-telegramDone
	slog.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		store, err := memory.NewStore()
		return store, func() {}, err
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("connected to postgres")
	return postgres.NewStore(db), func() { db.Close() }, nil
}
