package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type AdminService struct {
	store     *repository.Store
	ledger    *LedgerService
	inventory *InventoryService
	publisher *kafka.Publisher
}

func NewAdminService(store *repository.Store, ledger *LedgerService, inventory *InventoryService, publisher *kafka.Publisher) *AdminService {
	return &AdminService{store: store, ledger: ledger, inventory: inventory, publisher: publisher}
}

func (s *AdminService) Stats(ctx context.Context) (*models.Stats, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "Stats")
	defer span.End()

	var (
		stats models.Stats
		err   error
	)
	if stats.Users, err = s.store.Users.Count(ctx); err != nil {
		failSpan(span, err, "failed to count users")
		return nil, err
	}
	if stats.OrdersByState, err = s.store.Orders.CountByState(ctx); err != nil {
		failSpan(span, err, "failed to count orders")
		return nil, err
	}
	if stats.Revenue, err = s.store.Orders.Revenue(ctx); err != nil {
		failSpan(span, err, "failed to sum revenue")
		return nil, err
	}
	if stats.PendingReceipts, err = s.store.Receipts.CountPending(ctx); err != nil {
		failSpan(span, err, "failed to count receipts")
		return nil, err
	}
	if stats.Stock, err = s.inventory.StockAll(ctx); err != nil {
		failSpan(span, err, "failed to read stock")
		return nil, err
	}
	open, err := s.store.Tickets.ListByStatus(ctx, models.TicketOpen)
	if err != nil {
		failSpan(span, err, "failed to list tickets")
		return nil, err
	}
	stats.OpenTickets = int64(len(open))
	return &stats, nil
}

// Broadcast queues text for every user. Delivery happens in the broadcasts
// consumer.
func (s *AdminService) Broadcast(ctx context.Context, adminID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: broadcast text is empty", pkgerrors.ErrInvalidInput)
	}
	s.publisher.Publish(ctx, kafka.TopicBroadcasts, adminID, kafka.Event{
		Type:   kafka.EventBroadcast,
		UserID: adminID,
		Text:   text,
	})
	slog.Info("broadcast queued", "admin_id", adminID, "length", len(text))
	return nil
}

// AdjustBalance applies a manual signed correction to a wallet.
func (s *AdminService) AdjustBalance(ctx context.Context, adminID, userID, amount int64, reason string) (int64, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "AdjustBalance")
	defer span.End()
	span.SetAttributes(attribute.Int64("admin_id", adminID), attribute.Int64("user_id", userID), attribute.Int64("amount", amount))

	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must not be zero", pkgerrors.ErrInvalidInput)
	}
	if reason == "" {
		reason = "manual adjustment"
	}
	balance, err := s.ledger.AdjustWithReference(ctx, userID, amount, models.KindAdminAdjust, reason, fmt.Sprintf("admin:%d", adminID))
	if err != nil {
		failSpan(span, err, "adjustment failed")
		return 0, err
	}
	return balance, nil
}

func (s *AdminService) Inconsistencies(ctx context.Context) ([]models.Inconsistency, error) {
	return s.store.Inconsistencies.ListUnresolved(ctx)
}

func (s *AdminService) Resolve(ctx context.Context, adminID, id int64) error {
	if err := s.store.Inconsistencies.Resolve(ctx, id); err != nil {
		return err
	}
	slog.Info("inconsistency resolved", "inconsistency_id", id, "admin_id", adminID)
	return nil
}

// Reconcile checks every wallet against its ledger and returns the drifted
// ones.
func (s *AdminService) Reconcile(ctx context.Context) ([]Reconciliation, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()

	users, err := s.store.Users.List(ctx)
	if err != nil {
		failSpan(span, err, "failed to list users")
		return nil, err
	}
	var drifted []Reconciliation
	for _, u := range users {
		rec, err := s.ledger.Reconcile(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if !rec.Consistent() {
			drifted = append(drifted, rec)
		}
	}
	slog.Info("wallets reconciled", "users", len(users), "drifted", len(drifted))
	return drifted, nil
}
