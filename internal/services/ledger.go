package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Reconciliation compares the cached wallet balance with the ledger.
type Reconciliation struct {
	UserID   int64 `json:"user_id"`
	Cached   int64 `json:"cached"`
	Computed int64 `json:"computed"`
	Drift    int64 `json:"drift"`
}

func (r Reconciliation) Consistent() bool { return r.Drift == 0 }

type LedgerService struct {
	ledger repository.LedgerRepository
	locker redis.Locker
}

func NewLedgerService(ledger repository.LedgerRepository, locker redis.Locker) *LedgerService {
	return &LedgerService{ledger: ledger, locker: locker}
}

// Adjust appends a ledger entry and moves the balance in one commit.
func (s *LedgerService) Adjust(ctx context.Context, userID, amount int64, kind models.TransactionKind, description string) (int64, error) {
	return s.AdjustWithReference(ctx, userID, amount, kind, description, "")
}

func (s *LedgerService) AdjustWithReference(ctx context.Context, userID, amount int64, kind models.TransactionKind, description, reference string) (int64, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "Adjust")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("amount", amount), attribute.String("kind", string(kind)))

	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("user:%d", userID))
	if err != nil {
		failSpan(span, err, "failed to acquire user lock")
		return 0, err
	}
	defer unlock()

	tx := &models.Transaction{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		Reference:   reference,
	}
	balance, err := s.ledger.Apply(ctx, tx)
	if err != nil {
		observability.LedgerAdjustments.WithLabelValues(string(kind), "error").Inc()
		failSpan(span, err, "ledger adjustment failed")
		slog.Warn("ledger adjustment refused", "user_id", userID, "amount", amount, "kind", kind, "error", err)
		return 0, err
	}

	observability.LedgerAdjustments.WithLabelValues(string(kind), "success").Inc()
	slog.Info("ledger adjusted", "user_id", userID, "amount", amount, "kind", kind, "balance", balance, "transaction_id", tx.ID)
	return balance, nil
}

func (s *LedgerService) Balance(ctx context.Context, userID int64) (int64, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "Balance")
	defer span.End()

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		failSpan(span, err, "failed to get balance")
		return 0, err
	}
	return balance, nil
}

func (s *LedgerService) Reconcile(ctx context.Context, userID int64) (Reconciliation, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()

	rec := Reconciliation{UserID: userID}
	cached, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		failSpan(span, err, "failed to get balance")
		return rec, err
	}
	computed, err := s.ledger.Sum(ctx, userID)
	if err != nil {
		failSpan(span, err, "failed to sum ledger")
		return rec, err
	}
	rec.Cached, rec.Computed, rec.Drift = cached, computed, cached-computed
	if !rec.Consistent() {
		slog.Error("wallet drift detected", "user_id", userID, "cached", cached, "computed", computed, "drift", rec.Drift)
	}
	return rec, nil
}

func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	history, err := s.ledger.History(ctx, userID, limit)
	if err != nil {
		failSpan(span, err, "failed to get history")
		return nil, err
	}
	slog.Info("transaction history retrieved", "user_id", userID, "count", len(history))
	return history, nil
}
