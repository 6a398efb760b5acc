package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type scanner interface {
	Scan(dest ...any) error
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("database schema applied")
	return nil
}

// NewStore builds every Postgres repository on top of db.
func NewStore(db *sql.DB) *repository.Store {
	return &repository.Store{
		Users:           NewPostgresUserRepository(db),
		Ledger:          NewPostgresTransactionRepository(db),
		Plans:           NewPostgresPlanRepository(db),
		Inventory:       NewPostgresInventoryRepository(db),
		Discounts:       NewPostgresDiscountRepository(db),
		Orders:          NewPostgresOrderRepository(db),
		Receipts:        NewPostgresReceiptRepository(db),
		Tickets:         NewPostgresTicketRepository(db),
		Inconsistencies: NewPostgresInconsistencyRepository(db),
	}
}

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		slog.Error("rollback failed", "error", rbErr)
		return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
