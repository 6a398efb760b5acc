package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

// LedgerRepository is the only writer of users.balance.
type LedgerRepository interface {
	// Apply appends tx and moves the cached balance by tx.Amount in one commit.
	// It fails with ErrInsufficientFunds if the balance would go negative.
	Apply(ctx context.Context, tx *models.Transaction) (newBalance int64, err error)
	Balance(ctx context.Context, userID int64) (int64, error)
	Sum(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
}
