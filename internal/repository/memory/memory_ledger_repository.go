package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type LedgerRepository struct {
	b *backend
}

func (r *LedgerRepository) Apply(_ context.Context, tx *models.Transaction) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.ErrNilEntity
	}
	if !tx.Kind.Valid() {
		return 0, fmt.Errorf("%w: unknown transaction kind %q", pkgerrors.ErrInvalidInput, tx.Kind)
	}
	if tx.Amount == 0 {
		return 0, fmt.Errorf("%w: amount must be non-zero", pkgerrors.ErrInvalidInput)
	}

	txn := r.b.db.Txn(true)
	defer txn.Abort()

	u, err := first[models.User](txn, tableUsers, "id", tx.UserID)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, pkgerrors.ErrUserNotFound
	}
	if u.Balance+tx.Amount < 0 {
		return 0, pkgerrors.ErrInsufficientFunds
	}

	now := time.Now()
	next := *u
	next.Balance += tx.Amount
	next.UpdatedAt = now
	if err = insert(txn, tableUsers, &next); err != nil {
		return 0, err
	}

	entry := *tx
	entry.ID = r.b.nextID(tableTransactions)
	entry.CreatedAt = now
	if err = insert(txn, tableTransactions, &entry); err != nil {
		return 0, err
	}
	txn.Commit()

	tx.ID, tx.CreatedAt = entry.ID, entry.CreatedAt
	return next.Balance, nil
}

func (r *LedgerRepository) Balance(_ context.Context, userID int64) (int64, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	u, err := first[models.User](txn, tableUsers, "id", userID)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, pkgerrors.ErrUserNotFound
	}
	return u.Balance, nil
}

func (r *LedgerRepository) Sum(_ context.Context, userID int64) (int64, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	entries, err := all[models.Transaction](txn, tableTransactions, "user", userID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum, nil
}

func (r *LedgerRepository) History(_ context.Context, userID int64, limit int) ([]models.Transaction, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	entries, err := all[models.Transaction](txn, tableTransactions, "user", userID)
	if err != nil {
		return nil, err
	}
	sortByID(entries, func(t *models.Transaction) int64 { return t.ID }, true)
	return limitSlice(values(entries), limit), nil
}
