package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type DiscountRepository struct {
	b *backend
}

func (r *DiscountRepository) Create(_ context.Context, code *models.DiscountCode) error {
	if code == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	existing, err := first[models.DiscountCode](txn, tableDiscounts, "code", code.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("discount code %q: %w", code.Code, pkgerrors.ErrAlreadyExists)
	}
	next := *code
	next.ID = r.b.nextID(tableDiscounts)
	next.UsedCount = 0
	next.CreatedAt = time.Now()
	if err = insert(txn, tableDiscounts, &next); err != nil {
		return err
	}
	txn.Commit()
	code.ID, code.UsedCount, code.CreatedAt = next.ID, next.UsedCount, next.CreatedAt
	return nil
}

func (r *DiscountRepository) GetByCode(_ context.Context, code string) (*models.DiscountCode, error) {
	return r.get("code", code)
}

func (r *DiscountRepository) GetByID(_ context.Context, id int64) (*models.DiscountCode, error) {
	return r.get("id", id)
}

func (r *DiscountRepository) get(index string, arg any) (*models.DiscountCode, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	d, err := first[models.DiscountCode](txn, tableDiscounts, index, arg)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, pkgerrors.ErrDiscountNotFound
	}
	out := *d
	return &out, nil
}

func (r *DiscountRepository) Redeem(_ context.Context, codeID int64, token string, orderID int64) (bool, error) {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	seen, err := first[models.Redemption](txn, tableRedemptions, "id", token)
	if err != nil {
		return false, err
	}
	if seen != nil {
		return false, nil
	}

	d, err := first[models.DiscountCode](txn, tableDiscounts, "id", codeID)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, pkgerrors.ErrDiscountNotFound
	}
	if d.UsedCount >= d.MaxUsage {
		return false, pkgerrors.ErrUsageExceeded
	}

	next := *d
	next.UsedCount++
	if err = insert(txn, tableDiscounts, &next); err != nil {
		return false, err
	}
	redemption := &models.Redemption{Token: token, CodeID: codeID, OrderID: orderID, CreatedAt: time.Now()}
	if err = insert(txn, tableRedemptions, redemption); err != nil {
		return false, err
	}
	txn.Commit()
	return true, nil
}

func (r *DiscountRepository) Release(_ context.Context, token string) (bool, error) {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	redemption, err := first[models.Redemption](txn, tableRedemptions, "id", token)
	if err != nil {
		return false, err
	}
	if redemption == nil {
		return false, nil
	}
	if err = txn.Delete(tableRedemptions, redemption); err != nil {
		return false, fmt.Errorf("memdb delete %s: %w", tableRedemptions, err)
	}

	d, err := first[models.DiscountCode](txn, tableDiscounts, "id", redemption.CodeID)
	if err != nil {
		return false, err
	}
	if d != nil && d.UsedCount > 0 {
		next := *d
		next.UsedCount--
		if err = insert(txn, tableDiscounts, &next); err != nil {
			return false, err
		}
	}
	txn.Commit()
	return true, nil
}
