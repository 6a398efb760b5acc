package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type ReceiptRepository struct {
	b *backend
}

func (r *ReceiptRepository) Create(_ context.Context, receipt *models.Receipt) error {
	if receipt == nil {
		return pkgerrors.ErrNilEntity
	}
	if receipt.Amount <= 0 {
		return fmt.Errorf("%w: receipt amount must be positive", pkgerrors.ErrInvalidInput)
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	next := *receipt
	next.ID = r.b.nextID(tableReceipts)
	if next.Status == "" {
		next.Status = models.ReceiptPending
	}
	next.CreatedAt = time.Now()
	if err := insert(txn, tableReceipts, &next); err != nil {
		return err
	}
	txn.Commit()
	receipt.ID, receipt.Status, receipt.CreatedAt = next.ID, next.Status, next.CreatedAt
	return nil
}

func (r *ReceiptRepository) GetByID(_ context.Context, id int64) (*models.Receipt, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	rc, err := first[models.Receipt](txn, tableReceipts, "id", id)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, pkgerrors.ErrReceiptNotFound
	}
	out := *rc
	return &out, nil
}

func (r *ReceiptRepository) ListPending(_ context.Context, limit int) ([]models.Receipt, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	receipts, err := all[models.Receipt](txn, tableReceipts, "status", string(models.ReceiptPending))
	if err != nil {
		return nil, err
	}
	sortByID(receipts, func(rc *models.Receipt) int64 { return rc.ID }, false)
	return limitSlice(values(receipts), limit), nil
}

func (r *ReceiptRepository) Review(_ context.Context, id int64, status models.ReceiptStatus, adminID int64, at time.Time) (*models.Receipt, error) {
	if status != models.ReceiptApproved && status != models.ReceiptRejected {
		return nil, fmt.Errorf("%w: cannot review receipt into %q", pkgerrors.ErrInvalidInput, status)
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	rc, err := first[models.Receipt](txn, tableReceipts, "id", id)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, pkgerrors.ErrReceiptNotFound
	}
	if rc.Status != models.ReceiptPending {
		return nil, fmt.Errorf("%w: receipt %d already reviewed", pkgerrors.ErrInvalidState, id)
	}
	next := *rc
	next.Status = status
	next.ReviewedBy = &adminID
	next.ReviewedAt = &at
	if err = insert(txn, tableReceipts, &next); err != nil {
		return nil, err
	}
	txn.Commit()
	out := next
	return &out, nil
}

func (r *ReceiptRepository) CountPending(_ context.Context) (int64, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	receipts, err := all[models.Receipt](txn, tableReceipts, "status", string(models.ReceiptPending))
	if err != nil {
		return 0, err
	}
	return int64(len(receipts)), nil
}
