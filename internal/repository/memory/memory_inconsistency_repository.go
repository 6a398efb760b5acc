package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type InconsistencyRepository struct {
	b *backend
}

func (r *InconsistencyRepository) Record(_ context.Context, rec *models.Inconsistency) error {
	if rec == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	next := *rec
	next.ID = r.b.nextID(tableInconsistencies)
	next.Resolved = false
	next.CreatedAt = time.Now()
	if err := insert(txn, tableInconsistencies, &next); err != nil {
		return err
	}
	txn.Commit()
	rec.ID, rec.CreatedAt = next.ID, next.CreatedAt
	return nil
}

func (r *InconsistencyRepository) ListUnresolved(_ context.Context) ([]models.Inconsistency, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	records, err := all[models.Inconsistency](txn, tableInconsistencies, "id")
	if err != nil {
		return nil, err
	}
	sortByID(records, func(rec *models.Inconsistency) int64 { return rec.ID }, false)
	out := make([]models.Inconsistency, 0, len(records))
	for _, rec := range records {
		if !rec.Resolved {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *InconsistencyRepository) Resolve(_ context.Context, id int64) error {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	rec, err := first[models.Inconsistency](txn, tableInconsistencies, "id", id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("inconsistency %d: %w", id, pkgerrors.ErrNotFound)
	}
	next := *rec
	next.Resolved = true
	if err = insert(txn, tableInconsistencies, &next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
