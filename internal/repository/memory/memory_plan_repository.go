package memory

import (
	"context"
	"sort"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type PlanRepository struct {
	b *backend
}

func (r *PlanRepository) Create(_ context.Context, plan *models.Plan) error {
	if plan == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	next := *plan
	next.ID = r.b.nextID(tablePlans)
	next.CreatedAt = time.Now()
	if err := insert(txn, tablePlans, &next); err != nil {
		return err
	}
	txn.Commit()
	plan.ID, plan.CreatedAt = next.ID, next.CreatedAt
	return nil
}

func (r *PlanRepository) Update(_ context.Context, plan *models.Plan) error {
	if plan == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	existing, err := first[models.Plan](txn, tablePlans, "id", plan.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return pkgerrors.ErrPlanNotFound
	}
	next := *plan
	next.CreatedAt = existing.CreatedAt
	if err = insert(txn, tablePlans, &next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *PlanRepository) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	p, err := first[models.Plan](txn, tablePlans, "id", id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, pkgerrors.ErrPlanNotFound
	}
	out := *p
	return &out, nil
}

func (r *PlanRepository) List(_ context.Context, activeOnly bool) ([]models.Plan, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	plans, err := all[models.Plan](txn, tablePlans, "id")
	if err != nil {
		return nil, err
	}
	out := make([]models.Plan, 0, len(plans))
	for _, p := range plans {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
