package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type InventoryRepository struct {
	b *backend
}

func (r *InventoryRepository) Add(_ context.Context, planID int64, payloads []string) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	p, err := first[models.Plan](txn, tablePlans, "id", planID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, pkgerrors.ErrPlanNotFound
	}
	now := time.Now()
	for _, payload := range payloads {
		unit := &models.InventoryUnit{ID: r.b.nextID(tableUnits), PlanID: planID, Payload: payload, CreatedAt: now}
		if err = insert(txn, tableUnits, unit); err != nil {
			return 0, err
		}
	}
	txn.Commit()
	return len(payloads), nil
}

func (r *InventoryRepository) Claim(_ context.Context, planID, orderID int64) (*models.InventoryUnit, error) {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	units, err := all[models.InventoryUnit](txn, tableUnits, "plan", planID)
	if err != nil {
		return nil, err
	}
	var pick *models.InventoryUnit
	for _, u := range units {
		if u.Claimed {
			if u.OrderID != nil && *u.OrderID == orderID {
				return nil, fmt.Errorf("%w: order %d already holds a unit", pkgerrors.ErrInvalidState, orderID)
			}
			continue
		}
		if pick == nil || u.ID < pick.ID {
			pick = u
		}
	}
	if pick == nil {
		return nil, pkgerrors.ErrOutOfStock
	}

	now := time.Now()
	next := *pick
	next.Claimed = true
	next.OrderID = &orderID
	next.ClaimedAt = &now
	if err = insert(txn, tableUnits, &next); err != nil {
		return nil, err
	}
	txn.Commit()
	out := next
	return &out, nil
}

func (r *InventoryRepository) MarkDelivered(_ context.Context, unitID int64) error {
	return r.update(unitID, func(u *models.InventoryUnit) error {
		if !u.Claimed {
			return pkgerrors.ErrInvalidState
		}
		u.Delivered = true
		return nil
	})
}

func (r *InventoryRepository) Release(_ context.Context, unitID int64) error {
	return r.update(unitID, func(u *models.InventoryUnit) error {
		if !u.Claimed || u.Delivered {
			return pkgerrors.ErrInvalidState
		}
		u.Claimed = false
		u.OrderID = nil
		u.ClaimedAt = nil
		return nil
	})
}

func (r *InventoryRepository) update(unitID int64, apply func(*models.InventoryUnit) error) error {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	u, err := first[models.InventoryUnit](txn, tableUnits, "id", unitID)
	if err != nil {
		return err
	}
	if u == nil {
		return pkgerrors.ErrUnitNotFound
	}
	next := *u
	if err = apply(&next); err != nil {
		return err
	}
	if err = insert(txn, tableUnits, &next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *InventoryRepository) GetByID(_ context.Context, id int64) (*models.InventoryUnit, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	u, err := first[models.InventoryUnit](txn, tableUnits, "id", id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, pkgerrors.ErrUnitNotFound
	}
	out := *u
	return &out, nil
}

func (r *InventoryRepository) Stock(_ context.Context, planID int64) (models.StockLevel, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	level := models.StockLevel{PlanID: planID}
	units, err := all[models.InventoryUnit](txn, tableUnits, "plan", planID)
	if err != nil {
		return level, err
	}
	for _, u := range units {
		level.Total++
		if u.Claimed {
			level.Claimed++
		}
	}
	level.Available = level.Total - level.Claimed
	return level, nil
}
