package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type OrderRepository struct {
	b *backend
}

func orderID(o *models.Order) int64 { return o.ID }

func (r *OrderRepository) Create(_ context.Context, order *models.Order) error {
	if order == nil {
		return pkgerrors.ErrNilEntity
	}
	if order.State != models.OrderPending {
		return fmt.Errorf("%w: new orders start pending", pkgerrors.ErrInvalidState)
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	now := time.Now()
	next := *order
	next.ID = r.b.nextID(tableOrders)
	next.CreatedAt = now
	next.UpdatedAt = now
	if err := insert(txn, tableOrders, &next); err != nil {
		return err
	}
	txn.Commit()
	order.ID, order.CreatedAt, order.UpdatedAt = next.ID, next.CreatedAt, next.UpdatedAt
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id int64) (*models.Order, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	o, err := first[models.Order](txn, tableOrders, "id", id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, pkgerrors.ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID int64, limit int) ([]models.Order, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	orders, err := all[models.Order](txn, tableOrders, "user", userID)
	if err != nil {
		return nil, err
	}
	sortByID(orders, orderID, true)
	return limitSlice(values(orders), limit), nil
}

func (r *OrderRepository) ListByState(_ context.Context, state models.OrderState, planID int64, limit int) ([]models.Order, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	orders, err := all[models.Order](txn, tableOrders, "state", string(state))
	if err != nil {
		return nil, err
	}
	sortByID(orders, orderID, false)
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if planID == 0 || o.PlanID == planID {
			out = append(out, *o)
		}
	}
	return limitSlice(out, limit), nil
}

func (r *OrderRepository) ListExpired(_ context.Context, state models.OrderState, now time.Time, limit int) ([]models.Order, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	orders, err := all[models.Order](txn, tableOrders, "state", string(state))
	if err != nil {
		return nil, err
	}
	sortByID(orders, orderID, false)
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if !o.ExpiresAt.After(now) {
			out = append(out, *o)
		}
	}
	return limitSlice(out, limit), nil
}

func (r *OrderRepository) Transition(_ context.Context, id int64, from, to models.OrderState, patch models.OrderPatch) (*models.Order, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidState, from, to)
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	o, err := first[models.Order](txn, tableOrders, "id", id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, pkgerrors.ErrOrderNotFound
	}
	if o.State != from {
		return nil, fmt.Errorf("%w: order %d is not %s", pkgerrors.ErrInvalidState, id, from)
	}

	next := *o
	next.State = to
	if patch.PaymentMethod != models.PaymentNone {
		next.PaymentMethod = patch.PaymentMethod
	}
	if patch.PaidAt != nil {
		next.PaidAt = patch.PaidAt
	}
	if patch.FulfilledAt != nil {
		next.FulfilledAt = patch.FulfilledAt
	}
	if patch.UnitID != nil {
		next.UnitID = patch.UnitID
	}
	if patch.ExpiresAt != nil {
		next.ExpiresAt = *patch.ExpiresAt
	}
	next.UpdatedAt = time.Now()
	if err = insert(txn, tableOrders, &next); err != nil {
		return nil, err
	}
	txn.Commit()

	observability.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	out := next
	return &out, nil
}

func (r *OrderRepository) SetReceipt(_ context.Context, id int64, receiptID *int64) error {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	o, err := first[models.Order](txn, tableOrders, "id", id)
	if err != nil {
		return err
	}
	if o == nil {
		return pkgerrors.ErrOrderNotFound
	}
	if o.State != models.OrderPending {
		return fmt.Errorf("%w: order %d is not pending", pkgerrors.ErrInvalidState, id)
	}
	next := *o
	next.ReceiptID = receiptID
	next.UpdatedAt = time.Now()
	if err = insert(txn, tableOrders, &next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *OrderRepository) CountByState(_ context.Context) (map[models.OrderState]int64, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	orders, err := all[models.Order](txn, tableOrders, "id")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.OrderState]int64)
	for _, o := range orders {
		counts[o.State]++
	}
	return counts, nil
}

func (r *OrderRepository) Revenue(_ context.Context) (int64, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	orders, err := all[models.Order](txn, tableOrders, "id")
	if err != nil {
		return 0, err
	}
	var revenue int64
	for _, o := range orders {
		if o.State == models.OrderPaid || o.State == models.OrderFulfilled {
			revenue += o.Price
		}
	}
	return revenue, nil
}
