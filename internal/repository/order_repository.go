package repository

import (
	"context"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error)
	// ListByState returns orders in state, oldest first. planID of zero means any plan.
	ListByState(ctx context.Context, state models.OrderState, planID int64, limit int) ([]models.Order, error)
	ListExpired(ctx context.Context, state models.OrderState, now time.Time, limit int) ([]models.Order, error)
	// Transition moves the order from -> to only if it is currently in from,
	// otherwise ErrInvalidState.
	Transition(ctx context.Context, id int64, from, to models.OrderState, patch models.OrderPatch) (*models.Order, error)
	// SetReceipt links (or, with nil, unlinks) a receipt on a pending order.
	SetReceipt(ctx context.Context, id int64, receiptID *int64) error
	CountByState(ctx context.Context) (map[models.OrderState]int64, error)
	// Revenue sums the charged price of paid and fulfilled orders.
	Revenue(ctx context.Context) (int64, error)
}
