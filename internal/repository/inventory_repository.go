package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type InventoryRepository interface {
	Add(ctx context.Context, planID int64, payloads []string) (int, error)
	// Claim binds the oldest unclaimed unit of the plan to orderID. Concurrent
	// callers never receive the same unit.
	Claim(ctx context.Context, planID, orderID int64) (*models.InventoryUnit, error)
	MarkDelivered(ctx context.Context, unitID int64) error
	Release(ctx context.Context, unitID int64) error
	GetByID(ctx context.Context, id int64) (*models.InventoryUnit, error)
	Stock(ctx context.Context, planID int64) (models.StockLevel, error)
}
