package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type DiscountRepository interface {
	Create(ctx context.Context, code *models.DiscountCode) error
	GetByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	GetByID(ctx context.Context, id int64) (*models.DiscountCode, error)
	// Redeem increments used_count once per token. applied is false when the
	// token was already redeemed.
	Redeem(ctx context.Context, codeID int64, token string, orderID int64) (applied bool, err error)
	// Release undoes a redemption. released is false when the token was never
	// redeemed or has already been released.
	Release(ctx context.Context, token string) (released bool, err error)
}
