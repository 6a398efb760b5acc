package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type UserRepository interface {
	// Upsert creates the user with a zero balance or refreshes its display name.
	Upsert(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
	Count(ctx context.Context) (int64, error)
}
