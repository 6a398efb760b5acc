package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
}
