package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type InconsistencyRepository interface {
	Record(ctx context.Context, rec *models.Inconsistency) error
	ListUnresolved(ctx context.Context) ([]models.Inconsistency, error)
	Resolve(ctx context.Context, id int64) error
}
